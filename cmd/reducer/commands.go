package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/abelzeko/station-reducer/internal/api"
	"github.com/abelzeko/station-reducer/internal/entities"
	"github.com/abelzeko/station-reducer/internal/render"
	"github.com/abelzeko/station-reducer/internal/usecases"
)

// loadInput reads a field document from a path or an http(s) URL
func loadInput(ctx context.Context, uc *usecases.ReductionUseCase, input string) (*entities.Batch, error) {
	if strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://") {
		return uc.FetchBatch(ctx, input)
	}
	return uc.LoadBatch(input)
}

// defaultOutput derives <dir>/<name>_reduced.xml from the input path
func defaultOutput(input string) string {
	base := filepath.Base(input)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	if name == "" || name == "." || name == "/" {
		name = "campos"
	}
	dir := "."
	if !strings.Contains(input, "://") {
		dir = filepath.Dir(input)
	}
	return filepath.Join(dir, name+"_reduced.xml")
}

func (a *app) processCmd() *cobra.Command {
	var input, output string
	var noStore bool

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Reduce a field document and write the reduced document",
		Long: `Loads a field document, reduces every field and writes the reduced
document. Runs are stored in the run history unless --no-store is given.

Example:
  reducer process --input data/campos.xml --output out/campos_reduced.xml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			uc, err := a.newUseCase(!noStore)
			if err != nil {
				return err
			}
			batch, err := loadInput(cmd.Context(), uc, input)
			if err != nil {
				return err
			}
			report, err := uc.ProcessBatch(cmd.Context(), batch)
			if err != nil {
				return err
			}
			fmt.Fprint(a.out, uc.FormatReport(report))

			if output == "" {
				output = defaultOutput(input)
			}
			if err := uc.WriteBatch(batch, output); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Reduced document written to %s\n", output)
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "Field document path or URL (required)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Reduced document path (default <input>_reduced.xml)")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "Do not store the run in the history")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func (a *app) renderCmd() *cobra.Command {
	var input, fieldID, kindName, out string
	var png bool

	cmd := &cobra.Command{
		Use:   "render",
		Short: "Draw the frequency, pattern or reduced matrix of a field",
		Long: `Draws one matrix of a field as HTML or Graphviz DOT, chosen by the
extension of --out. With --png the DOT file is also rendered through the
configured dot binary.

Example:
  reducer render --input data/campos.xml --field 01 --kind patterns --out out/f01.html`,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := render.ParseKind(kindName)
			if err != nil {
				return err
			}
			uc, err := a.newUseCase(false)
			if err != nil {
				return err
			}
			batch, err := loadInput(cmd.Context(), uc, input)
			if err != nil {
				return err
			}
			if kind == render.KindReduced {
				if _, err := uc.ProcessBatch(cmd.Context(), batch); err != nil {
					return err
				}
			}

			if out == "" {
				ext := ".html"
				if png {
					ext = ".dot"
				}
				out = filepath.Join(a.cfg.Render.OutputDir, fmt.Sprintf("field_%s_%s%s", fieldID, kind, ext))
			}
			if png {
				out = strings.TrimSuffix(out, filepath.Ext(out)) + ".png"
			}
			if err := uc.RenderField(cmd.Context(), batch, fieldID, kind, out); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Matrix written to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "Field document path or URL (required)")
	cmd.Flags().StringVarP(&fieldID, "field", "f", "", "Field id (required)")
	cmd.Flags().StringVarP(&kindName, "kind", "k", string(render.KindReduced), "Matrix: frequencies, patterns or reduced")
	cmd.Flags().StringVar(&out, "out", "", "Output file, .html or .dot")
	cmd.Flags().BoolVar(&png, "png", false, "Also render a PNG with graphviz")
	_ = cmd.MarkFlagRequired("input")
	_ = cmd.MarkFlagRequired("field")
	return cmd
}

func (a *app) runsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List the latest stored reductions",
		RunE: func(cmd *cobra.Command, args []string) error {
			uc, err := a.newUseCase(true)
			if err != nil {
				return err
			}
			runs, err := uc.ListRuns(limit)
			if err != nil {
				return err
			}
			fmt.Fprint(a.out, uc.FormatRuns(runs))
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Number of runs to show")
	return cmd
}

func (a *app) serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			uc, err := a.newUseCase(true)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if a.cfg.HTTP.JWTSecret == "" {
				a.logger.Warn("HTTP API runs without authentication; set http.jwt_secret to require tokens")
			}
			return api.NewHTTPServer(uc, a.cfg.HTTP, a.logger).ListenAndServe(ctx)
		},
	}
}

func (a *app) tokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfg.HTTP.JWTSecret == "" {
				return errors.New("http.jwt_secret is not configured")
			}
			token, err := api.SignToken(a.cfg.HTTP.JWTSecret, subject, ttl)
			if err != nil {
				return err
			}
			a.logger.Info("Issued API token", zap.String("subject", subject), zap.Duration("ttl", ttl))
			fmt.Fprintln(a.out, token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "reducer-client", "Token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	return cmd
}
