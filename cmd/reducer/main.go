// Command reducer loads agricultural field documents, merges stations with
// identical sensor activity patterns and writes the reduced documents.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/abelzeko/station-reducer/internal/config"
	"github.com/abelzeko/station-reducer/internal/integration"
	"github.com/abelzeko/station-reducer/internal/repository"
	"github.com/abelzeko/station-reducer/internal/usecases"
)

// app holds what the subcommands share
type app struct {
	configPath string
	verbose    bool

	cfg     *config.Config
	logger  *zap.Logger
	closers []io.Closer

	in  io.Reader
	out io.Writer
}

func newApp(in io.Reader, out io.Writer) *app {
	return &app{in: in, out: out}
}

// run executes the command line and releases what the command opened
func (a *app) run(args []string) error {
	defer a.close()
	cmd := a.rootCmd()
	cmd.SetArgs(args)
	return cmd.Execute()
}

func (a *app) rootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "reducer",
		Short: "Reduce redundant monitoring stations of agricultural fields",
		Long: `reducer reads field documents (camposAgricolas XML), builds a binary
soil and crop activity pattern per station, merges stations that share both
patterns and writes one station per group with summed sensor frequencies.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.configPath)
			if err != nil {
				return err
			}
			logger, err := cfg.Logging.Build(a.verbose)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logger
			return nil
		},
	}
	rootCmd.SetIn(a.in)
	rootCmd.SetOut(a.out)

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "reducer.yaml", "Config file (missing file = defaults)")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(
		a.processCmd(),
		a.renderCmd(),
		a.runsCmd(),
		a.serveCmd(),
		a.menuCmd(),
		a.tokenCmd(),
	)
	return rootCmd
}

// newUseCase wires the use case. store opens the run history unless the
// database is disabled in the config.
func (a *app) newUseCase(store bool) (*usecases.ReductionUseCase, error) {
	var repo repository.ReductionRepository
	if store && !a.cfg.Database.Disabled {
		r, err := repository.NewSQLiteReductionRepository(a.cfg.Database.Path, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, r)
		repo = r
	}
	docs := integration.NewFieldDocuments(nil, a.logger)
	return usecases.NewReductionUseCase(repo, docs, nil, a.logger, usecases.Options{
		Workers:   a.cfg.Processing.Workers,
		FailFast:  a.cfg.Processing.FailFast,
		DotBinary: a.cfg.Render.DotBinary,
	}), nil
}

func (a *app) close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil && a.logger != nil {
			a.logger.Warn("Failed to close resource", zap.Error(err))
		}
	}
	a.closers = nil
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func main() {
	if err := newApp(os.Stdin, os.Stdout).run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
