package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abelzeko/station-reducer/internal/entities"
	"github.com/abelzeko/station-reducer/internal/render"
	"github.com/abelzeko/station-reducer/internal/usecases"
)

const menuText = `
==================================================
MAIN MENU - PRECISION AGRICULTURE
==================================================
1. Load file
2. Process file
3. Write output file
4. Render matrix
5. Show stored runs
6. Exit
==================================================`

func (a *app) menuCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "menu",
		Short: "Interactive menu: load, process, write and render",
		RunE: func(cmd *cobra.Command, args []string) error {
			uc, err := a.newUseCase(true)
			if err != nil {
				return err
			}
			m := &menu{uc: uc, out: a.out, in: bufio.NewScanner(a.in), outputDir: a.cfg.Render.OutputDir}
			return m.loop(cmd.Context())
		},
	}
}

// menu drives the interactive session. The loaded batch lives only here.
type menu struct {
	uc        *usecases.ReductionUseCase
	in        *bufio.Scanner
	out       io.Writer
	outputDir string
	batch     *entities.Batch
}

// ask prints a prompt and reads one trimmed line; ok is false at end of input
func (m *menu) ask(prompt string) (string, bool) {
	fmt.Fprint(m.out, prompt)
	if !m.in.Scan() {
		return "", false
	}
	return strings.TrimSpace(m.in.Text()), true
}

func (m *menu) loop(ctx context.Context) error {
	for {
		fmt.Fprintln(m.out, menuText)
		option, ok := m.ask("Select an option: ")
		if !ok {
			return m.in.Err()
		}

		switch option {
		case "1":
			m.load()
		case "2":
			m.process(ctx)
		case "3":
			m.write()
		case "4":
			m.render(ctx)
		case "5":
			m.runs()
		case "6":
			fmt.Fprintln(m.out, "Goodbye!")
			return nil
		default:
			fmt.Fprintln(m.out, "Invalid option, try again.")
		}
	}
}

func (m *menu) load() {
	path, ok := m.ask("File path: ")
	if !ok || path == "" {
		fmt.Fprintln(m.out, "❌ No file given")
		return
	}
	batch, err := m.uc.LoadBatch(path)
	if err != nil {
		fmt.Fprintf(m.out, "❌ Error loading file: %v\n", err)
		return
	}
	m.batch = batch
	for _, f := range batch.Fields {
		fmt.Fprintf(m.out, "➢ Loaded field %s: %d stations, %d soil and %d crop sensors\n",
			f.ID, len(f.Stations), len(f.SoilSensors), len(f.CropSensors))
	}
	fmt.Fprintln(m.out, "✅ File loaded")
}

func (m *menu) process(ctx context.Context) {
	if m.batch.Empty() {
		fmt.Fprintln(m.out, "❌ Load a file first (option 1)")
		return
	}
	// A reprocessed batch is stored as a new run.
	m.batch.ID = ""
	report, err := m.uc.ProcessBatch(ctx, m.batch)
	if err != nil {
		fmt.Fprintf(m.out, "❌ Error processing file: %v\n", err)
		return
	}
	fmt.Fprint(m.out, m.uc.FormatReport(report))
	fmt.Fprintln(m.out, "✅ File processed")
}

func (m *menu) write() {
	if m.batch.Empty() {
		fmt.Fprintln(m.out, "❌ No processed data to write")
		return
	}
	if !m.processed() {
		fmt.Fprintln(m.out, "❌ Process the file first (option 2)")
		return
	}
	path, ok := m.ask("Output file path: ")
	if !ok || path == "" {
		fmt.Fprintln(m.out, "❌ No file given")
		return
	}
	if err := m.uc.WriteBatch(m.batch, path); err != nil {
		fmt.Fprintf(m.out, "❌ Error writing output: %v\n", err)
		return
	}
	fmt.Fprintf(m.out, "✅ Output written to %s\n", path)
}

func (m *menu) processed() bool {
	for _, f := range m.batch.Fields {
		if f.Processed() {
			return true
		}
	}
	return false
}

func (m *menu) render(ctx context.Context) {
	if m.batch.Empty() {
		fmt.Fprintln(m.out, "❌ Load a file first (option 1)")
		return
	}
	fmt.Fprintln(m.out, "Fields:")
	for i, f := range m.batch.Fields {
		fmt.Fprintf(m.out, "%d. %s (ID: %s)\n", i+1, f.Name, f.ID)
	}
	answer, ok := m.ask("Field number: ")
	if !ok {
		return
	}
	n, err := strconv.Atoi(answer)
	if err != nil || n < 1 || n > len(m.batch.Fields) {
		fmt.Fprintln(m.out, "Invalid selection")
		return
	}
	field := m.batch.Fields[n-1]

	for i, k := range render.Kinds {
		fmt.Fprintf(m.out, "%d. %s matrix\n", i+1, k)
	}
	answer, ok = m.ask("Matrix type (1-3): ")
	if !ok {
		return
	}
	n, err = strconv.Atoi(answer)
	if err != nil || n < 1 || n > len(render.Kinds) {
		fmt.Fprintln(m.out, "Invalid selection")
		return
	}
	kind := render.Kinds[n-1]

	name, _ := m.ask("Output file name (.html, .dot or .png): ")
	if name == "" {
		name = fmt.Sprintf("field_%s_%s.html", field.ID, kind)
	}
	path := name
	if !filepath.IsAbs(path) && filepath.Dir(path) == "." {
		path = filepath.Join(m.outputDir, name)
	}

	if err := m.uc.RenderField(ctx, m.batch, field.ID, kind, path); err != nil {
		fmt.Fprintf(m.out, "❌ Error rendering matrix: %v\n", err)
		return
	}
	fmt.Fprintf(m.out, "✅ Matrix written to %s\n", path)
}

func (m *menu) runs() {
	runs, err := m.uc.ListRuns(10)
	if err != nil {
		fmt.Fprintf(m.out, "❌ %v\n", err)
		return
	}
	fmt.Fprint(m.out, m.uc.FormatRuns(runs))
}
