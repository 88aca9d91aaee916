// Package usecases contains the application's business logic
package usecases

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/abelzeko/station-reducer/internal/entities"
	"github.com/abelzeko/station-reducer/internal/integration"
	"github.com/abelzeko/station-reducer/internal/integration/openai"
	"github.com/abelzeko/station-reducer/internal/reduction"
	"github.com/abelzeko/station-reducer/internal/render"
	"github.com/abelzeko/station-reducer/internal/repository"
)

var (
	// ErrEmptyBatch is returned when a batch without fields is processed.
	ErrEmptyBatch = errors.New("no fields loaded")
	// ErrNoRepository is returned by history queries when runs are not stored.
	ErrNoRepository = errors.New("run history is disabled")
	// ErrUnknownField is returned when a field id is not part of the batch.
	ErrUnknownField = errors.New("unknown field")
	// ErrSaveRun wraps failures to store a reduced batch.
	ErrSaveRun = errors.New("failed to save run")
	// ErrNotProcessed is returned when a batch with no reduced field is written.
	ErrNotProcessed = errors.New("no field has been reduced")
)

// Options tunes batch processing
type Options struct {
	Workers   int    // fields reduced in parallel, <= 0 means one
	FailFast  bool   // abort the whole batch on the first failed field
	DotBinary string // graphviz executable used for PNG output
}

// FieldOutcome is the result of reducing one field of a batch
type FieldOutcome struct {
	FieldID   string
	FieldName string
	Stats     reduction.Stats
	Err       error
}

// Report summarises one ProcessBatch call
type Report struct {
	RunID    string
	Source   string
	Outcomes []FieldOutcome
	Stored   bool
}

// Succeeded counts fields that were reduced
func (r *Report) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Err == nil {
			n++
		}
	}
	return n
}

// Failed returns the outcomes of fields that could not be reduced
func (r *Report) Failed() []FieldOutcome {
	var failed []FieldOutcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

// ReductionUseCase handles loading, reducing and emitting field batches
type ReductionUseCase struct {
	repo      repository.ReductionRepository
	docs      *integration.FieldDocuments
	assistant openai.OpenAIService
	logger    *zap.Logger
	opts      Options
	reduce    func(*entities.Field) error
}

// NewReductionUseCase creates a new reduction use case. repo and assistant may be nil.
func NewReductionUseCase(repo repository.ReductionRepository, docs *integration.FieldDocuments,
	assistant openai.OpenAIService, logger *zap.Logger, opts Options) *ReductionUseCase {
	if logger == nil {
		logger = zap.NewNop()
	}
	if docs == nil {
		docs = integration.NewFieldDocuments(nil, logger)
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.DotBinary == "" {
		opts.DotBinary = "dot"
	}
	return &ReductionUseCase{
		repo:      repo,
		docs:      docs,
		assistant: assistant,
		logger:    logger,
		opts:      opts,
		reduce:    reduction.Reduce,
	}
}

// LoadBatch decodes the field document at path
func (uc *ReductionUseCase) LoadBatch(path string) (*entities.Batch, error) {
	return uc.docs.Load(path)
}

// FetchBatch downloads and decodes the field document at url
func (uc *ReductionUseCase) FetchBatch(ctx context.Context, url string) (*entities.Batch, error) {
	return uc.docs.Fetch(ctx, url)
}

// DecodeBatch decodes a field document from r
func (uc *ReductionUseCase) DecodeBatch(r io.Reader, source string) (*entities.Batch, error) {
	return uc.docs.Decode(r, source)
}

// ProcessBatch reduces every field of the batch, one field per worker.
//
// Without fail-fast a failed field is reported and left without groups while
// the others complete. With fail-fast the first failure cancels the remaining
// fields, every field's groups are cleared and the error is returned along
// with the partial report. Successful runs are stored when a repository is
// configured.
func (uc *ReductionUseCase) ProcessBatch(ctx context.Context, batch *entities.Batch) (*Report, error) {
	if batch.Empty() {
		return nil, ErrEmptyBatch
	}
	if batch.ID == "" {
		batch.ID = uuid.NewString()
	}
	log := uc.logger.With(zap.String("run", batch.ID), zap.String("source", batch.Source))
	log.Info("Starting batch reduction",
		zap.Int("fields", len(batch.Fields)),
		zap.Int("workers", uc.opts.Workers),
		zap.Bool("fail_fast", uc.opts.FailFast))

	report := &Report{
		RunID:    batch.ID,
		Source:   batch.Source,
		Outcomes: make([]FieldOutcome, len(batch.Fields)),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.opts.Workers)
	for i, f := range batch.Fields {
		g.Go(func() error {
			outcome := FieldOutcome{FieldID: f.ID, FieldName: f.Name}
			defer func() { report.Outcomes[i] = outcome }()

			if err := gctx.Err(); err != nil {
				f.Groups = nil
				outcome.Err = err
				return err
			}
			if err := uc.reduce(f); err != nil {
				f.Groups = nil
				outcome.Err = fmt.Errorf("field %s: %w", f.ID, err)
				log.Warn("Field reduction failed", zap.String("field", f.ID), zap.Error(err))
				if uc.opts.FailFast {
					return outcome.Err
				}
				return nil
			}
			outcome.Stats = reduction.StatsOf(f)
			log.Debug("Field reduced",
				zap.String("field", f.ID),
				zap.Int("stations", outcome.Stats.Stations),
				zap.Int("groups", outcome.Stats.Groups))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		for _, f := range batch.Fields {
			f.Groups = nil
		}
		log.Error("Batch reduction aborted", zap.Error(err))
		return report, fmt.Errorf("failed to reduce batch: %w", err)
	}

	log.Info("Batch reduction finished",
		zap.Int("succeeded", report.Succeeded()),
		zap.Int("failed", len(report.Failed())))

	if uc.repo != nil && report.Succeeded() > 0 {
		if err := uc.repo.SaveRun(batch); err != nil {
			return report, fmt.Errorf("%w: %w", ErrSaveRun, err)
		}
		report.Stored = true
	}
	return report, nil
}

// WriteBatch writes the reduced document of a processed batch
func (uc *ReductionUseCase) WriteBatch(batch *entities.Batch, path string) error {
	if err := checkProcessed(batch); err != nil {
		return err
	}
	return uc.docs.Save(path, batch)
}

// EncodeBatch writes the reduced document of a processed batch to w
func (uc *ReductionUseCase) EncodeBatch(w io.Writer, batch *entities.Batch) error {
	if err := checkProcessed(batch); err != nil {
		return err
	}
	return uc.docs.Encode(w, batch)
}

func checkProcessed(batch *entities.Batch) error {
	if batch.Empty() {
		return ErrEmptyBatch
	}
	for _, f := range batch.Fields {
		if f.Processed() {
			return nil
		}
	}
	return ErrNotProcessed
}

// ReduceDocument decodes, reduces and re-encodes a document in one call
func (uc *ReductionUseCase) ReduceDocument(ctx context.Context, r io.Reader, source string) ([]byte, *Report, error) {
	batch, err := uc.docs.Decode(r, source)
	if err != nil {
		return nil, nil, err
	}
	report, err := uc.ProcessBatch(ctx, batch)
	if err != nil {
		return nil, report, err
	}
	out, err := uc.docs.Marshal(batch)
	if err != nil {
		return nil, report, err
	}
	return out, report, nil
}

// RenderField draws one matrix of a field. The output format follows the
// extension of path: .html, .dot, or .png (which keeps the .dot beside it).
// Patterns are profiled on demand; the reduced matrix needs a processed field.
func (uc *ReductionUseCase) RenderField(ctx context.Context, batch *entities.Batch, fieldID string, kind render.Kind, path string) error {
	if batch.Empty() {
		return ErrEmptyBatch
	}
	f := batch.Field(fieldID)
	if f == nil {
		return fmt.Errorf("%w: %s", ErrUnknownField, fieldID)
	}
	if kind == render.KindPatterns {
		reduction.BuildProfiles(f)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	var buf bytes.Buffer
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".html", ".htm":
		if err := render.WriteHTML(&buf, f, kind); err != nil {
			return err
		}
	case ".dot", ".gv", ".png":
		if err := render.WriteDOT(&buf, f, kind); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unsupported output extension %q", ext)
	}

	target := path
	if ext == ".png" {
		target = strings.TrimSuffix(path, filepath.Ext(path)) + ".dot"
	}
	if err := os.WriteFile(target, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", target, err)
	}
	if ext == ".png" {
		if err := render.RenderPNG(ctx, uc.opts.DotBinary, target, path); err != nil {
			return err
		}
	}

	uc.logger.Info("Matrix rendered",
		zap.String("field", f.ID),
		zap.String("kind", string(kind)),
		zap.String("path", path))
	return nil
}

// ListRuns returns the most recent stored runs
func (uc *ReductionUseCase) ListRuns(limit int) ([]repository.RunSummary, error) {
	if uc.repo == nil {
		return nil, ErrNoRepository
	}
	return uc.repo.ListRuns(limit)
}

// FieldGroups returns the stored groups of a field of a past run
func (uc *ReductionUseCase) FieldGroups(runID, fieldID string) ([]repository.StoredGroup, error) {
	if uc.repo == nil {
		return nil, ErrNoRepository
	}
	return uc.repo.GetFieldGroups(runID, fieldID)
}

// LastRunTime returns when the latest run was stored, zero when none exist
func (uc *ReductionUseCase) LastRunTime() (time.Time, error) {
	if uc.repo == nil {
		return time.Time{}, ErrNoRepository
	}
	return uc.repo.GetLastRunTime()
}
