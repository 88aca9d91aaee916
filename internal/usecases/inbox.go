package usecases

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	processedDir = "processed"
	failedDir    = "failed"
)

// InboxResult lists what one ProcessInbox pass did
type InboxResult struct {
	Processed []string // outputs written to the outbox
	Failed    []string // inputs moved to inbox/failed
}

// ProcessInbox reduces every *.xml document in inbox. Each reduced document
// is written to outbox as <name>_reduced.xml and its input moved to
// inbox/processed. Inputs that cannot be reduced are moved to inbox/failed
// so the next pass does not pick them up again.
func (uc *ReductionUseCase) ProcessInbox(ctx context.Context, inbox, outbox string) (*InboxResult, error) {
	log := uc.logger.With(zap.String("inbox", inbox))

	for _, dir := range []string{outbox, filepath.Join(inbox, processedDir), filepath.Join(inbox, failedDir)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	inputs, err := filepath.Glob(filepath.Join(inbox, "*.xml"))
	if err != nil {
		return nil, fmt.Errorf("failed to list inbox: %w", err)
	}
	sort.Strings(inputs)
	log.Info("Processing inbox", zap.Int("documents", len(inputs)))

	result := &InboxResult{}
	for _, input := range inputs {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		name := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
		output := filepath.Join(outbox, name+"_reduced.xml")

		if err := uc.reduceFile(ctx, input, output); err != nil {
			log.Error("Failed to reduce document", zap.String("document", input), zap.Error(err))
			if err := moveInto(input, filepath.Join(inbox, failedDir)); err != nil {
				return result, err
			}
			result.Failed = append(result.Failed, input)
			continue
		}
		if err := moveInto(input, filepath.Join(inbox, processedDir)); err != nil {
			return result, err
		}
		result.Processed = append(result.Processed, output)
	}

	log.Info("Inbox processed",
		zap.Int("processed", len(result.Processed)),
		zap.Int("failed", len(result.Failed)))
	return result, nil
}

func (uc *ReductionUseCase) reduceFile(ctx context.Context, input, output string) error {
	batch, err := uc.docs.Load(input)
	if err != nil {
		return err
	}
	report, err := uc.ProcessBatch(ctx, batch)
	if err != nil {
		return err
	}
	if report.Succeeded() == 0 {
		return fmt.Errorf("no field of %s could be reduced", input)
	}
	return uc.docs.Save(output, batch)
}

// moveInto archives path in dir. An input already archived under the same
// name is kept and the new one gets a timestamp suffix.
func moveInto(path, dir string) error {
	base := filepath.Base(path)
	target := filepath.Join(dir, base)
	if _, err := os.Stat(target); err == nil {
		ext := filepath.Ext(base)
		stamp := time.Now().UTC().Format("20060102T150405.000000000")
		target = filepath.Join(dir, fmt.Sprintf("%s-%s%s", strings.TrimSuffix(base, ext), stamp, ext))
	} else if !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to check %s: %w", target, err)
	}
	if err := os.Rename(path, target); err != nil {
		return fmt.Errorf("failed to move %s: %w", path, err)
	}
	return nil
}
