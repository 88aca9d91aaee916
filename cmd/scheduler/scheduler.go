package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/abelzeko/station-reducer/internal/config"
	"github.com/abelzeko/station-reducer/internal/integration"
	"github.com/abelzeko/station-reducer/internal/repository"
	"github.com/abelzeko/station-reducer/internal/usecases"
)

// cronLogger routes cron's own messages to zap
type cronLogger struct {
	sugar *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}

// inboxJob reduces whatever is waiting in the inbox
func inboxJob(ctx context.Context, uc *usecases.ReductionUseCase, cfg config.SchedulerConfig, logger *zap.Logger) func() {
	return func() {
		result, err := uc.ProcessInbox(ctx, cfg.Inbox, cfg.Outbox)
		if err != nil {
			logger.Error("Inbox reduction failed", zap.Error(err))
			return
		}
		if len(result.Processed)+len(result.Failed) > 0 {
			logger.Info("Inbox reduction done",
				zap.Strings("written", result.Processed),
				zap.Strings("failed", result.Failed))
		}
	}
}

// newScheduler registers job under spec. Overlapping runs are skipped.
func newScheduler(spec string, job func(), logger *zap.Logger) (*cron.Cron, error) {
	cl := cronLogger{sugar: logger.Sugar()}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	if _, err := c.AddFunc(spec, job); err != nil {
		return nil, fmt.Errorf("failed to set up cron job: %w", err)
	}
	return c, nil
}

func main() {
	configPath := flag.String("config", "reducer.yaml", "Config file")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := cfg.Logging.Build(*verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Station Reducer scheduler...",
		zap.String("inbox", cfg.Scheduler.Inbox),
		zap.String("outbox", cfg.Scheduler.Outbox))

	var repo repository.ReductionRepository
	if !cfg.Database.Disabled {
		sqliteRepo, err := repository.NewSQLiteReductionRepository(cfg.Database.Path, logger)
		if err != nil {
			logger.Fatal("Failed to initialize repository", zap.Error(err))
		}
		defer sqliteRepo.Close()
		repo = sqliteRepo
	}

	useCase := usecases.NewReductionUseCase(repo, integration.NewFieldDocuments(nil, logger), nil, logger,
		usecases.Options{
			Workers:   cfg.Processing.Workers,
			FailFast:  cfg.Processing.FailFast,
			DotBinary: cfg.Render.DotBinary,
		})

	if last, err := useCase.LastRunTime(); err == nil && !last.IsZero() {
		logger.Info("Last stored reduction", zap.Time("at", last))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	job := inboxJob(ctx, useCase, cfg.Scheduler, logger)

	// Run once on startup
	job()

	c, err := newScheduler(cfg.Scheduler.Spec, job, logger)
	if err != nil {
		logger.Fatal("Failed to schedule inbox job", zap.Error(err))
	}
	logger.Info("Inbox reduction scheduled", zap.String("spec", cfg.Scheduler.Spec))
	c.Start()

	<-ctx.Done()
	logger.Info("Stopping scheduler")
	<-c.Stop().Done()
}
