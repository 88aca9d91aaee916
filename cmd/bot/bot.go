package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/abelzeko/station-reducer/internal/api"
	"github.com/abelzeko/station-reducer/internal/config"
	"github.com/abelzeko/station-reducer/internal/integration"
	"github.com/abelzeko/station-reducer/internal/integration/openai"
	"github.com/abelzeko/station-reducer/internal/repository"
	"github.com/abelzeko/station-reducer/internal/usecases"
)

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

	logger.Info("Starting Station Reducer bot...")

	if cfg.Telegram.Token == "" {
		logger.Fatal("TELEGRAM_BOT_TOKEN environment variable is not set")
	}

	// Free text is answered only when an OpenAI key is configured
	var assistant openai.OpenAIService
	if cfg.OpenAI.APIKey != "" {
		assistant, err = openai.NewOpenAIService(cfg.OpenAI.APIKey, cfg.OpenAI.Model, logger)
		if err != nil {
			logger.Fatal("Failed to initialize OpenAI service", zap.Error(err))
		}
	} else {
		logger.Warn("OPENAI_API_KEY is not set, free-text questions are disabled")
	}

	var repo repository.ReductionRepository
	if !cfg.Database.Disabled {
		sqliteRepo, err := repository.NewSQLiteReductionRepository(cfg.Database.Path, logger)
		if err != nil {
			logger.Fatal("Failed to initialize repository", zap.Error(err))
		}
		defer sqliteRepo.Close()
		repo = sqliteRepo
	}

	useCase := usecases.NewReductionUseCase(repo, integration.NewFieldDocuments(nil, logger), assistant, logger,
		usecases.Options{
			Workers:   cfg.Processing.Workers,
			FailFast:  cfg.Processing.FailFast,
			DotBinary: cfg.Render.DotBinary,
		})

	telegramBot, err := api.NewTelegramBot(cfg.Telegram.Token, useCase, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Telegram bot", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telegramBot.Start(ctx)
	logger.Info("Bot stopped")
}
