// Package config loads runtime configuration from a YAML file, a .env file and the environment
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all station-reducer configuration.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Processing ProcessingConfig `yaml:"processing"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	HTTP       HTTPConfig       `yaml:"http"`
	Render     RenderConfig     `yaml:"render"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// DatabaseConfig configures the run history store.
type DatabaseConfig struct {
	Path     string `yaml:"path"`     // empty = data/reductions.db
	Disabled bool   `yaml:"disabled"` // skip persisting runs
}

// ProcessingConfig configures batch reduction.
type ProcessingConfig struct {
	Workers  int  `yaml:"workers"`   // fields reduced in parallel
	FailFast bool `yaml:"fail_fast"` // abort the batch on the first failed field
}

// SchedulerConfig configures the inbox job.
type SchedulerConfig struct {
	Spec   string `yaml:"spec"` // cron expression
	Inbox  string `yaml:"inbox"`
	Outbox string `yaml:"outbox"`
}

// TelegramConfig configures the chat bot.
type TelegramConfig struct {
	Token string `yaml:"token"`
}

// OpenAIConfig configures free-text command interpretation.
type OpenAIConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// HTTPConfig configures the HTTP API.
type HTTPConfig struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	JWTSecret      string   `yaml:"jwt_secret"` // empty = no bearer auth on /api
}

// RenderConfig configures matrix rendering.
type RenderConfig struct {
	DotBinary string `yaml:"dot_binary"`
	OutputDir string `yaml:"output_dir"`
}

// DefaultConfig returns a configuration that works without any file.
func DefaultConfig() *Config {
	return &Config{
		Processing: ProcessingConfig{Workers: 4},
		Scheduler: SchedulerConfig{
			Spec:   "0 * * * *",
			Inbox:  filepath.Join("data", "inbox"),
			Outbox: filepath.Join("data", "outbox"),
		},
		OpenAI: OpenAIConfig{Model: "gpt-4o"},
		HTTP: HTTPConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Render: RenderConfig{DotBinary: "dot", OutputDir: "."},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads the YAML file at path (when it exists), then applies .env and
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) applyEnvOverrides() error {
	if v := env("REDUCER_DB_PATH"); v != "" {
		c.Database.Path = v
	}
	if v := env("REDUCER_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid REDUCER_WORKERS: %w", err)
		}
		c.Processing.Workers = n
	}
	if v := env("REDUCER_FAIL_FAST"); v != "" {
		c.Processing.FailFast = v == "1" || strings.EqualFold(v, "true")
	}
	if v := env("REDUCER_SCHEDULE"); v != "" {
		c.Scheduler.Spec = v
	}
	if v := env("REDUCER_INBOX"); v != "" {
		c.Scheduler.Inbox = v
	}
	if v := env("REDUCER_OUTBOX"); v != "" {
		c.Scheduler.Outbox = v
	}
	if v := env("TELEGRAM_BOT_TOKEN"); v != "" {
		c.Telegram.Token = v
	}
	if v := env("OPENAI_API_KEY"); v != "" {
		c.OpenAI.APIKey = v
	}
	if v := env("REDUCER_HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	if v := env("REDUCER_JWT_SECRET"); v != "" {
		c.HTTP.JWTSecret = v
	}
	if v := env("REDUCER_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

func env(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

// Validate checks values that would otherwise fail far from their source.
func (c *Config) Validate() error {
	if c.Processing.Workers < 1 {
		return fmt.Errorf("processing.workers must be at least 1, got %d", c.Processing.Workers)
	}
	if strings.TrimSpace(c.Scheduler.Spec) == "" {
		return errors.New("scheduler.spec is required")
	}
	if _, err := c.Logging.zapLevel(); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}
