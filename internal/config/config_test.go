package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"REDUCER_DB_PATH", "REDUCER_WORKERS", "REDUCER_FAIL_FAST", "REDUCER_SCHEDULE",
		"REDUCER_INBOX", "REDUCER_OUTBOX", "TELEGRAM_BOT_TOKEN", "OPENAI_API_KEY",
		"REDUCER_HTTP_ADDR", "REDUCER_LOG_LEVEL", "REDUCER_JWT_SECRET",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 4, cfg.Processing.Workers)
	assert.Equal(t, "0 * * * *", cfg.Scheduler.Spec)
	assert.Equal(t, "dot", cfg.Render.DotBinary)
	require.NoError(t, cfg.Validate())
}

func TestConfig_SaveLoad(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "reducer.yaml")

	cfg := DefaultConfig()
	cfg.Processing.Workers = 2
	cfg.Processing.FailFast = true
	cfg.Database.Path = "runs.db"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Processing.Workers)
	assert.True(t, loaded.Processing.FailFast)
	assert.Equal(t, "runs.db", loaded.Database.Path)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().HTTP.Addr, cfg.HTTP.Addr)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("processing: [unterminated"), 0644))

	_, err := Load(path)
	require.Error(t, err)
}

func TestConfig_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("REDUCER_WORKERS", "8")
	t.Setenv("REDUCER_FAIL_FAST", "true")
	t.Setenv("TELEGRAM_BOT_TOKEN", "tg-token")
	t.Setenv("REDUCER_HTTP_ADDR", ":9090")
	t.Setenv("REDUCER_JWT_SECRET", "s3cret")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Processing.Workers)
	assert.True(t, cfg.Processing.FailFast)
	assert.Equal(t, "tg-token", cfg.Telegram.Token)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
	assert.Equal(t, "s3cret", cfg.HTTP.JWTSecret)
}

func TestConfig_EnvOverrideInvalidWorkers(t *testing.T) {
	clearEnv(t)
	t.Setenv("REDUCER_WORKERS", "many")

	_, err := Load("")
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Processing.Workers = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Logging.Level = "loud"
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Logging.Format = "xml"
	assert.Error(t, cfg.Validate())
}

func TestLoggingBuild(t *testing.T) {
	logger, err := LoggingConfig{Level: "warn", Format: "json"}.Build(false)
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = LoggingConfig{Level: "warn"}.Build(true)
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
}
