package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad mode", func(c *Config) { c.Mode = "replay" }},
		{"bad log level", func(c *Config) { c.LogLevel = "trace" }},
		{"bad pool address", func(c *Config) { c.Ledger.Pool = "not-an-address" }},
		{"empty redis addr", func(c *Config) { c.Redis.Addr = "" }},
		{"bad server port", func(c *Config) { c.Server.Port = 70000 }},
		{"min conns above max", func(c *Config) {
			c.Postgres.PoolMinConns = 20
			c.Postgres.PoolMaxConns = 5
		}},
		{"ingest mode without path", func(c *Config) { c.Mode = "ingest" }},
		{"negative rate limit", func(c *Config) { c.Server.RateLimit = -1 }},
		{"rate limit without window", func(c *Config) { c.Server.RateLimitWindow.Duration = 0 }},
		{"archive mode without bucket", func(c *Config) {
			c.Mode = "archive"
			c.S3.Bucket = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	data := `
mode = "full"
log_level = "debug"

[ledger]
pool = "0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640"

[postgres]
host = "db.internal"
password = "hunter2"

[archive]
interval = "6h"
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "full", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640", cfg.Ledger.Pool)
	assert.Equal(t, "db.internal", cfg.Postgres.Host)
	assert.Equal(t, 6*time.Hour, cfg.Archive.Interval.Duration)
	// Untouched fields keep their defaults.
	assert.Equal(t, 5432, cfg.Postgres.Port)
	assert.Equal(t, "events", cfg.Ledger.PublishChannel)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("UNIST_POSTGRES_PASSWORD", "fromenv")
	t.Setenv("UNIST_SERVER_PORT", "9100")
	t.Setenv("UNIST_SERVER_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("UNIST_ARCHIVE_INTERVAL", "90m")
	t.Setenv("UNIST_SERVER_RATE_LIMIT", "30")
	t.Setenv("UNIST_NOTIFY_EVENTS", "position_opened")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "fromenv", cfg.Postgres.Password)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 90*time.Minute, cfg.Archive.Interval.Duration)
	assert.Equal(t, 30, cfg.Server.RateLimit)
	assert.Equal(t, []string{"position_opened"}, cfg.Notify.Events)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "secret"
	cfg.S3.SecretKey = "secret"
	cfg.Server.APIKey = "secret"
	cfg.Notify.TelegramToken = "secret"

	red := RedactedConfig(&cfg)

	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.S3.SecretKey)
	assert.Equal(t, "***", red.Server.APIKey)
	assert.Equal(t, "***", red.Notify.TelegramToken)
	// The original is untouched.
	assert.Equal(t, "secret", cfg.Postgres.Password)
	// Empty secrets stay empty rather than advertising their absence.
	assert.Empty(t, red.Redis.Password)
}
