package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies UNIST_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known UNIST_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Ledger ──
	setStr(&cfg.Ledger.Pool, "UNIST_LEDGER_POOL")
	setStr(&cfg.Ledger.PublishChannel, "UNIST_LEDGER_PUBLISH_CHANNEL")
	setStr(&cfg.Ledger.Stream, "UNIST_LEDGER_STREAM")
	setInt(&cfg.Ledger.StreamMaxLen, "UNIST_LEDGER_STREAM_MAX_LEN")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "UNIST_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "UNIST_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "UNIST_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "UNIST_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "UNIST_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "UNIST_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "UNIST_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "UNIST_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "UNIST_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "UNIST_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "UNIST_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "UNIST_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "UNIST_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "UNIST_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "UNIST_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "UNIST_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "UNIST_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "UNIST_S3_REGION")
	setStr(&cfg.S3.Bucket, "UNIST_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "UNIST_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "UNIST_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "UNIST_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "UNIST_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "UNIST_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "UNIST_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "UNIST_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "UNIST_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "UNIST_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateLimitWindow, "UNIST_SERVER_RATE_LIMIT_WINDOW")

	// ── Ingest ──
	setStr(&cfg.Ingest.Path, "UNIST_INGEST_PATH")
	setBool(&cfg.Ingest.DryRun, "UNIST_INGEST_DRY_RUN")

	// ── Archive ──
	setStr(&cfg.Archive.Prefix, "UNIST_ARCHIVE_PREFIX")
	setDuration(&cfg.Archive.Interval, "UNIST_ARCHIVE_INTERVAL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "UNIST_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "UNIST_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "UNIST_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "UNIST_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "UNIST_MODE")
	setStr(&cfg.LogLevel, "UNIST_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
