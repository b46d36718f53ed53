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
// built-in defaults, applies LISTWATCH_* environment variable overrides, and
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

// applyEnvOverrides reads well-known LISTWATCH_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Refresh ──
	setDuration(&cfg.Refresh.LockTTL, "LISTWATCH_REFRESH_LOCK_TTL")
	setDuration(&cfg.Refresh.ItemDelay, "LISTWATCH_REFRESH_ITEM_DELAY")
	setDuration(&cfg.Refresh.RetryDelay, "LISTWATCH_REFRESH_RETRY_DELAY")
	setInt(&cfg.Refresh.ArchiveRetentionDays, "LISTWATCH_REFRESH_ARCHIVE_RETENTION_DAYS")

	// ── Fetch ──
	setDuration(&cfg.Fetch.Timeout, "LISTWATCH_FETCH_TIMEOUT")
	setStr(&cfg.Fetch.UserAgent, "LISTWATCH_FETCH_USER_AGENT")
	setInt(&cfg.Fetch.HostRequestsPerMinute, "LISTWATCH_FETCH_HOST_REQUESTS_PER_MINUTE")

	// ── Inference ──
	setStr(&cfg.Inference.BaseURL, "LISTWATCH_INFERENCE_BASE_URL")
	setStr(&cfg.Inference.APIKey, "LISTWATCH_INFERENCE_API_KEY")
	setStr(&cfg.Inference.Model, "LISTWATCH_INFERENCE_MODEL")
	setDuration(&cfg.Inference.Timeout, "LISTWATCH_INFERENCE_TIMEOUT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "LISTWATCH_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "LISTWATCH_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "LISTWATCH_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "LISTWATCH_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "LISTWATCH_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "LISTWATCH_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "LISTWATCH_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "LISTWATCH_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "LISTWATCH_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "LISTWATCH_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "LISTWATCH_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "LISTWATCH_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "LISTWATCH_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "LISTWATCH_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "LISTWATCH_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "LISTWATCH_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "LISTWATCH_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "LISTWATCH_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "LISTWATCH_S3_REGION")
	setStr(&cfg.S3.Bucket, "LISTWATCH_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "LISTWATCH_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "LISTWATCH_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "LISTWATCH_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "LISTWATCH_S3_FORCE_PATH_STYLE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "LISTWATCH_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "LISTWATCH_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "LISTWATCH_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "LISTWATCH_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMinute, "LISTWATCH_SERVER_RATE_LIMIT_PER_MINUTE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "LISTWATCH_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "LISTWATCH_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "LISTWATCH_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "LISTWATCH_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "LISTWATCH_MODE")
	setStr(&cfg.LogLevel, "LISTWATCH_LOG_LEVEL")
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
