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
// built-in defaults, applies MULTITRADER_* environment variable overrides,
// and returns the final Config. The returned Config has NOT been validated;
// the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MULTITRADER_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Portfolio ──
	setFloat64(&cfg.Portfolio.InitialCash, "MULTITRADER_PORTFOLIO_INITIAL_CASH")
	setInt(&cfg.Portfolio.MaxTotalPositions, "MULTITRADER_PORTFOLIO_MAX_TOTAL_POSITIONS")
	setInt(&cfg.Portfolio.MaxPositionsPerSymbol, "MULTITRADER_PORTFOLIO_MAX_POSITIONS_PER_SYMBOL")
	setFloat64(&cfg.Portfolio.PercentagePerPosition, "MULTITRADER_PORTFOLIO_PERCENTAGE_PER_POSITION")
	setFloat64(&cfg.Portfolio.MinOrderQuantity, "MULTITRADER_PORTFOLIO_MIN_ORDER_QUANTITY")
	setFloat64(&cfg.Portfolio.StopLossPct, "MULTITRADER_PORTFOLIO_STOP_LOSS_PCT")
	setFloat64(&cfg.Portfolio.TakeProfitPct, "MULTITRADER_PORTFOLIO_TAKE_PROFIT_PCT")

	// ── Executor ──
	setFloat64(&cfg.Executor.MinConfidence, "MULTITRADER_EXECUTOR_MIN_CONFIDENCE")
	setStringSlice(&cfg.Executor.AllowedSymbols, "MULTITRADER_EXECUTOR_ALLOWED_SYMBOLS")
	setInt(&cfg.Executor.MaxTradesPerHour, "MULTITRADER_EXECUTOR_MAX_TRADES_PER_HOUR")
	setInt(&cfg.Executor.MaxTradesPerDay, "MULTITRADER_EXECUTOR_MAX_TRADES_PER_DAY")
	setDuration(&cfg.Executor.SubmitTimeout, "MULTITRADER_EXECUTOR_SUBMIT_TIMEOUT")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "MULTITRADER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "MULTITRADER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "MULTITRADER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "MULTITRADER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "MULTITRADER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "MULTITRADER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "MULTITRADER_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "MULTITRADER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "MULTITRADER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "MULTITRADER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "MULTITRADER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MULTITRADER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MULTITRADER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MULTITRADER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MULTITRADER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MULTITRADER_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "MULTITRADER_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "MULTITRADER_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MULTITRADER_S3_REGION")
	setStr(&cfg.S3.Bucket, "MULTITRADER_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MULTITRADER_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MULTITRADER_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MULTITRADER_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MULTITRADER_S3_FORCE_PATH_STYLE")

	// ── Feed ──
	setStr(&cfg.Feed.WsURL, "MULTITRADER_FEED_WS_URL")
	setStringSlice(&cfg.Feed.Symbols, "MULTITRADER_FEED_SYMBOLS")

	// ── Reconcile ──
	setDuration(&cfg.Reconcile.Interval, "MULTITRADER_RECONCILE_INTERVAL")
	setFloat64(&cfg.Reconcile.Tolerance, "MULTITRADER_RECONCILE_TOLERANCE")
	setStr(&cfg.Reconcile.Currency, "MULTITRADER_RECONCILE_CURRENCY")

	// ── Archive ──
	setDuration(&cfg.Archive.Interval, "MULTITRADER_ARCHIVE_INTERVAL")

	// ── Top-level ──
	setStr(&cfg.Mode, "MULTITRADER_MODE")
	setStr(&cfg.LogLevel, "MULTITRADER_LOG_LEVEL")
	setBool(&cfg.LockValidation, "MULTITRADER_LOCK_VALIDATION")
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

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
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
