// Package config defines the top-level configuration for the trading
// executor and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by MULTITRADER_* environment
// variables.
type Config struct {
	Portfolio PortfolioConfig `toml:"portfolio"`
	Executor  ExecutorConfig  `toml:"executor"`
	Traders   []TraderConfig  `toml:"traders"`
	Exchanges ExchangesConfig `toml:"exchanges"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Feed      FeedConfig      `toml:"feed"`
	Reconcile ReconcileConfig `toml:"reconcile"`
	Archive   ArchiveConfig   `toml:"archive"`

	Mode           string `toml:"mode"`
	LogLevel       string `toml:"log_level"`
	LockValidation bool   `toml:"lock_validation"`
}

// PortfolioConfig holds the shared ledger parameters.
type PortfolioConfig struct {
	InitialCash           float64 `toml:"initial_cash"`
	MaxTotalPositions     int     `toml:"max_total_positions"`
	MaxPositionsPerSymbol int     `toml:"max_positions_per_symbol"`
	PercentagePerPosition float64 `toml:"percentage_per_position"`
	MinOrderQuantity      float64 `toml:"min_order_quantity"`
	StopLossPct           float64 `toml:"stop_loss_pct"`
	TakeProfitPct         float64 `toml:"take_profit_pct"`

	// Epsilon bounds the floating-point drift tolerated by the ledger's
	// accounting identity checks.
	Epsilon float64 `toml:"epsilon"`
}

// ExecutorConfig holds validation and submission parameters shared by all
// traders.
type ExecutorConfig struct {
	MinConfidence   float64  `toml:"min_confidence"`
	AllowedSymbols  []string `toml:"allowed_symbols"`
	MaxTradesPerHour int     `toml:"max_trades_per_hour"`
	MaxTradesPerDay  int     `toml:"max_trades_per_day"`
	SubmitTimeout   duration `toml:"submit_timeout"`
}

// TraderConfig defines one trader actor.
type TraderConfig struct {
	ID             string         `toml:"id"`
	Exchanges      []string       `toml:"exchanges"`
	ActiveExchange string         `toml:"active_exchange"`
	MailboxSize    int            `toml:"mailbox_size"`
	Strategy       string         `toml:"strategy"`
	Symbols        []string       `toml:"symbols"`
	Params         map[string]any `toml:"params"`
}

// ExchangesConfig holds connector parameters. Paper connectors are the only
// in-tree kind; live connectors register through the same registry.
type ExchangesConfig struct {
	Paper []PaperExchangeConfig `toml:"paper"`
}

// PaperExchangeConfig holds parameters for one simulated exchange.
type PaperExchangeConfig struct {
	Name        string   `toml:"name"`
	InitialCash float64  `toml:"initial_cash"`
	Latency     duration `toml:"latency"`
	FailureRate float64  `toml:"failure_rate"`
	Slippage    float64  `toml:"slippage"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// FeedConfig holds the market data feed parameters.
type FeedConfig struct {
	WsURL   string   `toml:"ws_url"`
	Symbols []string `toml:"symbols"`
}

// ReconcileConfig holds the aggregate reconciliation loop parameters.
type ReconcileConfig struct {
	Interval  duration `toml:"interval"`
	Tolerance float64  `toml:"tolerance"`
	Currency  string   `toml:"currency"`
}

// ArchiveConfig holds the trade history archiver parameters.
type ArchiveConfig struct {
	Interval duration `toml:"interval"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

var validModes = map[string]bool{
	"trade": true,
	"paper": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Portfolio: PortfolioConfig{
			InitialCash:           10000,
			MaxTotalPositions:     10,
			MaxPositionsPerSymbol: 3,
			PercentagePerPosition: 0.02,
			MinOrderQuantity:      0.0001,
			StopLossPct:           0.05,
			TakeProfitPct:         0.10,
			Epsilon:               1e-6,
		},
		Executor: ExecutorConfig{
			MinConfidence:    0.6,
			MaxTradesPerHour: 0,
			MaxTradesPerDay:  0,
			SubmitTimeout:    duration{5 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "multitrader",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "multitrader-data",
			ForcePathStyle: true,
		},
		Reconcile: ReconcileConfig{
			Interval:  duration{time.Minute},
			Tolerance: 0.01,
			Currency:  "USD",
		},
		Archive: ArchiveConfig{
			Interval: duration{5 * time.Minute},
		},
		Mode:           "paper",
		LogLevel:       "info",
		LockValidation: true,
	}
}

// Validate checks the configuration for internal consistency. It collects
// every problem it finds so operators can fix a bad file in one pass.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, paper)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Portfolio.InitialCash <= 0 {
		errs = append(errs, "portfolio: initial_cash must be positive")
	}
	if c.Portfolio.MaxTotalPositions < 1 {
		errs = append(errs, "portfolio: max_total_positions must be >= 1")
	}
	if c.Portfolio.MaxPositionsPerSymbol < 1 {
		errs = append(errs, "portfolio: max_positions_per_symbol must be >= 1")
	}
	if c.Portfolio.PercentagePerPosition <= 0 || c.Portfolio.PercentagePerPosition > 1 {
		errs = append(errs, fmt.Sprintf("portfolio: percentage_per_position must be in (0,1], got %v", c.Portfolio.PercentagePerPosition))
	}
	if c.Portfolio.Epsilon < 0 {
		errs = append(errs, "portfolio: epsilon must not be negative")
	}

	if c.Executor.MinConfidence < 0 || c.Executor.MinConfidence > 1 {
		errs = append(errs, fmt.Sprintf("executor: min_confidence must be in [0,1], got %v", c.Executor.MinConfidence))
	}
	if c.Executor.SubmitTimeout.Duration < 0 {
		errs = append(errs, "executor: submit_timeout must not be negative")
	}

	if len(c.Traders) == 0 {
		errs = append(errs, "traders: at least one trader must be configured")
	}
	seen := make(map[string]bool, len(c.Traders))
	for i, t := range c.Traders {
		if t.ID == "" {
			errs = append(errs, fmt.Sprintf("traders[%d]: id must not be empty", i))
			continue
		}
		if seen[t.ID] {
			errs = append(errs, fmt.Sprintf("traders[%d]: duplicate id %q", i, t.ID))
		}
		seen[t.ID] = true
		if len(t.Exchanges) == 0 {
			errs = append(errs, fmt.Sprintf("traders[%d]: at least one exchange must be listed", i))
		}
		if t.ActiveExchange != "" && !contains(t.Exchanges, t.ActiveExchange) {
			errs = append(errs, fmt.Sprintf("traders[%d]: active_exchange %q not in exchanges list", i, t.ActiveExchange))
		}
	}

	if c.Mode == "trade" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Feed.WsURL == "" {
			errs = append(errs, "feed: ws_url must not be empty in trade mode")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when s3 is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when s3 is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
