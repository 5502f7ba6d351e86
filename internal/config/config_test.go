package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const sampleTOML = `
mode = "paper"
log_level = "debug"
lock_validation = true

[portfolio]
initial_cash = 25000.0
max_total_positions = 5
max_positions_per_symbol = 2
percentage_per_position = 0.05
epsilon = 1e-9

[executor]
min_confidence = 0.7
allowed_symbols = ["BTC-USD", "ETH-USD"]
submit_timeout = "3s"

[[traders]]
id = "alpha"
exchanges = ["paper-1"]
active_exchange = "paper-1"
strategy = "momentum"
symbols = ["BTC-USD"]

[[exchanges.paper]]
name = "paper-1"
initial_cash = 50000.0
latency = "25ms"
failure_rate = 0.1

[reconcile]
interval = "2m"
tolerance = 0.5
currency = "USD"
`

func TestLoadMergesFileOverDefaults(t *testing.T) {
	path := writeConfig(t, sampleTOML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Portfolio.InitialCash != 25000 {
		t.Errorf("initial_cash = %v, want 25000", cfg.Portfolio.InitialCash)
	}
	if cfg.Portfolio.MaxPositionsPerSymbol != 2 {
		t.Errorf("max_positions_per_symbol = %d, want 2", cfg.Portfolio.MaxPositionsPerSymbol)
	}
	if cfg.Portfolio.Epsilon != 1e-9 {
		t.Errorf("epsilon = %v, want 1e-9", cfg.Portfolio.Epsilon)
	}
	// Untouched fields keep their defaults.
	if cfg.Portfolio.MinOrderQuantity != 0.0001 {
		t.Errorf("min_order_quantity = %v, want default 0.0001", cfg.Portfolio.MinOrderQuantity)
	}
	if cfg.Redis.Addr != "localhost:6379" {
		t.Errorf("redis addr = %q, want default", cfg.Redis.Addr)
	}

	if cfg.Executor.SubmitTimeout.Duration != 3*time.Second {
		t.Errorf("submit_timeout = %v, want 3s", cfg.Executor.SubmitTimeout.Duration)
	}
	if len(cfg.Executor.AllowedSymbols) != 2 {
		t.Errorf("allowed_symbols = %v", cfg.Executor.AllowedSymbols)
	}

	if len(cfg.Traders) != 1 || cfg.Traders[0].ID != "alpha" {
		t.Fatalf("traders = %+v", cfg.Traders)
	}
	if len(cfg.Exchanges.Paper) != 1 {
		t.Fatalf("paper exchanges = %+v", cfg.Exchanges.Paper)
	}
	if cfg.Exchanges.Paper[0].Latency.Duration != 25*time.Millisecond {
		t.Errorf("paper latency = %v, want 25ms", cfg.Exchanges.Paper[0].Latency.Duration)
	}
	if cfg.Reconcile.Interval.Duration != 2*time.Minute {
		t.Errorf("reconcile interval = %v, want 2m", cfg.Reconcile.Interval.Duration)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("validate: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, sampleTOML)

	t.Setenv("MULTITRADER_PORTFOLIO_INITIAL_CASH", "99000")
	t.Setenv("MULTITRADER_REDIS_ADDR", "redis.internal:6380")
	t.Setenv("MULTITRADER_EXECUTOR_SUBMIT_TIMEOUT", "10s")
	t.Setenv("MULTITRADER_EXECUTOR_ALLOWED_SYMBOLS", "SOL-USD, DOGE-USD")
	t.Setenv("MULTITRADER_LOCK_VALIDATION", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Portfolio.InitialCash != 99000 {
		t.Errorf("initial_cash = %v, want env override 99000", cfg.Portfolio.InitialCash)
	}
	if cfg.Redis.Addr != "redis.internal:6380" {
		t.Errorf("redis addr = %q, want env override", cfg.Redis.Addr)
	}
	if cfg.Executor.SubmitTimeout.Duration != 10*time.Second {
		t.Errorf("submit_timeout = %v, want 10s", cfg.Executor.SubmitTimeout.Duration)
	}
	want := []string{"SOL-USD", "DOGE-USD"}
	if len(cfg.Executor.AllowedSymbols) != 2 || cfg.Executor.AllowedSymbols[0] != want[0] || cfg.Executor.AllowedSymbols[1] != want[1] {
		t.Errorf("allowed_symbols = %v, want %v", cfg.Executor.AllowedSymbols, want)
	}
	if cfg.LockValidation {
		t.Error("lock_validation not overridden to false")
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("load of missing file succeeded")
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "barter"
	cfg.Portfolio.InitialCash = -5
	cfg.Traders = []TraderConfig{
		{ID: "dup", Exchanges: []string{"paper-1"}},
		{ID: "dup", Exchanges: []string{"paper-1"}},
		{ID: "loner"},
		{ID: "stray", Exchanges: []string{"paper-1"}, ActiveExchange: "paper-2"},
	}

	err := cfg.Validate()
	if err == nil {
		t.Fatal("validate passed a broken config")
	}
	msg := err.Error()
	for _, want := range []string{
		"unknown mode",
		"initial_cash",
		"duplicate id",
		"at least one exchange",
		`active_exchange "paper-2"`,
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q missing %q", msg, want)
		}
	}
}

func TestValidateTradeModeRequiresBackends(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Traders = []TraderConfig{{ID: "alpha", Exchanges: []string{"paper-1"}}}
	cfg.Redis.Addr = ""
	cfg.Postgres.Host = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("trade mode validated without backends")
	}
	msg := err.Error()
	for _, want := range []string{"postgres: host", "redis: addr", "feed: ws_url"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error %q missing %q", msg, want)
		}
	}

	// A DSN stands in for the discrete postgres fields.
	cfg.Postgres.DSN = "postgres://u:p@db:5432/trader"
	cfg.Redis.Addr = "redis:6379"
	cfg.Feed.WsURL = "wss://feed.example.com/ws"
	if err := cfg.Validate(); err != nil {
		t.Errorf("validate with backends: %v", err)
	}
}

func TestValidateS3RequiresBucket(t *testing.T) {
	cfg := Defaults()
	cfg.Traders = []TraderConfig{{ID: "alpha", Exchanges: []string{"paper-1"}}}
	cfg.S3.Enabled = true
	cfg.S3.Bucket = ""

	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "s3: bucket") {
		t.Fatalf("err = %v, want bucket complaint", err)
	}
}
