package app

import (
	"context"
	"testing"

	"github.com/alanyoungcy/multitrader/internal/config"
	"github.com/alanyoungcy/multitrader/internal/domain"
)

func paperConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Mode = "paper"
	cfg.LogLevel = "error"
	cfg.LockValidation = true
	cfg.Exchanges.Paper = []config.PaperExchangeConfig{
		{Name: "paper-1", InitialCash: 50000},
	}
	cfg.Traders = []config.TraderConfig{
		{ID: "alpha", Exchanges: []string{"paper-1"}},
	}
	return &cfg
}

func TestWirePaperMode(t *testing.T) {
	deps, cleanup, err := Wire(context.Background(), paperConfig())
	if err != nil {
		t.Fatalf("wire: %v", err)
	}
	defer cleanup()

	if deps.Ledger == nil || deps.Positions == nil || deps.Executor == nil {
		t.Fatal("core dependencies missing")
	}
	if _, ok := deps.Traders["alpha"]; !ok {
		t.Fatalf("traders = %v, want alpha", deps.Traders)
	}
	if _, err := deps.Exchanges.Get("paper-1"); err != nil {
		t.Fatalf("exchange registry: %v", err)
	}
	if deps.Archiver != nil {
		t.Error("archiver wired with s3 disabled")
	}
}

func TestWireCleanupReleasesReservations(t *testing.T) {
	deps, cleanup, err := Wire(context.Background(), paperConfig())
	if err != nil {
		t.Fatalf("wire: %v", err)
	}

	c := deps.Validator.NewCtx("test")
	sig := domain.TradingSignal{
		ID:         "sig-1",
		TraderID:   "alpha",
		Symbol:     "BTC-USD",
		Direction:  domain.SignalLong,
		Confidence: 0.9,
	}
	if _, err := deps.Positions.Open(c, sig, 50000); err != nil {
		t.Fatalf("open: %v", err)
	}
	snap, err := deps.Positions.Snapshot(c)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.ReservedCash == 0 {
		t.Fatal("no capital held before cleanup")
	}

	cleanup()

	outstanding, err := deps.Positions.Outstanding(c)
	if err != nil {
		t.Fatalf("outstanding: %v", err)
	}
	if len(outstanding) != 0 {
		t.Errorf("outstanding after cleanup = %d, want 0", len(outstanding))
	}
	snap, err = deps.Positions.Snapshot(c)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.ReservedCash != 0 {
		t.Errorf("reserved cash after cleanup = %.2f, want 0", snap.ReservedCash)
	}
	if snap.AvailableCash != 10000 {
		t.Errorf("available cash after cleanup = %.2f, want 10000", snap.AvailableCash)
	}
}
