package exchange

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/alanyoungcy/multitrader/internal/domain"
	"github.com/alanyoungcy/multitrader/internal/exchange/paper"
)

func newPaper(name string) *paper.Connector {
	quote := func(context.Context, string) (float64, error) { return 100, nil }
	return paper.New(paper.Config{Name: name, Seed: 1}, quote, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()

	if err := r.Register(newPaper("alpha")); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register(newPaper("alpha")); err == nil {
		t.Fatal("duplicate register succeeded")
	}

	conn, err := r.Get("alpha")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if conn.Name() != "alpha" {
		t.Errorf("name = %q", conn.Name())
	}

	if _, err := r.Get("missing"); !errors.Is(err, domain.ErrExchangeUnknown) {
		t.Fatalf("get missing: err = %v, want ErrExchangeUnknown", err)
	}
}

func TestRegistrySubset(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"alpha", "beta", "gamma"} {
		if err := r.Register(newPaper(name)); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	subset, err := r.Subset([]string{"alpha", "gamma"})
	if err != nil {
		t.Fatalf("subset: %v", err)
	}
	if len(subset) != 2 {
		t.Fatalf("subset size = %d, want 2", len(subset))
	}
	if _, ok := subset["beta"]; ok {
		t.Error("subset includes unrequested connector")
	}

	if _, err := r.Subset([]string{"alpha", "missing"}); !errors.Is(err, domain.ErrExchangeUnknown) {
		t.Fatalf("subset with unknown: err = %v, want ErrExchangeUnknown", err)
	}

	if got := len(r.All()); got != 3 {
		t.Errorf("All() = %d connectors, want 3", got)
	}
}
