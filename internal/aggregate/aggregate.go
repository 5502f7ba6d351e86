// Package aggregate sums balances across exchange connectors and compares
// the result against the ledger's view of portfolio value. Balance queries
// fan out concurrently and an unhealthy or failing connector is reported in
// the output rather than failing the whole report.
package aggregate

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/multitrader/internal/domain"
	"github.com/alanyoungcy/multitrader/internal/ledger"
	"github.com/alanyoungcy/multitrader/internal/lockorder"
)

// Config controls the aggregator.
type Config struct {
	// Currency queried on every connector, e.g. "USD".
	Currency string
	// Timeout bounds each full fan-out round.
	Timeout time.Duration
}

// Aggregator builds reconciliation reports.
type Aggregator struct {
	cfg        Config
	ledger     *ledger.Ledger
	connectors []domain.ExchangeConnector
	lc         *lockorder.Ctx
	logger     *slog.Logger
}

// New creates an Aggregator over the given connectors.
func New(cfg Config, l *ledger.Ledger, connectors []domain.ExchangeConnector, v *lockorder.Validator, logger *slog.Logger) *Aggregator {
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Aggregator{
		cfg:        cfg,
		ledger:     l,
		connectors: connectors,
		lc:         v.NewCtx("aggregator"),
		logger:     logger.With(slog.String("component", "aggregator")),
	}
}

// Report queries every connector concurrently and returns the combined
// totals alongside the ledger's total value. Connectors that fail or report
// unhealthy contribute zero and are flagged in the per-exchange breakdown.
func (a *Aggregator) Report(ctx context.Context) (*domain.ReconciliationReport, error) {
	snap, err := a.ledger.Snapshot(a.lc)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	var mu sync.Mutex
	totals := make([]domain.ExchangeTotals, 0, len(a.connectors))

	g, gctx := errgroup.WithContext(ctx)
	for _, conn := range a.connectors {
		conn := conn
		g.Go(func() error {
			t := a.queryOne(gctx, conn)
			mu.Lock()
			totals = append(totals, t)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(totals, func(i, j int) bool { return totals[i].Exchange < totals[j].Exchange })

	var exchangeTotal float64
	for _, t := range totals {
		exchangeTotal += t.Total
	}

	return &domain.ReconciliationReport{
		GeneratedAt:   time.Now().UTC(),
		LedgerTotal:   snap.TotalValue,
		ExchangeTotal: exchangeTotal,
		Drift:         exchangeTotal - snap.TotalValue,
		Exchanges:     totals,
	}, nil
}

func (a *Aggregator) queryOne(ctx context.Context, conn domain.ExchangeConnector) domain.ExchangeTotals {
	out := domain.ExchangeTotals{Exchange: conn.Name()}

	out.Healthy = conn.IsHealthy(ctx)
	if !out.Healthy {
		a.logger.Warn("exchange unhealthy, excluded from totals", slog.String("exchange", conn.Name()))
		return out
	}

	bal, err := conn.GetBalance(ctx, a.cfg.Currency)
	if err != nil {
		a.logger.Warn("balance query failed",
			slog.String("exchange", conn.Name()),
			slog.String("error", err.Error()))
		out.Healthy = false
		return out
	}

	out.Balances = bal
	for _, b := range bal {
		out.Total += b.Total()
	}
	return out
}
