package aggregate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/alanyoungcy/multitrader/internal/domain"
	"github.com/alanyoungcy/multitrader/internal/ledger"
	"github.com/alanyoungcy/multitrader/internal/lockorder"
)

// stubConnector reports a fixed balance, optionally failing or unhealthy.
type stubConnector struct {
	name       string
	balances   []domain.Balance
	healthy    bool
	balanceErr error
}

func (s *stubConnector) Name() string { return s.name }

func (s *stubConnector) PlaceOrder(context.Context, domain.Order) (domain.OrderResult, error) {
	return domain.OrderResult{}, errors.New("not implemented")
}

func (s *stubConnector) CancelOrder(context.Context, string) error { return nil }

func (s *stubConnector) GetOrderStatus(context.Context, string) (domain.OrderStatus, error) {
	return domain.OrderStatusPending, nil
}

func (s *stubConnector) GetBalance(context.Context, string) ([]domain.Balance, error) {
	if s.balanceErr != nil {
		return nil, s.balanceErr
	}
	return s.balances, nil
}

func (s *stubConnector) IsHealthy(context.Context) bool { return s.healthy }

func newTestAggregator(connectors ...domain.ExchangeConnector) *Aggregator {
	v := lockorder.NewValidator(true)
	l := ledger.New(v, ledger.Config{
		InitialCash:           10000,
		MaxTotalPositions:     10,
		MaxPositionsPerSymbol: 3,
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(Config{Currency: "USD"}, l, connectors, v, logger)
}

func TestReportSumsHealthyConnectors(t *testing.T) {
	agg := newTestAggregator(
		&stubConnector{name: "beta", healthy: true, balances: []domain.Balance{{Currency: "USD", Free: 4000}}},
		&stubConnector{name: "alpha", healthy: true, balances: []domain.Balance{{Currency: "USD", Free: 5500, Locked: 500}}},
	)

	report, err := agg.Report(context.Background())
	if err != nil {
		t.Fatalf("report: %v", err)
	}

	if report.LedgerTotal != 10000 {
		t.Errorf("ledger total = %.2f, want 10000", report.LedgerTotal)
	}
	if report.ExchangeTotal != 10000 {
		t.Errorf("exchange total = %.2f, want 10000", report.ExchangeTotal)
	}
	if math.Abs(report.Drift) > 1e-9 {
		t.Errorf("drift = %.8f, want 0", report.Drift)
	}

	// Totals come back sorted by exchange name.
	if len(report.Exchanges) != 2 {
		t.Fatalf("exchanges = %d, want 2", len(report.Exchanges))
	}
	if report.Exchanges[0].Exchange != "alpha" || report.Exchanges[1].Exchange != "beta" {
		t.Errorf("order = %s, %s", report.Exchanges[0].Exchange, report.Exchanges[1].Exchange)
	}
	if report.Exchanges[0].Total != 6000 {
		t.Errorf("alpha total = %.2f, want 6000 (free + locked)", report.Exchanges[0].Total)
	}
}

func TestReportFlagsUnhealthyAndFailing(t *testing.T) {
	agg := newTestAggregator(
		&stubConnector{name: "good", healthy: true, balances: []domain.Balance{{Currency: "USD", Free: 7000}}},
		&stubConnector{name: "down", healthy: false},
		&stubConnector{name: "broken", healthy: true, balanceErr: errors.New("boom")},
	)

	report, err := agg.Report(context.Background())
	if err != nil {
		t.Fatalf("report: %v", err)
	}

	// Failing connectors contribute zero instead of failing the report.
	if report.ExchangeTotal != 7000 {
		t.Errorf("exchange total = %.2f, want 7000", report.ExchangeTotal)
	}
	if math.Abs(report.Drift-(-3000)) > 1e-9 {
		t.Errorf("drift = %.2f, want -3000", report.Drift)
	}

	byName := make(map[string]domain.ExchangeTotals, len(report.Exchanges))
	for _, e := range report.Exchanges {
		byName[e.Exchange] = e
	}
	if !byName["good"].Healthy {
		t.Error("good connector flagged unhealthy")
	}
	if byName["down"].Healthy || byName["down"].Total != 0 {
		t.Errorf("down connector = %+v", byName["down"])
	}
	if byName["broken"].Healthy || byName["broken"].Total != 0 {
		t.Errorf("broken connector = %+v", byName["broken"])
	}
}

func TestReconcilerPersistsReports(t *testing.T) {
	agg := newTestAggregator(
		&stubConnector{name: "only", healthy: true, balances: []domain.Balance{{Currency: "USD", Free: 9000}}},
	)
	audit := &captureStore{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewReconciler(agg, audit, time.Minute, 0.01, logger)

	r.runOnce(context.Background())

	if len(audit.reports) != 1 {
		t.Fatalf("persisted %d reports, want 1", len(audit.reports))
	}
	if math.Abs(audit.reports[0].Drift-(-1000)) > 1e-9 {
		t.Errorf("drift = %.2f, want -1000", audit.reports[0].Drift)
	}
}

// captureStore records reconciliation reports handed to it.
type captureStore struct {
	reports []domain.ReconciliationReport
}

func (c *captureStore) AppendTrade(context.Context, domain.TradeRecord) error { return nil }

func (c *captureStore) AppendReconciliation(_ context.Context, report domain.ReconciliationReport) error {
	c.reports = append(c.reports, report)
	return nil
}

func (c *captureStore) QueryHistory(context.Context, domain.HistoryFilter) ([]domain.TradeRecord, error) {
	return nil, nil
}
