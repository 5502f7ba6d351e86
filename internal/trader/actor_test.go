package trader

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/multitrader/internal/domain"
	"github.com/alanyoungcy/multitrader/internal/exchange/paper"
	"github.com/alanyoungcy/multitrader/internal/executor"
	"github.com/alanyoungcy/multitrader/internal/history"
	"github.com/alanyoungcy/multitrader/internal/ledger"
	"github.com/alanyoungcy/multitrader/internal/lockorder"
	"github.com/alanyoungcy/multitrader/internal/metrics"
	"github.com/alanyoungcy/multitrader/internal/position"
	"github.com/alanyoungcy/multitrader/internal/store/memory"
)

type harness struct {
	v      *lockorder.Validator
	led    *ledger.Ledger
	prices *memory.PriceCache
	reg    *metrics.Registry
	exec   *executor.Executor
	conns  map[string]domain.ExchangeConnector
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	v := lockorder.NewValidator(true)
	led := ledger.New(v, ledger.Config{
		InitialCash:           10000,
		MaxTotalPositions:     10,
		MaxPositionsPerSymbol: 3,
	})
	mgr := position.NewManager(v, led, position.Config{
		PercentagePerPosition: 0.02,
		MinOrderQuantity:      0.0001,
	}, logger)

	prices := memory.NewPriceCache()
	if err := prices.SetPrice(context.Background(), "BTC-USD", 50000, time.Now()); err != nil {
		t.Fatalf("seed price: %v", err)
	}
	quote := func(ctx context.Context, symbol string) (float64, error) {
		p, _, err := prices.GetPrice(ctx, symbol)
		return p, err
	}

	reg := metrics.NewRegistry(v)
	exec := executor.New(
		mgr,
		prices,
		memory.NewAuditStore(),
		history.NewBuffer(v, 0),
		reg,
		executor.Config{MinConfidence: 0.6},
		logger,
	)

	return &harness{
		v:      v,
		led:    led,
		prices: prices,
		reg:    reg,
		exec:   exec,
		conns: map[string]domain.ExchangeConnector{
			"alpha": paper.New(paper.Config{Name: "alpha", Seed: 1}, quote, logger),
			"beta":  paper.New(paper.Config{Name: "beta", Seed: 2}, quote, logger),
		},
	}
}

func (h *harness) newActor(t *testing.T, mailboxSize int) *Actor {
	t.Helper()
	return h.newActorID(t, "trader-1", mailboxSize)
}

func (h *harness) newActorID(t *testing.T, id string, mailboxSize int) *Actor {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := New(id, h.exec, h.reg, h.conns, "alpha", mailboxSize, h.v, logger)
	if err != nil {
		t.Fatalf("new actor: %v", err)
	}
	return a
}

// start runs the actor and registers cleanup that stops it and waits for
// the mailbox loop to exit.
func (h *harness) start(t *testing.T, a *Actor) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = a.Run(ctx) }()
	t.Cleanup(func() {
		a.Stop()
		cancel()
		select {
		case <-a.Done():
		case <-time.After(time.Second):
			t.Error("actor did not stop")
		}
	})
}

func TestNewRejectsUnknownActiveExchange(t *testing.T) {
	h := newHarness(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := New("trader-1", h.exec, h.reg, h.conns, "gamma", 0, h.v, logger)
	if !errors.Is(err, domain.ErrExchangeUnknown) {
		t.Fatalf("err = %v, want ErrExchangeUnknown", err)
	}
}

func TestSignalsProcessedInOrder(t *testing.T) {
	h := newHarness(t)
	a := h.newActor(t, 8)
	h.start(t, a)

	sig := domain.TradingSignal{
		ID:         "sig-1",
		TraderID:   "trader-1",
		Symbol:     "BTC-USD",
		Direction:  domain.SignalLong,
		Confidence: 0.9,
	}
	if err := a.ExecuteSignal(sig); err != nil {
		t.Fatalf("execute signal: %v", err)
	}

	// GetStats travels through the same mailbox, so its reply proves the
	// signal before it was fully processed.
	stats, err := a.GetStats(context.Background())
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	if stats.TotalOrders != 1 || stats.SuccessfulOrders != 1 || stats.FailedOrders != 0 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.ActiveExchange != "alpha" {
		t.Errorf("active exchange = %q, want alpha", stats.ActiveExchange)
	}

	// The registry saw the same outcome.
	c := h.v.NewCtx("test")
	traderStats, err := h.reg.Stats(c, "trader-1")
	if err != nil {
		t.Fatalf("registry stats: %v", err)
	}
	if traderStats.SuccessfulOrders != 1 {
		t.Errorf("registry stats = %+v", traderStats)
	}
}

func TestTwoTradersShareLedger(t *testing.T) {
	h := newHarness(t)
	if err := h.prices.SetPrice(context.Background(), "ETH-USD", 3000, time.Now()); err != nil {
		t.Fatalf("seed price: %v", err)
	}

	a1 := h.newActorID(t, "trader-1", 8)
	a2 := h.newActorID(t, "trader-2", 8)
	h.start(t, a1)
	h.start(t, a2)

	if err := a1.ExecuteSignal(domain.TradingSignal{
		ID: "sig-a", TraderID: "trader-1", Symbol: "BTC-USD",
		Direction: domain.SignalLong, Confidence: 0.9,
	}); err != nil {
		t.Fatalf("trader-1 signal: %v", err)
	}
	if err := a2.ExecuteSignal(domain.TradingSignal{
		ID: "sig-b", TraderID: "trader-2", Symbol: "ETH-USD",
		Direction: domain.SignalLong, Confidence: 0.9,
	}); err != nil {
		t.Fatalf("trader-2 signal: %v", err)
	}

	for _, a := range []*Actor{a1, a2} {
		stats, err := a.GetStats(context.Background())
		if err != nil {
			t.Fatalf("stats %s: %v", a.ID(), err)
		}
		if stats.SuccessfulOrders != 1 || stats.FailedOrders != 0 {
			t.Errorf("%s stats = %+v", a.ID(), stats)
		}
	}

	snap, err := h.led.Snapshot(h.v.NewCtx("test"))
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.OpenBySymbol["BTC-USD"] != 1 || snap.OpenBySymbol["ETH-USD"] != 1 {
		t.Errorf("open by symbol = %v", snap.OpenBySymbol)
	}
}

func TestFailedSignalCountsAsFailure(t *testing.T) {
	h := newHarness(t)
	a := h.newActor(t, 8)
	h.start(t, a)

	// Below the confidence threshold: rejected before any ledger touch.
	sig := domain.TradingSignal{
		ID:         "sig-low",
		TraderID:   "trader-1",
		Symbol:     "BTC-USD",
		Direction:  domain.SignalLong,
		Confidence: 0.1,
	}
	if err := a.ExecuteSignal(sig); err != nil {
		t.Fatalf("execute signal: %v", err)
	}

	stats, err := a.GetStats(context.Background())
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	if stats.TotalOrders != 1 || stats.FailedOrders != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestExecuteSignalMailboxFull(t *testing.T) {
	h := newHarness(t)
	a := h.newActor(t, 1) // not running, so nothing drains the mailbox

	sig := domain.TradingSignal{ID: "sig-1", TraderID: "trader-1", Symbol: "BTC-USD", Direction: domain.SignalLong, Confidence: 0.9}
	if err := a.ExecuteSignal(sig); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := a.ExecuteSignal(sig); !errors.Is(err, domain.ErrTraderUnavailable) {
		t.Fatalf("second enqueue: err = %v, want ErrTraderUnavailable", err)
	}
}

func TestSetActiveExchange(t *testing.T) {
	h := newHarness(t)
	a := h.newActor(t, 8)
	h.start(t, a)

	if err := a.SetActiveExchange(context.Background(), "beta"); err != nil {
		t.Fatalf("switch: %v", err)
	}
	stats, err := a.GetStats(context.Background())
	if err != nil {
		t.Fatalf("get stats: %v", err)
	}
	if stats.ActiveExchange != "beta" {
		t.Errorf("active exchange = %q, want beta", stats.ActiveExchange)
	}

	err = a.SetActiveExchange(context.Background(), "gamma")
	if !errors.Is(err, domain.ErrExchangeUnknown) {
		t.Fatalf("unknown switch: err = %v, want ErrExchangeUnknown", err)
	}
}

func TestPlaceOrderThroughMailbox(t *testing.T) {
	h := newHarness(t)
	a := h.newActor(t, 8)
	h.start(t, a)

	result, err := a.PlaceOrder(context.Background(), domain.Order{
		ID:       "order-1",
		Symbol:   "BTC-USD",
		Side:     domain.OrderSideBuy,
		Type:     domain.OrderTypeMarket,
		Quantity: 0.001,
		TraderID: "trader-1",
	})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	if !result.Filled() {
		t.Errorf("result = %+v, want filled", result)
	}
	if result.FilledPrice != 50000 {
		t.Errorf("fill price = %.2f, want 50000", result.FilledPrice)
	}
}

func TestStopRefusesNewWork(t *testing.T) {
	h := newHarness(t)
	a := h.newActor(t, 8)

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	a.Stop()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v on clean stop", err)
		}
	case <-time.After(time.Second):
		t.Fatal("actor did not exit after Stop")
	}

	select {
	case <-a.Done():
	default:
		t.Error("Done not closed after exit")
	}

	sig := domain.TradingSignal{ID: "sig-1", TraderID: "trader-1", Symbol: "BTC-USD", Direction: domain.SignalLong, Confidence: 0.9}
	if err := a.ExecuteSignal(sig); !errors.Is(err, domain.ErrTraderUnavailable) {
		t.Errorf("signal after stop: err = %v, want ErrTraderUnavailable", err)
	}
	if _, err := a.GetStats(context.Background()); !errors.Is(err, domain.ErrTraderUnavailable) {
		t.Errorf("stats after stop: err = %v, want ErrTraderUnavailable", err)
	}
}

func TestStopFailsQueuedReplies(t *testing.T) {
	h := newHarness(t)
	a := h.newActor(t, 8)

	// Queue requests before the loop ever runs, then run with Stop already
	// requested. Whether a message is processed or drained, every caller
	// must get a reply.
	const queued = 4
	replies := make([]chan placeReply, queued)
	for i := range replies {
		replies[i] = make(chan placeReply, 1)
		a.mailbox <- msgPlaceOrder{order: domain.Order{ID: "order-1", Symbol: "BTC-USD"}, reply: replies[i]}
	}

	a.Stop()
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	for i, reply := range replies {
		select {
		case r := <-reply:
			if r.err != nil && !errors.Is(r.err, domain.ErrTraderUnavailable) {
				t.Errorf("reply %d err = %v", i, r.err)
			}
		default:
			t.Errorf("queued request %d never answered", i)
		}
	}
}
