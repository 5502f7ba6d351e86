package paper

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/alanyoungcy/multitrader/internal/domain"
)

func quoteFixed(price float64) QuoteFunc {
	return func(context.Context, string) (float64, error) {
		return price, nil
	}
}

func newConnector(cfg Config, quote QuoteFunc) *Connector {
	return New(cfg, quote, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func marketOrder(id string, side domain.OrderSide, qty float64) domain.Order {
	return domain.Order{
		ID:       id,
		Symbol:   "BTC-USD",
		Side:     side,
		Type:     domain.OrderTypeMarket,
		Quantity: qty,
		TraderID: "trader-1",
	}
}

func TestPlaceOrderFillsAtQuote(t *testing.T) {
	c := newConnector(Config{Name: "paper-1", InitialCash: 10000, Seed: 1}, quoteFixed(50000))

	result, err := c.PlaceOrder(context.Background(), marketOrder("o1", domain.OrderSideBuy, 0.004))
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if !result.Filled() {
		t.Fatalf("result = %+v, want filled", result)
	}
	if result.FilledPrice != 50000 {
		t.Errorf("fill price = %.2f, want 50000", result.FilledPrice)
	}

	// Buys debit the simulated balance.
	balances, err := c.GetBalance(context.Background(), "USD")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if len(balances) != 1 || math.Abs(balances[0].Free-9800) > 1e-9 {
		t.Errorf("balance = %+v, want 9800 free", balances)
	}

	status, err := c.GetOrderStatus(context.Background(), "o1")
	if err != nil || status != domain.OrderStatusFilled {
		t.Errorf("status = (%s, %v), want filled", status, err)
	}
}

func TestPlaceOrderSlippage(t *testing.T) {
	c := newConnector(Config{Name: "paper-1", Slippage: 0.001, Seed: 1}, quoteFixed(1000))

	buy, err := c.PlaceOrder(context.Background(), marketOrder("b1", domain.OrderSideBuy, 1))
	if err != nil {
		t.Fatalf("buy: %v", err)
	}
	if math.Abs(buy.FilledPrice-1001) > 1e-9 {
		t.Errorf("buy fill = %.4f, want 1001 (slipped up)", buy.FilledPrice)
	}

	sell, err := c.PlaceOrder(context.Background(), marketOrder("s1", domain.OrderSideSell, 1))
	if err != nil {
		t.Fatalf("sell: %v", err)
	}
	if math.Abs(sell.FilledPrice-999) > 1e-9 {
		t.Errorf("sell fill = %.4f, want 999 (slipped down)", sell.FilledPrice)
	}
}

func TestPlaceOrderSimulatedRejection(t *testing.T) {
	c := newConnector(Config{Name: "flaky", FailureRate: 1, Seed: 1}, quoteFixed(1000))

	result, err := c.PlaceOrder(context.Background(), marketOrder("o1", domain.OrderSideBuy, 1))
	if err != nil {
		t.Fatalf("place: %v", err)
	}
	if result.Status != domain.OrderStatusRejected {
		t.Errorf("status = %s, want rejected", result.Status)
	}
	if result.Filled() {
		t.Error("rejected order reports filled")
	}
}

func TestPlaceOrderQuoteFailure(t *testing.T) {
	quoteErr := errors.New("no quote")
	c := newConnector(Config{Name: "paper-1", Seed: 1}, func(context.Context, string) (float64, error) {
		return 0, quoteErr
	})

	_, err := c.PlaceOrder(context.Background(), marketOrder("o1", domain.OrderSideBuy, 1))
	if !errors.Is(err, quoteErr) {
		t.Fatalf("err = %v, want wrapped quote error", err)
	}
}

func TestPlaceOrderHonoursContext(t *testing.T) {
	c := newConnector(Config{Name: "slow", Latency: time.Second, Seed: 1}, quoteFixed(1000))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.PlaceOrder(ctx, marketOrder("o1", domain.OrderSideBuy, 1))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestCancelOrder(t *testing.T) {
	c := newConnector(Config{Name: "paper-1", Seed: 1}, quoteFixed(1000))

	if err := c.CancelOrder(context.Background(), "missing"); err == nil {
		t.Error("cancel of unknown order succeeded")
	}

	if _, err := c.PlaceOrder(context.Background(), marketOrder("o1", domain.OrderSideBuy, 1)); err != nil {
		t.Fatalf("place: %v", err)
	}
	if err := c.CancelOrder(context.Background(), "o1"); err == nil {
		t.Error("cancel of filled order succeeded")
	}
}
