// Package paper implements a simulated exchange connector. Orders fill
// against prices from a quote function, optionally with injected latency
// and failures, which makes it usable both for paper trading mode and as
// the exchange side of executor and trader tests.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/multitrader/internal/domain"
)

// QuoteFunc returns the current price for a symbol. It is typically backed
// by the price cache in paper mode and by a fixed map in tests.
type QuoteFunc func(ctx context.Context, symbol string) (float64, error)

// Config controls the simulated exchange behaviour.
type Config struct {
	Name        string
	InitialCash float64
	// Latency is added before every fill. Zero means immediate fills.
	Latency time.Duration
	// FailureRate in [0,1] rejects that fraction of orders at random.
	FailureRate float64
	// Slippage shifts fills against the taker by this fraction of price.
	Slippage float64
	Seed     int64
}

// Connector is an in-process domain.ExchangeConnector.
type Connector struct {
	cfg    Config
	quote  QuoteFunc
	rng    *rand.Rand
	logger *slog.Logger

	mu       sync.Mutex
	cash     float64
	statuses map[string]domain.OrderStatus
}

// New creates a paper connector. The quote function must not be nil.
func New(cfg Config, quote QuoteFunc, logger *slog.Logger) *Connector {
	if cfg.Name == "" {
		cfg.Name = "paper"
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Connector{
		cfg:      cfg,
		quote:    quote,
		rng:      rand.New(rand.NewSource(seed)),
		logger:   logger.With(slog.String("component", "paper_exchange"), slog.String("exchange", cfg.Name)),
		cash:     cfg.InitialCash,
		statuses: make(map[string]domain.OrderStatus),
	}
}

func (c *Connector) Name() string { return c.cfg.Name }

// PlaceOrder fills the order at the quoted price plus slippage. Buys debit
// the simulated balance and sells credit it.
func (c *Connector) PlaceOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	if c.cfg.Latency > 0 {
		select {
		case <-time.After(c.cfg.Latency):
		case <-ctx.Done():
			return domain.OrderResult{}, ctx.Err()
		}
	}

	c.mu.Lock()
	failed := c.cfg.FailureRate > 0 && c.rng.Float64() < c.cfg.FailureRate
	c.mu.Unlock()
	if failed {
		c.setStatus(order.ID, domain.OrderStatusRejected)
		return domain.OrderResult{
			OrderID: order.ID,
			Status:  domain.OrderStatusRejected,
			Message: "simulated rejection",
		}, nil
	}

	price, err := c.quote(ctx, order.Symbol)
	if err != nil {
		return domain.OrderResult{}, fmt.Errorf("paper: quote %s: %w", order.Symbol, err)
	}
	fill := price
	if c.cfg.Slippage > 0 {
		if order.Side == domain.OrderSideBuy {
			fill = price * (1 + c.cfg.Slippage)
		} else {
			fill = price * (1 - c.cfg.Slippage)
		}
	}

	notional := fill * order.Quantity
	c.mu.Lock()
	if order.Side == domain.OrderSideBuy {
		c.cash -= notional
	} else {
		c.cash += notional
	}
	c.mu.Unlock()
	c.setStatus(order.ID, domain.OrderStatusFilled)

	c.logger.Debug("order filled",
		slog.String("order_id", order.ID),
		slog.String("symbol", order.Symbol),
		slog.String("side", string(order.Side)),
		slog.Float64("price", fill),
		slog.Float64("quantity", order.Quantity))

	return domain.OrderResult{
		OrderID:     order.ID,
		Status:      domain.OrderStatusFilled,
		FilledPrice: fill,
	}, nil
}

// CancelOrder marks a pending order cancelled. Filled orders cannot be
// cancelled.
func (c *Connector) CancelOrder(ctx context.Context, orderID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	status, ok := c.statuses[orderID]
	if !ok {
		return fmt.Errorf("paper: cancel %s: unknown order", orderID)
	}
	if status == domain.OrderStatusFilled {
		return fmt.Errorf("paper: cancel %s: already filled", orderID)
	}
	c.statuses[orderID] = domain.OrderStatusCancelled
	return nil
}

// GetOrderStatus returns the last known status for an order.
func (c *Connector) GetOrderStatus(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status, ok := c.statuses[orderID]
	if !ok {
		return "", fmt.Errorf("paper: status %s: unknown order", orderID)
	}
	return status, nil
}

// GetBalance reports the simulated cash balance regardless of currency.
func (c *Connector) GetBalance(ctx context.Context, currency string) ([]domain.Balance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return []domain.Balance{{Currency: currency, Free: c.cash}}, nil
}

func (c *Connector) IsHealthy(ctx context.Context) bool { return true }

var _ domain.ExchangeConnector = (*Connector)(nil)

func (c *Connector) setStatus(orderID string, s domain.OrderStatus) {
	if orderID == "" {
		orderID = uuid.NewString()
	}
	c.mu.Lock()
	c.statuses[orderID] = s
	c.mu.Unlock()
}
