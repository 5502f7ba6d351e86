package domain

import "context"

// Balance is one currency balance reported by an exchange.
type Balance struct {
	Currency string
	Free     float64
	Locked   float64
}

// Total returns the full balance including locked funds.
func (b Balance) Total() float64 {
	return b.Free + b.Locked
}

// ExchangeConnector is the capability set the core requires from any
// exchange. Each exchange is one concrete implementation; the core never
// branches on exchange identity.
type ExchangeConnector interface {
	// Name identifies the exchange for logging and audit records.
	Name() string

	// PlaceOrder submits an order and blocks until the exchange accepts,
	// fills, or rejects it, or ctx expires.
	PlaceOrder(ctx context.Context, order Order) (OrderResult, error)

	// CancelOrder cancels a previously placed order.
	CancelOrder(ctx context.Context, orderID string) error

	// GetOrderStatus returns the current exchange-side status of an order.
	GetOrderStatus(ctx context.Context, orderID string) (OrderStatus, error)

	// GetBalance returns balances, filtered to one currency when currency is
	// non-empty.
	GetBalance(ctx context.Context, currency string) ([]Balance, error)

	// IsHealthy reports whether the connector can currently reach the venue.
	IsHealthy(ctx context.Context) bool
}
