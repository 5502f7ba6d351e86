package domain

import "time"

// OrderSide indicates whether this is a buy or sell on the exchange.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType indicates the execution style.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus tracks the exchange-side order lifecycle.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusOpen      OrderStatus = "open"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusRejected  OrderStatus = "rejected"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is a single execution request. It is created per signal, consumed
// once by the executor, and never persisted beyond the attempt; the outcome
// is recorded separately in the audit repository.
type Order struct {
	ID         string
	Symbol     string
	Side       OrderSide
	Type       OrderType
	Quantity   float64
	LimitPrice *float64 // nil for market orders
	TraderID   string
	Confidence float64
	CreatedAt  time.Time
}

// OrderResult wraps the exchange response after order submission.
type OrderResult struct {
	OrderID     string
	Status      OrderStatus
	FilledPrice float64
	Message     string
}

// Filled reports whether the order completed on the exchange.
func (r OrderResult) Filled() bool {
	return r.Status == OrderStatusFilled
}
