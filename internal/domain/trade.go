package domain

import "time"

// TradeAction distinguishes opening and closing fills in the audit trail.
type TradeAction string

const (
	TradeActionOpen  TradeAction = "open"
	TradeActionClose TradeAction = "close"
)

// TradeRecord is the audit row written for every confirmed execution.
type TradeRecord struct {
	ID          string
	TraderID    string
	Exchange    string
	Symbol      string
	Side        PositionSide
	Action      TradeAction
	Price       float64
	Quantity    float64
	Notional    float64
	RealizedPnL float64 // zero for opens
	Reason      string  // signal reason, "stop_loss", "take_profit"
	ExecutedAt  time.Time
}

// ExchangeTotals summarises one connector's holdings inside a
// reconciliation report.
type ExchangeTotals struct {
	Exchange string
	Healthy  bool
	Balances []Balance
	Total    float64
}

// ReconciliationReport compares the ledger's view of portfolio value with
// the arithmetic sum of balances reported by every configured exchange.
type ReconciliationReport struct {
	GeneratedAt   time.Time
	LedgerTotal   float64
	ExchangeTotal float64
	Drift         float64 // ExchangeTotal - LedgerTotal
	Exchanges     []ExchangeTotals
}

// HistoryFilter narrows audit-history queries.
type HistoryFilter struct {
	TraderID string
	Symbol   string
	Since    *time.Time
	Until    *time.Time
	Limit    int
}
