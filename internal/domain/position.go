package domain

import "time"

// PositionSide indicates the direction of an open position.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// Position is an open trade record owned exclusively by the portfolio ledger
// once confirmed. It is mutated only through ledger operations and moved to
// history on close.
type Position struct {
	ID            string
	Symbol        string
	Side          PositionSide
	EntryPrice    float64
	Quantity      float64
	Value         float64 // capital committed at entry: EntryPrice * Quantity
	TraderID      string
	Exchange      string
	StopLossPct   *float64 // e.g. 0.05 closes a long 5% below entry
	TakeProfitPct *float64
	OpenedAt      time.Time
}

// UnrealizedPnL values the position against the given mark price.
func (p Position) UnrealizedPnL(price float64) float64 {
	switch p.Side {
	case PositionSideShort:
		return (p.EntryPrice - price) * p.Quantity
	default:
		return (price - p.EntryPrice) * p.Quantity
	}
}

// ShouldStopLoss reports whether the mark price has moved against the
// position past its configured stop-loss percentage.
func (p Position) ShouldStopLoss(price float64) bool {
	if p.StopLossPct == nil || p.EntryPrice <= 0 {
		return false
	}
	switch p.Side {
	case PositionSideShort:
		return price >= p.EntryPrice*(1+*p.StopLossPct)
	default:
		return price <= p.EntryPrice*(1-*p.StopLossPct)
	}
}

// ShouldTakeProfit reports whether the mark price has moved in favour of the
// position past its configured take-profit percentage.
func (p Position) ShouldTakeProfit(price float64) bool {
	if p.TakeProfitPct == nil || p.EntryPrice <= 0 {
		return false
	}
	switch p.Side {
	case PositionSideShort:
		return price <= p.EntryPrice*(1-*p.TakeProfitPct)
	default:
		return price >= p.EntryPrice*(1+*p.TakeProfitPct)
	}
}

// ClosedPosition is a Position after close, annotated with its outcome.
type ClosedPosition struct {
	Position
	ExitPrice   float64
	RealizedPnL float64
	ClosedAt    time.Time
}

// PortfolioSnapshot is an immutable read-only view of the ledger. The maps
// are deep copies; mutating a snapshot never affects ledger state.
type PortfolioSnapshot struct {
	TotalValue    float64
	AvailableCash float64
	ReservedCash  float64
	PositionValue float64
	Positions     map[string]Position // by position id
	OpenBySymbol  map[string]int      // open + reserved counts per symbol
}

// OpenCount returns the number of confirmed open positions.
func (s PortfolioSnapshot) OpenCount() int {
	return len(s.Positions)
}
