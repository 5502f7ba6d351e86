package domain

import "time"

// SignalDirection is the action a strategy is requesting.
type SignalDirection string

const (
	SignalLong  SignalDirection = "long"
	SignalShort SignalDirection = "short"
	SignalClose SignalDirection = "close"
)

// TradingSignal is emitted by a strategy (or received over the signal bus)
// and consumed exactly once by the order executor. Confidence below the
// executor's threshold is rejected before any ledger interaction.
type TradingSignal struct {
	ID         string
	TraderID   string
	Symbol     string
	Direction  SignalDirection
	Confidence float64 // 0.0 .. 1.0
	Reason     string
	CreatedAt  time.Time
}

// Side maps the signal direction onto the position side it opens.
func (s TradingSignal) Side() PositionSide {
	if s.Direction == SignalShort {
		return PositionSideShort
	}
	return PositionSideLong
}

// PriceChange is a single market tick from the price feed.
type PriceChange struct {
	Symbol    string
	Price     float64
	Timestamp time.Time
}
