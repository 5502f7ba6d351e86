package domain

import (
	"errors"
	"fmt"
)

var (
	ErrPositionNotFound    = errors.New("position not found")
	ErrReservationNotFound = errors.New("reservation not found")
	ErrLedgerHalted        = errors.New("ledger halted after invariant violation")
	ErrTraderUnavailable   = errors.New("trader unavailable")
	ErrExchangeUnknown     = errors.New("unknown exchange")
	ErrOrderRejected       = errors.New("order rejected by exchange")
	ErrSubmitTimeout       = errors.New("order submission timed out")
	ErrRateLimited         = errors.New("rate limited")
	ErrLowConfidence       = errors.New("signal confidence below threshold")
	ErrSymbolNotAllowed    = errors.New("symbol not whitelisted")
	ErrQuantityTooSmall    = errors.New("order quantity below minimum")
	ErrWSDisconnect        = errors.New("websocket disconnected")
	ErrPriceUnavailable    = errors.New("no price available")
)

// InsufficientBalanceError reports a capital reservation or open that exceeds
// the available cash at the time of the attempt.
type InsufficientBalanceError struct {
	Symbol    string
	Required  float64
	Available float64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %s: need %.2f, available %.2f",
		e.Symbol, e.Required, e.Available)
}

// PositionLimitError reports a would-be open that exceeds the per-symbol or
// total open-position limit. Symbol is empty when the total limit was hit.
type PositionLimitError struct {
	Symbol string
	Open   int
	Limit  int
}

func (e *PositionLimitError) Error() string {
	if e.Symbol == "" {
		return fmt.Sprintf("portfolio at %d/%d total position limit", e.Open, e.Limit)
	}
	return fmt.Sprintf("symbol %s at %d/%d position limit", e.Symbol, e.Open, e.Limit)
}

// LockOrderViolationError is returned when a code path requests a shared
// resource that precedes one it already holds in the global acquisition
// order. It indicates a defect that could deadlock in production, never a
// business condition, and must not be retried or swallowed.
type LockOrderViolationError struct {
	Requested string
	Holding   string
}

func (e *LockOrderViolationError) Error() string {
	return fmt.Sprintf("lock order violation: requested %s while holding %s",
		e.Requested, e.Holding)
}

// InvariantViolationError reports a committed ledger state that broke a
// portfolio invariant. The affected ledger halts further mutation once this
// is observed.
type InvariantViolationError struct {
	Detail        string
	TotalValue    float64
	AvailableCash float64
	PositionValue float64
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("portfolio invariant violated: %s (total=%.4f cash=%.4f positions=%.4f)",
		e.Detail, e.TotalValue, e.AvailableCash, e.PositionValue)
}
