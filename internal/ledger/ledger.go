// Package ledger implements the authoritative portfolio state: cash, open
// positions, and exposure. All mutation goes through invariant-preserving
// operations; the internal maps are never exposed. The ledger is the only
// resource mutated by more than one actor, so every access is funnelled
// through its lock-order-validated RWMutex.
package ledger

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/multitrader/internal/domain"
	"github.com/alanyoungcy/multitrader/internal/lockorder"
)

// defaultEpsilon bounds the floating-point drift tolerated by the accounting
// identity total_value == available_cash + position_value.
const defaultEpsilon = 1e-6

// Config holds the portfolio limits enforced on every open.
type Config struct {
	InitialCash           float64
	MaxTotalPositions     int
	MaxPositionsPerSymbol int
	Epsilon               float64
}

// Ledger is the single authoritative aggregate of cash and open positions.
// All methods are safe for concurrent use; callers identify themselves with
// a lockorder.Ctx so out-of-order acquisition is caught before it deadlocks.
type Ledger struct {
	cfg Config
	mu  *lockorder.RWMutex

	cash          float64 // total cash, including reserved holds
	reservedCash  float64 // portion of cash held by pending reservations
	positionValue float64
	totalValue    float64

	positions     map[string]domain.Position
	bySymbol      map[string]int // confirmed open positions per symbol
	pendingSymbol map[string]int // reservations per symbol, not yet confirmed
	pendingTotal  int
	marks         map[string]float64 // last observed price per symbol

	halted atomic.Bool
}

// New creates a Ledger seeded with cfg.InitialCash.
func New(v *lockorder.Validator, cfg Config) *Ledger {
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = defaultEpsilon
	}
	return &Ledger{
		cfg:           cfg,
		mu:            lockorder.NewRWMutex(v, lockorder.ResourceLedger),
		cash:          cfg.InitialCash,
		totalValue:    cfg.InitialCash,
		positions:     make(map[string]domain.Position),
		bySymbol:      make(map[string]int),
		pendingSymbol: make(map[string]int),
		marks:         make(map[string]float64),
	}
}

// Halted reports whether an invariant violation has stopped further
// mutation of this ledger.
func (l *Ledger) Halted() bool { return l.halted.Load() }

// AvailableCash returns cash not locked by pending reservations.
func (l *Ledger) AvailableCash(c *lockorder.Ctx) (float64, error) {
	if err := l.mu.RLock(c); err != nil {
		return 0, err
	}
	defer l.mu.RUnlock(c)
	return l.cash - l.reservedCash, nil
}

// Reserve places a capital hold of amount against a future open on symbol.
// It fails with InsufficientBalanceError or PositionLimitError when the hold
// would make a later confirm impossible, leaving state unchanged. A
// successful reserve must be resolved by exactly one ApplyOpen or
// ReleaseReservation call.
func (l *Ledger) Reserve(c *lockorder.Ctx, symbol string, amount float64) error {
	if l.halted.Load() {
		return domain.ErrLedgerHalted
	}
	if err := l.mu.Lock(c); err != nil {
		return err
	}
	defer l.mu.Unlock(c)

	available := l.cash - l.reservedCash
	if amount > available {
		return &domain.InsufficientBalanceError{
			Symbol:    symbol,
			Required:  amount,
			Available: available,
		}
	}
	if open := len(l.positions) + l.pendingTotal; open >= l.cfg.MaxTotalPositions {
		return &domain.PositionLimitError{Open: open, Limit: l.cfg.MaxTotalPositions}
	}
	if open := l.bySymbol[symbol] + l.pendingSymbol[symbol]; open >= l.cfg.MaxPositionsPerSymbol {
		return &domain.PositionLimitError{Symbol: symbol, Open: open, Limit: l.cfg.MaxPositionsPerSymbol}
	}

	l.reservedCash += amount
	l.pendingSymbol[symbol]++
	l.pendingTotal++
	return nil
}

// ReleaseReservation undoes a Reserve with no other ledger effect. Available
// cash returns to exactly its pre-reserve value.
func (l *Ledger) ReleaseReservation(c *lockorder.Ctx, symbol string, amount float64) error {
	if err := l.mu.Lock(c); err != nil {
		return err
	}
	defer l.mu.Unlock(c)

	l.reservedCash -= amount
	if l.reservedCash < 0 {
		l.reservedCash = 0
	}
	l.releasePendingLocked(symbol)
	return nil
}

func (l *Ledger) releasePendingLocked(symbol string) {
	if l.pendingSymbol[symbol] > 0 {
		l.pendingSymbol[symbol]--
		if l.pendingSymbol[symbol] == 0 {
			delete(l.pendingSymbol, symbol)
		}
	}
	if l.pendingTotal > 0 {
		l.pendingTotal--
	}
}

// ApplyOpen promotes a reservation into a confirmed Position. reserved is
// the amount previously passed to Reserve; the committed position value is
// candidate.Value, which may differ from the hold when the exchange filled
// at a different price. A fill worse than the hold is re-checked against
// free cash and rejected with InsufficientBalanceError when the overage
// cannot be funded; on any error the reservation accounting is untouched
// and the caller still owns the hold. Passing reserved == 0 opens directly,
// re-running the balance and limit checks (used when no reservation phase
// is needed).
func (l *Ledger) ApplyOpen(c *lockorder.Ctx, candidate domain.Position, reserved float64) (string, error) {
	if l.halted.Load() {
		return "", domain.ErrLedgerHalted
	}
	if err := l.mu.Lock(c); err != nil {
		return "", err
	}
	defer l.mu.Unlock(c)

	if reserved > 0 {
		// The hold itself funds the position; only the slippage overage
		// needs free cash beyond it.
		if available := l.cash - l.reservedCash + reserved; candidate.Value > available {
			return "", &domain.InsufficientBalanceError{
				Symbol:    candidate.Symbol,
				Required:  candidate.Value,
				Available: available,
			}
		}
		l.reservedCash -= reserved
		if l.reservedCash < 0 {
			l.reservedCash = 0
		}
		l.releasePendingLocked(candidate.Symbol)
	} else {
		available := l.cash - l.reservedCash
		if candidate.Value > available {
			return "", &domain.InsufficientBalanceError{
				Symbol:    candidate.Symbol,
				Required:  candidate.Value,
				Available: available,
			}
		}
		if open := len(l.positions) + l.pendingTotal; open >= l.cfg.MaxTotalPositions {
			return "", &domain.PositionLimitError{Open: open, Limit: l.cfg.MaxTotalPositions}
		}
		if open := l.bySymbol[candidate.Symbol] + l.pendingSymbol[candidate.Symbol]; open >= l.cfg.MaxPositionsPerSymbol {
			return "", &domain.PositionLimitError{Symbol: candidate.Symbol, Open: open, Limit: l.cfg.MaxPositionsPerSymbol}
		}
	}

	l.cash -= candidate.Value
	l.positionValue += candidate.Value
	l.positions[candidate.ID] = candidate
	l.bySymbol[candidate.Symbol]++

	if err := l.checkInvariantsLocked(); err != nil {
		// Roll the commit back before halting so the snapshot stays sane.
		l.cash += candidate.Value
		l.positionValue -= candidate.Value
		delete(l.positions, candidate.ID)
		l.bySymbol[candidate.Symbol]--
		if reserved > 0 {
			l.reservedCash += reserved
			l.pendingSymbol[candidate.Symbol]++
			l.pendingTotal++
		}
		l.halted.Store(true)
		return "", err
	}
	return candidate.ID, nil
}

// ApplyClose removes the position, realises its PnL, and returns the closed
// record. Long PnL is (exit-entry)*qty, short is (entry-exit)*qty.
func (l *Ledger) ApplyClose(c *lockorder.Ctx, positionID string, exitPrice float64) (domain.ClosedPosition, error) {
	if l.halted.Load() {
		return domain.ClosedPosition{}, domain.ErrLedgerHalted
	}
	if err := l.mu.Lock(c); err != nil {
		return domain.ClosedPosition{}, err
	}
	defer l.mu.Unlock(c)

	pos, ok := l.positions[positionID]
	if !ok {
		return domain.ClosedPosition{}, domain.ErrPositionNotFound
	}

	pnl := pos.UnrealizedPnL(exitPrice)
	released := pos.Value

	l.cash += released + pnl
	l.positionValue -= released
	l.totalValue += pnl
	delete(l.positions, positionID)
	l.bySymbol[pos.Symbol]--
	if l.bySymbol[pos.Symbol] <= 0 {
		delete(l.bySymbol, pos.Symbol)
	}

	if err := l.checkInvariantsLocked(); err != nil {
		l.halted.Store(true)
		return domain.ClosedPosition{}, err
	}

	return domain.ClosedPosition{
		Position:    pos,
		ExitPrice:   exitPrice,
		RealizedPnL: pnl,
		ClosedAt:    time.Now().UTC(),
	}, nil
}

// ApplyPriceUpdate records the latest mark price for a symbol. The write
// lock is held only for the map store, so a stream of updates cannot starve
// open/close operations.
func (l *Ledger) ApplyPriceUpdate(c *lockorder.Ctx, symbol string, price float64) error {
	if err := l.mu.Lock(c); err != nil {
		return err
	}
	l.marks[symbol] = price
	l.mu.Unlock(c)
	return nil
}

// MarkPrice returns the last observed price for symbol.
func (l *Ledger) MarkPrice(c *lockorder.Ctx, symbol string) (float64, bool, error) {
	if err := l.mu.RLock(c); err != nil {
		return 0, false, err
	}
	defer l.mu.RUnlock(c)
	p, ok := l.marks[symbol]
	return p, ok, nil
}

// Snapshot returns a deep-copied read-only view of the portfolio.
// Concurrent snapshots never block each other.
func (l *Ledger) Snapshot(c *lockorder.Ctx) (domain.PortfolioSnapshot, error) {
	if err := l.mu.RLock(c); err != nil {
		return domain.PortfolioSnapshot{}, err
	}
	defer l.mu.RUnlock(c)

	snap := domain.PortfolioSnapshot{
		TotalValue:    l.totalValue,
		AvailableCash: l.cash - l.reservedCash,
		ReservedCash:  l.reservedCash,
		PositionValue: l.positionValue,
		Positions:     make(map[string]domain.Position, len(l.positions)),
		OpenBySymbol:  make(map[string]int, len(l.bySymbol)),
	}
	for id, pos := range l.positions {
		snap.Positions[id] = pos
	}
	for sym, n := range l.bySymbol {
		snap.OpenBySymbol[sym] = n + l.pendingSymbol[sym]
	}
	for sym, n := range l.pendingSymbol {
		if _, ok := l.bySymbol[sym]; !ok {
			snap.OpenBySymbol[sym] = n
		}
	}
	return snap, nil
}

// checkInvariantsLocked verifies the accounting identity and sign
// constraints. Must be called with the write lock held.
func (l *Ledger) checkInvariantsLocked() error {
	switch {
	case math.Abs(l.totalValue-(l.cash+l.positionValue)) > l.cfg.Epsilon:
		return &domain.InvariantViolationError{
			Detail:        "total_value != available_cash + position_value",
			TotalValue:    l.totalValue,
			AvailableCash: l.cash,
			PositionValue: l.positionValue,
		}
	case l.cash < -l.cfg.Epsilon:
		return &domain.InvariantViolationError{
			Detail:        "available_cash < 0",
			TotalValue:    l.totalValue,
			AvailableCash: l.cash,
			PositionValue: l.positionValue,
		}
	case l.positionValue < -l.cfg.Epsilon:
		return &domain.InvariantViolationError{
			Detail:        "position_value < 0",
			TotalValue:    l.totalValue,
			AvailableCash: l.cash,
			PositionValue: l.positionValue,
		}
	case len(l.positions) > l.cfg.MaxTotalPositions:
		return &domain.InvariantViolationError{
			Detail:        "total position limit exceeded",
			TotalValue:    l.totalValue,
			AvailableCash: l.cash,
			PositionValue: l.positionValue,
		}
	}
	for sym, n := range l.bySymbol {
		if n > l.cfg.MaxPositionsPerSymbol {
			return &domain.InvariantViolationError{
				Detail:        "per-symbol position limit exceeded for " + sym,
				TotalValue:    l.totalValue,
				AvailableCash: l.cash,
				PositionValue: l.positionValue,
			}
		}
	}
	return nil
}
