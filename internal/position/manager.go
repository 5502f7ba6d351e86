// Package position sits above the ledger and adds business-level sizing and
// validation. Opens are two-phase: a Reservation holds capital while the
// order is in flight on the exchange, and is always resolved to either a
// confirmed Position or a full release. The ledger lock is never held across
// exchange I/O; reserve and confirm each lock it briefly and independently.
package position

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/multitrader/internal/domain"
	"github.com/alanyoungcy/multitrader/internal/ledger"
	"github.com/alanyoungcy/multitrader/internal/lockorder"
)

// Config holds sizing parameters applied to every open.
type Config struct {
	// PercentagePerPosition sizes each position as a fraction of total
	// portfolio value, e.g. 0.02 commits 2% per position.
	PercentagePerPosition float64

	// MinOrderQuantity rejects opens whose computed quantity is dust.
	MinOrderQuantity float64

	// StopLossPct / TakeProfitPct are attached to every confirmed position
	// when non-zero.
	StopLossPct   float64
	TakeProfitPct float64
}

// Reservation is a transient capital hold created before exchange
// confirmation. It exists only between "validated" and
// "confirmed-or-released" and never outlives its execution attempt.
type Reservation struct {
	ID         string
	TraderID   string
	Symbol     string
	Side       domain.PositionSide
	Amount     float64
	Quantity   float64
	EntryPrice float64
	CreatedAt  time.Time
}

// Manager owns the reservation registry and mediates all position
// operations against the ledger.
type Manager struct {
	ledger *ledger.Ledger
	cfg    Config
	logger *slog.Logger

	mu           *lockorder.Mutex
	reservations map[string]Reservation
}

// NewManager creates a Manager bound to the given ledger.
func NewManager(v *lockorder.Validator, l *ledger.Ledger, cfg Config, logger *slog.Logger) *Manager {
	return &Manager{
		ledger:       l,
		cfg:          cfg,
		logger:       logger.With(slog.String("component", "position_manager")),
		mu:           lockorder.NewMutex(v, lockorder.ResourceReservations),
		reservations: make(map[string]Reservation),
	}
}

// Open validates the signal against current portfolio state, places a
// capital hold, and returns the reservation handle. All failures are
// non-fatal and leave the ledger unchanged.
func (m *Manager) Open(c *lockorder.Ctx, sig domain.TradingSignal, currentPrice float64) (Reservation, error) {
	if currentPrice <= 0 {
		return Reservation{}, fmt.Errorf("position: open %s: no valid price", sig.Symbol)
	}

	snap, err := m.ledger.Snapshot(c)
	if err != nil {
		return Reservation{}, err
	}

	value := snap.TotalValue * m.cfg.PercentagePerPosition
	quantity := value / currentPrice
	if quantity < m.cfg.MinOrderQuantity {
		return Reservation{}, fmt.Errorf("position: open %s: quantity %.8f below minimum %.8f: %w",
			sig.Symbol, quantity, m.cfg.MinOrderQuantity, domain.ErrQuantityTooSmall)
	}

	if err := m.ledger.Reserve(c, sig.Symbol, value); err != nil {
		return Reservation{}, err
	}

	res := Reservation{
		ID:         uuid.New().String(),
		TraderID:   sig.TraderID,
		Symbol:     sig.Symbol,
		Side:       sig.Side(),
		Amount:     value,
		Quantity:   quantity,
		EntryPrice: currentPrice,
		CreatedAt:  time.Now().UTC(),
	}

	if err := m.mu.Lock(c); err != nil {
		// Ordering violation registering the handle; undo the hold so
		// nothing dangles.
		_ = m.ledger.ReleaseReservation(c, res.Symbol, res.Amount)
		return Reservation{}, err
	}
	m.reservations[res.ID] = res
	m.mu.Unlock(c)

	return res, nil
}

// Confirm promotes a reservation into a confirmed Position at the given
// fill price. A fill price of zero falls back to the reservation's entry
// price. A fill worse than the hold is re-checked by the ledger; when it
// cannot be funded the hold is released, the reservation is consumed, and
// the rejection is returned.
func (m *Manager) Confirm(c *lockorder.Ctx, reservationID string, fillPrice float64) (domain.Position, error) {
	res, err := m.take(c, reservationID)
	if err != nil {
		return domain.Position{}, err
	}

	entry := fillPrice
	if entry <= 0 {
		entry = res.EntryPrice
	}

	candidate := domain.Position{
		ID:         res.ID,
		Symbol:     res.Symbol,
		Side:       res.Side,
		EntryPrice: entry,
		Quantity:   res.Quantity,
		Value:      entry * res.Quantity,
		TraderID:   res.TraderID,
		OpenedAt:   time.Now().UTC(),
	}
	if m.cfg.StopLossPct > 0 {
		sl := m.cfg.StopLossPct
		candidate.StopLossPct = &sl
	}
	if m.cfg.TakeProfitPct > 0 {
		tp := m.cfg.TakeProfitPct
		candidate.TakeProfitPct = &tp
	}

	if _, err := m.ledger.ApplyOpen(c, candidate, res.Amount); err != nil {
		if relErr := m.ledger.ReleaseReservation(c, res.Symbol, res.Amount); relErr != nil {
			m.logger.Error("release hold after failed confirm",
				slog.String("reservation_id", res.ID),
				slog.String("symbol", res.Symbol),
				slog.String("error", relErr.Error()),
			)
		}
		return domain.Position{}, err
	}
	return candidate, nil
}

// Release discards a reservation with no ledger effect beyond returning the
// held capital. Used on exchange failure or timeout.
func (m *Manager) Release(c *lockorder.Ctx, reservationID string) error {
	res, err := m.take(c, reservationID)
	if err != nil {
		return err
	}
	return m.ledger.ReleaseReservation(c, res.Symbol, res.Amount)
}

// Close delegates to the ledger and returns the realized outcome.
func (m *Manager) Close(c *lockorder.Ctx, positionID string, exitPrice float64) (domain.ClosedPosition, error) {
	return m.ledger.ApplyClose(c, positionID, exitPrice)
}

// Snapshot exposes the ledger's read-only view so callers above the manager
// never touch the ledger directly.
func (m *Manager) Snapshot(c *lockorder.Ctx) (domain.PortfolioSnapshot, error) {
	return m.ledger.Snapshot(c)
}

// Outstanding returns a copy of all unresolved reservations.
func (m *Manager) Outstanding(c *lockorder.Ctx) ([]Reservation, error) {
	if err := m.mu.Lock(c); err != nil {
		return nil, err
	}
	defer m.mu.Unlock(c)
	out := make([]Reservation, 0, len(m.reservations))
	for _, r := range m.reservations {
		out = append(out, r)
	}
	return out, nil
}

// ReleaseAll drains every outstanding reservation. Called on shutdown so no
// capital hold leaks past the process lifetime.
func (m *Manager) ReleaseAll(c *lockorder.Ctx) error {
	outstanding, err := m.Outstanding(c)
	if err != nil {
		return err
	}
	for _, res := range outstanding {
		if err := m.Release(c, res.ID); err != nil {
			m.logger.Error("release reservation on shutdown failed",
				slog.String("reservation_id", res.ID),
				slog.String("symbol", res.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// take removes and returns a reservation from the registry. The registry
// lock is released before any ledger call: the two resources are never held
// together.
func (m *Manager) take(c *lockorder.Ctx, reservationID string) (Reservation, error) {
	if err := m.mu.Lock(c); err != nil {
		return Reservation{}, err
	}
	defer m.mu.Unlock(c)
	res, ok := m.reservations[reservationID]
	if !ok {
		return Reservation{}, domain.ErrReservationNotFound
	}
	delete(m.reservations, reservationID)
	return res, nil
}
