// Package metrics tracks per-trader execution counters and trade-rate
// windows. The registry is shared across actors and therefore guarded by
// the trader_metrics slot of the global lock order.
package metrics

import (
	"time"

	"github.com/alanyoungcy/multitrader/internal/lockorder"
)

// TraderStats are the cumulative counters for one trader.
type TraderStats struct {
	TotalOrders      int64
	SuccessfulOrders int64
	FailedOrders     int64
}

type traderEntry struct {
	stats      TraderStats
	tradeTimes []time.Time // confirmed trades, pruned to the last 24h
}

// Registry holds stats and rate windows for all traders.
type Registry struct {
	mu      *lockorder.Mutex
	traders map[string]*traderEntry
}

// NewRegistry creates an empty Registry.
func NewRegistry(v *lockorder.Validator) *Registry {
	return &Registry{
		mu:      lockorder.NewMutex(v, lockorder.ResourceTraderMetrics),
		traders: make(map[string]*traderEntry),
	}
}

func (r *Registry) entryLocked(traderID string) *traderEntry {
	e, ok := r.traders[traderID]
	if !ok {
		e = &traderEntry{}
		r.traders[traderID] = e
	}
	return e
}

// AllowTrade reports whether the trader is under its hourly and daily trade
// limits at now. A zero limit disables that window. The trade is not
// recorded; call RecordTrade once the execution confirms.
func (r *Registry) AllowTrade(c *lockorder.Ctx, traderID string, now time.Time, maxPerHour, maxPerDay int) (bool, error) {
	if err := r.mu.Lock(c); err != nil {
		return false, err
	}
	defer r.mu.Unlock(c)

	e := r.entryLocked(traderID)
	e.pruneLocked(now)

	var lastHour int
	for _, t := range e.tradeTimes {
		if now.Sub(t) < time.Hour {
			lastHour++
		}
	}
	if maxPerHour > 0 && lastHour >= maxPerHour {
		return false, nil
	}
	if maxPerDay > 0 && len(e.tradeTimes) >= maxPerDay {
		return false, nil
	}
	return true, nil
}

// RecordTrade counts one confirmed trade against the rate windows.
func (r *Registry) RecordTrade(c *lockorder.Ctx, traderID string, at time.Time) error {
	if err := r.mu.Lock(c); err != nil {
		return err
	}
	defer r.mu.Unlock(c)
	e := r.entryLocked(traderID)
	e.tradeTimes = append(e.tradeTimes, at)
	e.pruneLocked(at)
	return nil
}

// RecordOutcome updates the order counters for one execution attempt.
func (r *Registry) RecordOutcome(c *lockorder.Ctx, traderID string, success bool) error {
	if err := r.mu.Lock(c); err != nil {
		return err
	}
	defer r.mu.Unlock(c)
	e := r.entryLocked(traderID)
	e.stats.TotalOrders++
	if success {
		e.stats.SuccessfulOrders++
	} else {
		e.stats.FailedOrders++
	}
	return nil
}

// Stats returns a copy of the trader's counters.
func (r *Registry) Stats(c *lockorder.Ctx, traderID string) (TraderStats, error) {
	if err := r.mu.Lock(c); err != nil {
		return TraderStats{}, err
	}
	defer r.mu.Unlock(c)
	return r.entryLocked(traderID).stats, nil
}

// pruneLocked drops trade timestamps older than the daily window.
func (e *traderEntry) pruneLocked(now time.Time) {
	cutoff := now.Add(-24 * time.Hour)
	kept := e.tradeTimes[:0]
	for _, t := range e.tradeTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	e.tradeTimes = kept
}
