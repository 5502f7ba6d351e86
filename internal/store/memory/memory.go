// Package memory provides in-process implementations of the store and cache
// interfaces. Paper mode runs on these; tests use them to avoid external
// services.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/alanyoungcy/multitrader/internal/domain"
)

// AuditStore implements domain.AuditStore in memory.
type AuditStore struct {
	mu      sync.Mutex
	trades  []domain.TradeRecord
	reports []domain.ReconciliationReport
}

// NewAuditStore creates an empty in-memory AuditStore.
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

func (s *AuditStore) AppendTrade(_ context.Context, rec domain.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, rec)
	return nil
}

func (s *AuditStore) AppendReconciliation(_ context.Context, report domain.ReconciliationReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, report)
	return nil
}

// QueryHistory returns trades matching the filter, newest first.
func (s *AuditStore) QueryHistory(_ context.Context, filter domain.HistoryFilter) ([]domain.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.TradeRecord
	for i := len(s.trades) - 1; i >= 0; i-- {
		rec := s.trades[i]
		if filter.TraderID != "" && rec.TraderID != filter.TraderID {
			continue
		}
		if filter.Symbol != "" && rec.Symbol != filter.Symbol {
			continue
		}
		if filter.Since != nil && rec.ExecutedAt.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && rec.ExecutedAt.After(*filter.Until) {
			continue
		}
		out = append(out, rec)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// Reports returns a copy of the stored reconciliation reports.
func (s *AuditStore) Reports() []domain.ReconciliationReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ReconciliationReport, len(s.reports))
	copy(out, s.reports)
	return out
}

// PriceCache implements domain.PriceCache in memory.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]pricePoint
}

type pricePoint struct {
	price float64
	ts    time.Time
}

// NewPriceCache creates an empty in-memory PriceCache.
func NewPriceCache() *PriceCache {
	return &PriceCache{prices: make(map[string]pricePoint)}
}

func (pc *PriceCache) SetPrice(_ context.Context, symbol string, price float64, ts time.Time) error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.prices[symbol] = pricePoint{price: price, ts: ts}
	return nil
}

func (pc *PriceCache) GetPrice(_ context.Context, symbol string) (float64, time.Time, error) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	p, ok := pc.prices[symbol]
	if !ok {
		return 0, time.Time{}, domain.ErrPriceUnavailable
	}
	return p.price, p.ts, nil
}

func (pc *PriceCache) GetPrices(_ context.Context, symbols []string) (map[string]float64, error) {
	pc.mu.RLock()
	defer pc.mu.RUnlock()
	out := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		if p, ok := pc.prices[s]; ok {
			out[s] = p.price
		}
	}
	return out, nil
}

// RateLimiter implements domain.RateLimiter with an in-process sliding
// window per key.
type RateLimiter struct {
	mu      sync.Mutex
	history map[string][]time.Time
}

// NewRateLimiter creates an empty in-memory RateLimiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{history: make(map[string][]time.Time)}
}

func (rl *RateLimiter) Allow(_ context.Context, key string, limit int, window time.Duration) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-window)

	pts := rl.history[key]
	i := 0
	for i < len(pts) && pts[i].Before(cutoff) {
		i++
	}
	pts = pts[i:]

	if len(pts) >= limit {
		rl.history[key] = pts
		return false, nil
	}

	rl.history[key] = append(pts, now)
	return true, nil
}

// Compile-time interface checks.
var (
	_ domain.AuditStore  = (*AuditStore)(nil)
	_ domain.PriceCache  = (*PriceCache)(nil)
	_ domain.RateLimiter = (*RateLimiter)(nil)
)
