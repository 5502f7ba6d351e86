package strategy

import (
	"math"
	"sync"
	"time"
)

// PricePoint records a single price observation at a point in time.
type PricePoint struct {
	Price float64
	Time  time.Time
}

// PriceTracker maintains a sliding window of recent prices per symbol and
// exposes the statistical helpers strategies rely on.
type PriceTracker struct {
	history    map[string][]PricePoint
	windowSize time.Duration
	mu         sync.RWMutex
}

// NewPriceTracker creates a PriceTracker. Points older than windowSize are
// discarded on every Track call.
func NewPriceTracker(windowSize time.Duration) *PriceTracker {
	return &PriceTracker{
		history:    make(map[string][]PricePoint),
		windowSize: windowSize,
	}
}

// Track records a new price observation for the symbol and trims points that
// have fallen outside the sliding window.
func (pt *PriceTracker) Track(symbol string, price float64, ts time.Time) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	pt.history[symbol] = append(pt.history[symbol], PricePoint{Price: price, Time: ts})
	pt.trim(symbol, ts)
}

// GetAverage returns the arithmetic mean of all prices in the sliding window.
// If there are no recorded points, it returns 0.
func (pt *PriceTracker) GetAverage(symbol string) float64 {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	pts := pt.history[symbol]
	if len(pts) == 0 {
		return 0
	}
	var sum float64
	for _, p := range pts {
		sum += p.Price
	}
	return sum / float64(len(pts))
}

// GetVolatility returns the population standard deviation of the prices in
// the sliding window. If there are fewer than two points, it returns 0.
func (pt *PriceTracker) GetVolatility(symbol string) float64 {
	pt.mu.RLock()
	defer pt.mu.RUnlock()

	pts := pt.history[symbol]
	if len(pts) < 2 {
		return 0
	}

	var sum float64
	for _, p := range pts {
		sum += p.Price
	}
	mean := sum / float64(len(pts))

	var variance float64
	for _, p := range pts {
		d := p.Price - mean
		variance += d * d
	}
	variance /= float64(len(pts))
	return math.Sqrt(variance)
}

// Len returns the number of points currently tracked for the symbol.
func (pt *PriceTracker) Len(symbol string) int {
	pt.mu.RLock()
	defer pt.mu.RUnlock()
	return len(pt.history[symbol])
}

func (pt *PriceTracker) trim(symbol string, now time.Time) {
	pts := pt.history[symbol]
	cutoff := now.Add(-pt.windowSize)
	i := 0
	for i < len(pts) && pts[i].Time.Before(cutoff) {
		i++
	}
	if i > 0 {
		pt.history[symbol] = pts[i:]
	}
}
