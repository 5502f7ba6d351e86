package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/multitrader/internal/domain"
)

const (
	defaultMomentumThreshold = 0.01
	defaultLookbackWindow    = "5m"
)

// Momentum emits a long signal when the current price runs sufficiently above
// the trailing average and a close signal when it falls back below it. The
// deviation required is a fraction of the average (the threshold parameter),
// and the confidence assigned to a signal grows with the size of the move.
type Momentum struct {
	cfg     Config
	tracker *PriceTracker
	logger  *slog.Logger

	inPosition map[string]bool
}

// NewMomentum creates a Momentum strategy. The following keys are read from
// cfg.Params:
//
//   - "lookback_window" (string, parseable by time.ParseDuration): the
//     sliding window used for the trailing average. Defaults to "5m".
//   - "threshold" (float64): fractional deviation from the average before a
//     signal is emitted. Defaults to 0.01.
func NewMomentum(cfg Config, logger *slog.Logger) *Momentum {
	window, err := time.ParseDuration(cfg.stringParam("lookback_window", defaultLookbackWindow))
	if err != nil || window <= 0 {
		window = 5 * time.Minute
	}
	return &Momentum{
		cfg:        cfg,
		tracker:    NewPriceTracker(window),
		logger:     logger.With(slog.String("strategy", "momentum"), slog.String("trader_id", cfg.TraderID)),
		inPosition: make(map[string]bool),
	}
}

// Name returns the strategy identifier.
func (m *Momentum) Name() string { return "momentum" }

// Init performs one-time setup. For Momentum this is a no-op.
func (m *Momentum) Init(_ context.Context) error { return nil }

// OnPriceChange records the observation and evaluates whether the move away
// from the trailing average is large enough to act on.
func (m *Momentum) OnPriceChange(_ context.Context, change domain.PriceChange) ([]domain.TradingSignal, error) {
	if !m.tracks(change.Symbol) {
		return nil, nil
	}

	m.tracker.Track(change.Symbol, change.Price, change.Timestamp)

	avg := m.tracker.GetAverage(change.Symbol)
	if avg == 0 || m.tracker.Len(change.Symbol) < 3 {
		return nil, nil
	}

	threshold := m.cfg.floatParam("threshold", defaultMomentumThreshold)
	deviation := (change.Price - avg) / avg
	now := time.Now().UTC()

	if deviation >= threshold && !m.inPosition[change.Symbol] {
		m.inPosition[change.Symbol] = true
		sig := domain.TradingSignal{
			ID:         uuid.NewString(),
			TraderID:   m.cfg.TraderID,
			Symbol:     change.Symbol,
			Direction:  domain.SignalLong,
			Confidence: confidence(deviation, threshold),
			Reason:     fmt.Sprintf("momentum long: price=%.2f avg=%.2f dev=%.4f", change.Price, avg, deviation),
			CreatedAt:  now,
		}
		m.logger.Info("momentum LONG signal",
			slog.String("symbol", change.Symbol),
			slog.Float64("price", change.Price),
			slog.Float64("avg", avg),
			slog.Float64("deviation", deviation))
		return []domain.TradingSignal{sig}, nil
	}

	if deviation <= -threshold && m.inPosition[change.Symbol] {
		m.inPosition[change.Symbol] = false
		sig := domain.TradingSignal{
			ID:         uuid.NewString(),
			TraderID:   m.cfg.TraderID,
			Symbol:     change.Symbol,
			Direction:  domain.SignalClose,
			Confidence: confidence(-deviation, threshold),
			Reason:     fmt.Sprintf("momentum exit: price=%.2f avg=%.2f dev=%.4f", change.Price, avg, deviation),
			CreatedAt:  now,
		}
		m.logger.Info("momentum CLOSE signal",
			slog.String("symbol", change.Symbol),
			slog.Float64("price", change.Price),
			slog.Float64("deviation", deviation))
		return []domain.TradingSignal{sig}, nil
	}

	return nil, nil
}

// Close releases strategy resources. For Momentum this is a no-op.
func (m *Momentum) Close() error { return nil }

func (m *Momentum) tracks(symbol string) bool {
	if len(m.cfg.Symbols) == 0 {
		return true
	}
	for _, s := range m.cfg.Symbols {
		if s == symbol {
			return true
		}
	}
	return false
}

// confidence maps a deviation to [0.5, 1.0]: exactly at threshold scores 0.5
// and two times the threshold or more scores 1.0.
func confidence(deviation, threshold float64) float64 {
	if threshold <= 0 {
		return 1
	}
	c := 0.5 * (deviation / threshold)
	if c > 1 {
		c = 1
	}
	return c
}
