// Package strategy produces trading signals from price movement. Strategies
// are the in-process signal source for paper mode; in live mode signals
// usually arrive over the signal bus instead.
package strategy

import (
	"context"

	"github.com/alanyoungcy/multitrader/internal/domain"
)

// Strategy defines the contract for signal generators.
type Strategy interface {
	Name() string
	Init(ctx context.Context) error
	OnPriceChange(ctx context.Context, change domain.PriceChange) ([]domain.TradingSignal, error)
	Close() error
}

// Config holds per-strategy configuration.
type Config struct {
	Name     string
	TraderID string
	Symbols  []string
	Params   map[string]any
}

func (c Config) floatParam(key string, def float64) float64 {
	if v, ok := c.Params[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		case int64:
			return float64(n)
		}
	}
	return def
}

func (c Config) stringParam(key, def string) string {
	if v, ok := c.Params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return def
}
