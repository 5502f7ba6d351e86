package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/multitrader/internal/domain"
	"github.com/alanyoungcy/multitrader/internal/ledger"
	"github.com/alanyoungcy/multitrader/internal/lockorder"
)

// PriceChangeHandler is called for each tick after the ledger and cache
// have been updated.
type PriceChangeHandler func(ctx context.Context, change domain.PriceChange)

// Feed connects to the ticker WebSocket, keeps the ledger's mark prices and
// the price cache current, and forwards ticks to registered handlers. It
// reconnects on disconnect.
type Feed struct {
	wsURL   string
	symbols []string
	ledger  *ledger.Ledger
	prices  domain.PriceCache
	lc      *lockorder.Ctx
	logger  *slog.Logger

	handlerMu sync.RWMutex
	handlers  []PriceChangeHandler

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a feed subscribed to the given symbols.
func New(wsURL string, symbols []string, l *ledger.Ledger, prices domain.PriceCache, v *lockorder.Validator, logger *slog.Logger) *Feed {
	return &Feed{
		wsURL:   wsURL,
		symbols: symbols,
		ledger:  l,
		prices:  prices,
		lc:      v.NewCtx("price_feed"),
		logger:  logger.With(slog.String("component", "price_feed")),
		done:    make(chan struct{}),
	}
}

// OnPriceChange registers a handler invoked for every tick.
func (f *Feed) OnPriceChange(h PriceChangeHandler) {
	f.handlerMu.Lock()
	defer f.handlerMu.Unlock()
	f.handlers = append(f.handlers, h)
}

// Run connects, subscribes, and runs until ctx is cancelled. Reconnects
// with a fixed delay on disconnect.
func (f *Feed) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		f.logger.Info("no symbols to subscribe, exiting")
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("feed disconnected, reconnecting", slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(2 * time.Second):
		}
	}
}

// Close stops the feed.
func (f *Feed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

func (f *Feed) runConnection(ctx context.Context) error {
	client := NewWSClient(f.wsURL)
	defer client.Close()

	client.OnTick(func(change domain.PriceChange) {
		f.apply(ctx, change)
	})

	connCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	err := client.Connect(connCtx)
	cancel()
	if err != nil {
		return err
	}
	if err := client.Subscribe(f.symbols); err != nil {
		return err
	}
	f.logger.Info("feed subscribed", slog.Int("symbols", len(f.symbols)))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.done:
		return nil
	case <-client.Err():
		return domain.ErrWSDisconnect
	}
}

func (f *Feed) apply(ctx context.Context, change domain.PriceChange) {
	if err := f.ledger.ApplyPriceUpdate(f.lc, change.Symbol, change.Price); err != nil {
		f.logger.Error("mark price update failed",
			slog.String("symbol", change.Symbol),
			slog.String("error", err.Error()))
	}
	if f.prices != nil {
		if err := f.prices.SetPrice(ctx, change.Symbol, change.Price, change.Timestamp); err != nil {
			f.logger.Warn("price cache update failed",
				slog.String("symbol", change.Symbol),
				slog.String("error", err.Error()))
		}
	}

	f.handlerMu.RLock()
	handlers := f.handlers
	f.handlerMu.RUnlock()
	for _, h := range handlers {
		h(ctx, change)
	}
}
