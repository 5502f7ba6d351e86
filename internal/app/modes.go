package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/rand"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/multitrader/internal/aggregate"
	"github.com/alanyoungcy/multitrader/internal/domain"
	"github.com/alanyoungcy/multitrader/internal/feed"
	"github.com/alanyoungcy/multitrader/internal/lockorder"
	"github.com/alanyoungcy/multitrader/internal/strategy"
)

// signalChannel is the Redis Pub/Sub channel external signal sources
// publish to.
const signalChannel = "signals"

// busSignalLimit caps bus signals per trader per minute, ahead of the
// executor's own per-trader trade limits, so a runaway publisher cannot
// flood a mailbox.
const busSignalLimit = 120

// TradeMode runs the live pipeline: WebSocket prices, signals from the
// Redis bus, durable audit writes, periodic reconciliation, and optional S3
// archival.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startTraders(ctx, g, deps)
	a.startReconciler(ctx, g, deps)
	a.startArchiver(ctx, g, deps)

	// Price feed keeps ledger marks and the shared cache current, and
	// drives any in-process strategies.
	if a.cfg.Feed.WsURL != "" {
		wsFeed := feed.New(a.cfg.Feed.WsURL, a.cfg.Feed.Symbols, deps.Ledger, deps.PriceCache, deps.Validator, a.logger)
		a.attachStrategies(ctx, wsFeed.OnPriceChange, deps)
		g.Go(func() error {
			defer wsFeed.Close()
			return wsFeed.Run(ctx)
		})
	}

	// External signals arrive over the bus.
	if deps.SignalBus != nil {
		g.Go(func() error {
			return a.dispatchBusSignals(ctx, deps)
		})
	}

	return g.Wait()
}

// PaperMode runs the same pipeline against simulated exchanges and
// in-memory stores. Signals come from the traders' own strategies; when no
// feed endpoint is configured, a synthetic random-walk ticker supplies
// prices so the loop exercises end to end.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")

	g, ctx := errgroup.WithContext(ctx)

	a.startTraders(ctx, g, deps)
	a.startReconciler(ctx, g, deps)
	a.startArchiver(ctx, g, deps)

	if a.cfg.Feed.WsURL != "" {
		wsFeed := feed.New(a.cfg.Feed.WsURL, a.cfg.Feed.Symbols, deps.Ledger, deps.PriceCache, deps.Validator, a.logger)
		a.attachStrategies(ctx, wsFeed.OnPriceChange, deps)
		g.Go(func() error {
			defer wsFeed.Close()
			return wsFeed.Run(ctx)
		})
	} else {
		var handlers []feed.PriceChangeHandler
		a.attachStrategies(ctx, func(h feed.PriceChangeHandler) {
			handlers = append(handlers, h)
		}, deps)
		g.Go(func() error {
			return a.syntheticTicks(ctx, deps, handlers)
		})
	}

	return g.Wait()
}

// startTraders launches every trader's mailbox loop.
func (a *App) startTraders(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	for _, actor := range deps.Traders {
		actor := actor
		g.Go(func() error {
			return actor.Run(ctx)
		})
	}
}

// startReconciler launches the periodic balance reconciliation loop.
func (a *App) startReconciler(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	agg := aggregate.New(aggregate.Config{
		Currency: a.cfg.Reconcile.Currency,
	}, deps.Ledger, deps.Exchanges.All(), deps.Validator, a.logger)
	rec := aggregate.NewReconciler(agg, deps.AuditStore, a.cfg.Reconcile.Interval.Duration, a.cfg.Reconcile.Tolerance, a.logger)
	g.Go(func() error {
		return rec.Run(ctx)
	})
}

// startArchiver launches the S3 trade-history flusher when configured.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}
	g.Go(func() error {
		return deps.Archiver.Run(ctx)
	})
}

// attachStrategies builds each trader's configured strategy and registers a
// tick handler that feeds the resulting signals into that trader's mailbox.
func (a *App) attachStrategies(ctx context.Context, register func(feed.PriceChangeHandler), deps *Dependencies) {
	for _, tcfg := range a.cfg.Traders {
		if tcfg.Strategy == "" {
			continue
		}
		actor, ok := deps.Traders[tcfg.ID]
		if !ok {
			continue
		}

		var strat strategy.Strategy
		switch tcfg.Strategy {
		case "momentum":
			strat = strategy.NewMomentum(strategy.Config{
				Name:     tcfg.Strategy,
				TraderID: tcfg.ID,
				Symbols:  tcfg.Symbols,
				Params:   tcfg.Params,
			}, a.logger)
		default:
			a.logger.Warn("unknown strategy, trader will only receive bus signals",
				slog.String("trader_id", tcfg.ID),
				slog.String("strategy", tcfg.Strategy))
			continue
		}

		if err := strat.Init(ctx); err != nil {
			a.logger.Error("strategy init failed",
				slog.String("trader_id", tcfg.ID),
				slog.String("strategy", tcfg.Strategy),
				slog.String("error", err.Error()))
			continue
		}

		register(func(ctx context.Context, change domain.PriceChange) {
			signals, err := strat.OnPriceChange(ctx, change)
			if err != nil {
				a.logger.Warn("strategy error",
					slog.String("trader_id", actor.ID()),
					slog.String("error", err.Error()))
				return
			}
			for _, sig := range signals {
				if err := actor.ExecuteSignal(sig); err != nil {
					a.logger.Warn("signal dropped",
						slog.String("trader_id", actor.ID()),
						slog.String("signal_id", sig.ID),
						slog.String("error", err.Error()))
				}
			}
		})
	}
}

// dispatchBusSignals consumes the shared signal channel and routes each
// signal to its trader's mailbox. Unroutable or rate-limited signals are
// logged and dropped; a full mailbox is the trader's own backpressure.
func (a *App) dispatchBusSignals(ctx context.Context, deps *Dependencies) error {
	msgs, err := deps.SignalBus.Subscribe(ctx, signalChannel)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-msgs:
			if !ok {
				return nil
			}

			var sig domain.TradingSignal
			if err := json.Unmarshal(payload, &sig); err != nil {
				a.logger.Warn("malformed bus signal", slog.String("error", err.Error()))
				continue
			}

			actor, ok := deps.Traders[sig.TraderID]
			if !ok {
				a.logger.Warn("bus signal for unknown trader", slog.String("trader_id", sig.TraderID))
				continue
			}

			allowed, err := deps.RateLimiter.Allow(ctx, "signals:"+sig.TraderID, busSignalLimit, time.Minute)
			if err != nil {
				a.logger.Warn("rate limiter error", slog.String("error", err.Error()))
			} else if !allowed {
				a.logger.Warn("bus signal rate limited", slog.String("trader_id", sig.TraderID))
				continue
			}

			if err := actor.ExecuteSignal(sig); err != nil {
				if errors.Is(err, domain.ErrTraderUnavailable) {
					a.logger.Warn("trader mailbox full, signal dropped",
						slog.String("trader_id", sig.TraderID),
						slog.String("signal_id", sig.ID))
					continue
				}
				a.logger.Warn("signal dispatch failed",
					slog.String("trader_id", sig.TraderID),
					slog.String("error", err.Error()))
			}
		}
	}
}

// syntheticTicks drives a random-walk price per configured symbol so paper
// mode runs without a live feed.
func (a *App) syntheticTicks(ctx context.Context, deps *Dependencies, handlers []feed.PriceChangeHandler) error {
	symbols := a.cfg.Feed.Symbols
	if len(symbols) == 0 {
		for _, t := range a.cfg.Traders {
			symbols = append(symbols, t.Symbols...)
		}
	}
	if len(symbols) == 0 {
		a.logger.Warn("no symbols configured, synthetic ticker idle")
		<-ctx.Done()
		return ctx.Err()
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	prices := make(map[string]float64, len(symbols))
	for _, s := range symbols {
		prices[s] = 100
	}

	lc := deps.Validator.NewCtx("synthetic_ticker")
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			for _, s := range symbols {
				prices[s] *= 1 + (rng.Float64()-0.5)*0.004
				change := domain.PriceChange{Symbol: s, Price: prices[s], Timestamp: now.UTC()}
				a.applyTick(ctx, lc, deps, change, handlers)
			}
		}
	}
}

func (a *App) applyTick(ctx context.Context, lc *lockorder.Ctx, deps *Dependencies, change domain.PriceChange, handlers []feed.PriceChangeHandler) {
	if err := deps.Ledger.ApplyPriceUpdate(lc, change.Symbol, change.Price); err != nil {
		a.logger.Error("mark price update failed",
			slog.String("symbol", change.Symbol),
			slog.String("error", err.Error()))
	}
	if err := deps.PriceCache.SetPrice(ctx, change.Symbol, change.Price, change.Timestamp); err != nil {
		a.logger.Warn("price cache update failed",
			slog.String("symbol", change.Symbol),
			slog.String("error", err.Error()))
	}
	for _, h := range handlers {
		h(ctx, change)
	}
}
