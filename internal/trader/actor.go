// Package trader implements the actor owning one strategy and a set of
// exchange-connector handles. Each actor processes its bounded mailbox
// strictly sequentially, so operations within one trader are FIFO while
// different traders run fully concurrently, isolated except through the
// shared ledger.
package trader

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/multitrader/internal/domain"
	"github.com/alanyoungcy/multitrader/internal/executor"
	"github.com/alanyoungcy/multitrader/internal/lockorder"
	"github.com/alanyoungcy/multitrader/internal/metrics"
)

const (
	defaultMailboxSize     = 64
	defaultTriggerInterval = time.Second
)

// Stats are the actor-local execution counters, readable without any ledger
// lock.
type Stats struct {
	TotalOrders      int64
	SuccessfulOrders int64
	FailedOrders     int64
	ActiveExchange   string
}

// mailbox messages. Replies use buffered channels of size 1 so the actor
// never blocks on a caller that gave up.
type (
	msgExecuteSignal struct {
		sig domain.TradingSignal
	}
	msgPlaceOrder struct {
		order domain.Order
		reply chan placeReply
	}
	msgSetExchange struct {
		name  string
		reply chan error
	}
	msgStats struct {
		reply chan Stats
	}
)

type placeReply struct {
	result domain.OrderResult
	err    error
}

// Actor is one sequential trading unit.
type Actor struct {
	id         string
	exec       *executor.Executor
	reg        *metrics.Registry
	connectors map[string]domain.ExchangeConnector
	active     domain.ExchangeConnector

	mailbox         chan any
	stopCh          chan struct{}
	done            chan struct{}
	stopped         atomic.Bool
	triggerInterval time.Duration

	lc     *lockorder.Ctx
	stats  Stats
	logger *slog.Logger
}

// New creates an Actor. activeExchange must name one of the provided
// connectors.
func New(
	id string,
	exec *executor.Executor,
	reg *metrics.Registry,
	connectors map[string]domain.ExchangeConnector,
	activeExchange string,
	mailboxSize int,
	v *lockorder.Validator,
	logger *slog.Logger,
) (*Actor, error) {
	active, ok := connectors[activeExchange]
	if !ok {
		return nil, fmt.Errorf("trader %s: exchange %q: %w", id, activeExchange, domain.ErrExchangeUnknown)
	}
	if mailboxSize <= 0 {
		mailboxSize = defaultMailboxSize
	}
	return &Actor{
		id:              id,
		exec:            exec,
		reg:             reg,
		connectors:      connectors,
		active:          active,
		mailbox:         make(chan any, mailboxSize),
		stopCh:          make(chan struct{}),
		done:            make(chan struct{}),
		triggerInterval: defaultTriggerInterval,
		lc:              v.NewCtx("trader:" + id),
		logger:          logger.With(slog.String("component", "trader"), slog.String("trader_id", id)),
	}, nil
}

// ID returns the trader's identifier.
func (a *Actor) ID() string { return a.id }

// Run is the mailbox loop. It processes messages in arrival order until the
// context is cancelled or Stop is called, then drains the mailbox and
// releases any state still in flight.
func (a *Actor) Run(ctx context.Context) error {
	a.logger.Info("trader started", slog.String("exchange", a.active.Name()))
	defer a.logger.Info("trader stopped")
	defer close(a.done)

	ticker := time.NewTicker(a.triggerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.shutdown(ctx.Err())
			return ctx.Err()
		case <-a.stopCh:
			a.shutdown(nil)
			return nil
		case m := <-a.mailbox:
			a.handle(ctx, m)
		case <-ticker.C:
			if err := a.exec.CheckTriggers(ctx, a.lc, a.active, a.id); err != nil {
				a.logger.Error("trigger sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Stop asks the actor to exit. Safe to call more than once.
func (a *Actor) Stop() {
	if a.stopped.CompareAndSwap(false, true) {
		close(a.stopCh)
	}
}

// Done is closed when the mailbox loop has exited.
func (a *Actor) Done() <-chan struct{} { return a.done }

// ExecuteSignal enqueues a signal, never blocking: a full mailbox or a
// stopped actor yields ErrTraderUnavailable and the caller decides whether
// to retry.
func (a *Actor) ExecuteSignal(sig domain.TradingSignal) error {
	if a.stopped.Load() {
		return domain.ErrTraderUnavailable
	}
	select {
	case a.mailbox <- msgExecuteSignal{sig: sig}:
		return nil
	default:
		return domain.ErrTraderUnavailable
	}
}

// PlaceOrder submits a raw order through the active connector, bypassing
// sizing but still serialized through the mailbox.
func (a *Actor) PlaceOrder(ctx context.Context, order domain.Order) (domain.OrderResult, error) {
	reply := make(chan placeReply, 1)
	if err := a.send(ctx, msgPlaceOrder{order: order, reply: reply}); err != nil {
		return domain.OrderResult{}, err
	}
	select {
	case <-ctx.Done():
		return domain.OrderResult{}, ctx.Err()
	case r := <-reply:
		return r.result, r.err
	}
}

// SetActiveExchange switches the connector used for subsequent submissions
// without restarting the actor.
func (a *Actor) SetActiveExchange(ctx context.Context, name string) error {
	reply := make(chan error, 1)
	if err := a.send(ctx, msgSetExchange{name: name, reply: reply}); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-reply:
		return err
	}
}

// GetStats returns the actor-local counters.
func (a *Actor) GetStats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	if err := a.send(ctx, msgStats{reply: reply}); err != nil {
		return Stats{}, err
	}
	select {
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	case s := <-reply:
		return s, nil
	}
}

func (a *Actor) send(ctx context.Context, m any) error {
	if a.stopped.Load() {
		return domain.ErrTraderUnavailable
	}
	select {
	case a.mailbox <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-a.stopCh:
		return domain.ErrTraderUnavailable
	}
}

func (a *Actor) handle(ctx context.Context, m any) {
	switch msg := m.(type) {
	case msgExecuteSignal:
		a.stats.TotalOrders++
		out, err := a.exec.Execute(ctx, a.lc, msg.sig, a.active)
		success := err == nil && out.State == executor.StateConfirmed
		if success {
			a.stats.SuccessfulOrders++
		} else {
			a.stats.FailedOrders++
		}
		if regErr := a.reg.RecordOutcome(a.lc, a.id, success); regErr != nil {
			a.logger.Error("metrics update failed", slog.String("error", regErr.Error()))
		}

	case msgPlaceOrder:
		a.stats.TotalOrders++
		result, err := a.active.PlaceOrder(ctx, msg.order)
		if err == nil && result.Filled() {
			a.stats.SuccessfulOrders++
		} else {
			a.stats.FailedOrders++
		}
		msg.reply <- placeReply{result: result, err: err}

	case msgSetExchange:
		conn, ok := a.connectors[msg.name]
		if !ok {
			msg.reply <- fmt.Errorf("trader %s: exchange %q: %w", a.id, msg.name, domain.ErrExchangeUnknown)
			return
		}
		a.active = conn
		a.logger.Info("active exchange switched", slog.String("exchange", msg.name))
		msg.reply <- nil

	case msgStats:
		s := a.stats
		s.ActiveExchange = a.active.Name()
		msg.reply <- s
	}
}

// shutdown marks the actor stopped and fails any queued messages so no
// caller hangs on a reply.
func (a *Actor) shutdown(cause error) {
	a.stopped.Store(true)
	for {
		select {
		case m := <-a.mailbox:
			switch msg := m.(type) {
			case msgExecuteSignal:
				a.logger.Warn("dropping signal on shutdown", slog.String("signal_id", msg.sig.ID))
			case msgPlaceOrder:
				msg.reply <- placeReply{err: domain.ErrTraderUnavailable}
			case msgSetExchange:
				msg.reply <- domain.ErrTraderUnavailable
			case msgStats:
				s := a.stats
				s.ActiveExchange = a.active.Name()
				msg.reply <- s
			}
		default:
			if cause != nil && cause != context.Canceled {
				a.logger.Warn("trader shutting down", slog.String("cause", cause.Error()))
			}
			return
		}
	}
}
