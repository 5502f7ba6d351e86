// Package executor drives single execution attempts through the
// validate-reserve-submit-confirm pipeline. The critical rule here is that
// no ledger lock is ever held across the exchange network call: the
// reservation handle lives in memory while the order is in flight, and the
// ledger is locked only briefly to reserve and again to confirm or release.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/multitrader/internal/domain"
	"github.com/alanyoungcy/multitrader/internal/history"
	"github.com/alanyoungcy/multitrader/internal/lockorder"
	"github.com/alanyoungcy/multitrader/internal/metrics"
	"github.com/alanyoungcy/multitrader/internal/position"
)

// defaultSubmitTimeout bounds the exchange call when the config leaves it
// unset.
const defaultSubmitTimeout = 5 * time.Second

// State is the phase an execution attempt has reached.
type State string

const (
	StatePending    State = "pending"
	StateReserved   State = "reserved"
	StateSubmitted  State = "submitted"
	StateConfirmed  State = "confirmed"
	StateRolledBack State = "rolled_back"
)

// Config holds the pre-trade validation thresholds.
type Config struct {
	MinConfidence   float64
	AllowedSymbols  []string // empty allows every symbol
	MaxTradesPerHour int
	MaxTradesPerDay  int
	SubmitTimeout    time.Duration
}

// Outcome describes how far an attempt progressed and why it stopped.
type Outcome struct {
	State      State
	PositionID string
	Symbol     string
	Amount     float64 // reserved amount, set once the attempt reached Reserved
	Reason     string
}

// Executor validates signals, reserves capital, submits to an exchange
// connector, and confirms or rolls back. One Executor serves all traders;
// each call carries the caller's lock-order ctx.
type Executor struct {
	positions *position.Manager
	prices    domain.PriceCache
	audit     domain.AuditStore
	hist      *history.Buffer
	reg       *metrics.Registry
	cfg       Config
	allowed   map[string]struct{}
	logger    *slog.Logger
}

// New creates an Executor.
func New(
	positions *position.Manager,
	prices domain.PriceCache,
	audit domain.AuditStore,
	hist *history.Buffer,
	reg *metrics.Registry,
	cfg Config,
	logger *slog.Logger,
) *Executor {
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = defaultSubmitTimeout
	}
	var allowed map[string]struct{}
	if len(cfg.AllowedSymbols) > 0 {
		allowed = make(map[string]struct{}, len(cfg.AllowedSymbols))
		for _, s := range cfg.AllowedSymbols {
			allowed[s] = struct{}{}
		}
	}
	return &Executor{
		positions: positions,
		prices:    prices,
		audit:     audit,
		hist:      hist,
		reg:       reg,
		cfg:       cfg,
		allowed:   allowed,
		logger:    logger.With(slog.String("component", "executor")),
	}
}

// Execute runs one signal through the full pipeline. Validation failures
// terminate the attempt with zero side effects; exchange failures release
// the reservation so available cash returns to exactly its pre-reservation
// value.
func (e *Executor) Execute(ctx context.Context, lc *lockorder.Ctx, sig domain.TradingSignal, conn domain.ExchangeConnector) (Outcome, error) {
	log := e.logger.With(
		slog.String("signal_id", sig.ID),
		slog.String("trader_id", sig.TraderID),
		slog.String("symbol", sig.Symbol),
		slog.String("direction", string(sig.Direction)),
	)

	if sig.Direction == domain.SignalClose {
		return e.executeClose(ctx, lc, sig, conn, log)
	}

	// Pending: pre-trade validation, no state change on failure.
	if err := e.validate(lc, sig); err != nil {
		log.Debug("signal rejected", slog.String("error", err.Error()))
		return Outcome{State: StatePending, Symbol: sig.Symbol, Reason: err.Error()}, err
	}

	price, _, err := e.prices.GetPrice(ctx, sig.Symbol)
	if err != nil {
		return Outcome{State: StatePending, Symbol: sig.Symbol, Reason: "no price"},
			fmt.Errorf("executor: price for %s: %w", sig.Symbol, err)
	}

	// Pending -> Reserved.
	res, err := e.positions.Open(lc, sig, price)
	if err != nil {
		log.Warn("reserve failed", slog.String("error", err.Error()))
		return Outcome{State: StatePending, Symbol: sig.Symbol, Reason: err.Error()}, err
	}

	// Reserved -> Submitted. The ledger lock was released inside Open; only
	// the in-memory handle crosses the await point.
	order := domain.Order{
		ID:         uuid.New().String(),
		Symbol:     sig.Symbol,
		Side:       orderSide(res.Side, domain.TradeActionOpen),
		Type:       domain.OrderTypeMarket,
		Quantity:   res.Quantity,
		TraderID:   sig.TraderID,
		Confidence: sig.Confidence,
		CreatedAt:  time.Now().UTC(),
	}

	submitCtx, cancel := context.WithTimeout(ctx, e.cfg.SubmitTimeout)
	result, submitErr := conn.PlaceOrder(submitCtx, order)
	cancel()

	if submitErr != nil || !result.Filled() {
		// Submitted -> RolledBack.
		reason := rollbackReason(submitErr, &result)
		if relErr := e.positions.Release(lc, res.ID); relErr != nil {
			// A failed release is a defect in the lock discipline, not a
			// business condition; surface it over the exchange error.
			return Outcome{State: StateRolledBack, Symbol: sig.Symbol, Amount: res.Amount}, relErr
		}
		log.Warn("order rolled back",
			slog.String("exchange", conn.Name()),
			slog.Float64("reserved_amount", res.Amount),
			slog.String("reason", reason),
		)
		out := Outcome{
			State:  StateRolledBack,
			Symbol: sig.Symbol,
			Amount: res.Amount,
			Reason: reason,
		}
		if submitErr != nil {
			if errors.Is(submitErr, context.DeadlineExceeded) {
				return out, fmt.Errorf("executor: submit %s on %s: %w", sig.Symbol, conn.Name(), domain.ErrSubmitTimeout)
			}
			return out, fmt.Errorf("executor: submit %s on %s: %w", sig.Symbol, conn.Name(), submitErr)
		}
		return out, fmt.Errorf("executor: submit %s on %s: %s: %w", sig.Symbol, conn.Name(), result.Message, domain.ErrOrderRejected)
	}

	// Submitted -> Confirmed. Confirm consumes the reservation either way;
	// a fill the ledger cannot fund comes back as a rollback.
	pos, err := e.positions.Confirm(lc, res.ID, result.FilledPrice)
	if err != nil {
		log.Warn("order rolled back",
			slog.String("exchange", conn.Name()),
			slog.Float64("reserved_amount", res.Amount),
			slog.Float64("filled_price", result.FilledPrice),
			slog.String("reason", "confirm_rejected"),
		)
		return Outcome{
			State:  StateRolledBack,
			Symbol: sig.Symbol,
			Amount: res.Amount,
			Reason: "confirm_rejected",
		}, err
	}

	rec := domain.TradeRecord{
		ID:         uuid.New().String(),
		TraderID:   sig.TraderID,
		Exchange:   conn.Name(),
		Symbol:     pos.Symbol,
		Side:       pos.Side,
		Action:     domain.TradeActionOpen,
		Price:      pos.EntryPrice,
		Quantity:   pos.Quantity,
		Notional:   pos.Value,
		Reason:     sig.Reason,
		ExecutedAt: pos.OpenedAt,
	}
	e.record(ctx, lc, rec, log)
	if err := e.reg.RecordTrade(lc, sig.TraderID, pos.OpenedAt); err != nil {
		return Outcome{State: StateConfirmed, PositionID: pos.ID, Symbol: pos.Symbol, Amount: pos.Value}, err
	}

	log.Info("position opened",
		slog.String("position_id", pos.ID),
		slog.String("exchange", conn.Name()),
		slog.Float64("entry_price", pos.EntryPrice),
		slog.Float64("quantity", pos.Quantity),
	)
	return Outcome{
		State:      StateConfirmed,
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		Amount:     pos.Value,
	}, nil
}

// executeClose closes every open position the signalling trader holds on
// the signal's symbol.
func (e *Executor) executeClose(ctx context.Context, lc *lockorder.Ctx, sig domain.TradingSignal, conn domain.ExchangeConnector, log *slog.Logger) (Outcome, error) {
	snap, err := e.positions.Snapshot(lc)
	if err != nil {
		return Outcome{State: StatePending, Symbol: sig.Symbol}, err
	}

	price, _, err := e.prices.GetPrice(ctx, sig.Symbol)
	if err != nil {
		return Outcome{State: StatePending, Symbol: sig.Symbol, Reason: "no price"},
			fmt.Errorf("executor: price for %s: %w", sig.Symbol, err)
	}

	var closed int
	var lastID string
	for id, pos := range snap.Positions {
		if pos.Symbol != sig.Symbol || pos.TraderID != sig.TraderID {
			continue
		}
		if err := e.ClosePosition(ctx, lc, pos, price, sig.Reason, conn); err != nil {
			log.Warn("close failed", slog.String("position_id", id), slog.String("error", err.Error()))
			continue
		}
		closed++
		lastID = id
	}
	if closed == 0 {
		return Outcome{State: StatePending, Symbol: sig.Symbol, Reason: "no open position"}, domain.ErrPositionNotFound
	}
	return Outcome{State: StateConfirmed, PositionID: lastID, Symbol: sig.Symbol}, nil
}

// ClosePosition submits the closing order and, once the exchange accepts,
// realises the PnL on the ledger. An exchange failure leaves the position
// open; the next trigger check retries.
func (e *Executor) ClosePosition(ctx context.Context, lc *lockorder.Ctx, pos domain.Position, exitPrice float64, reason string, conn domain.ExchangeConnector) error {
	order := domain.Order{
		ID:        uuid.New().String(),
		Symbol:    pos.Symbol,
		Side:      orderSide(pos.Side, domain.TradeActionClose),
		Type:      domain.OrderTypeMarket,
		Quantity:  pos.Quantity,
		TraderID:  pos.TraderID,
		CreatedAt: time.Now().UTC(),
	}

	submitCtx, cancel := context.WithTimeout(ctx, e.cfg.SubmitTimeout)
	result, err := conn.PlaceOrder(submitCtx, order)
	cancel()
	if err != nil {
		return fmt.Errorf("executor: close %s on %s: %w", pos.Symbol, conn.Name(), err)
	}
	if !result.Filled() {
		return fmt.Errorf("executor: close %s on %s: %s: %w", pos.Symbol, conn.Name(), result.Message, domain.ErrOrderRejected)
	}

	fill := result.FilledPrice
	if fill <= 0 {
		fill = exitPrice
	}
	closed, err := e.positions.Close(lc, pos.ID, fill)
	if err != nil {
		return err
	}

	rec := domain.TradeRecord{
		ID:          uuid.New().String(),
		TraderID:    pos.TraderID,
		Exchange:    conn.Name(),
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		Action:      domain.TradeActionClose,
		Price:       fill,
		Quantity:    pos.Quantity,
		Notional:    pos.Value,
		RealizedPnL: closed.RealizedPnL,
		Reason:      reason,
		ExecutedAt:  closed.ClosedAt,
	}
	e.record(ctx, lc, rec, e.logger)

	e.logger.Info("position closed",
		slog.String("position_id", pos.ID),
		slog.String("symbol", pos.Symbol),
		slog.String("reason", reason),
		slog.Float64("exit_price", fill),
		slog.Float64("realized_pnl", closed.RealizedPnL),
	)
	return nil
}

// CheckTriggers evaluates stop-loss and take-profit against current mark
// prices and closes any position that breached its level. A non-empty
// traderID restricts the sweep to that trader's positions.
func (e *Executor) CheckTriggers(ctx context.Context, lc *lockorder.Ctx, conn domain.ExchangeConnector, traderID string) error {
	snap, err := e.positions.Snapshot(lc)
	if err != nil {
		return err
	}

	for _, pos := range snap.Positions {
		if traderID != "" && pos.TraderID != traderID {
			continue
		}
		price, _, priceErr := e.prices.GetPrice(ctx, pos.Symbol)
		if priceErr != nil {
			continue
		}

		var reason string
		switch {
		case pos.ShouldStopLoss(price):
			reason = "stop_loss"
		case pos.ShouldTakeProfit(price):
			reason = "take_profit"
		default:
			continue
		}

		if err := e.ClosePosition(ctx, lc, pos, price, reason, conn); err != nil {
			e.logger.Warn("trigger close failed",
				slog.String("position_id", pos.ID),
				slog.String("reason", reason),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// validate runs the zero-side-effect pre-trade checks.
func (e *Executor) validate(lc *lockorder.Ctx, sig domain.TradingSignal) error {
	if sig.Confidence < e.cfg.MinConfidence {
		return fmt.Errorf("executor: confidence %.2f below threshold %.2f: %w",
			sig.Confidence, e.cfg.MinConfidence, domain.ErrLowConfidence)
	}
	if e.allowed != nil {
		if _, ok := e.allowed[sig.Symbol]; !ok {
			return fmt.Errorf("executor: %s: %w", sig.Symbol, domain.ErrSymbolNotAllowed)
		}
	}
	allowed, err := e.reg.AllowTrade(lc, sig.TraderID, time.Now().UTC(), e.cfg.MaxTradesPerHour, e.cfg.MaxTradesPerDay)
	if err != nil {
		return err
	}
	if !allowed {
		return fmt.Errorf("executor: trader %s trade rate: %w", sig.TraderID, domain.ErrRateLimited)
	}
	return nil
}

// record appends the trade to the in-memory history buffer and the durable
// audit store. Audit failures are logged, not propagated: the ledger commit
// already happened and must not be masked by a persistence hiccup.
func (e *Executor) record(ctx context.Context, lc *lockorder.Ctx, rec domain.TradeRecord, log *slog.Logger) {
	if err := e.hist.Append(lc, rec); err != nil {
		log.Error("history append failed", slog.String("error", err.Error()))
	}
	if err := e.audit.AppendTrade(ctx, rec); err != nil {
		log.Warn("audit append failed",
			slog.String("trade_id", rec.ID),
			slog.String("error", err.Error()),
		)
	}
}

func orderSide(side domain.PositionSide, action domain.TradeAction) domain.OrderSide {
	long := side == domain.PositionSideLong
	if action == domain.TradeActionClose {
		long = !long
	}
	if long {
		return domain.OrderSideBuy
	}
	return domain.OrderSideSell
}

func rollbackReason(err error, result *domain.OrderResult) string {
	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case err != nil:
		return err.Error()
	case result.Message != "":
		return result.Message
	default:
		return string(result.Status)
	}
}
