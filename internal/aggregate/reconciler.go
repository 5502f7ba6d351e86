package aggregate

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/alanyoungcy/multitrader/internal/domain"
)

// Reconciler periodically builds reports and persists them to the audit
// store, raising a warning when drift exceeds the configured tolerance.
type Reconciler struct {
	agg       *Aggregator
	audit     domain.AuditStore
	interval  time.Duration
	tolerance float64
	logger    *slog.Logger
}

// NewReconciler creates a Reconciler. An interval of zero defaults to one
// minute; a tolerance of zero defaults to one cent.
func NewReconciler(agg *Aggregator, audit domain.AuditStore, interval time.Duration, tolerance float64, logger *slog.Logger) *Reconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if tolerance <= 0 {
		tolerance = 0.01
	}
	return &Reconciler{
		agg:       agg,
		audit:     audit,
		interval:  interval,
		tolerance: tolerance,
		logger:    logger.With(slog.String("component", "reconciler")),
	}
}

// Run reconciles on the configured interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.runOnce(ctx)
		}
	}
}

func (r *Reconciler) runOnce(ctx context.Context) {
	report, err := r.agg.Report(ctx)
	if err != nil {
		r.logger.Error("reconciliation failed", slog.String("error", err.Error()))
		return
	}

	if math.Abs(report.Drift) > r.tolerance {
		r.logger.Warn("portfolio drift exceeds tolerance",
			slog.Float64("ledger_total", report.LedgerTotal),
			slog.Float64("exchange_total", report.ExchangeTotal),
			slog.Float64("drift", report.Drift))
	} else {
		r.logger.Info("reconciliation ok",
			slog.Float64("ledger_total", report.LedgerTotal),
			slog.Float64("drift", report.Drift))
	}

	if err := r.audit.AppendReconciliation(ctx, *report); err != nil {
		r.logger.Error("failed to persist reconciliation report", slog.String("error", err.Error()))
	}
}
