package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/multitrader/internal/domain"
)

// AuditStore implements domain.AuditStore using PostgreSQL.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// AppendTrade inserts one trade row. Re-inserting the same trade ID is a
// no-op so a retried flush never duplicates history.
func (s *AuditStore) AppendTrade(ctx context.Context, rec domain.TradeRecord) error {
	const query = `
		INSERT INTO trades
			(id, trader_id, exchange, symbol, side, action, price, quantity, notional, realized_pnl, reason, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.TraderID, rec.Exchange, rec.Symbol,
		string(rec.Side), string(rec.Action),
		rec.Price, rec.Quantity, rec.Notional, rec.RealizedPnL,
		rec.Reason, rec.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: append trade %s: %w", rec.ID, err)
	}
	return nil
}

// AppendReconciliation stores a reconciliation report. The per-exchange
// breakdown is stored as JSONB.
func (s *AuditStore) AppendReconciliation(ctx context.Context, report domain.ReconciliationReport) error {
	exchangesJSON, err := json.Marshal(report.Exchanges)
	if err != nil {
		return fmt.Errorf("postgres: marshal reconciliation exchanges: %w", err)
	}

	const query = `
		INSERT INTO reconciliations (generated_at, ledger_total, exchange_total, drift, exchanges)
		VALUES ($1, $2, $3, $4, $5)`

	_, err = s.pool.Exec(ctx, query,
		report.GeneratedAt, report.LedgerTotal, report.ExchangeTotal, report.Drift, exchangesJSON,
	)
	if err != nil {
		return fmt.Errorf("postgres: append reconciliation: %w", err)
	}
	return nil
}

// QueryHistory returns trade rows matching the filter, newest first.
func (s *AuditStore) QueryHistory(ctx context.Context, filter domain.HistoryFilter) ([]domain.TradeRecord, error) {
	query := `
		SELECT id, trader_id, exchange, symbol, side, action, price, quantity, notional, realized_pnl, reason, executed_at
		FROM trades WHERE 1=1`
	args := []any{}
	argIdx := 1

	if filter.TraderID != "" {
		query += fmt.Sprintf(" AND trader_id = $%d", argIdx)
		args = append(args, filter.TraderID)
		argIdx++
	}
	if filter.Symbol != "" {
		query += fmt.Sprintf(" AND symbol = $%d", argIdx)
		args = append(args, filter.Symbol)
		argIdx++
	}
	if filter.Since != nil {
		query += fmt.Sprintf(" AND executed_at >= $%d", argIdx)
		args = append(args, *filter.Since)
		argIdx++
	}
	if filter.Until != nil {
		query += fmt.Sprintf(" AND executed_at <= $%d", argIdx)
		args = append(args, *filter.Until)
		argIdx++
	}

	query += " ORDER BY executed_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query history: %w", err)
	}
	defer rows.Close()

	var records []domain.TradeRecord
	for rows.Next() {
		var rec domain.TradeRecord
		var side, action string

		if err := rows.Scan(
			&rec.ID, &rec.TraderID, &rec.Exchange, &rec.Symbol,
			&side, &action,
			&rec.Price, &rec.Quantity, &rec.Notional, &rec.RealizedPnL,
			&rec.Reason, &rec.ExecutedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}

		rec.Side = domain.PositionSide(side)
		rec.Action = domain.TradeAction(action)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate history: %w", err)
	}

	return records, nil
}

// Compile-time interface check.
var _ domain.AuditStore = (*AuditStore)(nil)
