package domain

import "context"

// AuditStore persists the append-only trade and reconciliation history.
// Writes may be buffered or batched by implementations without affecting
// ledger consistency.
type AuditStore interface {
	AppendTrade(ctx context.Context, rec TradeRecord) error
	AppendReconciliation(ctx context.Context, report ReconciliationReport) error
	QueryHistory(ctx context.Context, filter HistoryFilter) ([]TradeRecord, error)
}
