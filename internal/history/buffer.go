// Package history buffers confirmed trade records in memory before they are
// flushed to cold storage by the archiver. The buffer is shared between
// executors and the archiver and sits last in the global lock order.
package history

import (
	"github.com/alanyoungcy/multitrader/internal/domain"
	"github.com/alanyoungcy/multitrader/internal/lockorder"
)

// defaultCap bounds the buffer when the archiver is not draining it.
const defaultCap = 4096

// Buffer is an append-mostly ring of trade records.
type Buffer struct {
	mu      *lockorder.Mutex
	records []domain.TradeRecord
	cap     int
}

// NewBuffer creates a Buffer holding at most capacity records; zero uses the
// default. When full, the oldest records are dropped - the audit store, not
// this buffer, is the durable record.
func NewBuffer(v *lockorder.Validator, capacity int) *Buffer {
	if capacity <= 0 {
		capacity = defaultCap
	}
	return &Buffer{
		mu:  lockorder.NewMutex(v, lockorder.ResourceTradeHistory),
		cap: capacity,
	}
}

// Append adds a record to the buffer.
func (b *Buffer) Append(c *lockorder.Ctx, rec domain.TradeRecord) error {
	if err := b.mu.Lock(c); err != nil {
		return err
	}
	defer b.mu.Unlock(c)

	b.records = append(b.records, rec)
	if len(b.records) > b.cap {
		b.records = b.records[len(b.records)-b.cap:]
	}
	return nil
}

// Drain removes and returns all buffered records.
func (b *Buffer) Drain(c *lockorder.Ctx) ([]domain.TradeRecord, error) {
	if err := b.mu.Lock(c); err != nil {
		return nil, err
	}
	defer b.mu.Unlock(c)

	out := b.records
	b.records = nil
	return out, nil
}

// Len returns the number of buffered records.
func (b *Buffer) Len(c *lockorder.Ctx) (int, error) {
	if err := b.mu.Lock(c); err != nil {
		return 0, err
	}
	defer b.mu.Unlock(c)
	return len(b.records), nil
}
