package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/multitrader/internal/domain"
	"github.com/alanyoungcy/multitrader/internal/history"
	"github.com/alanyoungcy/multitrader/internal/lockorder"
)

// Archiver periodically drains the in-memory trade history buffer,
// serializes the batch to JSONL, and uploads it to object storage. Records
// already persisted to the audit store stay there; the archive is the cold
// copy used for offline analysis.
type Archiver struct {
	writer   domain.BlobWriter
	buffer   *history.Buffer
	interval time.Duration
	lc       *lockorder.Ctx
	logger   *slog.Logger
}

// NewArchiver creates an Archiver. An interval of zero defaults to five
// minutes.
func NewArchiver(writer domain.BlobWriter, buffer *history.Buffer, interval time.Duration, v *lockorder.Validator, logger *slog.Logger) *Archiver {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Archiver{
		writer:   writer,
		buffer:   buffer,
		interval: interval,
		lc:       v.NewCtx("archiver"),
		logger:   logger.With(slog.String("component", "archiver")),
	}
}

// Run flushes on the configured interval until ctx is cancelled, then
// performs one final flush so shutdown never discards buffered trades.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			a.flush(flushCtx)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			a.flush(ctx)
		}
	}
}

// Flush drains and uploads whatever is buffered right now.
func (a *Archiver) Flush(ctx context.Context) error {
	return a.flush(ctx)
}

func (a *Archiver) flush(ctx context.Context) error {
	records, err := a.buffer.Drain(a.lc)
	if err != nil {
		a.logger.Error("history drain failed", slog.String("error", err.Error()))
		return err
	}
	if len(records) == 0 {
		return nil
	}

	buf, err := marshalJSONL(records)
	if err != nil {
		a.logger.Error("history encode failed", slog.String("error", err.Error()))
		return err
	}

	path := archivePath(time.Now().UTC())
	err = a.upload(ctx, path, buf)
	if err != nil {
		a.logger.Error("history upload failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return err
	}

	a.logger.Info("trade history archived",
		slog.String("path", path),
		slog.Int("records", len(records)))
	return nil
}

// multipartThreshold is the batch size above which a flush goes through the
// multipart uploader instead of a single PutObject. Only very long flush
// intervals on busy books ever reach it.
const multipartThreshold = 8 * 1024 * 1024

func (a *Archiver) upload(ctx context.Context, path string, buf []byte) error {
	if int64(len(buf)) >= multipartThreshold {
		return a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), minPartSize)
	}
	return a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson")
}

func archivePath(now time.Time) string {
	return fmt.Sprintf("archive/trades/%s/%d.jsonl", now.Format("2006-01-02"), now.UnixNano())
}

// marshalJSONL serialises a slice of values as newline-delimited JSON.
// Each element is marshalled as a single compact JSON line followed by '\n'.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
