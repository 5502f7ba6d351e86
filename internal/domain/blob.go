package domain

import (
	"context"
	"io"
)

// BlobWriter uploads data to object storage. The trade-history archiver uses
// it to flush closed-trade batches to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}
