package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes one stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	LastModified time.Time
}

// BlobWriter uploads objects to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	// PutMultipart uploads large payloads in concurrent parts. partSize is
	// clamped to the backend minimum when too small.
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader downloads and enumerates stored objects.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// Archiver uploads ledger snapshots (closed pool instances and the full
// event log) to cold storage for the external charting tools. Events in the
// database are immutable, so archiving copies and never deletes.
type Archiver interface {
	ArchiveClosedSequences(ctx context.Context) (int64, error)
	ArchiveFullLog(ctx context.Context) error
}
