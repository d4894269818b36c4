package domain

import (
	"context"
	"time"
)

// LedgerCache keeps the hot ledger facts (last event, active sequence) in a
// shared cache so dashboards can read them without hitting the database.
type LedgerCache interface {
	SetLastEvent(ctx context.Context, ev PositionEvent) error
	GetLastEvent(ctx context.Context) (PositionEvent, error)
	SetActiveSequence(ctx context.Context, sequence int64) error
	// GetActiveSequence returns ErrNotFound when nothing has been cached yet;
	// a cached value of 0 means every pool instance is closed.
	GetActiveSequence(ctx context.Context) (int64, error)
	// Clear removes the cached facts, so values from a previous run do not
	// outlive the log they described.
	Clear(ctx context.Context) error
}

// RateLimiter provides distributed rate limiting for the API surface.
type RateLimiter interface {
	// Allow reports whether a request for key is permitted under a sliding
	// window of limit requests per window. Allowed requests are counted.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// StreamMessage is a single entry read back from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus fans appended events out to live consumers: ephemeral pub/sub
// for the WebSocket hub plus a durable, ordered stream mirror.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream, lastID string, count int) ([]StreamMessage, error)
}
