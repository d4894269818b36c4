package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit    int
	Offset   int
	Since    *time.Time
	Until    *time.Time
	Sequence int64 // 0 means all sequences
}

// EventStore persists the position event log. Implementations are
// append-only: events are inserted once and never updated or deleted.
type EventStore interface {
	Append(ctx context.Context, ev PositionEvent) error
	List(ctx context.Context, opts ListOpts) ([]PositionEvent, error)
	ListBySequence(ctx context.Context, sequence int64) ([]PositionEvent, error)
	Last(ctx context.Context) (PositionEvent, error)
	Count(ctx context.Context) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log of ledger operations.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
