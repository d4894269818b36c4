// Package domain defines the position event ledger core and the storage,
// cache, and blob interfaces implemented by the infrastructure packages.
package domain

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind distinguishes the two position lifecycle actions.
type EventKind string

const (
	// KindOpen records establishing a liquidity position ("build pool").
	KindOpen EventKind = "open"
	// KindClose records withdrawing a liquidity position ("withdraw pool").
	KindClose EventKind = "close"
)

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	return k == KindOpen || k == KindClose
}

// PositionEvent is one immutable entry in the position event log. Sequence
// identifies the pool instance the event belongs to; instances are numbered
// from 1 in the order they are built.
type PositionEvent struct {
	ID        string         `json:"id"`
	Sequence  int64          `json:"sequence"`
	Kind      EventKind      `json:"kind"`
	Timestamp time.Time      `json:"timestamp"`
	Pool      common.Address `json:"pool"`
	TxHash    *common.Hash   `json:"tx_hash,omitempty"`
	Note      string         `json:"note,omitempty"`

	// Digest is the hex-encoded Keccak-256 chain digest assigned by the
	// ledger at append time. Empty until the event has been appended.
	Digest string `json:"digest,omitempty"`
}

// Validate checks the event's own fields, independent of log position.
func (e PositionEvent) Validate() error {
	if e.Sequence < 1 {
		return fmt.Errorf("%w: sequence %d must be >= 1", ErrInvalidSequence, e.Sequence)
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidSequence, e.Kind)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp must be set", ErrNonMonotonicTime)
	}
	return nil
}

// Session summarises one pool instance: when it was built and, if already
// withdrawn, when it was withdrawn.
type Session struct {
	Sequence int64          `json:"sequence"`
	Pool     common.Address `json:"pool"`
	OpenedAt time.Time      `json:"opened_at"`
	ClosedAt *time.Time     `json:"closed_at,omitempty"`
}

// Active reports whether the pool instance is still open.
func (s Session) Active() bool {
	return s.ClosedAt == nil
}

// Duration returns the holding time of a closed instance, or zero while the
// instance is still active.
func (s Session) Duration() time.Duration {
	if s.ClosedAt == nil {
		return 0
	}
	return s.ClosedAt.Sub(s.OpenedAt)
}
