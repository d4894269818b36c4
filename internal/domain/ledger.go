package domain

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"iter"
	"sync"

	"golang.org/x/crypto/sha3"
)

// Ledger is the in-memory append-only position event log. It enforces the
// strict-alternation and monotonic-time invariants at append time and gives
// concurrent readers snapshot (consistent-prefix) access while the single
// logical writer appends.
//
// Each appended event extends a Keccak-256 digest chain over the event's
// identifying fields and the previous digest, so a persisted log can be
// verified against tampering when it is replayed.
type Ledger struct {
	mu     sync.RWMutex
	events []PositionEvent

	lastSeq    int64  // highest sequence seen so far
	activeSeq  int64  // sequence with an unmatched Open, 0 if none
	lastDigest string // hex digest of the most recent event
}

// NewLedger creates an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Append validates ev against the log invariants, assigns its chain digest,
// and appends it. The returned event is the stored copy with Digest set.
//
// It fails with ErrInvalidSequence when the event would break the open/close
// alternation and with ErrNonMonotonicTime when the timestamp precedes the
// last recorded event (or a Close does not fall strictly after its Open).
func (l *Ledger) Append(ev PositionEvent) (PositionEvent, error) {
	if err := ev.Validate(); err != nil {
		return PositionEvent{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if n := len(l.events); n > 0 && ev.Timestamp.Before(l.events[n-1].Timestamp) {
		return PositionEvent{}, fmt.Errorf("%w: %s before last event %s",
			ErrNonMonotonicTime,
			ev.Timestamp.UTC().Format("2006-01-02 15:04:05"),
			l.events[n-1].Timestamp.UTC().Format("2006-01-02 15:04:05"),
		)
	}

	switch ev.Kind {
	case KindOpen:
		if l.activeSeq != 0 {
			return PositionEvent{}, fmt.Errorf("%w: open seq %d while seq %d is still active",
				ErrInvalidSequence, ev.Sequence, l.activeSeq)
		}
		if ev.Sequence != l.lastSeq+1 {
			return PositionEvent{}, fmt.Errorf("%w: open seq %d, expected %d",
				ErrInvalidSequence, ev.Sequence, l.lastSeq+1)
		}
	case KindClose:
		if l.activeSeq == 0 {
			return PositionEvent{}, fmt.Errorf("%w: close seq %d with no active open",
				ErrInvalidSequence, ev.Sequence)
		}
		if ev.Sequence != l.activeSeq {
			return PositionEvent{}, fmt.Errorf("%w: close seq %d, active is %d",
				ErrInvalidSequence, ev.Sequence, l.activeSeq)
		}
		open := l.openEventLocked(ev.Sequence)
		if !ev.Timestamp.After(open.Timestamp) {
			return PositionEvent{}, fmt.Errorf("%w: close at %s not after open at %s",
				ErrNonMonotonicTime,
				ev.Timestamp.UTC().Format("2006-01-02 15:04:05"),
				open.Timestamp.UTC().Format("2006-01-02 15:04:05"),
			)
		}
	}

	ev.Digest = chainDigest(l.lastDigest, ev)

	l.events = append(l.events, ev)
	l.lastDigest = ev.Digest
	if ev.Kind == KindOpen {
		l.lastSeq = ev.Sequence
		l.activeSeq = ev.Sequence
	} else {
		l.activeSeq = 0
	}
	return ev, nil
}

// Replay appends persisted events in order, verifying any stored digests
// against the recomputed chain. It is used to rebuild the in-memory log from
// durable storage at startup.
func (l *Ledger) Replay(events []PositionEvent) error {
	for _, ev := range events {
		want := ev.Digest
		ev.Digest = ""
		stored, err := l.Append(ev)
		if err != nil {
			return fmt.Errorf("replay event %s: %w", ev.ID, err)
		}
		if want != "" && want != stored.Digest {
			return fmt.Errorf("%w: event %s stored %s recomputed %s",
				ErrCorruptLog, ev.ID, want, stored.Digest)
		}
	}
	return nil
}

// EventsFor returns a lazy, restartable iterator over the events belonging to
// one pool instance, in insertion order. The iterator walks a consistent
// prefix of the log captured when iteration starts; appends made while
// iterating are not observed.
func (l *Ledger) EventsFor(sequence int64) iter.Seq[PositionEvent] {
	return func(yield func(PositionEvent) bool) {
		for _, ev := range l.prefix() {
			if ev.Sequence != sequence {
				continue
			}
			if !yield(ev) {
				return
			}
		}
	}
}

// All returns a lazy, restartable iterator over the whole log in insertion
// order, under the same consistent-prefix policy as EventsFor.
func (l *Ledger) All() iter.Seq[PositionEvent] {
	return func(yield func(PositionEvent) bool) {
		for _, ev := range l.prefix() {
			if !yield(ev) {
				return
			}
		}
	}
}

// ActiveSequence returns the sequence of the most recent Open with no
// matching Close. The second return value is false when every instance is
// closed (or the log is empty).
func (l *Ledger) ActiveSequence() (int64, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.activeSeq, l.activeSeq != 0
}

// Sessions returns one summary per pool instance, in sequence order.
func (l *Ledger) Sessions() []Session {
	var out []Session
	for _, ev := range l.prefix() {
		switch ev.Kind {
		case KindOpen:
			out = append(out, Session{
				Sequence: ev.Sequence,
				Pool:     ev.Pool,
				OpenedAt: ev.Timestamp,
			})
		case KindClose:
			ts := ev.Timestamp
			out[len(out)-1].ClosedAt = &ts
		}
	}
	return out
}

// Snapshot returns a copy of a consistent prefix of the log.
func (l *Ledger) Snapshot() []PositionEvent {
	p := l.prefix()
	out := make([]PositionEvent, len(p))
	copy(out, p)
	return out
}

// Len returns the number of appended events.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// LastDigest returns the hex digest of the most recent event, or "" for an
// empty log.
func (l *Ledger) LastDigest() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastDigest
}

// prefix captures a consistent prefix of the log. Events are immutable and
// appends only ever extend the slice, so the full-capacity reslice stays
// valid after the lock is released.
func (l *Ledger) prefix() []PositionEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.events[:len(l.events):len(l.events)]
}

// openEventLocked returns the Open event of the given sequence. Callers must
// hold mu and have verified the sequence is active.
func (l *Ledger) openEventLocked(sequence int64) PositionEvent {
	for i := len(l.events) - 1; i >= 0; i-- {
		if l.events[i].Sequence == sequence && l.events[i].Kind == KindOpen {
			return l.events[i]
		}
	}
	return PositionEvent{}
}

// chainDigest computes keccak256(prev || sequence || kind || unixnano ||
// pool || txhash) and returns it hex encoded.
func chainDigest(prev string, ev PositionEvent) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(prev))

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(ev.Sequence))
	h.Write(buf[:])
	h.Write([]byte(ev.Kind))
	binary.BigEndian.PutUint64(buf[:], uint64(ev.Timestamp.UnixNano()))
	h.Write(buf[:])
	h.Write(ev.Pool.Bytes())
	if ev.TxHash != nil {
		h.Write(ev.TxHash.Bytes())
	}

	return hex.EncodeToString(h.Sum(nil))
}
