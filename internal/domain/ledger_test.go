package domain

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPool = common.HexToAddress("0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640")

func mustTime(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func ev(seq int64, kind EventKind, ts time.Time) PositionEvent {
	return PositionEvent{
		ID:        "",
		Sequence:  seq,
		Kind:      kind,
		Timestamp: ts,
		Pool:      testPool,
	}
}

func TestLedgerAppendAlternation(t *testing.T) {
	base := mustTime(t, "2021-05-10T09:17:52Z")

	tests := []struct {
		name    string
		prior   []PositionEvent
		next    PositionEvent
		wantErr error
	}{
		{
			name: "first open accepted",
			next: ev(1, KindOpen, base),
		},
		{
			name:    "close without open",
			next:    ev(1, KindClose, base),
			wantErr: ErrInvalidSequence,
		},
		{
			name:    "double open same sequence",
			prior:   []PositionEvent{ev(1, KindOpen, base)},
			next:    ev(1, KindOpen, base.Add(time.Hour)),
			wantErr: ErrInvalidSequence,
		},
		{
			name:    "open while previous still active",
			prior:   []PositionEvent{ev(1, KindOpen, base)},
			next:    ev(2, KindOpen, base.Add(time.Hour)),
			wantErr: ErrInvalidSequence,
		},
		{
			name: "open skips ordinal",
			prior: []PositionEvent{
				ev(1, KindOpen, base),
				ev(1, KindClose, base.Add(time.Hour)),
			},
			next:    ev(3, KindOpen, base.Add(2 * time.Hour)),
			wantErr: ErrInvalidSequence,
		},
		{
			name: "close wrong sequence",
			prior: []PositionEvent{
				ev(1, KindOpen, base),
			},
			next:    ev(2, KindClose, base.Add(time.Hour)),
			wantErr: ErrInvalidSequence,
		},
		{
			name: "double close",
			prior: []PositionEvent{
				ev(1, KindOpen, base),
				ev(1, KindClose, base.Add(time.Hour)),
			},
			next:    ev(1, KindClose, base.Add(2 * time.Hour)),
			wantErr: ErrInvalidSequence,
		},
		{
			name: "new sequence after close",
			prior: []PositionEvent{
				ev(1, KindOpen, base),
				ev(1, KindClose, base.Add(time.Hour)),
			},
			next: ev(2, KindOpen, base.Add(2 * time.Hour)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := NewLedger()
			for _, p := range tt.prior {
				_, err := l.Append(p)
				require.NoError(t, err)
			}

			_, err := l.Append(tt.next)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestLedgerAppendMonotonicTime(t *testing.T) {
	base := mustTime(t, "2021-05-10T09:17:52Z")
	l := NewLedger()

	_, err := l.Append(ev(1, KindOpen, base))
	require.NoError(t, err)

	_, err = l.Append(ev(1, KindClose, base.Add(-time.Second)))
	require.ErrorIs(t, err, ErrNonMonotonicTime)

	// Close exactly at the open timestamp violates open < close.
	_, err = l.Append(ev(1, KindClose, base))
	require.ErrorIs(t, err, ErrNonMonotonicTime)

	_, err = l.Append(ev(1, KindClose, base.Add(time.Second)))
	require.NoError(t, err)

	// Equal timestamps across instances are allowed (non-decreasing).
	_, err = l.Append(ev(2, KindOpen, base.Add(time.Second)))
	require.NoError(t, err)
}

func TestLedgerValidate(t *testing.T) {
	l := NewLedger()

	_, err := l.Append(ev(0, KindOpen, time.Now()))
	require.ErrorIs(t, err, ErrInvalidSequence)

	_, err = l.Append(ev(1, EventKind("reopen"), time.Now()))
	require.ErrorIs(t, err, ErrInvalidSequence)

	_, err = l.Append(ev(1, KindOpen, time.Time{}))
	require.ErrorIs(t, err, ErrNonMonotonicTime)
}

// The worked scenario from the strategy record: two completed pool instances
// and a third still open at the end of the observation window.
func TestLedgerNarrativeScenario(t *testing.T) {
	l := NewLedger()

	appends := []PositionEvent{
		ev(1, KindOpen, mustTime(t, "2021-05-10T09:17:52Z")),
		ev(1, KindClose, mustTime(t, "2021-05-12T22:59:38Z")),
		ev(2, KindOpen, mustTime(t, "2021-07-25T22:57:11Z")),
		ev(2, KindClose, mustTime(t, "2021-08-05T06:02:11Z")),
		ev(3, KindOpen, mustTime(t, "2021-08-05T06:02:24Z")),
	}
	for _, e := range appends {
		_, err := l.Append(e)
		require.NoError(t, err)
	}

	active, ok := l.ActiveSequence()
	require.True(t, ok)
	assert.Equal(t, int64(3), active)

	sessions := l.Sessions()
	require.Len(t, sessions, 3)
	assert.False(t, sessions[0].Active())
	assert.False(t, sessions[1].Active())
	assert.True(t, sessions[2].Active())
	assert.Equal(t, 10*24*time.Hour+7*time.Hour+5*time.Minute, sessions[1].Duration().Round(time.Minute))
	assert.Zero(t, sessions[2].Duration())
}

func TestLedgerEventsFor(t *testing.T) {
	base := mustTime(t, "2021-05-10T09:17:52Z")
	l := NewLedger()

	for i, e := range []PositionEvent{
		ev(1, KindOpen, base),
		ev(1, KindClose, base.Add(time.Hour)),
		ev(2, KindOpen, base.Add(2 * time.Hour)),
	} {
		e.ID = string(rune('a' + i))
		_, err := l.Append(e)
		require.NoError(t, err)
	}

	var got []PositionEvent
	for e := range l.EventsFor(1) {
		got = append(got, e)
	}
	require.Len(t, got, 2)
	assert.Equal(t, KindOpen, got[0].Kind)
	assert.Equal(t, KindClose, got[1].Kind)
	assert.True(t, got[0].Timestamp.Before(got[1].Timestamp))

	// Restartable: a second range sees the same events.
	var again int
	for range l.EventsFor(1) {
		again++
	}
	assert.Equal(t, 2, again)

	// Early break must not panic or deadlock.
	for range l.EventsFor(1) {
		break
	}

	var none int
	for range l.EventsFor(9) {
		none++
	}
	assert.Zero(t, none)
}

func TestLedgerActiveSequenceEmpty(t *testing.T) {
	l := NewLedger()
	_, ok := l.ActiveSequence()
	assert.False(t, ok)

	_, err := l.Append(ev(1, KindOpen, time.Now()))
	require.NoError(t, err)
	_, err = l.Append(ev(1, KindClose, time.Now().Add(time.Second)))
	require.NoError(t, err)

	_, ok = l.ActiveSequence()
	assert.False(t, ok)
}

func TestLedgerDigestChain(t *testing.T) {
	base := mustTime(t, "2021-05-10T09:17:52Z")
	l := NewLedger()

	first, err := l.Append(ev(1, KindOpen, base))
	require.NoError(t, err)
	require.NotEmpty(t, first.Digest)

	second, err := l.Append(ev(1, KindClose, base.Add(time.Hour)))
	require.NoError(t, err)
	require.NotEmpty(t, second.Digest)
	assert.NotEqual(t, first.Digest, second.Digest)
	assert.Equal(t, second.Digest, l.LastDigest())
}

func TestLedgerReplay(t *testing.T) {
	base := mustTime(t, "2021-05-10T09:17:52Z")

	src := NewLedger()
	for _, e := range []PositionEvent{
		ev(1, KindOpen, base),
		ev(1, KindClose, base.Add(time.Hour)),
		ev(2, KindOpen, base.Add(2 * time.Hour)),
	} {
		_, err := src.Append(e)
		require.NoError(t, err)
	}

	restored := NewLedger()
	require.NoError(t, restored.Replay(src.Snapshot()))
	assert.Equal(t, src.Len(), restored.Len())
	assert.Equal(t, src.LastDigest(), restored.LastDigest())

	// A tampered digest is detected.
	bad := src.Snapshot()
	bad[1].Digest = "deadbeef"
	corrupt := NewLedger()
	err := corrupt.Replay(bad)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrCorruptLog))
}

func TestLedgerConcurrentReaders(t *testing.T) {
	base := mustTime(t, "2021-05-10T09:17:52Z")
	l := NewLedger()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := l.Snapshot()
				// A snapshot is always a valid prefix: alternation holds.
				replayed := NewLedger()
				if err := replayed.Replay(snap); err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}

	ts := base
	for seq := int64(1); seq <= 50; seq++ {
		_, err := l.Append(ev(seq, KindOpen, ts))
		require.NoError(t, err)
		ts = ts.Add(time.Minute)
		_, err = l.Append(ev(seq, KindClose, ts))
		require.NoError(t, err)
		ts = ts.Add(time.Minute)
	}
	close(stop)
	wg.Wait()

	assert.Equal(t, 100, l.Len())
}
