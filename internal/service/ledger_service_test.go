package service

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PXY11/UniST/internal/domain"
)

// ---------------------------------------------------------------------------
// in-memory fakes
// ---------------------------------------------------------------------------

type fakeEventStore struct {
	events    []domain.PositionEvent
	appendErr error
}

func (f *fakeEventStore) Append(_ context.Context, ev domain.PositionEvent) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeEventStore) List(_ context.Context, opts domain.ListOpts) ([]domain.PositionEvent, error) {
	out := make([]domain.PositionEvent, 0, len(f.events))
	for _, ev := range f.events {
		if opts.Sequence != 0 && ev.Sequence != opts.Sequence {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (f *fakeEventStore) ListBySequence(ctx context.Context, sequence int64) ([]domain.PositionEvent, error) {
	return f.List(ctx, domain.ListOpts{Sequence: sequence})
}

func (f *fakeEventStore) Last(_ context.Context) (domain.PositionEvent, error) {
	if len(f.events) == 0 {
		return domain.PositionEvent{}, domain.ErrNotFound
	}
	return f.events[len(f.events)-1], nil
}

func (f *fakeEventStore) Count(_ context.Context) (int64, error) {
	return int64(len(f.events)), nil
}

type fakeLedgerCache struct {
	last      *domain.PositionEvent
	active    *int64
	setErr    error
	setCalls  int
	hasActive bool
}

func (f *fakeLedgerCache) SetLastEvent(_ context.Context, ev domain.PositionEvent) error {
	f.setCalls++
	if f.setErr != nil {
		return f.setErr
	}
	f.last = &ev
	return nil
}

func (f *fakeLedgerCache) GetLastEvent(_ context.Context) (domain.PositionEvent, error) {
	if f.last == nil {
		return domain.PositionEvent{}, domain.ErrNotFound
	}
	return *f.last, nil
}

func (f *fakeLedgerCache) SetActiveSequence(_ context.Context, sequence int64) error {
	if f.setErr != nil {
		return f.setErr
	}
	f.active = &sequence
	f.hasActive = true
	return nil
}

func (f *fakeLedgerCache) GetActiveSequence(_ context.Context) (int64, error) {
	if !f.hasActive {
		return 0, domain.ErrNotFound
	}
	return *f.active, nil
}

func (f *fakeLedgerCache) Clear(context.Context) error {
	f.last = nil
	f.active = nil
	f.hasActive = false
	return nil
}

type fakeSignalBus struct {
	published [][]byte
	streamed  [][]byte
}

func (f *fakeSignalBus) Publish(_ context.Context, _ string, payload []byte) error {
	f.published = append(f.published, payload)
	return nil
}

func (f *fakeSignalBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (f *fakeSignalBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	f.streamed = append(f.streamed, payload)
	return nil
}

func (f *fakeSignalBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

type fakeAuditStore struct {
	entries []string
}

func (f *fakeAuditStore) Log(_ context.Context, event string, _ map[string]any) error {
	f.entries = append(f.entries, event)
	return nil
}

func (f *fakeAuditStore) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

type serviceFixture struct {
	svc   *LedgerService
	store *fakeEventStore
	cache *fakeLedgerCache
	bus   *fakeSignalBus
	audit *fakeAuditStore
}

func newFixture(t *testing.T) *serviceFixture {
	t.Helper()

	store := &fakeEventStore{}
	cache := &fakeLedgerCache{}
	bus := &fakeSignalBus{}
	audit := &fakeAuditStore{}

	cfg := LedgerConfig{
		DefaultPool:    common.HexToAddress("0x8ad599c3A0ff1De082011EFDDc58f1908eb6e6D8"),
		PublishChannel: "events",
		Stream:         "events:stream",
	}

	svc := NewLedgerService(store, cache, bus, audit, cfg, slog.New(slog.DiscardHandler))
	return &serviceFixture{svc: svc, store: store, cache: cache, bus: bus, audit: audit}
}

func ts(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse("2006-01-02 15:04:05", value)
	require.NoError(t, err)
	return parsed
}

func (fx *serviceFixture) append(t *testing.T, seq int64, kind domain.EventKind, when string) domain.PositionEvent {
	t.Helper()
	accepted, err := fx.svc.Append(context.Background(), domain.PositionEvent{
		Sequence:  seq,
		Kind:      kind,
		Timestamp: ts(t, when),
	})
	require.NoError(t, err)
	return accepted
}

// ---------------------------------------------------------------------------
// tests
// ---------------------------------------------------------------------------

func TestLedgerServiceAppendFansOut(t *testing.T) {
	fx := newFixture(t)

	accepted := fx.append(t, 1, domain.KindOpen, "2021-05-10 09:17:52")

	assert.NotEmpty(t, accepted.ID)
	assert.NotEmpty(t, accepted.Digest)
	assert.Equal(t, fx.svc.cfg.DefaultPool, accepted.Pool)

	require.Len(t, fx.store.events, 1)
	assert.Equal(t, accepted, fx.store.events[0])

	require.NotNil(t, fx.cache.last)
	assert.Equal(t, accepted.ID, fx.cache.last.ID)
	require.NotNil(t, fx.cache.active)
	assert.Equal(t, int64(1), *fx.cache.active)

	assert.Len(t, fx.bus.published, 1)
	assert.Len(t, fx.bus.streamed, 1)
	assert.Equal(t, []string{"ledger.append"}, fx.audit.entries)
}

func TestLedgerServiceAppendRejectionTouchesNothing(t *testing.T) {
	fx := newFixture(t)
	fx.append(t, 1, domain.KindOpen, "2021-05-10 09:17:52")

	// A second open while sequence 1 is still active violates alternation.
	_, err := fx.svc.Append(context.Background(), domain.PositionEvent{
		Sequence:  2,
		Kind:      domain.KindOpen,
		Timestamp: ts(t, "2021-05-11 00:00:00"),
	})
	require.ErrorIs(t, err, domain.ErrInvalidSequence)

	assert.Len(t, fx.store.events, 1)
	assert.Len(t, fx.bus.published, 1)
	assert.Equal(t, 1, fx.svc.Len())
}

func TestLedgerServicePersistFailure(t *testing.T) {
	fx := newFixture(t)
	fx.store.appendErr = errors.New("connection refused")

	_, err := fx.svc.Append(context.Background(), domain.PositionEvent{
		Sequence:  1,
		Kind:      domain.KindOpen,
		Timestamp: ts(t, "2021-05-10 09:17:52"),
	})
	require.Error(t, err)
	assert.ErrorContains(t, err, "persist event")
}

func TestLedgerServiceRebuild(t *testing.T) {
	fx := newFixture(t)
	fx.append(t, 1, domain.KindOpen, "2021-05-10 09:17:52")
	fx.append(t, 1, domain.KindClose, "2021-05-12 22:59:38")
	fx.append(t, 2, domain.KindOpen, "2021-07-25 22:57:11")

	// A fresh service over the same store reconstructs the log.
	restarted := NewLedgerService(fx.store, fx.cache, fx.bus, fx.audit, fx.svc.cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, restarted.Rebuild(context.Background()))

	assert.Equal(t, 3, restarted.Len())
	active, ok := restarted.ActiveSequence()
	require.True(t, ok)
	assert.Equal(t, int64(2), active)
	assert.Equal(t, fx.svc.LastDigest(), restarted.LastDigest())
}

func TestLedgerServiceRebuildEmptyStoreClearsCache(t *testing.T) {
	fx := newFixture(t)

	// Leftovers from a run against a database that has since been reset.
	require.NoError(t, fx.cache.SetLastEvent(context.Background(), domain.PositionEvent{ID: "stale"}))
	require.NoError(t, fx.cache.SetActiveSequence(context.Background(), 3))

	require.NoError(t, fx.svc.Rebuild(context.Background()))

	_, err := fx.cache.GetLastEvent(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, err = fx.cache.GetActiveSequence(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// miscountingStore reports a count that disagrees with its listing.
type miscountingStore struct{ *fakeEventStore }

func (m *miscountingStore) Count(context.Context) (int64, error) { return 99, nil }

// tamperedStore reports a tail digest that disagrees with the replayed log.
type tamperedStore struct{ *fakeEventStore }

func (s *tamperedStore) Last(ctx context.Context) (domain.PositionEvent, error) {
	ev, err := s.fakeEventStore.Last(ctx)
	if err != nil {
		return domain.PositionEvent{}, err
	}
	ev.Digest = "deadbeef"
	return ev, nil
}

func TestLedgerServiceRebuildDetectsStoreDivergence(t *testing.T) {
	fx := newFixture(t)
	fx.append(t, 1, domain.KindOpen, "2021-05-10 09:17:52")

	t.Run("count mismatch", func(t *testing.T) {
		svc := NewLedgerService(&miscountingStore{fx.store}, fx.cache, fx.bus, fx.audit, fx.svc.cfg, slog.New(slog.DiscardHandler))
		err := svc.Rebuild(context.Background())
		require.Error(t, err)
		assert.ErrorContains(t, err, "store holds")
	})

	t.Run("tail digest mismatch", func(t *testing.T) {
		svc := NewLedgerService(&tamperedStore{fx.store}, fx.cache, fx.bus, fx.audit, fx.svc.cfg, slog.New(slog.DiscardHandler))
		err := svc.Rebuild(context.Background())
		require.ErrorIs(t, err, domain.ErrCorruptLog)
	})
}

func TestLedgerServiceHistoryFor(t *testing.T) {
	fx := newFixture(t)
	fx.append(t, 1, domain.KindOpen, "2021-05-10 09:17:52")
	fx.append(t, 1, domain.KindClose, "2021-05-12 22:59:38")
	fx.append(t, 2, domain.KindOpen, "2021-07-25 22:57:11")

	events, err := fx.svc.HistoryFor(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.KindOpen, events[0].Kind)
	assert.Equal(t, domain.KindClose, events[1].Kind)

	events, err = fx.svc.HistoryFor(context.Background(), 9)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestLedgerServicePreview(t *testing.T) {
	fx := newFixture(t)
	fx.append(t, 1, domain.KindOpen, "2021-05-10 09:17:52")

	good := []domain.PositionEvent{
		{Sequence: 1, Kind: domain.KindClose, Timestamp: ts(t, "2021-05-12 22:59:38"), Pool: fx.svc.cfg.DefaultPool},
		{Sequence: 2, Kind: domain.KindOpen, Timestamp: ts(t, "2021-07-25 22:57:11"), Pool: fx.svc.cfg.DefaultPool},
	}
	require.NoError(t, fx.svc.Preview(good))

	bad := []domain.PositionEvent{
		{Sequence: 1, Kind: domain.KindClose, Timestamp: ts(t, "2021-05-09 00:00:00"), Pool: fx.svc.cfg.DefaultPool},
	}
	require.ErrorIs(t, fx.svc.Preview(bad), domain.ErrNonMonotonicTime)

	// Preview never mutates the live log.
	assert.Equal(t, 1, fx.svc.Len())
}

func TestLedgerServiceEventsFor(t *testing.T) {
	fx := newFixture(t)
	fx.append(t, 1, domain.KindOpen, "2021-05-10 09:17:52")
	fx.append(t, 1, domain.KindClose, "2021-05-12 22:59:38")
	fx.append(t, 2, domain.KindOpen, "2021-07-25 22:57:11")

	events := fx.svc.EventsFor(1)
	require.Len(t, events, 2)
	assert.Equal(t, domain.KindOpen, events[0].Kind)
	assert.Equal(t, domain.KindClose, events[1].Kind)

	assert.Empty(t, fx.svc.EventsFor(9))
}
