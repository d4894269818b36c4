package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/PXY11/UniST/internal/domain"
	"github.com/PXY11/UniST/internal/notify"
)

// LedgerConfig holds the tunable parameters for the ledger service.
type LedgerConfig struct {
	// DefaultPool is stamped onto appended events that carry a zero pool
	// address.
	DefaultPool common.Address

	// PublishChannel is the pub/sub channel appended events are announced on.
	PublishChannel string

	// Stream is the durable stream appended events are mirrored to.
	Stream string
}

// Notifier pushes operator alerts for accepted events. Satisfied by
// notify.Notifier.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// LedgerService owns the in-memory event log and keeps the surrounding
// infrastructure in step with it: every accepted append is persisted to the
// event store, reflected in the cache, mirrored to the durable stream, and
// announced on the pub/sub channel. The in-memory ledger is the single
// arbiter of the alternation and time-ordering rules; the store and cache
// only ever see events the ledger has already accepted.
type LedgerService struct {
	ledger   *domain.Ledger
	events   domain.EventStore
	cache    domain.LedgerCache
	bus      domain.SignalBus
	audit    domain.AuditStore
	notifier Notifier
	cfg      LedgerConfig
	logger   *slog.Logger
}

// NewLedgerService creates a LedgerService with all required dependencies.
func NewLedgerService(
	events domain.EventStore,
	cache domain.LedgerCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	cfg LedgerConfig,
	logger *slog.Logger,
) *LedgerService {
	return &LedgerService{
		ledger: domain.NewLedger(),
		events: events,
		cache:  cache,
		bus:    bus,
		audit:  audit,
		cfg:    cfg,
		logger: logger,
	}
}

// WithNotifier attaches an operator alert channel. Notifications are
// best-effort and never fail an append.
func (s *LedgerService) WithNotifier(n Notifier) *LedgerService {
	s.notifier = n
	return s
}

// Rebuild replays the persisted event log into the in-memory ledger,
// cross-checks the result against the store's own view, and refreshes the
// cached last event and active sequence. It must be called once at startup
// before any appends are accepted; a replay failure means the persisted log
// violates its own rules and is not recoverable here.
func (s *LedgerService) Rebuild(ctx context.Context) error {
	events, err := s.events.List(ctx, domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("ledger_service: load persisted events: %w", err)
	}

	if err := s.ledger.Replay(events); err != nil {
		return fmt.Errorf("ledger_service: replay persisted events: %w", err)
	}

	if err := s.verifyStore(ctx); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "ledger_service: rebuilt from store",
		slog.Int("events", s.ledger.Len()),
		slog.String("last_digest", s.ledger.LastDigest()),
	)

	s.refreshCache(ctx)
	return nil
}

// verifyStore checks the replayed ledger against the store's own count and
// tail. A mismatch means the listing the replay was built from does not
// match the table, so the in-memory state cannot be trusted.
func (s *LedgerService) verifyStore(ctx context.Context) error {
	count, err := s.events.Count(ctx)
	if err != nil {
		return fmt.Errorf("ledger_service: count persisted events: %w", err)
	}
	if count != int64(s.ledger.Len()) {
		return fmt.Errorf("ledger_service: store holds %d events, replay loaded %d", count, s.ledger.Len())
	}

	last, err := s.events.Last(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("ledger_service: last persisted event: %w", err)
	}
	if last.Digest != s.ledger.LastDigest() {
		return fmt.Errorf("ledger_service: persisted tail digest %s does not match replay digest %s: %w",
			last.Digest, s.ledger.LastDigest(), domain.ErrCorruptLog)
	}
	return nil
}

// refreshCache overwrites the cached facts with the rebuilt state. An empty
// log clears the keys, so stale values never survive a database reset.
func (s *LedgerService) refreshCache(ctx context.Context) {
	events := s.ledger.Snapshot()
	if len(events) == 0 {
		if err := s.cache.Clear(ctx); err != nil {
			s.logger.WarnContext(ctx, "ledger_service: clear cache", slog.Any("error", err))
		}
		return
	}

	if err := s.cache.SetLastEvent(ctx, events[len(events)-1]); err != nil {
		s.logger.WarnContext(ctx, "ledger_service: cache last event", slog.Any("error", err))
	}
	active, _ := s.ledger.ActiveSequence()
	if err := s.cache.SetActiveSequence(ctx, active); err != nil {
		s.logger.WarnContext(ctx, "ledger_service: cache active sequence", slog.Any("error", err))
	}
}

// Append validates the event against the ledger rules, assigns it an ID and
// digest, and fans it out to the store, cache, stream, and pub/sub channel.
// The returned event is the accepted form, with ID and digest populated.
//
// The in-memory ledger is authoritative: if the database insert fails after
// the ledger accepted the event, the error is returned and the two diverge
// until the next Rebuild. Cache and bus failures are logged and do not fail
// the append.
func (s *LedgerService) Append(ctx context.Context, ev domain.PositionEvent) (domain.PositionEvent, error) {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Pool == (common.Address{}) {
		ev.Pool = s.cfg.DefaultPool
	}

	accepted, err := s.ledger.Append(ev)
	if err != nil {
		return domain.PositionEvent{}, err
	}

	if err := s.events.Append(ctx, accepted); err != nil {
		return domain.PositionEvent{}, fmt.Errorf("ledger_service: persist event %s: %w", accepted.ID, err)
	}

	s.logger.InfoContext(ctx, "ledger_service: event appended",
		slog.Int64("sequence", accepted.Sequence),
		slog.String("kind", string(accepted.Kind)),
		slog.Time("timestamp", accepted.Timestamp),
		slog.String("digest", accepted.Digest),
	)

	if err := s.cache.SetLastEvent(ctx, accepted); err != nil {
		s.logger.WarnContext(ctx, "ledger_service: cache last event", slog.Any("error", err))
	}
	active, _ := s.ledger.ActiveSequence()
	if err := s.cache.SetActiveSequence(ctx, active); err != nil {
		s.logger.WarnContext(ctx, "ledger_service: cache active sequence", slog.Any("error", err))
	}

	s.publish(ctx, accepted)
	s.notifyAppend(ctx, accepted)

	if err := s.audit.Log(ctx, "ledger.append", map[string]any{
		"event_id": accepted.ID,
		"sequence": accepted.Sequence,
		"kind":     string(accepted.Kind),
	}); err != nil {
		s.logger.WarnContext(ctx, "ledger_service: audit append", slog.Any("error", err))
	}

	return accepted, nil
}

// publish mirrors the accepted event to the durable stream and announces it
// on the pub/sub channel. Both are best-effort.
func (s *LedgerService) publish(ctx context.Context, ev domain.PositionEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.WarnContext(ctx, "ledger_service: marshal event", slog.Any("error", err))
		return
	}

	if err := s.bus.StreamAppend(ctx, s.cfg.Stream, payload); err != nil {
		s.logger.WarnContext(ctx, "ledger_service: stream append", slog.Any("error", err))
	}
	if err := s.bus.Publish(ctx, s.cfg.PublishChannel, payload); err != nil {
		s.logger.WarnContext(ctx, "ledger_service: publish event", slog.Any("error", err))
	}
}

// notifyAppend alerts operators about the accepted event.
func (s *LedgerService) notifyAppend(ctx context.Context, ev domain.PositionEvent) {
	if s.notifier == nil {
		return
	}

	event := notify.EventPositionOpened
	title := fmt.Sprintf("Position %d opened", ev.Sequence)
	if ev.Kind == domain.KindClose {
		event = notify.EventPositionClosed
		title = fmt.Sprintf("Position %d closed", ev.Sequence)
	}

	message := fmt.Sprintf("%s UTC\npool %s", ev.Timestamp.UTC().Format("2006-01-02 15:04:05"), ev.Pool.Hex())
	if err := s.notifier.Notify(ctx, event, title, message); err != nil {
		s.logger.WarnContext(ctx, "ledger_service: notify append", slog.Any("error", err))
	}
}

// Preview replays the current log plus the candidate events on a scratch
// ledger, reporting the first rule violation without touching any state.
// Used by the ingest dry-run mode.
func (s *LedgerService) Preview(candidates []domain.PositionEvent) error {
	scratch := domain.NewLedger()
	if err := scratch.Replay(s.ledger.Snapshot()); err != nil {
		return fmt.Errorf("ledger_service: preview replay: %w", err)
	}
	for _, ev := range candidates {
		if _, err := scratch.Append(ev); err != nil {
			return err
		}
	}
	return nil
}

// ActiveSequence returns the sequence of the open pool instance, or false
// when every instance is closed.
func (s *LedgerService) ActiveSequence() (int64, bool) {
	return s.ledger.ActiveSequence()
}

// EventsFor returns the events recorded for one pool instance, in log order.
func (s *LedgerService) EventsFor(sequence int64) []domain.PositionEvent {
	var out []domain.PositionEvent
	for ev := range s.ledger.EventsFor(sequence) {
		out = append(out, ev)
	}
	return out
}

// Snapshot returns a consistent copy of the full in-memory log.
func (s *LedgerService) Snapshot() []domain.PositionEvent {
	return s.ledger.Snapshot()
}

// Sessions returns one summary per pool instance, in sequence order.
func (s *LedgerService) Sessions() []domain.Session {
	return s.ledger.Sessions()
}

// LastDigest returns the digest of the most recent event, or "" for an
// empty log.
func (s *LedgerService) LastDigest() string {
	return s.ledger.LastDigest()
}

// Len returns the number of events in the log.
func (s *LedgerService) Len() int {
	return s.ledger.Len()
}

// History queries the persisted log with pagination and time filters. Serve
// paginated reads from the store rather than the in-memory snapshot so the
// filters run in SQL.
func (s *LedgerService) History(ctx context.Context, opts domain.ListOpts) ([]domain.PositionEvent, error) {
	events, err := s.events.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("ledger_service: history: %w", err)
	}
	return events, nil
}

// HistoryFor returns the persisted events for one pool instance, in log
// order. Events are immutable once stored, so the read is as consistent as
// the in-memory view.
func (s *LedgerService) HistoryFor(ctx context.Context, sequence int64) ([]domain.PositionEvent, error) {
	events, err := s.events.ListBySequence(ctx, sequence)
	if err != nil {
		return nil, fmt.Errorf("ledger_service: history for sequence %d: %w", sequence, err)
	}
	return events, nil
}
