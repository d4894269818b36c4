package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/PXY11/UniST/internal/domain"
)

const (
	lastEventKey = "ledger:last_event"
	activeSeqKey = "ledger:active_sequence"
)

// LedgerCache implements domain.LedgerCache using plain Redis keys. The last
// appended event is stored as JSON; the active sequence as a stringified
// integer (0 when every pool instance is closed).
type LedgerCache struct {
	rdb *redis.Client
}

// NewLedgerCache creates a LedgerCache backed by the given Client.
func NewLedgerCache(c *Client) *LedgerCache {
	return &LedgerCache{rdb: c.Underlying()}
}

// SetLastEvent stores the most recently appended event.
func (lc *LedgerCache) SetLastEvent(ctx context.Context, ev domain.PositionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("redis: marshal last event: %w", err)
	}
	if err := lc.rdb.Set(ctx, lastEventKey, data, 0).Err(); err != nil {
		return fmt.Errorf("redis: set last event: %w", err)
	}
	return nil
}

// GetLastEvent retrieves the most recently appended event. It returns
// domain.ErrNotFound when nothing has been cached.
func (lc *LedgerCache) GetLastEvent(ctx context.Context) (domain.PositionEvent, error) {
	data, err := lc.rdb.Get(ctx, lastEventKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.PositionEvent{}, domain.ErrNotFound
		}
		return domain.PositionEvent{}, fmt.Errorf("redis: get last event: %w", err)
	}

	var ev domain.PositionEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return domain.PositionEvent{}, fmt.Errorf("redis: unmarshal last event: %w", err)
	}
	return ev, nil
}

// SetActiveSequence stores the currently active sequence (0 when none).
func (lc *LedgerCache) SetActiveSequence(ctx context.Context, sequence int64) error {
	if err := lc.rdb.Set(ctx, activeSeqKey, strconv.FormatInt(sequence, 10), 0).Err(); err != nil {
		return fmt.Errorf("redis: set active sequence: %w", err)
	}
	return nil
}

// Clear removes both cached keys. Called when a rebuild finds an empty log,
// so facts from a previous run do not survive a database reset.
func (lc *LedgerCache) Clear(ctx context.Context) error {
	if err := lc.rdb.Del(ctx, lastEventKey, activeSeqKey).Err(); err != nil {
		return fmt.Errorf("redis: clear ledger cache: %w", err)
	}
	return nil
}

// GetActiveSequence retrieves the active sequence. It returns
// domain.ErrNotFound when nothing has been cached yet.
func (lc *LedgerCache) GetActiveSequence(ctx context.Context) (int64, error) {
	v, err := lc.rdb.Get(ctx, activeSeqKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, domain.ErrNotFound
		}
		return 0, fmt.Errorf("redis: get active sequence: %w", err)
	}

	seq, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("redis: parse active sequence %q: %w", v, err)
	}
	return seq, nil
}
