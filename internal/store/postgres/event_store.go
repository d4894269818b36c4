package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/PXY11/UniST/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL. It only ever
// inserts and selects: position events are immutable once recorded.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

const eventSelectCols = `id, sequence, kind, ts, pool, tx_hash, note, digest`

func scanEventRow(row pgx.Row) (domain.PositionEvent, error) {
	var ev domain.PositionEvent
	var kind, pool string
	var txHash *string

	err := row.Scan(&ev.ID, &ev.Sequence, &kind, &ev.Timestamp, &pool, &txHash, &ev.Note, &ev.Digest)
	if err != nil {
		return domain.PositionEvent{}, err
	}
	ev.Kind = domain.EventKind(kind)
	ev.Pool = common.HexToAddress(pool)
	if txHash != nil {
		h := common.HexToHash(*txHash)
		ev.TxHash = &h
	}
	return ev, nil
}

func scanEventRows(rows pgx.Rows) ([]domain.PositionEvent, error) {
	var events []domain.PositionEvent
	for rows.Next() {
		ev, err := scanEventRow(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Append inserts a new position event.
func (s *EventStore) Append(ctx context.Context, ev domain.PositionEvent) error {
	const query = `
		INSERT INTO position_events (id, sequence, kind, ts, pool, tx_hash, note, digest)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	var txHash *string
	if ev.TxHash != nil {
		h := ev.TxHash.Hex()
		txHash = &h
	}

	_, err := s.pool.Exec(ctx, query,
		ev.ID, ev.Sequence, string(ev.Kind), ev.Timestamp,
		ev.Pool.Hex(), txHash, ev.Note, ev.Digest,
	)
	if err != nil {
		return fmt.Errorf("postgres: append event %s: %w", ev.ID, err)
	}
	return nil
}

// List returns events in insertion order with pagination, time filtering,
// and an optional sequence filter.
func (s *EventStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.PositionEvent, error) {
	query := `SELECT ` + eventSelectCols + ` FROM position_events WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Sequence > 0 {
		query += fmt.Sprintf(" AND sequence = $%d", argIdx)
		args = append(args, opts.Sequence)
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND ts >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND ts <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY ts, sequence, kind DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()

	events, err := scanEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan events: %w", err)
	}
	return events, nil
}

// ListBySequence returns the events belonging to one pool instance, in
// insertion order.
func (s *EventStore) ListBySequence(ctx context.Context, sequence int64) ([]domain.PositionEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventSelectCols+` FROM position_events
		 WHERE sequence = $1
		 ORDER BY ts, kind DESC`, sequence)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events for sequence %d: %w", sequence, err)
	}
	defer rows.Close()

	events, err := scanEventRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan events for sequence %d: %w", sequence, err)
	}
	return events, nil
}

// Last returns the most recently appended event. It returns
// domain.ErrNotFound when the log is empty.
func (s *EventStore) Last(ctx context.Context) (domain.PositionEvent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+eventSelectCols+` FROM position_events
		 ORDER BY ts DESC, sequence DESC, kind
		 LIMIT 1`)

	ev, err := scanEventRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PositionEvent{}, domain.ErrNotFound
		}
		return domain.PositionEvent{}, fmt.Errorf("postgres: last event: %w", err)
	}
	return ev, nil
}

// Count returns the total number of recorded events.
func (s *EventStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM position_events`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count events: %w", err)
	}
	return n, nil
}
