// Package ingest imports dated open/close records from CSV files into the
// position event log. It exists for backfilling the log from the manual
// trade journals kept before the service ran, so the parser is forgiving
// about column order and optional fields but strict about the records
// themselves.
package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/PXY11/UniST/internal/domain"
)

// timeLayout is the timestamp format used in record files, e.g.
// "2021-05-10 09:17:52". Timestamps are taken as UTC.
const timeLayout = "2006-01-02 15:04:05"

// Appender is the slice of the ledger service the loader needs: dry-run
// validation and the real append path.
type Appender interface {
	Append(ctx context.Context, ev domain.PositionEvent) (domain.PositionEvent, error)
	Preview(candidates []domain.PositionEvent) error
}

// Loader parses record files and appends their events through the ledger
// service, which enforces the alternation and time-ordering rules.
type Loader struct {
	appender Appender
	logger   *slog.Logger
}

// NewLoader creates a Loader.
func NewLoader(appender Appender, logger *slog.Logger) *Loader {
	return &Loader{
		appender: appender,
		logger:   logger,
	}
}

// LoadFile parses the CSV record file at path and appends every record in
// file order. With dryRun set the file is parsed and validated against the
// current log but nothing is appended. Returns the number of records
// appended (always 0 for a dry run).
func (l *Loader) LoadFile(ctx context.Context, path string, dryRun bool) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("ingest: open %s: %w", path, err)
	}
	defer f.Close()

	records, err := Parse(f)
	if err != nil {
		return 0, fmt.Errorf("ingest: parse %s: %w", path, err)
	}

	l.logger.InfoContext(ctx, "ingest: parsed record file",
		slog.String("path", path),
		slog.Int("records", len(records)),
		slog.Bool("dry_run", dryRun),
	)

	if dryRun {
		if err := l.appender.Preview(records); err != nil {
			return 0, fmt.Errorf("ingest: validate %s: %w", path, err)
		}
		return 0, nil
	}

	for i, rec := range records {
		if _, err := l.appender.Append(ctx, rec); err != nil {
			return i, fmt.Errorf("ingest: append record %d (sequence %d %s): %w",
				i+1, rec.Sequence, rec.Kind, err)
		}
	}
	return len(records), nil
}

// Parse reads a CSV record file into position events, in file order. The
// first row must be a header naming at least the sequence, kind, and
// timestamp columns; pool, tx_hash, and note columns are optional, and any
// other column (such as digest in re-imported exports) is ignored.
func Parse(r io.Reader) ([]domain.PositionEvent, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("empty record file")
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}

	cols, err := mapColumns(header)
	if err != nil {
		return nil, err
	}

	var events []domain.PositionEvent
	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		ev, err := parseRow(row, cols)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		events = append(events, ev)
	}
	return events, nil
}

// columns maps record fields to their column index, -1 when absent.
type columns struct {
	sequence  int
	kind      int
	timestamp int
	pool      int
	txHash    int
	note      int
}

func mapColumns(header []string) (columns, error) {
	cols := columns{sequence: -1, kind: -1, timestamp: -1, pool: -1, txHash: -1, note: -1}

	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "sequence", "seq":
			cols.sequence = i
		case "kind", "action":
			cols.kind = i
		case "timestamp", "time", "ts":
			cols.timestamp = i
		case "pool":
			cols.pool = i
		case "tx_hash", "txhash":
			cols.txHash = i
		case "note":
			cols.note = i
		}
	}

	if cols.sequence < 0 || cols.kind < 0 || cols.timestamp < 0 {
		return columns{}, fmt.Errorf("header must name sequence, kind, and timestamp columns, got %v", header)
	}
	return cols, nil
}

func parseRow(row []string, cols columns) (domain.PositionEvent, error) {
	field := func(i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	seq, err := strconv.ParseInt(field(cols.sequence), 10, 64)
	if err != nil {
		return domain.PositionEvent{}, fmt.Errorf("invalid sequence %q: %w", field(cols.sequence), err)
	}

	kind := domain.EventKind(strings.ToLower(field(cols.kind)))
	if !kind.Valid() {
		return domain.PositionEvent{}, fmt.Errorf("invalid kind %q", field(cols.kind))
	}

	ts, err := time.ParseInLocation(timeLayout, field(cols.timestamp), time.UTC)
	if err != nil {
		// Fall back to RFC 3339 for files produced by the JSON exporters.
		ts, err = time.Parse(time.RFC3339, field(cols.timestamp))
		if err != nil {
			return domain.PositionEvent{}, fmt.Errorf("invalid timestamp %q", field(cols.timestamp))
		}
	}

	ev := domain.PositionEvent{
		Sequence:  seq,
		Kind:      kind,
		Timestamp: ts,
		Note:      field(cols.note),
	}

	if raw := field(cols.pool); raw != "" {
		if !common.IsHexAddress(raw) {
			return domain.PositionEvent{}, fmt.Errorf("invalid pool address %q", raw)
		}
		ev.Pool = common.HexToAddress(raw)
	}
	if raw := field(cols.txHash); raw != "" {
		hash := common.HexToHash(raw)
		ev.TxHash = &hash
	}
	return ev, nil
}
