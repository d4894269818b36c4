// Package export renders the position event log and its per-instance
// summaries in the formats consumed by the external charting and reporting
// tools.
package export

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/PXY11/UniST/internal/domain"
)

// Format identifies an export encoding.
type Format string

const (
	FormatCSV   Format = "csv"
	FormatJSON  Format = "json"
	FormatJSONL Format = "jsonl"
)

// ParseFormat validates a user-supplied format string.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCSV, FormatJSON, FormatJSONL:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

// timeLayout matches the dated record style of the strategy journal
// (e.g. "2021-05-10 09:17:52").
const timeLayout = "2006-01-02 15:04:05"

// WriteEvents renders events to w in the given format, in insertion order.
func WriteEvents(w io.Writer, events []domain.PositionEvent, format Format) error {
	switch format {
	case FormatCSV:
		return writeEventsCSV(w, events)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(events)
	case FormatJSONL:
		enc := json.NewEncoder(w)
		for _, ev := range events {
			if err := enc.Encode(ev); err != nil {
				return fmt.Errorf("export: encode event %s: %w", ev.ID, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

func writeEventsCSV(w io.Writer, events []domain.PositionEvent) error {
	cw := csv.NewWriter(w)

	header := []string{"sequence", "kind", "timestamp", "pool", "tx_hash", "note", "digest"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("export: write csv header: %w", err)
	}

	for _, ev := range events {
		txHash := ""
		if ev.TxHash != nil {
			txHash = ev.TxHash.Hex()
		}
		record := []string{
			strconv.FormatInt(ev.Sequence, 10),
			string(ev.Kind),
			ev.Timestamp.UTC().Format(timeLayout),
			ev.Pool.Hex(),
			txHash,
			ev.Note,
			ev.Digest,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("export: write csv record: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// WriteSessions renders per-instance summaries to w in the given format.
func WriteSessions(w io.Writer, sessions []domain.Session, format Format) error {
	switch format {
	case FormatCSV:
		return writeSessionsCSV(w, sessions)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(sessions)
	case FormatJSONL:
		enc := json.NewEncoder(w)
		for _, s := range sessions {
			if err := enc.Encode(s); err != nil {
				return fmt.Errorf("export: encode session %d: %w", s.Sequence, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported export format %q", format)
	}
}

func writeSessionsCSV(w io.Writer, sessions []domain.Session) error {
	cw := csv.NewWriter(w)

	header := []string{"sequence", "pool", "opened_at", "closed_at", "holding"}
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("export: write csv header: %w", err)
	}

	for _, s := range sessions {
		closedAt := ""
		holding := ""
		if s.ClosedAt != nil {
			closedAt = s.ClosedAt.UTC().Format(timeLayout)
			holding = s.Duration().Round(time.Second).String()
		}
		record := []string{
			strconv.FormatInt(s.Sequence, 10),
			s.Pool.Hex(),
			s.OpenedAt.UTC().Format(timeLayout),
			closedAt,
			holding,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("export: write csv record: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// MarshalEvents renders events to a byte buffer, for callers that upload
// rather than stream.
func MarshalEvents(events []domain.PositionEvent, format Format) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteEvents(&buf, events, format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ContentType returns the MIME type for an export format.
func ContentType(format Format) string {
	switch format {
	case FormatCSV:
		return "text/csv"
	case FormatJSON:
		return "application/json"
	case FormatJSONL:
		return "application/x-ndjson"
	default:
		return "application/octet-stream"
	}
}
