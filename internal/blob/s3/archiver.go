package s3blob

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/PXY11/UniST/internal/domain"
	"github.com/PXY11/UniST/internal/export"
)

// EventArchiveStore provides read access to position events for archival
// purposes. It is a narrow view of domain.EventStore: the archiver only
// needs to enumerate events, never to append them. The Postgres event store
// satisfies it implicitly through its List method.
type EventArchiveStore interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.PositionEvent, error)
}

// multipartThreshold is the full-log payload size above which the upload
// switches to concurrent multipart parts.
const multipartThreshold = 8 << 20

// ArchiveImpl implements domain.Archiver by reading the event log from the
// primary store, serializing it with the export package, and uploading the
// result to S3.
//
// The event log is append-only and rows are never removed from the primary
// store; archiving is a copy for the external charting and accounting tools,
// not a migration.
type ArchiveImpl struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	events EventArchiveStore
	audit  domain.AuditStore
	prefix string

	multipartThreshold int
}

// NewArchiver creates a new ArchiveImpl. All uploaded keys are placed under
// the given prefix.
func NewArchiver(
	writer domain.BlobWriter,
	reader domain.BlobReader,
	events EventArchiveStore,
	audit domain.AuditStore,
	prefix string,
) *ArchiveImpl {
	return &ArchiveImpl{
		writer: writer,
		reader: reader,
		events: events,
		audit:  audit,
		prefix: prefix,

		multipartThreshold: multipartThreshold,
	}
}

// ArchiveClosedSequences uploads one CSV per closed pool instance, each
// holding that instance's open and close events, under
// <prefix>/sequences/seq-NNNN.csv. Instances that already have an archive
// object are skipped, so repeated runs only upload instances closed since
// the previous run. Returns the number of newly uploaded archives.
func (a *ArchiveImpl) ArchiveClosedSequences(ctx context.Context) (int64, error) {
	events, err := a.events.List(ctx, domain.ListOpts{})
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive sequences query: %w", err)
	}

	bySequence := groupBySequence(events)

	var uploaded int64
	for _, group := range bySequence {
		if !isClosed(group) {
			continue
		}

		seq := group[0].Sequence
		path := a.sequencePath(seq)

		exists, err := a.reader.Exists(ctx, path)
		if err != nil {
			return uploaded, fmt.Errorf("s3blob: archive sequence %d stat: %w", seq, err)
		}
		if exists {
			continue
		}

		var buf bytes.Buffer
		if err := export.WriteEvents(&buf, group, export.FormatCSV); err != nil {
			return uploaded, fmt.Errorf("s3blob: archive sequence %d encode: %w", seq, err)
		}

		if err := a.writer.Put(ctx, path, &buf, export.ContentType(export.FormatCSV)); err != nil {
			return uploaded, fmt.Errorf("s3blob: archive sequence %d upload: %w", seq, err)
		}
		uploaded++

		if err := a.audit.Log(ctx, "archive.sequence", map[string]any{
			"sequence": seq,
			"path":     path,
			"events":   len(group),
		}); err != nil {
			return uploaded, fmt.Errorf("s3blob: archive sequence %d audit log: %w", seq, err)
		}
	}

	return uploaded, nil
}

// ArchiveFullLog uploads the entire event log as a single JSONL object under
// <prefix>/full/log-YYYY-MM-DD.jsonl. Unlike per-sequence archives the full
// log is re-uploaded on every run, overwriting the day's object, so the
// newest snapshot always wins.
func (a *ArchiveImpl) ArchiveFullLog(ctx context.Context) error {
	events, err := a.events.List(ctx, domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("s3blob: archive full log query: %w", err)
	}

	buf, err := export.MarshalEvents(events, export.FormatJSONL)
	if err != nil {
		return fmt.Errorf("s3blob: archive full log encode: %w", err)
	}

	path := fmt.Sprintf("%s/full/log-%s.jsonl", a.prefix, time.Now().UTC().Format("2006-01-02"))
	if len(buf) >= a.multipartThreshold {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), 0)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), export.ContentType(export.FormatJSONL))
	}
	if err != nil {
		return fmt.Errorf("s3blob: archive full log upload: %w", err)
	}

	if err := a.audit.Log(ctx, "archive.full_log", map[string]any{
		"path":   path,
		"events": len(events),
	}); err != nil {
		return fmt.Errorf("s3blob: archive full log audit log: %w", err)
	}

	return nil
}

// sequencePath builds the S3 key for a closed pool instance's archive.
//
//	archive/sequences/seq-0001.csv
func (a *ArchiveImpl) sequencePath(sequence int64) string {
	return fmt.Sprintf("%s/sequences/seq-%04d.csv", a.prefix, sequence)
}

// groupBySequence splits events into per-instance groups, preserving
// sequence order. Events for one instance stay in log order.
func groupBySequence(events []domain.PositionEvent) [][]domain.PositionEvent {
	var groups [][]domain.PositionEvent
	index := make(map[int64]int)

	for _, ev := range events {
		i, ok := index[ev.Sequence]
		if !ok {
			i = len(groups)
			index[ev.Sequence] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], ev)
	}
	return groups
}

// isClosed reports whether the instance's group contains a close event.
func isClosed(group []domain.PositionEvent) bool {
	for _, ev := range group {
		if ev.Kind == domain.KindClose {
			return true
		}
	}
	return false
}
