package s3blob

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PXY11/UniST/internal/domain"
)

var testPool = common.HexToAddress("0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640")

type fakeBlobStore struct {
	objects   map[string][]byte
	multipart []string
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{objects: map[string][]byte{}}
}

func (f *fakeBlobStore) Put(_ context.Context, path string, data io.Reader, _ string) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	f.objects[path] = b
	return nil
}

func (f *fakeBlobStore) PutMultipart(ctx context.Context, path string, data io.Reader, _ int64) error {
	f.multipart = append(f.multipart, path)
	return f.Put(ctx, path, data, "")
}

func (f *fakeBlobStore) Get(_ context.Context, path string) (io.ReadCloser, error) {
	b, ok := f.objects[path]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(string(b))), nil
}

func (f *fakeBlobStore) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var infos []domain.BlobInfo
	for path, b := range f.objects {
		if strings.HasPrefix(path, prefix) {
			infos = append(infos, domain.BlobInfo{Path: path, Size: int64(len(b))})
		}
	}
	return infos, nil
}

func (f *fakeBlobStore) Exists(_ context.Context, path string) (bool, error) {
	_, ok := f.objects[path]
	return ok, nil
}

type fakeEventSource struct {
	events []domain.PositionEvent
}

func (f *fakeEventSource) List(_ context.Context, _ domain.ListOpts) ([]domain.PositionEvent, error) {
	return f.events, nil
}

type fakeAudit struct {
	entries []string
}

func (f *fakeAudit) Log(_ context.Context, event string, _ map[string]any) error {
	f.entries = append(f.entries, event)
	return nil
}

func (f *fakeAudit) List(_ context.Context, _ domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func archiveEvent(t *testing.T, seq int64, kind domain.EventKind, ts string) domain.PositionEvent {
	t.Helper()
	parsed, err := time.Parse(time.RFC3339, ts)
	require.NoError(t, err)
	return domain.PositionEvent{
		Sequence:  seq,
		Kind:      kind,
		Timestamp: parsed,
		Pool:      testPool,
	}
}

func TestArchiveClosedSequences(t *testing.T) {
	store := newFakeBlobStore()
	audit := &fakeAudit{}
	source := &fakeEventSource{events: []domain.PositionEvent{
		archiveEvent(t, 1, domain.KindOpen, "2021-05-10T09:17:52Z"),
		archiveEvent(t, 1, domain.KindClose, "2021-05-12T22:59:38Z"),
		archiveEvent(t, 2, domain.KindOpen, "2021-07-25T22:57:11Z"),
	}}
	arc := NewArchiver(store, store, source, audit, "archive")

	uploaded, err := arc.ArchiveClosedSequences(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), uploaded)

	body, ok := store.objects["archive/sequences/seq-0001.csv"]
	require.True(t, ok, "closed instance should be archived")
	assert.Contains(t, string(body), "2021-05-12 22:59:38")

	// Instance 2 is still active and must not be uploaded.
	_, ok = store.objects["archive/sequences/seq-0002.csv"]
	assert.False(t, ok)

	assert.Equal(t, []string{"archive.sequence"}, audit.entries)
}

func TestArchiveClosedSequencesIdempotent(t *testing.T) {
	store := newFakeBlobStore()
	audit := &fakeAudit{}
	source := &fakeEventSource{events: []domain.PositionEvent{
		archiveEvent(t, 1, domain.KindOpen, "2021-05-10T09:17:52Z"),
		archiveEvent(t, 1, domain.KindClose, "2021-05-12T22:59:38Z"),
	}}
	arc := NewArchiver(store, store, source, audit, "archive")

	uploaded, err := arc.ArchiveClosedSequences(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), uploaded)

	// A second run finds the object already present and uploads nothing.
	uploaded, err = arc.ArchiveClosedSequences(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), uploaded)
	assert.Len(t, audit.entries, 1)
}

func TestArchiveFullLog(t *testing.T) {
	store := newFakeBlobStore()
	audit := &fakeAudit{}
	source := &fakeEventSource{events: []domain.PositionEvent{
		archiveEvent(t, 1, domain.KindOpen, "2021-05-10T09:17:52Z"),
		archiveEvent(t, 1, domain.KindClose, "2021-05-12T22:59:38Z"),
	}}
	arc := NewArchiver(store, store, source, audit, "archive")

	require.NoError(t, arc.ArchiveFullLog(context.Background()))

	infos, err := store.List(context.Background(), "archive/full/")
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Contains(t, infos[0].Path, time.Now().UTC().Format("2006-01-02"))

	body := store.objects[infos[0].Path]
	assert.Equal(t, 2, strings.Count(string(body), "\n"))
	assert.Equal(t, []string{"archive.full_log"}, audit.entries)
	assert.Empty(t, store.multipart, "small payload should use a single put")
}

func TestArchiveFullLogMultipart(t *testing.T) {
	store := newFakeBlobStore()
	audit := &fakeAudit{}
	source := &fakeEventSource{events: []domain.PositionEvent{
		archiveEvent(t, 1, domain.KindOpen, "2021-05-10T09:17:52Z"),
	}}
	arc := NewArchiver(store, store, source, audit, "archive")
	arc.multipartThreshold = 1

	require.NoError(t, arc.ArchiveFullLog(context.Background()))

	require.Len(t, store.multipart, 1)
	assert.Contains(t, store.multipart[0], "archive/full/log-")
	body := store.objects[store.multipart[0]]
	assert.Contains(t, string(body), "2021-05-10")
}
