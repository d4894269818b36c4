package ingest

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PXY11/UniST/internal/domain"
)

const sampleFile = `sequence,kind,timestamp,note
1,open,2021-05-10 09:17:52,first deployment
1,close,2021-05-12 22:59:38,
2,open,2021-07-25 22:57:11,re-entered after drawdown
2,close,2021-08-05 06:02:11,
3,open,2021-08-05 06:02:24,rolled straight over
`

type recordingAppender struct {
	appended   []domain.PositionEvent
	previewed  [][]domain.PositionEvent
	previewErr error
	appendErr  error
}

func (r *recordingAppender) Append(_ context.Context, ev domain.PositionEvent) (domain.PositionEvent, error) {
	if r.appendErr != nil {
		return domain.PositionEvent{}, r.appendErr
	}
	r.appended = append(r.appended, ev)
	return ev, nil
}

func (r *recordingAppender) Preview(candidates []domain.PositionEvent) error {
	r.previewed = append(r.previewed, candidates)
	return r.previewErr
}

func TestParse(t *testing.T) {
	events, err := Parse(strings.NewReader(sampleFile))
	require.NoError(t, err)
	require.Len(t, events, 5)

	assert.Equal(t, int64(1), events[0].Sequence)
	assert.Equal(t, domain.KindOpen, events[0].Kind)
	assert.Equal(t, time.Date(2021, 5, 10, 9, 17, 52, 0, time.UTC), events[0].Timestamp)
	assert.Equal(t, "first deployment", events[0].Note)

	assert.Equal(t, domain.KindClose, events[3].Kind)
	assert.Equal(t, int64(3), events[4].Sequence)
}

func TestParseColumnAliases(t *testing.T) {
	file := "seq,action,time\n1,OPEN,2021-05-10 09:17:52\n"
	events, err := Parse(strings.NewReader(file))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.KindOpen, events[0].Kind)
}

func TestParseRejects(t *testing.T) {
	cases := []struct {
		name string
		file string
		want string
	}{
		{"empty file", "", "empty record file"},
		{"missing columns", "kind,timestamp\nopen,2021-05-10 09:17:52\n", "header must name"},
		{"bad sequence", "sequence,kind,timestamp\nx,open,2021-05-10 09:17:52\n", "invalid sequence"},
		{"bad kind", "sequence,kind,timestamp\n1,flip,2021-05-10 09:17:52\n", "invalid kind"},
		{"bad timestamp", "sequence,kind,timestamp\n1,open,yesterday\n", "invalid timestamp"},
		{"bad pool", "sequence,kind,timestamp,pool\n1,open,2021-05-10 09:17:52,not-an-address\n", "invalid pool"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tc.file))
			require.Error(t, err)
			assert.ErrorContains(t, err, tc.want)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleFile), 0o644))

	appender := &recordingAppender{}
	loader := NewLoader(appender, slog.New(slog.DiscardHandler))

	n, err := loader.LoadFile(context.Background(), path, false)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Len(t, appender.appended, 5)
	assert.Empty(t, appender.previewed)
}

func TestLoadFileDryRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleFile), 0o644))

	appender := &recordingAppender{}
	loader := NewLoader(appender, slog.New(slog.DiscardHandler))

	n, err := loader.LoadFile(context.Background(), path, true)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, appender.appended)
	require.Len(t, appender.previewed, 1)
	assert.Len(t, appender.previewed[0], 5)
}

func TestLoadFileStopsOnRejection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleFile), 0o644))

	appender := &recordingAppender{appendErr: domain.ErrInvalidSequence}
	loader := NewLoader(appender, slog.New(slog.DiscardHandler))

	n, err := loader.LoadFile(context.Background(), path, false)
	require.ErrorIs(t, err, domain.ErrInvalidSequence)
	assert.Zero(t, n)
}
