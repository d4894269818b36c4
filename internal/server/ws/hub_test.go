package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PXY11/UniST/internal/domain"
)

type fakeBus struct {
	ch      chan []byte
	backlog []domain.StreamMessage
}

func (f *fakeBus) Publish(_ context.Context, _ string, payload []byte) error {
	f.ch <- payload
	return nil
}

func (f *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return f.ch, nil
}

func (f *fakeBus) StreamAppend(context.Context, string, []byte) error {
	return nil
}

func (f *fakeBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return f.backlog, nil
}

type fakeStatus struct {
	events int
	active int64
}

func (f *fakeStatus) ActiveSequence() (int64, bool) { return f.active, f.active > 0 }
func (f *fakeStatus) Len() int                      { return f.events }
func (f *fakeStatus) LastDigest() string            { return "0xfeed" }

// dialHub starts the hub, serves it over httptest, and connects one client.
func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	return conn
}

func TestHubStatusAndBacklogOnConnect(t *testing.T) {
	bus := &fakeBus{
		ch: make(chan []byte, 1),
		backlog: []domain.StreamMessage{
			{ID: "1-0", Payload: []byte(`{"sequence":1,"kind":"open"}`)},
			{ID: "2-0", Payload: []byte(`{"sequence":1,"kind":"close"}`)},
		},
	}
	hub := NewHub(bus, "events", "events:stream", &fakeStatus{events: 2, active: 2}, slog.New(slog.DiscardHandler))

	conn := dialHub(t, hub)

	_, first, err := conn.ReadMessage()
	require.NoError(t, err)

	var envelope struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(first, &envelope))
	assert.Equal(t, "ledger_status", envelope.Type)
	assert.EqualValues(t, 2, envelope.Payload["active_sequence"])

	_, second, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"sequence":1,"kind":"open"}`, string(second))

	_, third, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"sequence":1,"kind":"close"}`, string(third))
}

func TestHubBroadcastsBusMessages(t *testing.T) {
	bus := &fakeBus{ch: make(chan []byte, 1)}
	hub := NewHub(bus, "events", "", &fakeStatus{}, slog.New(slog.DiscardHandler))

	conn := dialHub(t, hub)

	// The status envelope arrives first; no backlog when no stream is set.
	_, _, err := conn.ReadMessage()
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), "events", []byte(`{"sequence":3,"kind":"open"}`)))

	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"sequence":3,"kind":"open"}`, string(msg))
}
