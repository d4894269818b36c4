package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/PXY11/UniST/internal/domain"
)

// EventService defines the methods that the event handler requires.
type EventService interface {
	Append(ctx context.Context, ev domain.PositionEvent) (domain.PositionEvent, error)
	History(ctx context.Context, opts domain.ListOpts) ([]domain.PositionEvent, error)
}

// EventHandler serves the event log HTTP endpoints.
type EventHandler struct {
	events EventService
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(events EventService, logger *slog.Logger) *EventHandler {
	return &EventHandler{
		events: events,
		logger: logger,
	}
}

// listEventsResponse wraps the list events response.
type listEventsResponse struct {
	Events []domain.PositionEvent `json:"events"`
}

// ListEvents returns events from the persisted log, newest filters applied
// in SQL. Supports limit, offset, sequence, since, and until parameters.
// GET /api/events
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := h.events.History(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list events failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list events")
		return
	}

	if events == nil {
		events = []domain.PositionEvent{}
	}
	writeJSON(w, http.StatusOK, listEventsResponse{Events: events})
}

// appendEventRequest is the JSON body for appending one event.
type appendEventRequest struct {
	Sequence  int64  `json:"sequence"`
	Kind      string `json:"kind"`
	Timestamp string `json:"timestamp"`
	Pool      string `json:"pool,omitempty"`
	TxHash    string `json:"tx_hash,omitempty"`
	Note      string `json:"note,omitempty"`
}

// AppendEvent records one open or close event. Rule violations (a sequence
// out of order, a timestamp behind the log head) are reported as 409.
// POST /api/events
func (h *EventHandler) AppendEvent(w http.ResponseWriter, r *http.Request) {
	var req appendEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	ev, err := req.toEvent()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	accepted, err := h.events.Append(r.Context(), ev)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidSequence), errors.Is(err, domain.ErrNonMonotonicTime):
			writeError(w, http.StatusConflict, err.Error())
		default:
			h.logger.ErrorContext(r.Context(), "handler: append event failed",
				slog.Int64("sequence", req.Sequence),
				slog.String("kind", req.Kind),
				slog.String("error", err.Error()),
			)
			writeError(w, http.StatusInternalServerError, "failed to append event")
		}
		return
	}

	writeJSON(w, http.StatusCreated, accepted)
}

// toEvent converts the request body into a domain event, validating the
// fields that cannot wait for the ledger rules.
func (req appendEventRequest) toEvent() (domain.PositionEvent, error) {
	kind := domain.EventKind(req.Kind)
	if !kind.Valid() {
		return domain.PositionEvent{}, errBadParam("kind", req.Kind)
	}

	ts, err := parseTimestamp(req.Timestamp)
	if err != nil {
		return domain.PositionEvent{}, errBadParam("timestamp", req.Timestamp)
	}

	ev := domain.PositionEvent{
		Sequence:  req.Sequence,
		Kind:      kind,
		Timestamp: ts,
		Note:      req.Note,
	}

	if req.Pool != "" {
		if !common.IsHexAddress(req.Pool) {
			return domain.PositionEvent{}, errBadParam("pool", req.Pool)
		}
		ev.Pool = common.HexToAddress(req.Pool)
	}
	if req.TxHash != "" {
		hash := common.HexToHash(req.TxHash)
		ev.TxHash = &hash
	}
	return ev, nil
}
