package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/PXY11/UniST/internal/domain"
)

// SequenceService defines the methods that the sequence handler requires.
// Summaries and the active sequence come from the in-memory log; the
// per-instance event read comes from the store, which is equivalent because
// stored events are immutable.
type SequenceService interface {
	Sessions() []domain.Session
	HistoryFor(ctx context.Context, sequence int64) ([]domain.PositionEvent, error)
	ActiveSequence() (int64, bool)
}

// SequenceHandler serves the per-instance views of the event log.
type SequenceHandler struct {
	sequences SequenceService
	logger    *slog.Logger
}

// NewSequenceHandler creates a SequenceHandler.
func NewSequenceHandler(sequences SequenceService, logger *slog.Logger) *SequenceHandler {
	return &SequenceHandler{
		sequences: sequences,
		logger:    logger,
	}
}

// sessionView is the JSON shape of one pool instance summary.
type sessionView struct {
	Sequence int64  `json:"sequence"`
	Pool     string `json:"pool"`
	OpenedAt string `json:"opened_at"`
	ClosedAt string `json:"closed_at,omitempty"`
	Active   bool   `json:"active"`
	Holding  string `json:"holding,omitempty"`
}

// listSequencesResponse wraps the list sequences response.
type listSequencesResponse struct {
	Sequences []sessionView `json:"sequences"`
}

// ListSequences returns one summary per pool instance, in sequence order.
// GET /api/sequences
func (h *SequenceHandler) ListSequences(w http.ResponseWriter, r *http.Request) {
	sessions := h.sequences.Sessions()

	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, toSessionView(s))
	}
	writeJSON(w, http.StatusOK, listSequencesResponse{Sequences: views})
}

// ListSequenceEvents returns the events recorded for one pool instance.
// GET /api/sequences/{sequence}/events
func (h *SequenceHandler) ListSequenceEvents(w http.ResponseWriter, r *http.Request) {
	seq, err := pathSequence(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, err := h.sequences.HistoryFor(r.Context(), seq)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: sequence events", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "event store unavailable")
		return
	}
	if len(events) == 0 {
		writeError(w, http.StatusNotFound, "unknown sequence")
		return
	}
	writeJSON(w, http.StatusOK, listEventsResponse{Events: events})
}

// activeSequenceResponse reports the open pool instance, if any.
type activeSequenceResponse struct {
	Active   bool  `json:"active"`
	Sequence int64 `json:"sequence,omitempty"`
}

// GetActiveSequence returns the sequence of the open pool instance, or
// active=false when every instance is closed.
// GET /api/sequences/active
func (h *SequenceHandler) GetActiveSequence(w http.ResponseWriter, r *http.Request) {
	seq, ok := h.sequences.ActiveSequence()
	resp := activeSequenceResponse{Active: ok}
	if ok {
		resp.Sequence = seq
	}
	writeJSON(w, http.StatusOK, resp)
}

func toSessionView(s domain.Session) sessionView {
	v := sessionView{
		Sequence: s.Sequence,
		Pool:     s.Pool.Hex(),
		OpenedAt: s.OpenedAt.UTC().Format("2006-01-02 15:04:05"),
		Active:   s.Active(),
	}
	if s.ClosedAt != nil {
		v.ClosedAt = s.ClosedAt.UTC().Format("2006-01-02 15:04:05")
		v.Holding = s.Duration().String()
	}
	return v
}
