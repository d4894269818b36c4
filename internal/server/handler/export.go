package handler

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/PXY11/UniST/internal/domain"
	"github.com/PXY11/UniST/internal/export"
)

// ExportService defines the methods that the export handler requires.
type ExportService interface {
	Snapshot() []domain.PositionEvent
	Sessions() []domain.Session
	EventsFor(sequence int64) []domain.PositionEvent
}

// ExportHandler streams the event log in the formats the external charting
// tools consume.
type ExportHandler struct {
	ledger ExportService
	logger *slog.Logger
}

// NewExportHandler creates an ExportHandler.
func NewExportHandler(ledger ExportService, logger *slog.Logger) *ExportHandler {
	return &ExportHandler{
		ledger: ledger,
		logger: logger,
	}
}

// ExportEvents writes the in-memory log in the requested format. A sequence
// parameter narrows the events view to one pool instance.
// GET /api/export?format=csv|json|jsonl&view=events|sequences&sequence=N
func (h *ExportHandler) ExportEvents(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(formatParam(r))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	view := r.URL.Query().Get("view")
	if view == "" {
		view = "events"
	}

	var write func(w http.ResponseWriter) error
	switch view {
	case "events":
		events := h.ledger.Snapshot()
		if v := r.URL.Query().Get("sequence"); v != "" {
			seq, err := strconv.ParseInt(v, 10, 64)
			if err != nil || seq < 1 {
				writeError(w, http.StatusBadRequest, errBadParam("sequence", v).Error())
				return
			}
			events = h.ledger.EventsFor(seq)
			if len(events) == 0 {
				writeError(w, http.StatusNotFound, "unknown sequence")
				return
			}
		}
		write = func(w http.ResponseWriter) error {
			return export.WriteEvents(w, events, format)
		}
	case "sequences":
		write = func(w http.ResponseWriter) error {
			return export.WriteSessions(w, h.ledger.Sessions(), format)
		}
	default:
		writeError(w, http.StatusBadRequest, "unknown view "+strconv.Quote(view))
		return
	}

	w.Header().Set("Content-Type", export.ContentType(format))
	w.Header().Set("Content-Disposition", `attachment; filename="ledger-`+view+`.`+string(format)+`"`)

	if err := write(w); err != nil {
		// Headers are already out; all that is left is to log it.
		h.logger.ErrorContext(r.Context(), "handler: export failed",
			slog.String("format", string(format)),
			slog.String("view", view),
			slog.String("error", err.Error()),
		)
	}
}

func formatParam(r *http.Request) string {
	if v := r.URL.Query().Get("format"); v != "" {
		return v
	}
	return "csv"
}
