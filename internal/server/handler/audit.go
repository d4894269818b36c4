package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/PXY11/UniST/internal/domain"
)

// AuditSource provides read access to the audit log. Satisfied by the
// Postgres audit store.
type AuditSource interface {
	List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// AuditHandler serves the append/archive audit trail.
type AuditHandler struct {
	audit  AuditSource
	logger *slog.Logger
}

// NewAuditHandler creates an AuditHandler.
func NewAuditHandler(audit AuditSource, logger *slog.Logger) *AuditHandler {
	return &AuditHandler{
		audit:  audit,
		logger: logger,
	}
}

// auditEntryView is the JSON shape of one audit row.
type auditEntryView struct {
	ID        int64          `json:"id"`
	Event     string         `json:"event"`
	Detail    map[string]any `json:"detail,omitempty"`
	CreatedAt string         `json:"created_at"`
}

// listAuditResponse wraps the audit listing response.
type listAuditResponse struct {
	Entries []auditEntryView `json:"entries"`
}

// ListAuditEntries returns audit rows, most recent first, with the usual
// limit/offset/since/until parameters.
// GET /api/audit
func (h *AuditHandler) ListAuditEntries(w http.ResponseWriter, r *http.Request) {
	opts, err := parseListOpts(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := h.audit.List(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list audit entries", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "audit log unavailable")
		return
	}

	views := make([]auditEntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, auditEntryView{
			ID:        e.ID,
			Event:     e.Event,
			Detail:    e.Detail,
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, listAuditResponse{Entries: views})
}
