package handler

import (
	"log/slog"
	"net/http"
	"time"
)

// LedgerStats is the slice of the ledger service the health handler reads.
type LedgerStats interface {
	Len() int
	LastDigest() string
}

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	stats  LedgerStats
	logger *slog.Logger
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(stats LedgerStats, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{stats: stats, logger: logger}
}

// HealthCheck responds with a JSON status including the current log size and
// head digest, so a monitor can detect a stalled or diverged replica.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"events":      h.stats.Len(),
		"last_digest": h.stats.LastDigest(),
	})
}
