package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/PXY11/UniST/internal/domain"
	"github.com/PXY11/UniST/internal/server/handler"
	"github.com/PXY11/UniST/internal/server/middleware"
	"github.com/PXY11/UniST/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	APIKey          string // if empty, authentication is disabled
	RateLimit       int    // requests per client per window; 0 disables
	RateLimitWindow time.Duration
}

// Handlers aggregates all HTTP handlers that the server needs to register.
// Archives is optional: it is only wired in modes that have blob storage.
type Handlers struct {
	Health    *handler.HealthHandler
	Events    *handler.EventHandler
	Sequences *handler.SequenceHandler
	Export    *handler.ExportHandler
	Audit     *handler.AuditHandler
	Archives  *handler.ArchiveHandler
}

// Server is the HTTP + WebSocket API in front of the position event log.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered on the ServeMux and
// the middleware chain (rate limiting, CORS, logging, auth) wired around it.
// limiter may be nil when rate limiting is disabled.
func NewServer(cfg Config, handlers Handlers, wsHub *ws.Hub, limiter domain.RateLimiter, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	// Health check (no auth required).
	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)

	// Event log endpoints.
	mux.HandleFunc("GET /api/events", handlers.Events.ListEvents)
	mux.HandleFunc("POST /api/events", handlers.Events.AppendEvent)

	// Per-instance views.
	mux.HandleFunc("GET /api/sequences", handlers.Sequences.ListSequences)
	mux.HandleFunc("GET /api/sequences/active", handlers.Sequences.GetActiveSequence)
	mux.HandleFunc("GET /api/sequences/{sequence}/events", handlers.Sequences.ListSequenceEvents)

	// Snapshot export for the charting tools.
	mux.HandleFunc("GET /api/export", handlers.Export.ExportEvents)

	// Audit trail.
	mux.HandleFunc("GET /api/audit", handlers.Audit.ListAuditEntries)

	// Cold-storage snapshots, when blob storage is wired.
	if handlers.Archives != nil {
		mux.HandleFunc("GET /api/archives", handlers.Archives.ListArchives)
		mux.HandleFunc("GET /api/archives/{path...}", handlers.Archives.DownloadArchive)
	}

	// WebSocket endpoint.
	if wsHub != nil {
		mux.HandleFunc("GET /ws", wsHub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Auth(cfg.APIKey)(h)
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	if limiter != nil && cfg.RateLimit > 0 {
		h = middleware.RateLimit(limiter, cfg.RateLimit, cfg.RateLimitWindow)(h)
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		mux:        mux,
		logger:     logger,
	}
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
