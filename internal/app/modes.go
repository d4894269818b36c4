package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/PXY11/UniST/internal/ingest"
	"github.com/PXY11/UniST/internal/pipeline"
	"github.com/PXY11/UniST/internal/server"
	"github.com/PXY11/UniST/internal/server/handler"
	"github.com/PXY11/UniST/internal/server/ws"
	"github.com/PXY11/UniST/internal/service"
)

// ServeMode runs the HTTP + WebSocket API in front of the event log. It
// blocks until the context is cancelled or a component fails.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies, ledgerSvc *service.LedgerService) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, ledgerSvc)
	return g.Wait()
}

// IngestMode imports one record file through the ledger service and exits.
// All accepted events flow through the same fan-out path as live appends.
func (a *App) IngestMode(ctx context.Context, ledgerSvc *service.LedgerService) error {
	a.logger.InfoContext(ctx, "starting ingest mode",
		slog.String("path", a.cfg.Ingest.Path),
		slog.Bool("dry_run", a.cfg.Ingest.DryRun),
	)

	loader := ingest.NewLoader(ledgerSvc, a.logger)
	appended, err := loader.LoadFile(ctx, a.cfg.Ingest.Path, a.cfg.Ingest.DryRun)
	if err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "ingest complete", slog.Int("appended", appended))
	return nil
}

// ArchiveMode executes a single archive run and exits, so operators can
// schedule it externally. The long-running variant lives in FullMode.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode")

	archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.Interval.Duration, a.logger)
	return archiver.Run(ctx)
}

// FullMode runs the API server plus the interval archiver in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, ledgerSvc *service.LedgerService) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, ledgerSvc)
	}

	archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.Archive.Interval.Duration, a.logger)
	g.Go(func() error {
		return archiver.RunInterval(ctx)
	})

	return g.Wait()
}

// startHTTPServer builds the handler set, the WebSocket hub, and the server,
// and registers their goroutines on the group.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, ledgerSvc *service.LedgerService) {
	hub := ws.NewHub(deps.SignalBus, a.cfg.Ledger.PublishChannel, a.cfg.Ledger.Stream, ledgerSvc, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(ledgerSvc, a.logger),
		Events:    handler.NewEventHandler(ledgerSvc, a.logger),
		Sequences: handler.NewSequenceHandler(ledgerSvc, a.logger),
		Export:    handler.NewExportHandler(ledgerSvc, a.logger),
		Audit:     handler.NewAuditHandler(deps.AuditStore, a.logger),
	}
	if deps.BlobReader != nil {
		handlers.Archives = handler.NewArchiveHandler(deps.BlobReader, a.cfg.Archive.Prefix, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:            a.cfg.Server.Port,
		CORSOrigins:     a.cfg.Server.CORSOrigins,
		APIKey:          a.cfg.Server.APIKey,
		RateLimit:       a.cfg.Server.RateLimit,
		RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
