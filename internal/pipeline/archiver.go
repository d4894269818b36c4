package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/PXY11/UniST/internal/domain"
)

// Archiver drives snapshot uploads to object storage. Each run copies the
// newly closed pool instances and the full event log; nothing is ever
// removed from the database.
type Archiver struct {
	blobArchiver domain.Archiver
	interval     time.Duration
	logger       *slog.Logger
}

// NewArchiver creates a new Archiver. interval controls the spacing of runs
// in RunInterval and falls back to 24h when not positive.
func NewArchiver(blobArchiver domain.Archiver, interval time.Duration, logger *slog.Logger) *Archiver {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Archiver{
		blobArchiver: blobArchiver,
		interval:     interval,
		logger:       logger,
	}
}

// Run executes a single archive run: per-sequence snapshots for instances
// closed since the previous run, then a fresh full-log snapshot.
func (a *Archiver) Run(ctx context.Context) error {
	a.logger.Info("starting archive run")

	uploaded, err := a.blobArchiver.ArchiveClosedSequences(ctx)
	if err != nil {
		return fmt.Errorf("archiving closed sequences: %w", err)
	}
	a.logger.Info("archived closed sequences", slog.Int64("uploaded", uploaded))

	if err := a.blobArchiver.ArchiveFullLog(ctx); err != nil {
		return fmt.Errorf("archiving full log: %w", err)
	}

	a.logger.Info("archive run complete", slog.Int64("sequences_uploaded", uploaded))
	return nil
}

// RunInterval runs immediately, then on every interval tick until the
// context is cancelled. A failed run is logged and the loop keeps going.
func (a *Archiver) RunInterval(ctx context.Context) error {
	a.logger.Info("archiver started", slog.Duration("interval", a.interval))

	if err := a.Run(ctx); err != nil {
		a.logger.Error("archive run failed", slog.String("error", err.Error()))
	}

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("archiver stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := a.Run(ctx); err != nil {
				a.logger.Error("archive run failed", slog.String("error", err.Error()))
			}
		}
	}
}
