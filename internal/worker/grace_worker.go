package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-session-engine/internal/service"
)

const graceSweepInterval = 30 * time.Second

// GraceWorker periodically expires pending grace requests that were
// never decided within their window. Undecided requests time out by
// schedule, not by exception.
type GraceWorker struct {
	grace *service.GracePeriodService
	log   zerolog.Logger
}

// NewGraceWorker creates a new GraceWorker.
func NewGraceWorker(grace *service.GracePeriodService, log zerolog.Logger) *GraceWorker {
	return &GraceWorker{
		grace: grace,
		log:   log.With().Str("component", "grace_worker").Logger(),
	}
}

// Start runs the sweep loop until the context is cancelled. Call in a
// goroutine.
func (w *GraceWorker) Start(ctx context.Context) {
	w.log.Info().Msg("GraceWorker started")

	ticker := time.NewTicker(graceSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("GraceWorker stopped")
			return
		case <-ticker.C:
			if _, err := w.grace.ExpireStale(ctx); err != nil {
				w.log.Error().Err(err).Msg("Grace sweep failed")
			}
		}
	}
}
