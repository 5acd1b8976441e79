package tracker

import (
	"context"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/gentrack/internal/interfaces"
	"github.com/ternarybob/gentrack/internal/models"
)

// RecoveryScanner re-attaches to a still-active job after a client restart.
// It runs once per controller start, before any job is known locally. Every
// failure mode degrades to "start idle", never to a stuck state.
type RecoveryScanner struct {
	backend interfaces.BackendClient
	store   interfaces.StartTimeStore
	window  time.Duration
	logger  arbor.ILogger
}

// NewRecoveryScanner creates a scanner with the configured recency window
func NewRecoveryScanner(backend interfaces.BackendClient, store interfaces.StartTimeStore, window time.Duration, logger arbor.ILogger) *RecoveryScanner {
	return &RecoveryScanner{
		backend: backend,
		store:   store,
		window:  window,
		logger:  logger,
	}
}

// Scan queries for the owner's most recent non-terminal job inside the
// window. It returns the job and its original start time, or (nil, zero)
// when the controller should start idle. The start time comes from the
// persisted record when one exists, else from the server's created_at.
func (r *RecoveryScanner) Scan(ctx context.Context) (*models.Job, time.Time) {
	job, err := r.backend.FindActiveJob(ctx, r.window)
	if err != nil {
		if err == interfaces.ErrNoActiveJob {
			r.logger.Debug().Msg("No active job to recover")
		} else {
			// RecoveryQueryError: treated exactly like "not found"
			r.logger.Warn().Err(err).Msg("Recovery query failed - starting idle")
		}
		return nil, time.Time{}
	}

	// The query already filters; these guards hold even against a backend
	// that ignores the filter parameters.
	if job.Status.IsTerminal() {
		r.logger.Debug().
			Str("job_id", job.ID).
			Str("status", string(job.Status)).
			Msg("Recovered job already terminal - starting idle")
		return nil, time.Time{}
	}
	if job.CreatedAt.Before(time.Now().Add(-r.window)) {
		r.logger.Debug().
			Str("job_id", job.ID).
			Str("created_at", job.CreatedAt.Format(time.RFC3339)).
			Msg("Recovered job outside recovery window - starting idle")
		return nil, time.Time{}
	}

	startedAt, err := r.store.GetOrPut(ctx, job.ID, job.CreatedAt)
	if err != nil {
		r.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to read start time record - using created_at")
		startedAt = job.CreatedAt
	}

	r.logger.Info().
		Str("job_id", job.ID).
		Str("status", string(job.Status)).
		Int("progress", job.Progress).
		Str("started_at", startedAt.Format(time.RFC3339)).
		Msg("Re-attaching to in-flight job")

	return job, startedAt
}
