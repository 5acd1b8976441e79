package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/gentrack/internal/common"
	"github.com/ternarybob/gentrack/internal/models"
)

// TimeoutSupervisor enforces the per-job-type wall-clock budget. Elapsed
// time is measured from the durable original start time, never from the
// current attach, so a client restart grants no extra runtime. On breach it
// injects a single timed_out update through the same fan-in channel as the
// other sources; the reconciler's lock makes a late breach a no-op.
type TimeoutSupervisor struct {
	tracking *common.TrackingConfig
	sink     chan<- *models.JobUpdate
	logger   arbor.ILogger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewTimeoutSupervisor creates a disarmed supervisor emitting into sink
func NewTimeoutSupervisor(tracking *common.TrackingConfig, sink chan<- *models.JobUpdate, logger arbor.ILogger) *TimeoutSupervisor {
	return &TimeoutSupervisor{
		tracking: tracking,
		sink:     sink,
		logger:   logger,
	}
}

// Arm starts the budget check for a job, replacing any previous arming
func (s *TimeoutSupervisor) Arm(ctx context.Context, jobID string, jobType models.JobType, startedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	budget := s.tracking.TimeoutFor(jobType)
	interval := s.tracking.CheckIntervalDuration()

	common.SafeGo(s.logger, "timeoutSupervisor", func() {
		s.watch(runCtx, jobID, startedAt, budget, interval)
	})

	s.logger.Debug().
		Str("job_id", jobID).
		Str("type", string(jobType)).
		Dur("budget", budget).
		Str("started_at", startedAt.Format(time.RFC3339)).
		Msg("Timeout supervisor armed")
}

// Disarm stops the budget check
func (s *TimeoutSupervisor) Disarm() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// watch ticks until the budget is breached, then emits exactly one
// timed_out update and exits.
func (s *TimeoutSupervisor) watch(ctx context.Context, jobID string, startedAt time.Time, budget, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			elapsed := time.Since(startedAt)
			if elapsed <= budget {
				continue
			}

			s.logger.Warn().
				Str("job_id", jobID).
				Dur("elapsed", elapsed).
				Dur("budget", budget).
				Msg("Job exceeded timeout budget - forcing timed_out")

			status := models.JobStatusTimedOut
			msg := fmt.Sprintf("job exceeded %s budget without completing", budget)
			update := &models.JobUpdate{
				JobID:        jobID,
				Status:       &status,
				ErrorMessage: &msg,
				Source:       models.SourceSupervisor,
				ReceivedAt:   time.Now(),
			}

			select {
			case s.sink <- update:
			case <-ctx.Done():
			}
			return
		}
	}
}
