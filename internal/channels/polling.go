// -----------------------------------------------------------------------
// Polling Channel - Pull-based job row fetch on a fixed interval
// -----------------------------------------------------------------------

package channels

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/gentrack/internal/common"
	"github.com/ternarybob/gentrack/internal/interfaces"
	"github.com/ternarybob/gentrack/internal/models"
)

// PollingChannel fetches the tracked job row every interval and emits a
// full-row JobUpdate. Fetch errors are suppressed and retried next tick:
// the push channels compensate while polling is degraded.
type PollingChannel struct {
	backend  interfaces.BackendClient
	interval time.Duration
	sink     chan<- *models.JobUpdate
	logger   arbor.ILogger

	mu     sync.Mutex
	jobID  string
	cancel context.CancelFunc
}

// NewPollingChannel creates a polling adapter emitting into sink
func NewPollingChannel(backend interfaces.BackendClient, interval time.Duration, sink chan<- *models.JobUpdate, logger arbor.ILogger) *PollingChannel {
	return &PollingChannel{
		backend:  backend,
		interval: interval,
		sink:     sink,
		logger:   logger,
	}
}

// Name identifies the channel
func (p *PollingChannel) Name() models.SourceChannel {
	return models.SourcePolling
}

// Attach starts the poll loop for a job id. A previous loop, if any, is
// stopped first so only one job is ever polled.
func (p *PollingChannel) Attach(jobID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.jobID = jobID
	p.cancel = cancel

	common.SafeGo(p.logger, "pollingChannel", func() {
		p.run(ctx, jobID)
	})

	p.logger.Debug().
		Str("job_id", jobID).
		Dur("interval", p.interval).
		Msg("Polling channel attached")
}

// Detach stops the poll loop
func (p *PollingChannel) Detach() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.jobID = ""
}

func (p *PollingChannel) run(ctx context.Context, jobID string) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug().Str("job_id", jobID).Msg("Polling channel stopped")
			return

		case <-ticker.C:
			job, err := p.backend.GetJob(ctx, jobID)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				// Non-fatal: retry next tick, other channels compensate
				p.logger.Debug().
					Err(err).
					Str("job_id", jobID).
					Msg("Poll fetch failed - retrying next tick")
				continue
			}

			select {
			case p.sink <- models.UpdateFromJob(job, models.SourcePolling):
			case <-ctx.Done():
				return
			}
		}
	}
}

var _ interfaces.UpdateChannel = (*PollingChannel)(nil)
