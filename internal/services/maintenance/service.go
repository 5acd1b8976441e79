package maintenance

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/gentrack/internal/common"
	"github.com/ternarybob/gentrack/internal/interfaces"
)

// Service prunes orphaned start-time records on a cron schedule. A record
// older than the largest timeout budget plus retention slack can only
// belong to a run that crashed before detaching; the sweep clears it and
// runs a value log GC cycle afterwards.
type Service struct {
	cron    *cron.Cron
	store   interfaces.StartTimeStore
	gc      func() error
	maxAge  time.Duration
	logger  arbor.ILogger
	entryID cron.EntryID
}

// NewService wires the sweep from config. gc may be nil when the store has
// no compaction hook.
func NewService(config *common.Config, store interfaces.StartTimeStore, gc func() error, logger arbor.ILogger) *Service {
	maxAge := config.Tracking.MaxTimeout() + config.Maintenance.RetentionDuration()

	return &Service{
		cron:   cron.New(),
		store:  store,
		gc:     gc,
		maxAge: maxAge,
		logger: logger,
	}
}

// Start schedules the sweep
func (s *Service) Start(schedule string) error {
	entryID, err := s.cron.AddFunc(schedule, s.sweep)
	if err != nil {
		return err
	}
	s.entryID = entryID
	s.cron.Start()

	s.logger.Info().
		Str("schedule", schedule).
		Dur("max_age", s.maxAge).
		Msg("Maintenance sweep scheduled")
	return nil
}

// Stop halts the scheduler and waits for a running sweep to finish
func (s *Service) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Sweep runs one pruning pass immediately. Exposed for tests and for a
// startup sweep before the scheduler takes over.
func (s *Service) Sweep() {
	s.sweep()
}

func (s *Service) sweep() {
	cutoff := time.Now().Add(-s.maxAge)

	removed, err := s.store.DeleteOlderThan(context.Background(), cutoff)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Maintenance sweep failed")
		return
	}
	if removed > 0 {
		s.logger.Info().
			Int("removed", removed).
			Str("cutoff", cutoff.Format(time.RFC3339)).
			Msg("Pruned orphaned start time records")
	}

	if s.gc != nil {
		if err := s.gc(); err != nil {
			s.logger.Debug().Err(err).Msg("Storage GC pass failed")
		}
	}
}
