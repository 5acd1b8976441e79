package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/gentrack/internal/interfaces"
)

// StartTimeStorage implements the StartTimeStore interface for Badger.
// Records survive process restarts, which is what makes timeout accounting
// correct across reloads.
type StartTimeStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewStartTimeStorage creates a new StartTimeStorage instance
func NewStartTimeStorage(db *BadgerDB, logger arbor.ILogger) interfaces.StartTimeStore {
	return &StartTimeStorage{
		db:     db,
		logger: logger,
	}
}

// Get retrieves the recorded start time for a job
func (s *StartTimeStorage) Get(ctx context.Context, jobID string) (time.Time, error) {
	var record interfaces.StartTimeRecord
	err := s.db.Store().Get(jobID, &record)
	if err == badgerhold.ErrNotFound {
		return time.Time{}, interfaces.ErrRecordNotFound
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get start time record: %w", err)
	}
	return record.StartedAt, nil
}

// Put writes or overwrites the start time for a job
func (s *StartTimeStorage) Put(ctx context.Context, jobID string, startedAt time.Time) error {
	if jobID == "" {
		return fmt.Errorf("job ID is required")
	}

	record := interfaces.StartTimeRecord{
		JobID:     jobID,
		StartedAt: startedAt,
		CreatedAt: time.Now(),
	}

	if err := s.db.Store().Upsert(jobID, &record); err != nil {
		return fmt.Errorf("failed to save start time record: %w", err)
	}

	s.logger.Debug().
		Str("job_id", jobID).
		Str("started_at", startedAt.Format(time.RFC3339)).
		Msg("Start time record persisted")
	return nil
}

// GetOrPut returns the existing start time if a record exists, otherwise
// persists fallback and returns it. The existing record wins so a re-attach
// never resets the timeout clock.
func (s *StartTimeStorage) GetOrPut(ctx context.Context, jobID string, fallback time.Time) (time.Time, error) {
	startedAt, err := s.Get(ctx, jobID)
	if err == nil {
		return startedAt, nil
	}
	if err != interfaces.ErrRecordNotFound {
		return time.Time{}, err
	}

	if err := s.Put(ctx, jobID, fallback); err != nil {
		return time.Time{}, err
	}
	return fallback, nil
}

// Delete removes the record for a job. Missing records are not an error.
func (s *StartTimeStorage) Delete(ctx context.Context, jobID string) error {
	err := s.db.Store().Delete(jobID, &interfaces.StartTimeRecord{})
	if err != nil && err != badgerhold.ErrNotFound {
		return fmt.Errorf("failed to delete start time record: %w", err)
	}
	return nil
}

// DeleteOlderThan prunes records whose start time precedes cutoff
func (s *StartTimeStorage) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	query := badgerhold.Where("StartedAt").Lt(cutoff)

	var stale []interfaces.StartTimeRecord
	if err := s.db.Store().Find(&stale, query); err != nil {
		return 0, fmt.Errorf("failed to find stale start time records: %w", err)
	}
	if len(stale) == 0 {
		return 0, nil
	}

	if err := s.db.Store().DeleteMatching(&interfaces.StartTimeRecord{}, query); err != nil {
		return 0, fmt.Errorf("failed to delete stale start time records: %w", err)
	}

	s.logger.Debug().
		Int("count", len(stale)).
		Str("cutoff", cutoff.Format(time.RFC3339)).
		Msg("Pruned stale start time records")
	return len(stale), nil
}

// List returns all records ordered by start time descending
func (s *StartTimeStorage) List(ctx context.Context) ([]interfaces.StartTimeRecord, error) {
	var records []interfaces.StartTimeRecord
	query := badgerhold.Where("JobID").Ne("").SortBy("StartedAt").Reverse()
	if err := s.db.Store().Find(&records, query); err != nil {
		return nil, fmt.Errorf("failed to list start time records: %w", err)
	}
	return records, nil
}
