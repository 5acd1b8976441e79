// -----------------------------------------------------------------------
// StartTimeStore - Durable job start-time records for timeout accounting
// -----------------------------------------------------------------------

package interfaces

import (
	"context"
	"errors"
	"time"
)

// ErrRecordNotFound is returned when no start-time record exists for a job.
var ErrRecordNotFound = errors.New("start time record not found")

// StartTimeRecord pins the original submission time of a job. The timeout
// supervisor measures elapsed time from this record, never from the current
// attach, so a client restart grants no extra runtime.
type StartTimeRecord struct {
	JobID     string    `json:"job_id"`
	StartedAt time.Time `json:"started_at"`
	CreatedAt time.Time `json:"created_at"`
}

// StartTimeStore defines the durable (jobId -> originalStartTime) store.
// Records are written at attach and deleted at detach; they must survive a
// full client restart. Keyed by job id so historical jobs never collide.
type StartTimeStore interface {
	// Get returns the recorded start time, or ErrRecordNotFound.
	Get(ctx context.Context, jobID string) (time.Time, error)

	// Put writes or overwrites the start time for a job.
	Put(ctx context.Context, jobID string, startedAt time.Time) error

	// GetOrPut returns the existing start time if a record exists,
	// otherwise persists fallback and returns it. Used on re-attach.
	GetOrPut(ctx context.Context, jobID string, fallback time.Time) (time.Time, error)

	// Delete removes the record for a job. Missing records are not an error.
	Delete(ctx context.Context, jobID string) error

	// DeleteOlderThan prunes records whose start time precedes cutoff and
	// returns the number removed. Used by the maintenance sweep to clear
	// orphans left behind by crashed runs.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)

	// List returns all records ordered by start time descending.
	List(ctx context.Context) ([]StartTimeRecord, error)
}
