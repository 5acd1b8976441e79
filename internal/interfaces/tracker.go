package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/gentrack/internal/models"
)

// ErrJobActive is returned by Submit while another job is still tracked.
// The controller is single-flight: exactly one job at a time.
var ErrJobActive = errors.New("a job is already being tracked")

// JobTracker is the controller owning the canonical job state. It fans three
// update channels into a single reconciliation loop and exposes the merged
// state to observers.
type JobTracker interface {
	// Start connects the session socket, runs the recovery scan and starts
	// the reconciliation loop. Must be called once before Submit.
	Start(ctx context.Context) error

	// Stop tears down channels and the loop. Safe to call more than once.
	Stop()

	// Submit creates a new job on the backend and attaches to it.
	// Returns ErrJobActive while a job is tracked, or *SubmissionError
	// when the backend rejects the request before a job id exists.
	Submit(ctx context.Context, req *models.JobRequest) (string, error)

	// Cancel locks local state to cancelled immediately and issues a
	// best-effort delete to the backend.
	Cancel(ctx context.Context) error

	// State returns a clone of canonical state, or nil when idle.
	State() *models.JobState

	// TrackedJobID returns the id of the tracked job, or "" when idle.
	TrackedJobID() string
}
