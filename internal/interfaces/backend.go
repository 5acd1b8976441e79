package interfaces

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/gentrack/internal/models"
)

// ErrNoActiveJob is returned by the recovery query when no non-terminal job
// exists inside the recovery window.
var ErrNoActiveJob = errors.New("no active job")

// SubmissionError indicates job creation was rejected before a job id was
// assigned. It is the only backend error surfaced directly to the caller;
// no tracking begins when it occurs.
type SubmissionError struct {
	StatusCode int
	Message    string
}

func (e *SubmissionError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("job submission rejected (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("job submission rejected: %s", e.Message)
}

// BackendClient defines the operations the tracking core needs from the
// generation backend. The backend itself is opaque: it produces job rows
// and channel events, nothing more.
type BackendClient interface {
	// CreateJob submits a new generation job. Rejections before a job id
	// exists are returned as *SubmissionError.
	CreateJob(ctx context.Context, req *models.JobRequest) (*models.SubmissionReceipt, error)

	// GetJob fetches the full job row by id (polling, attach path).
	GetJob(ctx context.Context, jobID string) (*models.Job, error)

	// FindActiveJob returns the session owner's most recent job with a
	// non-terminal status created inside the window, or ErrNoActiveJob.
	FindActiveJob(ctx context.Context, window time.Duration) (*models.Job, error)

	// CancelJob requests deletion of the job on the backend.
	CancelJob(ctx context.Context, jobID string) error

	// GetJobAssets performs the fallback asset lookup for a completed job
	// whose completion payload carried no outputs.
	GetJobAssets(ctx context.Context, jobID string) ([]models.Asset, error)
}
