package interfaces

import "github.com/ternarybob/gentrack/internal/models"

// UpdateChannel is one independent source of JobUpdates for the tracked job.
// Channels are unreliable by contract: any of them may silently stop
// delivering, and the remaining ones compensate. Channel-level errors never
// propagate past the adapter.
type UpdateChannel interface {
	// Name identifies the channel in logs and update tags.
	Name() models.SourceChannel

	// Attach points the channel at a job id. For per-job channels this
	// starts the underlying poll loop or subscription; for the session
	// socket it only narrows the client-side filter.
	Attach(jobID string)

	// Detach stops delivery for the current job. Per-job resources are
	// released; session-wide resources stay up.
	Detach()
}
