// -----------------------------------------------------------------------
// Job - Canonical server-side job shape and status machine
// -----------------------------------------------------------------------

package models

import (
	"fmt"
	"time"
)

// JobType identifies the kind of generation work. Each type carries its own
// wall-clock timeout budget (see common.TrackingConfig.Timeouts).
type JobType string

const (
	JobTypeImage JobType = "image"
	JobTypeVideo JobType = "video"
)

// JobStatus represents the lifecycle state of a generation job.
//
// Server-reported values: pending, queued, processing, completed, failed,
// cancelled. timed_out is client-only: the supervisor forces it when a job
// exceeds its budget without the backend ever reporting failure.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
	JobStatusTimedOut   JobStatus = "timed_out"
)

// statusRanks orders statuses along the lifecycle. All terminal statuses
// share the same rank: once any of them is reached no other applies.
var statusRanks = map[JobStatus]int{
	JobStatusPending:    0,
	JobStatusQueued:     1,
	JobStatusProcessing: 2,
	JobStatusCompleted:  3,
	JobStatusFailed:     3,
	JobStatusCancelled:  3,
	JobStatusTimedOut:   3,
}

// Rank returns the position of the status in the lifecycle partial order.
// Unknown statuses rank below pending so they can never displace known state.
func (s JobStatus) Rank() int {
	if rank, ok := statusRanks[s]; ok {
		return rank
	}
	return -1
}

// IsTerminal reports whether the status is absorbing.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusTimedOut:
		return true
	}
	return false
}

// IsValid reports whether the status is a known lifecycle value.
func (s JobStatus) IsValid() bool {
	_, ok := statusRanks[s]
	return ok
}

// Asset is a reference to a produced output artifact.
type Asset struct {
	ID          string `json:"id,omitempty"`
	URL         string `json:"url"`
	ContentType string `json:"content_type,omitempty"`
}

// Job is the canonical, server-authoritative job record as returned by the
// backend (fetch, recovery query) and carried by push-feed row snapshots.
type Job struct {
	ID           string    `json:"id"`
	Type         JobType   `json:"type"`
	Status       JobStatus `json:"status"`
	Progress     int       `json:"progress"`
	CurrentStage string    `json:"current_stage,omitempty"`
	Outputs      []Asset   `json:"outputs,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Validate checks the minimal shape required before a job can be tracked.
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID is required")
	}
	if !j.Status.IsValid() {
		return fmt.Errorf("unknown job status: %s", j.Status)
	}
	if j.Progress < 0 || j.Progress > 100 {
		return fmt.Errorf("job progress out of range: %d", j.Progress)
	}
	return nil
}

// JobRequest carries the submission parameters for a new generation job.
// Params are opaque to the tracking core and passed through to the backend.
type JobRequest struct {
	Type   JobType                `json:"type" yaml:"type" validate:"required,oneof=image video"`
	Params map[string]interface{} `json:"params,omitempty" yaml:"params"`
}

// SubmissionReceipt is the backend's response to a successful job creation.
type SubmissionReceipt struct {
	JobID            string    `json:"job_id"`
	Status           JobStatus `json:"status"`
	CreditsEstimated float64   `json:"credits_estimated,omitempty"`
}
