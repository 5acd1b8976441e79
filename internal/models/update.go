package models

import "time"

// SourceChannel identifies which update channel produced a JobUpdate.
type SourceChannel string

const (
	SourcePolling    SourceChannel = "polling"
	SourcePushFeed   SourceChannel = "pushfeed"
	SourceSocket     SourceChannel = "socket"
	SourceSupervisor SourceChannel = "supervisor"
)

// JobUpdate is a partial, possibly stale snapshot of a job observed on one
// channel. Nil pointer fields mean "not reported by this channel". ReceivedAt
// is local receipt time and carries no ordering authority; the reconciler
// merge is arrival-order independent.
type JobUpdate struct {
	JobID        string        `json:"job_id"`
	Status       *JobStatus    `json:"status,omitempty"`
	Progress     *int          `json:"progress,omitempty"`
	CurrentStage *string       `json:"current_stage,omitempty"`
	Outputs      []Asset       `json:"outputs,omitempty"`
	ErrorMessage *string       `json:"error_message,omitempty"`
	Source       SourceChannel `json:"source"`
	ReceivedAt   time.Time     `json:"received_at"`
}

// UpdateFromJob builds a full-row JobUpdate from a complete job record.
// Used by the polling and push-feed channels, which always see whole rows.
func UpdateFromJob(job *Job, source SourceChannel) *JobUpdate {
	status := job.Status
	progress := job.Progress
	u := &JobUpdate{
		JobID:      job.ID,
		Status:     &status,
		Progress:   &progress,
		Outputs:    job.Outputs,
		Source:     source,
		ReceivedAt: time.Now(),
	}
	if job.CurrentStage != "" {
		stage := job.CurrentStage
		u.CurrentStage = &stage
	}
	if job.ErrorMessage != "" {
		msg := job.ErrorMessage
		u.ErrorMessage = &msg
	}
	return u
}
