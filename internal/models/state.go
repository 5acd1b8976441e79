package models

// JobState is the client-side canonical state for the tracked job. It is
// owned exclusively by the reconciler; every other component reads clones.
// Locked becomes true when a terminal status is committed and no further
// update is applied after that.
type JobState struct {
	Job
	Locked bool `json:"locked"`
}

// NewJobState seeds canonical state from a freshly attached job record.
func NewJobState(job *Job) *JobState {
	return &JobState{
		Job:    *job,
		Locked: job.Status.IsTerminal(),
	}
}

// Clone returns an independent copy safe to hand to observers.
func (s *JobState) Clone() *JobState {
	if s == nil {
		return nil
	}
	out := *s
	if s.Outputs != nil {
		out.Outputs = make([]Asset, len(s.Outputs))
		copy(out.Outputs, s.Outputs)
	}
	return &out
}
