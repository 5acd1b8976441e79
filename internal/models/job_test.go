package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatus_Rank(t *testing.T) {
	tests := []struct {
		status JobStatus
		rank   int
	}{
		{JobStatusPending, 0},
		{JobStatusQueued, 1},
		{JobStatusProcessing, 2},
		{JobStatusCompleted, 3},
		{JobStatusFailed, 3},
		{JobStatusCancelled, 3},
		{JobStatusTimedOut, 3},
		{JobStatus("bogus"), -1},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.rank, tt.status.Rank(), "rank of %s", tt.status)
	}
}

func TestJobStatus_IsTerminal(t *testing.T) {
	terminal := []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusTimedOut}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "%s must be terminal", s)
	}

	active := []JobStatus{JobStatusPending, JobStatusQueued, JobStatusProcessing}
	for _, s := range active {
		assert.False(t, s.IsTerminal(), "%s must not be terminal", s)
	}
}

func TestJob_Validate(t *testing.T) {
	job := &Job{ID: "job-1", Status: JobStatusQueued, Progress: 0}
	assert.NoError(t, job.Validate())

	assert.Error(t, (&Job{Status: JobStatusQueued}).Validate(), "missing id")
	assert.Error(t, (&Job{ID: "x", Status: "weird"}).Validate(), "unknown status")
	assert.Error(t, (&Job{ID: "x", Status: JobStatusQueued, Progress: 120}).Validate(), "progress out of range")
}

func TestUpdateFromJob(t *testing.T) {
	job := &Job{
		ID:           "job-1",
		Status:       JobStatusProcessing,
		Progress:     35,
		CurrentStage: "diffusion",
	}

	u := UpdateFromJob(job, SourcePushFeed)
	require.NotNil(t, u.Status)
	assert.Equal(t, JobStatusProcessing, *u.Status)
	require.NotNil(t, u.Progress)
	assert.Equal(t, 35, *u.Progress)
	require.NotNil(t, u.CurrentStage)
	assert.Equal(t, "diffusion", *u.CurrentStage)
	assert.Nil(t, u.ErrorMessage)
	assert.Equal(t, SourcePushFeed, u.Source)
}

func TestSocketEvent_ToUpdate(t *testing.T) {
	progress := 50
	tests := []struct {
		name    string
		event   SocketEvent
		wantErr bool
		check   func(t *testing.T, u *JobUpdate)
	}{
		{
			name:  "progress event",
			event: SocketEvent{Type: SocketEventProgress, JobID: "job-1", Progress: &progress, Stage: "render"},
			check: func(t *testing.T, u *JobUpdate) {
				assert.Nil(t, u.Status)
				assert.Equal(t, 50, *u.Progress)
				assert.Equal(t, "render", *u.CurrentStage)
			},
		},
		{
			name:  "complete event",
			event: SocketEvent{Type: SocketEventComplete, JobID: "job-1", Outputs: []Asset{{URL: "https://x/y.png"}}},
			check: func(t *testing.T, u *JobUpdate) {
				assert.Equal(t, JobStatusCompleted, *u.Status)
				assert.Len(t, u.Outputs, 1)
			},
		},
		{
			name:  "failed event",
			event: SocketEvent{Type: SocketEventFailed, JobID: "job-1", Error: "gpu exploded"},
			check: func(t *testing.T, u *JobUpdate) {
				assert.Equal(t, JobStatusFailed, *u.Status)
				assert.Equal(t, "gpu exploded", *u.ErrorMessage)
			},
		},
		{
			name:    "missing job id",
			event:   SocketEvent{Type: SocketEventProgress},
			wantErr: true,
		},
		{
			name:    "unknown type",
			event:   SocketEvent{Type: "telemetry", JobID: "job-1"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := tt.event.ToUpdate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, SourceSocket, u.Source)
			tt.check(t, u)
		})
	}
}

func TestJobState_Clone(t *testing.T) {
	state := &JobState{
		Job: Job{
			ID:      "job-1",
			Status:  JobStatusCompleted,
			Outputs: []Asset{{URL: "https://x/y.png"}},
		},
		Locked: true,
	}

	clone := state.Clone()
	clone.Outputs[0].URL = "mutated"
	assert.Equal(t, "https://x/y.png", state.Outputs[0].URL, "clone must not share the outputs slice")

	var nilState *JobState
	assert.Nil(t, nilState.Clone())
}
