package models

import (
	"fmt"
	"time"
)

// SocketEventType enumerates the typed frames carried by the session socket.
type SocketEventType string

const (
	SocketEventProgress SocketEventType = "progress"
	SocketEventComplete SocketEventType = "complete"
	SocketEventFailed   SocketEventType = "failed"
)

// SocketEvent is a single message on the shared per-session socket. The
// connection carries events for all of the session's jobs; filtering by
// job id happens client-side.
type SocketEvent struct {
	Type     SocketEventType `json:"type"`
	JobID    string          `json:"job_id"`
	Progress *int            `json:"progress,omitempty"`
	Stage    string          `json:"stage,omitempty"`
	Outputs  []Asset         `json:"outputs,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// ToUpdate converts a socket event into the channel-neutral JobUpdate shape.
func (e *SocketEvent) ToUpdate() (*JobUpdate, error) {
	if e.JobID == "" {
		return nil, fmt.Errorf("socket event has no job_id")
	}

	u := &JobUpdate{
		JobID:      e.JobID,
		Source:     SourceSocket,
		ReceivedAt: time.Now(),
	}

	switch e.Type {
	case SocketEventProgress:
		u.Progress = e.Progress
		if e.Stage != "" {
			stage := e.Stage
			u.CurrentStage = &stage
		}
	case SocketEventComplete:
		status := JobStatusCompleted
		u.Status = &status
		u.Outputs = e.Outputs
	case SocketEventFailed:
		status := JobStatusFailed
		u.Status = &status
		if e.Error != "" {
			msg := e.Error
			u.ErrorMessage = &msg
		}
	default:
		return nil, fmt.Errorf("unknown socket event type: %s", e.Type)
	}

	return u, nil
}
