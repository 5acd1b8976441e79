package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	// EventStateChanged fires on every committed change of canonical state.
	EventStateChanged EventType = "state_changed"
	// EventJobAttached fires when a job starts being tracked (submit or recovery).
	EventJobAttached EventType = "job_attached"
	// EventJobDetached fires when tracking ends (terminal, timeout, cancel).
	EventJobDetached EventType = "job_detached"
	// EventResultResolved fires once outputs are resolved for a completed job.
	EventResultResolved EventType = "result_resolved"
	// EventTerminalConflict fires when a contradicting terminal update is
	// discarded after canonical state is already locked.
	EventTerminalConflict EventType = "terminal_conflict"
)

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages pub/sub event bus
type EventService interface {
	// Subscribe to an event type
	Subscribe(eventType EventType, handler EventHandler) error

	// Publish an event to all subscribers asynchronously
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
