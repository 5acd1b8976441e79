// -----------------------------------------------------------------------
// Tracker - Single-flight job lifecycle controller (fan-in event loop)
// -----------------------------------------------------------------------

package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"

	"github.com/ternarybob/gentrack/internal/channels"
	"github.com/ternarybob/gentrack/internal/common"
	"github.com/ternarybob/gentrack/internal/interfaces"
	"github.com/ternarybob/gentrack/internal/models"
)

// updateQueueSize bounds the fan-in channel. Channels block briefly when
// the loop falls behind rather than dropping updates.
const updateQueueSize = 64

// Tracker is the controller owning canonical job state. The three channel
// adapters and the timeout supervisor all emit into one fan-in queue
// consumed by a single reconciliation loop; nothing else ever touches the
// reconciler. Exactly one job is tracked at a time.
type Tracker struct {
	config  *common.Config
	backend interfaces.BackendClient
	store   interfaces.StartTimeStore
	events  interfaces.EventService
	logger  arbor.ILogger

	updates    chan *models.JobUpdate
	polling    *channels.PollingChannel
	pushfeed   *channels.PushFeedChannel
	socket     *channels.SocketChannel
	supervisor *TimeoutSupervisor
	resolver   *ResultResolver
	reconciler *Reconciler
	scanner    *RecoveryScanner
	throttle   *rate.Limiter
	validate   *validator.Validate

	mu       sync.RWMutex
	jobID    string
	snapshot *models.JobState

	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

// New wires a tracker from its collaborators
func New(config *common.Config, backend interfaces.BackendClient, store interfaces.StartTimeStore, events interfaces.EventService, logger arbor.ILogger) *Tracker {
	updates := make(chan *models.JobUpdate, updateQueueSize)

	return &Tracker{
		config:     config,
		backend:    backend,
		store:      store,
		events:     events,
		logger:     logger,
		updates:    updates,
		polling:    channels.NewPollingChannel(backend, config.Tracking.PollIntervalDuration(), updates, logger),
		pushfeed:   channels.NewPushFeedChannel(&config.PushFeed, updates, logger),
		socket:     channels.NewSocketChannel(&config.Socket, updates, logger),
		supervisor: NewTimeoutSupervisor(&config.Tracking, updates, logger),
		resolver:   NewResultResolver(backend, logger),
		reconciler: NewReconciler(logger),
		scanner:    NewRecoveryScanner(backend, store, config.Tracking.RecoveryWindowDuration(), logger),
		throttle:   rate.NewLimiter(rate.Every(config.Tracking.ProgressThrottleDuration()), 1),
		validate:   validator.New(),
	}
}

// Start connects the session socket, runs the reconciliation loop and
// performs the one-shot recovery scan. Must be called once before Submit.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.started {
		t.mu.Unlock()
		return fmt.Errorf("tracker already started")
	}
	t.ctx, t.cancel = context.WithCancel(ctx)
	t.started = true
	t.mu.Unlock()

	t.socket.Connect(t.ctx)

	common.SafeGo(t.logger, "trackerLoop", func() {
		t.run(t.ctx)
	})

	// Recovery runs before any job is known locally
	if job, startedAt := t.scanner.Scan(t.ctx); job != nil {
		t.attach(job, startedAt)
	}

	t.logger.Info().Msg("Job tracker started")
	return nil
}

// Stop tears down channels and the loop. Safe to call more than once.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return
	}
	t.started = false
	cancel := t.cancel
	t.mu.Unlock()

	t.supervisor.Disarm()
	t.polling.Detach()
	t.pushfeed.Detach()
	t.socket.Close()
	if cancel != nil {
		cancel()
	}

	t.logger.Info().Msg("Job tracker stopped")
}

// Submit creates a new job on the backend and attaches to it
func (t *Tracker) Submit(ctx context.Context, req *models.JobRequest) (string, error) {
	t.mu.RLock()
	active := t.jobID
	t.mu.RUnlock()
	if active != "" {
		return "", interfaces.ErrJobActive
	}

	if err := t.validate.Struct(req); err != nil {
		return "", &interfaces.SubmissionError{Message: fmt.Sprintf("invalid job request: %v", err)}
	}

	receipt, err := t.backend.CreateJob(ctx, req)
	if err != nil {
		return "", err
	}

	status := receipt.Status
	if !status.IsValid() {
		status = models.JobStatusQueued
	}

	job := &models.Job{
		ID:        receipt.JobID,
		Type:      req.Type,
		Status:    status,
		Progress:  0,
		CreatedAt: time.Now(),
	}

	// The durable start time is written before tracking begins so a crash
	// between submit and attach still yields correct timeout accounting
	// after recovery.
	startedAt := time.Now()
	if err := t.store.Put(ctx, job.ID, startedAt); err != nil {
		t.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Failed to persist start time record")
	}

	t.attach(job, startedAt)
	return job.ID, nil
}

// Cancel locks local state to cancelled and issues a best-effort delete.
// The lock travels through the fan-in queue, so every update already queued
// behind it - and everything arriving later - is discarded.
func (t *Tracker) Cancel(ctx context.Context) error {
	t.mu.RLock()
	jobID := t.jobID
	t.mu.RUnlock()
	if jobID == "" {
		return interfaces.ErrNoActiveJob
	}

	status := models.JobStatusCancelled
	update := &models.JobUpdate{
		JobID:      jobID,
		Status:     &status,
		Source:     models.SourceSupervisor,
		ReceivedAt: time.Now(),
	}

	select {
	case t.updates <- update:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := t.backend.CancelJob(ctx, jobID); err != nil {
		// Local state is already cancelled; the backend delete is advisory
		t.logger.Warn().Err(err).Str("job_id", jobID).Msg("Backend cancel failed")
	}
	return nil
}

// State returns a clone of canonical state, or nil when nothing was tracked
func (t *Tracker) State() *models.JobState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snapshot.Clone()
}

// TrackedJobID returns the id of the tracked job, or "" when idle
func (t *Tracker) TrackedJobID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.jobID
}

// run is the reconciliation loop: the single consumer of the fan-in queue
// and the only caller of the reconciler.
func (t *Tracker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case update := <-t.updates:
			t.handleUpdate(ctx, update)
		}
	}
}

func (t *Tracker) handleUpdate(ctx context.Context, update *models.JobUpdate) {
	t.mu.RLock()
	jobID := t.jobID
	t.mu.RUnlock()

	if update == nil || update.JobID != jobID || jobID == "" {
		// Late updates for a detached job land here
		return
	}

	result := t.reconciler.Apply(update)
	if result.conflict {
		t.publish(ctx, interfaces.EventTerminalConflict, update)
	}
	if !result.changed {
		return
	}

	t.mu.Lock()
	t.snapshot = result.state
	t.mu.Unlock()

	t.logger.Debug().
		Str("job_id", jobID).
		Str("source", string(update.Source)).
		Str("status", string(result.state.Status)).
		Int("progress", result.state.Progress).
		Msg("Canonical state updated")

	// Progress-only changes are throttled; status transitions always notify
	if result.statusChanged || t.throttle.Allow() {
		t.publish(ctx, interfaces.EventStateChanged, result.state)
	}

	if result.state.Locked {
		t.finish(ctx, result.state)
	}
}

// finish handles the terminal transition: result resolution for completed
// jobs, then detach.
func (t *Tracker) finish(ctx context.Context, state *models.JobState) {
	if state.Status == models.JobStatusCompleted {
		if resolved := t.resolver.Resolve(ctx, state.ID, state.Outputs); resolved != nil {
			snapshot := t.reconciler.SetOutputs(resolved)
			t.mu.Lock()
			t.snapshot = snapshot
			t.mu.Unlock()
			t.publish(ctx, interfaces.EventResultResolved, snapshot)
		}
	}

	t.detach(ctx, string(state.Status))
}

// attach registers the job everywhere: reconciler, all three channels and
// the timeout supervisor.
func (t *Tracker) attach(job *models.Job, startedAt time.Time) {
	snapshot := t.reconciler.Attach(job)

	t.mu.Lock()
	t.jobID = job.ID
	t.snapshot = snapshot
	ctx := t.ctx
	t.mu.Unlock()

	t.socket.Attach(job.ID)
	t.pushfeed.Attach(job.ID)
	t.polling.Attach(job.ID)
	t.supervisor.Arm(ctx, job.ID, job.Type, startedAt)

	t.logger.Info().
		Str("job_id", job.ID).
		Str("type", string(job.Type)).
		Str("status", string(job.Status)).
		Msg("Tracking job")
	t.publish(ctx, interfaces.EventJobAttached, snapshot)
}

// detach unsubscribes the per-job channels, clears the supervisor and
// deletes the durable start-time record. The session socket stays up.
func (t *Tracker) detach(ctx context.Context, reason string) {
	t.mu.Lock()
	jobID := t.jobID
	t.jobID = ""
	t.mu.Unlock()
	if jobID == "" {
		return
	}

	t.supervisor.Disarm()
	t.polling.Detach()
	t.pushfeed.Detach()
	t.socket.Detach()
	t.reconciler.Reset()

	if err := t.store.Delete(ctx, jobID); err != nil {
		t.logger.Warn().Err(err).Str("job_id", jobID).Msg("Failed to delete start time record")
	}

	t.logger.Info().
		Str("job_id", jobID).
		Str("reason", reason).
		Msg("Job detached")
	t.publish(ctx, interfaces.EventJobDetached, jobID)
}

func (t *Tracker) publish(ctx context.Context, eventType interfaces.EventType, payload interface{}) {
	if t.events == nil {
		return
	}
	if err := t.events.Publish(ctx, interfaces.Event{Type: eventType, Payload: payload}); err != nil {
		t.logger.Warn().Err(err).Str("event_type", string(eventType)).Msg("Failed to publish event")
	}
}

var _ interfaces.JobTracker = (*Tracker)(nil)
