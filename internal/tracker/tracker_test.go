package tracker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/gentrack/internal/common"
	"github.com/ternarybob/gentrack/internal/interfaces"
	"github.com/ternarybob/gentrack/internal/models"
	"github.com/ternarybob/gentrack/internal/services/events"
)

// fakeBackend implements BackendClient with overridable function fields
type fakeBackend struct {
	mu        sync.Mutex
	createFn  func(ctx context.Context, req *models.JobRequest) (*models.SubmissionReceipt, error)
	getFn     func(ctx context.Context, jobID string) (*models.Job, error)
	findFn    func(ctx context.Context, window time.Duration) (*models.Job, error)
	assetsFn  func(ctx context.Context, jobID string) ([]models.Asset, error)
	cancelled []string
}

func (f *fakeBackend) CreateJob(ctx context.Context, req *models.JobRequest) (*models.SubmissionReceipt, error) {
	if f.createFn != nil {
		return f.createFn(ctx, req)
	}
	return &models.SubmissionReceipt{JobID: "job-1", Status: models.JobStatusQueued}, nil
}

func (f *fakeBackend) GetJob(ctx context.Context, jobID string) (*models.Job, error) {
	if f.getFn != nil {
		return f.getFn(ctx, jobID)
	}
	return nil, fmt.Errorf("not found")
}

func (f *fakeBackend) FindActiveJob(ctx context.Context, window time.Duration) (*models.Job, error) {
	if f.findFn != nil {
		return f.findFn(ctx, window)
	}
	return nil, interfaces.ErrNoActiveJob
}

func (f *fakeBackend) CancelJob(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, jobID)
	return nil
}

func (f *fakeBackend) GetJobAssets(ctx context.Context, jobID string) ([]models.Asset, error) {
	if f.assetsFn != nil {
		return f.assetsFn(ctx, jobID)
	}
	return nil, nil
}

func (f *fakeBackend) cancelledJobs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

// memStore is an in-memory StartTimeStore for tests
type memStore struct {
	mu      sync.Mutex
	records map[string]time.Time
}

func newMemStore() *memStore {
	return &memStore{records: make(map[string]time.Time)}
}

func (m *memStore) Get(ctx context.Context, jobID string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.records[jobID]; ok {
		return t, nil
	}
	return time.Time{}, interfaces.ErrRecordNotFound
}

func (m *memStore) Put(ctx context.Context, jobID string, startedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[jobID] = startedAt
	return nil
}

func (m *memStore) GetOrPut(ctx context.Context, jobID string, fallback time.Time) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.records[jobID]; ok {
		return t, nil
	}
	m.records[jobID] = fallback
	return fallback, nil
}

func (m *memStore) Delete(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, jobID)
	return nil
}

func (m *memStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for id, t := range m.records {
		if t.Before(cutoff) {
			delete(m.records, id)
			removed++
		}
	}
	return removed, nil
}

func (m *memStore) List(ctx context.Context) ([]interfaces.StartTimeRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []interfaces.StartTimeRecord
	for id, t := range m.records {
		out = append(out, interfaces.StartTimeRecord{JobID: id, StartedAt: t})
	}
	return out, nil
}

func (m *memStore) has(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.records[jobID]
	return ok
}

func testConfig() *common.Config {
	cfg := common.NewDefaultConfig()
	cfg.Tracking.PollInterval = "10ms"
	cfg.Tracking.CheckInterval = "5ms"
	cfg.Tracking.ProgressThrottle = "1ms"
	cfg.Tracking.Timeouts = map[string]string{
		"image": "300ms",
		"video": "2s",
	}
	// Websocket channels stay disabled; updates are injected directly or
	// flow through polling.
	cfg.Socket.URL = ""
	cfg.PushFeed.URL = ""
	return cfg
}

func newTestTracker(t *testing.T, backend interfaces.BackendClient, store interfaces.StartTimeStore) *Tracker {
	t.Helper()
	trk := New(testConfig(), backend, store, events.NewService(testLogger()), testLogger())
	return trk
}

func TestTracker_SubmitTracksToCompletion(t *testing.T) {
	job := &models.Job{ID: "job-1", Type: models.JobTypeImage, Status: models.JobStatusQueued, CreatedAt: time.Now()}
	var mu sync.Mutex

	backend := &fakeBackend{
		getFn: func(ctx context.Context, jobID string) (*models.Job, error) {
			mu.Lock()
			defer mu.Unlock()
			snapshot := *job
			return &snapshot, nil
		},
	}
	store := newMemStore()
	trk := newTestTracker(t, backend, store)

	require.NoError(t, trk.Start(context.Background()))
	defer trk.Stop()

	jobID, err := trk.Submit(context.Background(), &models.JobRequest{Type: models.JobTypeImage})
	require.NoError(t, err)
	assert.Equal(t, "job-1", jobID)
	assert.True(t, store.has("job-1"), "start time record written at attach")

	// Backend advances through processing to completed
	mu.Lock()
	job.Status = models.JobStatusProcessing
	job.Progress = 55
	mu.Unlock()

	require.Eventually(t, func() bool {
		st := trk.State()
		return st != nil && st.Status == models.JobStatusProcessing && st.Progress == 55
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	job.Status = models.JobStatusCompleted
	job.Progress = 100
	job.Outputs = []models.Asset{{URL: "https://cdn.example.com/out.png"}}
	mu.Unlock()

	require.Eventually(t, func() bool {
		st := trk.State()
		return st != nil && st.Status == models.JobStatusCompleted && st.Locked
	}, time.Second, 5*time.Millisecond)

	// Detached: single-flight slot free, record deleted, outputs resolved
	require.Eventually(t, func() bool {
		return trk.TrackedJobID() == "" && !store.has("job-1")
	}, time.Second, 5*time.Millisecond)

	st := trk.State()
	require.Len(t, st.Outputs, 1)
	assert.Contains(t, st.Outputs[0].URL, "cb=", "resolved URL carries a cache-defeating token")
}

func TestTracker_SingleFlight(t *testing.T) {
	backend := &fakeBackend{
		getFn: func(ctx context.Context, jobID string) (*models.Job, error) {
			return &models.Job{ID: jobID, Type: models.JobTypeImage, Status: models.JobStatusProcessing, CreatedAt: time.Now()}, nil
		},
	}
	trk := newTestTracker(t, backend, newMemStore())
	require.NoError(t, trk.Start(context.Background()))
	defer trk.Stop()

	_, err := trk.Submit(context.Background(), &models.JobRequest{Type: models.JobTypeImage})
	require.NoError(t, err)

	_, err = trk.Submit(context.Background(), &models.JobRequest{Type: models.JobTypeImage})
	assert.ErrorIs(t, err, interfaces.ErrJobActive)
}

func TestTracker_SubmissionErrorStartsNoTracking(t *testing.T) {
	backend := &fakeBackend{
		createFn: func(ctx context.Context, req *models.JobRequest) (*models.SubmissionReceipt, error) {
			return nil, &interfaces.SubmissionError{StatusCode: 402, Message: "insufficient credits"}
		},
	}
	store := newMemStore()
	trk := newTestTracker(t, backend, store)
	require.NoError(t, trk.Start(context.Background()))
	defer trk.Stop()

	_, err := trk.Submit(context.Background(), &models.JobRequest{Type: models.JobTypeImage})

	var subErr *interfaces.SubmissionError
	require.ErrorAs(t, err, &subErr)
	assert.Equal(t, 402, subErr.StatusCode)
	assert.Equal(t, "", trk.TrackedJobID())
	assert.Empty(t, store.records)
}

func TestTracker_InvalidRequestRejectedLocally(t *testing.T) {
	trk := newTestTracker(t, &fakeBackend{}, newMemStore())
	require.NoError(t, trk.Start(context.Background()))
	defer trk.Stop()

	_, err := trk.Submit(context.Background(), &models.JobRequest{Type: "hologram"})

	var subErr *interfaces.SubmissionError
	assert.ErrorAs(t, err, &subErr)
}

func TestTracker_TimeoutForcesTerminalState(t *testing.T) {
	// Scenario C: the backend keeps reporting processing past the budget
	backend := &fakeBackend{
		getFn: func(ctx context.Context, jobID string) (*models.Job, error) {
			return &models.Job{ID: jobID, Type: models.JobTypeImage, Status: models.JobStatusProcessing, Progress: 70, CreatedAt: time.Now()}, nil
		},
	}
	store := newMemStore()
	trk := newTestTracker(t, backend, store)
	require.NoError(t, trk.Start(context.Background()))
	defer trk.Stop()

	jobID, err := trk.Submit(context.Background(), &models.JobRequest{Type: models.JobTypeImage})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st := trk.State()
		return st != nil && st.Status == models.JobStatusTimedOut && st.Locked
	}, 2*time.Second, 5*time.Millisecond, "supervisor must force timed_out after the budget")

	require.Eventually(t, func() bool {
		return trk.TrackedJobID() == "" && !store.has(jobID)
	}, time.Second, 5*time.Millisecond, "timeout must detach and clear the record")
}

func TestTracker_TimeoutUsesPersistedStartTimeAcrossRestart(t *testing.T) {
	// A job started long ago, tracked by a previous run that crashed. The
	// new run recovers it; elapsed time counts from the persisted start,
	// so the budget is already spent.
	createdAt := time.Now().Add(-5 * time.Minute)
	backend := &fakeBackend{
		findFn: func(ctx context.Context, window time.Duration) (*models.Job, error) {
			return &models.Job{ID: "job-r", Type: models.JobTypeImage, Status: models.JobStatusProcessing, Progress: 30, CreatedAt: createdAt}, nil
		},
		getFn: func(ctx context.Context, jobID string) (*models.Job, error) {
			return &models.Job{ID: jobID, Type: models.JobTypeImage, Status: models.JobStatusProcessing, Progress: 30, CreatedAt: createdAt}, nil
		},
	}
	store := newMemStore()
	originalStart := time.Now().Add(-10 * time.Second) // far past the image budget
	require.NoError(t, store.Put(context.Background(), "job-r", originalStart))

	trk := newTestTracker(t, backend, store)
	require.NoError(t, trk.Start(context.Background()))
	defer trk.Stop()

	require.Eventually(t, func() bool {
		st := trk.State()
		return st != nil && st.Status == models.JobStatusTimedOut
	}, time.Second, 5*time.Millisecond, "restart must not grant extra runtime")
}

func TestTracker_RecoveryAttachesToRecentJob(t *testing.T) {
	createdAt := time.Now().Add(-5 * time.Minute)
	backend := &fakeBackend{
		findFn: func(ctx context.Context, window time.Duration) (*models.Job, error) {
			return &models.Job{ID: "job-r", Type: models.JobTypeVideo, Status: models.JobStatusProcessing, Progress: 20, CreatedAt: createdAt}, nil
		},
		getFn: func(ctx context.Context, jobID string) (*models.Job, error) {
			return &models.Job{ID: jobID, Type: models.JobTypeVideo, Status: models.JobStatusProcessing, Progress: 20, CreatedAt: createdAt}, nil
		},
	}
	store := newMemStore()
	trk := newTestTracker(t, backend, store)
	require.NoError(t, trk.Start(context.Background()))
	defer trk.Stop()

	assert.Equal(t, "job-r", trk.TrackedJobID())
	st := trk.State()
	require.NotNil(t, st)
	assert.Equal(t, models.JobStatusProcessing, st.Status)

	// created_at becomes the durable start time when no record existed
	startedAt, err := store.Get(context.Background(), "job-r")
	require.NoError(t, err)
	assert.WithinDuration(t, createdAt, startedAt, time.Second)
}

func TestTracker_RecoveryIgnoresStaleAndTerminalJobs(t *testing.T) {
	tests := []struct {
		name string
		job  *models.Job
		err  error
	}{
		{
			name: "job outside recovery window",
			job:  &models.Job{ID: "old", Type: models.JobTypeImage, Status: models.JobStatusProcessing, CreatedAt: time.Now().Add(-20 * time.Minute)},
		},
		{
			name: "job already completed",
			job:  &models.Job{ID: "done", Type: models.JobTypeImage, Status: models.JobStatusCompleted, CreatedAt: time.Now().Add(-5 * time.Minute)},
		},
		{
			name: "no active job",
			err:  interfaces.ErrNoActiveJob,
		},
		{
			name: "recovery query failure degrades to idle",
			err:  fmt.Errorf("backend unavailable"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &fakeBackend{
				findFn: func(ctx context.Context, window time.Duration) (*models.Job, error) {
					if tt.err != nil {
						return nil, tt.err
					}
					return tt.job, nil
				},
			}
			trk := newTestTracker(t, backend, newMemStore())
			require.NoError(t, trk.Start(context.Background()))
			defer trk.Stop()

			assert.Equal(t, "", trk.TrackedJobID(), "controller must start idle")
		})
	}
}

func TestTracker_CancelLocksImmediately(t *testing.T) {
	backend := &fakeBackend{
		getFn: func(ctx context.Context, jobID string) (*models.Job, error) {
			return &models.Job{ID: jobID, Type: models.JobTypeVideo, Status: models.JobStatusProcessing, Progress: 60, CreatedAt: time.Now()}, nil
		},
	}
	store := newMemStore()
	trk := newTestTracker(t, backend, store)
	require.NoError(t, trk.Start(context.Background()))
	defer trk.Stop()

	jobID, err := trk.Submit(context.Background(), &models.JobRequest{Type: models.JobTypeVideo})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st := trk.State()
		return st != nil && st.Progress == 60
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, trk.Cancel(context.Background()))

	require.Eventually(t, func() bool {
		st := trk.State()
		return st != nil && st.Status == models.JobStatusCancelled && st.Locked
	}, time.Second, 5*time.Millisecond)

	assert.Contains(t, backend.cancelledJobs(), jobID)
	require.Eventually(t, func() bool {
		return trk.TrackedJobID() == ""
	}, time.Second, 5*time.Millisecond)

	// Scenario D: a socket progress event arriving after cancellation is
	// discarded; canonical progress stays at 60.
	progress := 80
	trk.updates <- &models.JobUpdate{JobID: jobID, Progress: &progress, Source: models.SourceSocket, ReceivedAt: time.Now()}

	time.Sleep(50 * time.Millisecond)
	st := trk.State()
	assert.Equal(t, 60, st.Progress)
	assert.Equal(t, models.JobStatusCancelled, st.Status)
}

func TestTracker_CancelWithoutJob(t *testing.T) {
	trk := newTestTracker(t, &fakeBackend{}, newMemStore())
	require.NoError(t, trk.Start(context.Background()))
	defer trk.Stop()

	err := trk.Cancel(context.Background())
	assert.ErrorIs(t, err, interfaces.ErrNoActiveJob)
}

func TestTracker_PollErrorsAreNonFatal(t *testing.T) {
	var calls int64
	var mu sync.Mutex
	backend := &fakeBackend{
		getFn: func(ctx context.Context, jobID string) (*models.Job, error) {
			mu.Lock()
			calls++
			n := calls
			mu.Unlock()
			if n < 3 {
				return nil, fmt.Errorf("transient network error")
			}
			return &models.Job{ID: jobID, Type: models.JobTypeImage, Status: models.JobStatusProcessing, Progress: 42, CreatedAt: time.Now()}, nil
		},
	}
	trk := newTestTracker(t, backend, newMemStore())
	require.NoError(t, trk.Start(context.Background()))
	defer trk.Stop()

	_, err := trk.Submit(context.Background(), &models.JobRequest{Type: models.JobTypeImage})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st := trk.State()
		return st != nil && st.Progress == 42
	}, time.Second, 5*time.Millisecond, "polling must recover after transient errors")
}
