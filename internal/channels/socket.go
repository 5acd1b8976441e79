// -----------------------------------------------------------------------
// Socket Channel - Shared per-session event socket, filtered by job id
// -----------------------------------------------------------------------

package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/gentrack/internal/common"
	"github.com/ternarybob/gentrack/internal/interfaces"
	"github.com/ternarybob/gentrack/internal/models"
)

// SocketChannel maintains one persistent connection for the whole session.
// It is not per-job: Attach only narrows the client-side filter, and Detach
// clears it while the connection stays up. Reconnection runs independently
// and never resets job tracking.
type SocketChannel struct {
	url          string
	reconnectMin time.Duration
	reconnectMax time.Duration
	sink         chan<- *models.JobUpdate
	logger       arbor.ILogger

	mu      sync.RWMutex
	jobID   string
	cancel  context.CancelFunc
	started bool
}

// NewSocketChannel creates the session socket adapter emitting into sink
func NewSocketChannel(config *common.SocketConfig, sink chan<- *models.JobUpdate, logger arbor.ILogger) *SocketChannel {
	return &SocketChannel{
		url:          config.URL,
		reconnectMin: common.ParseDurationOr(config.ReconnectMin, time.Second),
		reconnectMax: common.ParseDurationOr(config.ReconnectMax, 30*time.Second),
		sink:         sink,
		logger:       logger,
	}
}

// Name identifies the channel
func (s *SocketChannel) Name() models.SourceChannel {
	return models.SourceSocket
}

// Connect starts the session connection loop. Called once at controller
// startup; a second call is a no-op.
func (s *SocketChannel) Connect(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	if s.url == "" {
		s.logger.Debug().Msg("Socket URL not configured - channel disabled")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true

	common.SafeGo(s.logger, "socketChannel", func() {
		s.run(runCtx)
	})
}

// Close shuts the session connection down
func (s *SocketChannel) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.started = false
	s.jobID = ""
}

// Attach narrows the client-side filter to a job id
func (s *SocketChannel) Attach(jobID string) {
	s.mu.Lock()
	s.jobID = jobID
	s.mu.Unlock()

	s.logger.Debug().Str("job_id", jobID).Msg("Socket channel tracking job")
}

// Detach clears the filter; the connection persists for the session
func (s *SocketChannel) Detach() {
	s.mu.Lock()
	s.jobID = ""
	s.mu.Unlock()
}

func (s *SocketChannel) trackedJobID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.jobID
}

// run keeps the session connection alive, reconnecting with backoff
func (s *SocketChannel) run(ctx context.Context) {
	var backoff time.Duration

	for ctx.Err() == nil {
		err := s.consume(ctx)
		if ctx.Err() != nil {
			return
		}

		backoff = nextBackoff(backoff, s.reconnectMin, s.reconnectMax)
		s.logger.Debug().
			Err(err).
			Dur("backoff", backoff).
			Msg("Session socket dropped - reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func (s *SocketChannel) consume(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial session socket: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	s.logger.Debug().Str("url", s.url).Msg("Session socket connected")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("session socket read failed: %w", err)
		}

		var event models.SocketEvent
		if err := json.Unmarshal(data, &event); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to decode socket event - skipping")
			continue
		}

		tracked := s.trackedJobID()
		if tracked == "" || event.JobID != tracked {
			// The session socket carries every job's events; only the
			// tracked id is forwarded.
			continue
		}

		update, err := event.ToUpdate()
		if err != nil {
			s.logger.Warn().Err(err).Str("job_id", event.JobID).Msg("Unusable socket event - skipping")
			continue
		}

		select {
		case s.sink <- update:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

var _ interfaces.UpdateChannel = (*SocketChannel)(nil)
