// -----------------------------------------------------------------------
// PushFeed Channel - Row-level change feed subscription for one job id
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

// subscribeRequest is the frame sent after dialing to scope the feed to
// exactly one job row.
type subscribeRequest struct {
	Action string `json:"action"`
	Table  string `json:"table"`
	Event  string `json:"event"`
	Filter string `json:"filter"`
}

// feedNotification carries a full new row snapshot for each update.
type feedNotification struct {
	Type   string      `json:"type"`
	Record *models.Job `json:"record"`
}

// PushFeedChannel subscribes to row-level UPDATE notifications for the
// tracked job id. The subscription is torn down and re-established whenever
// the tracked id changes. Connection drops reconnect with backoff and are
// never fatal.
type PushFeedChannel struct {
	url          string
	reconnectMin time.Duration
	reconnectMax time.Duration
	sink         chan<- *models.JobUpdate
	logger       arbor.ILogger

	mu     sync.Mutex
	jobID  string
	cancel context.CancelFunc
}

// NewPushFeedChannel creates a push feed adapter emitting into sink
func NewPushFeedChannel(config *common.PushFeedConfig, sink chan<- *models.JobUpdate, logger arbor.ILogger) *PushFeedChannel {
	return &PushFeedChannel{
		url:          config.URL,
		reconnectMin: common.ParseDurationOr(config.ReconnectMin, time.Second),
		reconnectMax: common.ParseDurationOr(config.ReconnectMax, 30*time.Second),
		sink:         sink,
		logger:       logger,
	}
}

// Name identifies the channel
func (f *PushFeedChannel) Name() models.SourceChannel {
	return models.SourcePushFeed
}

// Attach establishes the subscription for a job id, replacing any previous one
func (f *PushFeedChannel) Attach(jobID string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cancel != nil {
		f.cancel()
	}

	if f.url == "" {
		f.logger.Debug().Msg("Push feed URL not configured - channel disabled")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	f.jobID = jobID
	f.cancel = cancel

	common.SafeGo(f.logger, "pushFeedChannel", func() {
		f.run(ctx, jobID)
	})

	f.logger.Debug().Str("job_id", jobID).Msg("Push feed subscription attached")
}

// Detach tears down the subscription
func (f *PushFeedChannel) Detach() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	f.jobID = ""
}

// run dials, subscribes and consumes notifications until ctx is cancelled,
// reconnecting with backoff on any failure.
func (f *PushFeedChannel) run(ctx context.Context, jobID string) {
	var backoff time.Duration

	for ctx.Err() == nil {
		err := f.consume(ctx, jobID)
		if ctx.Err() != nil {
			return
		}

		backoff = nextBackoff(backoff, f.reconnectMin, f.reconnectMax)
		f.logger.Debug().
			Err(err).
			Str("job_id", jobID).
			Dur("backoff", backoff).
			Msg("Push feed subscription dropped - reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func (f *PushFeedChannel) consume(ctx context.Context, jobID string) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("failed to dial push feed: %w", err)
	}
	defer conn.Close()

	// Close the connection when ctx is cancelled to unblock ReadMessage
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	sub := subscribeRequest{
		Action: "subscribe",
		Table:  "jobs",
		Event:  "UPDATE",
		Filter: "id=eq." + jobID,
	}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("failed to send subscribe request: %w", err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("push feed read failed: %w", err)
		}

		var notification feedNotification
		if err := json.Unmarshal(data, &notification); err != nil {
			f.logger.Warn().Err(err).Msg("Failed to decode push feed notification - skipping")
			continue
		}
		if notification.Record == nil {
			continue
		}
		if notification.Record.ID != jobID {
			// Only the tracked row applies, whatever the server sent
			continue
		}

		select {
		case f.sink <- models.UpdateFromJob(notification.Record, models.SourcePushFeed):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ensure interface compliance
var _ interfaces.UpdateChannel = (*PushFeedChannel)(nil)
