package events

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ternarybob/gentrack/internal/common"
	"github.com/ternarybob/gentrack/internal/interfaces"
)

func TestService_SubscribeAndPublish(t *testing.T) {
	service := NewService(common.GetLogger())
	defer service.Close()

	var delivered atomic.Int64
	err := service.Subscribe(interfaces.EventStateChanged, func(ctx context.Context, event interfaces.Event) error {
		assert.Equal(t, interfaces.EventStateChanged, event.Type)
		delivered.Add(1)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, service.Publish(context.Background(), interfaces.Event{Type: interfaces.EventStateChanged}))

	require.Eventually(t, func() bool { return delivered.Load() == 1 }, time.Second, time.Millisecond)
}

func TestService_SubscribeNilHandler(t *testing.T) {
	service := NewService(common.GetLogger())
	defer service.Close()

	assert.Error(t, service.Subscribe(interfaces.EventStateChanged, nil))
}

func TestService_PublishWithoutSubscribers(t *testing.T) {
	service := NewService(common.GetLogger())
	defer service.Close()

	assert.NoError(t, service.Publish(context.Background(), interfaces.Event{Type: interfaces.EventJobAttached}))
	assert.NoError(t, service.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventJobAttached}))
}

func TestService_PublishSync(t *testing.T) {
	service := NewService(common.GetLogger())
	defer service.Close()

	var delivered atomic.Int64
	for i := 0; i < 3; i++ {
		require.NoError(t, service.Subscribe(interfaces.EventResultResolved, func(ctx context.Context, event interfaces.Event) error {
			delivered.Add(1)
			return nil
		}))
	}

	require.NoError(t, service.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventResultResolved}))
	assert.Equal(t, int64(3), delivered.Load(), "sync publish must wait for every handler")
}

func TestService_PublishSyncAggregatesErrors(t *testing.T) {
	service := NewService(common.GetLogger())
	defer service.Close()

	require.NoError(t, service.Subscribe(interfaces.EventTerminalConflict, func(ctx context.Context, event interfaces.Event) error {
		return fmt.Errorf("handler exploded")
	}))
	require.NoError(t, service.Subscribe(interfaces.EventTerminalConflict, func(ctx context.Context, event interfaces.Event) error {
		return nil
	}))

	err := service.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventTerminalConflict})
	assert.Error(t, err)
}

func TestService_EventTypeIsolation(t *testing.T) {
	service := NewService(common.GetLogger())
	defer service.Close()

	var wrong atomic.Int64
	require.NoError(t, service.Subscribe(interfaces.EventJobDetached, func(ctx context.Context, event interfaces.Event) error {
		wrong.Add(1)
		return nil
	}))

	require.NoError(t, service.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventJobAttached}))
	assert.Zero(t, wrong.Load(), "handlers must only see their event type")
}

func TestService_CloseDropsSubscribers(t *testing.T) {
	service := NewService(common.GetLogger())

	var delivered atomic.Int64
	require.NoError(t, service.Subscribe(interfaces.EventStateChanged, func(ctx context.Context, event interfaces.Event) error {
		delivered.Add(1)
		return nil
	}))
	require.NoError(t, service.Close())

	require.NoError(t, service.PublishSync(context.Background(), interfaces.Event{Type: interfaces.EventStateChanged}))
	assert.Zero(t, delivered.Load())
}
