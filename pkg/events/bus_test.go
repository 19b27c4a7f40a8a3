package events

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPublishDeliversToAllHandlers(t *testing.T) {
	bus := NewBus(zap.NewNop())

	var calls atomic.Int32
	done := make(chan struct{}, 2)
	handler := func(ctx context.Context, event Event) error {
		calls.Add(1)
		done <- struct{}{}
		return nil
	}
	bus.Subscribe(EventTokenIssued, handler)
	bus.Subscribe(EventTokenIssued, handler)

	bus.Publish(context.Background(), NewEvent(EventTokenIssued, "alice", nil))

	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("handler was not invoked")
		}
	}
	assert.EqualValues(t, 2, calls.Load())
}

func TestPublishOutlivesCanceledPublisherContext(t *testing.T) {
	bus := NewBus(zap.NewNop())

	errCh := make(chan error, 1)
	bus.Subscribe(EventUsageRelayFailed, func(ctx context.Context, event Event) error {
		errCh <- ctx.Err()
		return nil
	})

	// Simulates a request-scoped context that is canceled as soon as the
	// handler returns the response.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bus.Publish(ctx, NewEvent(EventUsageRelayFailed, "alice", nil))

	select {
	case err := <-errCh:
		assert.NoError(t, err, "delivery must not observe the publisher's cancellation")
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestPublishRecoversFromPanickingHandler(t *testing.T) {
	bus := NewBus(zap.NewNop())

	done := make(chan struct{}, 1)
	bus.Subscribe(EventTokenRevoked, func(ctx context.Context, event Event) error {
		defer close(done)
		panic("boom")
	})

	bus.Publish(context.Background(), NewEvent(EventTokenRevoked, "", nil))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestPublishAndWaitReturnsHandlerError(t *testing.T) {
	bus := NewBus(zap.NewNop())

	want := errors.New("delivery failed")
	bus.Subscribe(EventTokenRevoked, func(ctx context.Context, event Event) error {
		return want
	})

	err := bus.PublishAndWait(context.Background(), NewEvent(EventTokenRevoked, "", nil))
	require.ErrorIs(t, err, want)
}

func TestUnsubscribeRemovesHandlers(t *testing.T) {
	bus := NewBus(zap.NewNop())

	bus.Subscribe(EventTokenIssued, func(ctx context.Context, event Event) error {
		t.Error("handler called after unsubscribe")
		return nil
	})
	bus.Unsubscribe(EventTokenIssued)

	require.NoError(t, bus.PublishAndWait(context.Background(), NewEvent(EventTokenIssued, "alice", nil)))
}
