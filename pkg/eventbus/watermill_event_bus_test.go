package eventbus_test

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rouhapp/coordination/pkg/channels/gochannel"
	"github.com/rouhapp/coordination/pkg/eventbus"
	"github.com/rouhapp/coordination/pkg/events"
)

func newTestBus(t *testing.T) *eventbus.WatermillEventBus {
	t.Helper()

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)

	t.Cleanup(func() {
		_ = bus.Close()
	})

	return bus
}

func waitForEvent(t *testing.T, received <-chan any) any {
	t.Helper()

	select {
	case event := <-received:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")

		return nil
	}
}

func TestWatermillEventBusRoundTrip(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan any, 1)

	require.NoError(t, bus.Handle(events.StateChangedEvent, func(_ context.Context, event any) error {
		received <- event

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	err := bus.Publish(ctx, "run-1", events.StateChanged{
		BaseEvent: events.BaseEvent{
			ID:        bus.GenerateID(),
			Type:      events.StateChangedEvent,
			Scope:     events.ScopeRun,
			Timestamp: time.Now().UTC(),
			RunID:     "run-1",
			TenantID:  "tenant-1",
		},
		FromState:     "requested",
		ToState:       "accepted",
		ParticipantID: "p-1",
		RoleName:      "runner",
		SlotData:      map[string]any{"item": "coffee"},
	})
	require.NoError(t, err)

	got, ok := waitForEvent(t, received).(*events.StateChanged)
	require.True(t, ok)

	assert.Equal(t, "run-1", got.RunID)
	assert.Equal(t, "requested", got.FromState)
	assert.Equal(t, "accepted", got.ToState)
	assert.Equal(t, "runner", got.RoleName)
	assert.Equal(t, "coffee", got.SlotData["item"])
}

func TestWatermillEventBusDecodesLifecycleByType(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan any, 1)

	require.NoError(t, bus.Handle(events.RunPausedEvent, func(_ context.Context, event any) error {
		received <- event

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	err := bus.Publish(ctx, "run-1", events.RunStatusChanged{
		BaseEvent: events.BaseEvent{
			ID:        bus.GenerateID(),
			Type:      events.RunPausedEvent,
			Scope:     events.ScopeRun,
			Timestamp: time.Now().UTC(),
			RunID:     "run-1",
		},
		FromStatus: "active",
		ToStatus:   "paused",
	})
	require.NoError(t, err)

	got, ok := waitForEvent(t, received).(*events.RunStatusChanged)
	require.True(t, ok)

	// The shared payload carries the specific lifecycle event in Type.
	assert.Equal(t, events.RunPausedEvent, got.GetType())
	assert.Equal(t, "active", got.FromStatus)
	assert.Equal(t, "paused", got.ToStatus)
}

func TestWatermillEventBusSkipsUnhandledTypes(t *testing.T) {
	bus := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan any, 2)

	require.NoError(t, bus.Handle(events.ParticipantAddedEvent, func(_ context.Context, event any) error {
		received <- event

		return nil
	}))
	require.NoError(t, bus.Subscribe(ctx))

	// An event nobody registered for is acked and dropped, not redelivered.
	err := bus.Publish(ctx, "run-1", events.StateTimeout{
		BaseEvent: events.BaseEvent{
			ID:        bus.GenerateID(),
			Type:      events.StateTimeoutEvent,
			Scope:     events.ScopeTenant,
			Timestamp: time.Now().UTC(),
			RunID:     "run-1",
		},
		StateName: "requested",
	})
	require.NoError(t, err)

	err = bus.Publish(ctx, "run-1", events.ParticipantAdded{
		BaseEvent: events.BaseEvent{
			ID:        bus.GenerateID(),
			Type:      events.ParticipantAddedEvent,
			Scope:     events.ScopeRun,
			Timestamp: time.Now().UTC(),
			RunID:     "run-1",
		},
		ParticipantID: "p-2",
		RoleName:      "runner",
		IsGuest:       true,
	})
	require.NoError(t, err)

	got, ok := waitForEvent(t, received).(*events.ParticipantAdded)
	require.True(t, ok)

	assert.Equal(t, "p-2", got.ParticipantID)
	assert.True(t, got.IsGuest)
	assert.Empty(t, received, "unhandled timeout event was not delivered")
}
