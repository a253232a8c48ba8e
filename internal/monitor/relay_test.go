package monitor

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/queue"
)

func TestRelay_ReachesObserverInAnotherHub(t *testing.T) {
	bus := queue.NewInMemoryQueue()
	hub := NewHub(8)
	require.NoError(t, Forward(context.Background(), bus, hub))
	sub := hub.Subscribe(3, 9)

	relay := NewRelay(bus)
	relay.Emit(3, 9, model.EventLog, map[string]any{"action": "navigate"})
	relay.Emit(3, 8, model.EventLog, nil)
	relay.Emit(3, 9, model.EventStatus, map[string]any{"status": model.StatusCompleted})

	events := drain(sub.C)
	require.Len(t, events, 2)
	assert.Equal(t, model.EventLog, events[0].Type)
	assert.False(t, events[0].Timestamp.IsZero())
	assert.Equal(t, ReasonTerminal, sub.Reason())
}

func TestRelay_CrashClosesObserver(t *testing.T) {
	bus := queue.NewInMemoryQueue()
	hub := NewHub(8)
	require.NoError(t, Forward(context.Background(), bus, hub))
	sub := hub.Subscribe(3, 9)

	NewRelay(bus).Crash(3, 9, errors.New("renderer died"))

	events := drain(sub.C)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventError, events[0].Type)
	assert.Equal(t, "renderer died", events[0].Data["error"])
	assert.Equal(t, ReasonCrashed, sub.Reason())
}
