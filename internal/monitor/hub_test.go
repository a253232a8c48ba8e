package monitor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/outreach-engine/internal/model"
)

func statusEvent(campaignID, companyID int, s model.Status) model.Event {
	return model.Event{
		Type:       model.EventStatus,
		CampaignID: campaignID,
		CompanyID:  companyID,
		Data:       map[string]any{"status": s},
	}
}

func drain(ch <-chan model.Event) []model.Event {
	var out []model.Event
	for e := range ch {
		out = append(out, e)
	}
	return out
}

func TestHub_DeliversUntilTerminal(t *testing.T) {
	h := NewHub(8)
	sub := h.Subscribe(1, 2)

	h.Emit(1, 2, model.EventLog, map[string]any{"action": "navigate"})
	assert.True(t, h.Publish(statusEvent(1, 2, model.StatusFilling)))
	assert.True(t, h.Publish(statusEvent(1, 2, model.StatusCompleted)))
	assert.False(t, h.Publish(statusEvent(1, 2, model.StatusPending)), "nothing after terminal")

	events := drain(sub.C)
	require.Len(t, events, 3)
	assert.Equal(t, model.EventLog, events[0].Type)
	assert.False(t, events[0].Timestamp.IsZero())
	assert.Equal(t, ReasonTerminal, sub.Reason())
	assert.Zero(t, h.Subscribers())
}

func TestHub_OtherPairsAreIsolated(t *testing.T) {
	h := NewHub(8)
	a := h.Subscribe(1, 1)
	b := h.Subscribe(1, 2)

	h.Publish(statusEvent(1, 1, model.StatusFailed))
	assert.Len(t, drain(a.C), 1)

	h.Emit(1, 2, model.EventLog, nil)
	b.Close()
	assert.Len(t, drain(b.C), 1)
	assert.Equal(t, ReasonUnsubscribed, b.Reason())
}

func TestHub_NewSubscriptionReplacesOld(t *testing.T) {
	h := NewHub(8)
	old := h.Subscribe(3, 4)
	fresh := h.Subscribe(3, 4)

	_, open := <-old.C
	assert.False(t, open)
	assert.Equal(t, ReasonReplaced, old.Reason())

	// closing the stale subscription must not detach the new one
	old.Close()
	assert.Equal(t, 1, h.Subscribers())

	h.Emit(3, 4, model.EventLog, nil)
	fresh.Close()
	assert.Len(t, drain(fresh.C), 1)
}

func TestHub_PublishNeverBlocks(t *testing.T) {
	h := NewHub(2)
	sub := h.Subscribe(1, 1)

	assert.True(t, h.Publish(model.Event{Type: model.EventLog, CampaignID: 1, CompanyID: 1}))
	assert.True(t, h.Publish(model.Event{Type: model.EventLog, CampaignID: 1, CompanyID: 1}))
	assert.False(t, h.Publish(model.Event{Type: model.EventLog, CampaignID: 1, CompanyID: 1}))

	// a dropped terminal event still ends the subscription
	assert.False(t, h.Publish(statusEvent(1, 1, model.StatusFailed)))
	assert.Len(t, drain(sub.C), 2)
	assert.Equal(t, ReasonTerminal, sub.Reason())
}

func TestHub_NoObserverDrops(t *testing.T) {
	h := NewHub(1)
	assert.False(t, h.Publish(statusEvent(9, 9, model.StatusCompleted)))
}

func TestHub_Crash(t *testing.T) {
	h := NewHub(4)
	sub := h.Subscribe(5, 6)
	h.Crash(5, 6, errors.New("boom"))

	events := drain(sub.C)
	require.Len(t, events, 1)
	assert.Equal(t, model.EventError, events[0].Type)
	assert.Equal(t, "boom", events[0].Data["error"])
	assert.Equal(t, ReasonCrashed, sub.Reason())
}

func TestHub_Close(t *testing.T) {
	h := NewHub(4)
	sub := h.Subscribe(1, 1)
	h.Close()
	assert.Empty(t, drain(sub.C))
	assert.Equal(t, ReasonShutdown, sub.Reason())

	late := h.Subscribe(1, 1)
	assert.Empty(t, drain(late.C))
	assert.Equal(t, ReasonShutdown, late.Reason())
}
