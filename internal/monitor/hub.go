// Package monitor fans progress events for one (campaign, company) pair out to
// at most one live observer.
package monitor

import (
	"sync"
	"time"

	"github.com/unclebandit/outreach-engine/internal/model"
)

const defaultBuffer = 64

// CloseReason says why a subscription channel was closed.
type CloseReason int

const (
	ReasonOpen CloseReason = iota
	// ReasonTerminal: the job reached completed or failed.
	ReasonTerminal
	// ReasonCrashed: the job died before reporting an outcome.
	ReasonCrashed
	// ReasonReplaced: a newer observer subscribed to the same pair.
	ReasonReplaced
	// ReasonUnsubscribed: the observer went away.
	ReasonUnsubscribed
	// ReasonShutdown: the hub was closed.
	ReasonShutdown
)

type key struct {
	campaignID int
	companyID  int
}

// Subscription is one observer's view of a pair. C is closed after the
// terminal event or when the subscription ends for any other reason.
type Subscription struct {
	C <-chan model.Event

	hub    *Hub
	key    key
	ch     chan model.Event
	reason CloseReason
}

// Reason reports why C was closed. Only meaningful once C is drained.
func (s *Subscription) Reason() CloseReason {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	return s.reason
}

// Close detaches the observer. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if s.hub.subs[s.key] == s {
		delete(s.hub.subs, s.key)
	}
	s.closeLocked(ReasonUnsubscribed)
}

func (s *Subscription) closeLocked(reason CloseReason) {
	if s.reason != ReasonOpen {
		return
	}
	s.reason = reason
	close(s.ch)
}

// Hub delivers events at most once. Publishing never blocks: events for a pair
// with no observer, or whose observer is not keeping up, are dropped.
type Hub struct {
	mu     sync.Mutex
	subs   map[key]*Subscription
	buffer int
	closed bool
	now    func() time.Time
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Hub{
		subs:   make(map[key]*Subscription),
		buffer: buffer,
		now:    time.Now,
	}
}

// Subscribe attaches an observer, replacing any existing one for the pair.
func (h *Hub) Subscribe(campaignID, companyID int) *Subscription {
	k := key{campaignID, companyID}
	ch := make(chan model.Event, h.buffer)
	s := &Subscription{C: ch, hub: h, key: k, ch: ch}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		s.closeLocked(ReasonShutdown)
		return s
	}
	if old, ok := h.subs[k]; ok {
		old.closeLocked(ReasonReplaced)
	}
	h.subs[k] = s
	return s
}

// Publish delivers e to the pair's observer, if any, and reports whether it
// was delivered. A terminal status event ends the subscription.
func (h *Hub) Publish(e model.Event) bool {
	if e.Timestamp.IsZero() {
		e.Timestamp = h.now().UTC()
	}
	k := key{e.CampaignID, e.CompanyID}

	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.subs[k]
	if !ok {
		return false
	}

	delivered := false
	select {
	case s.ch <- e:
		delivered = true
	default:
	}
	if e.Terminal() {
		delete(h.subs, k)
		s.closeLocked(ReasonTerminal)
	}
	return delivered
}

// Emit builds and publishes an event for the pair.
func (h *Hub) Emit(campaignID, companyID int, typ model.EventType, data map[string]any) {
	h.Publish(model.Event{Type: typ, CampaignID: campaignID, CompanyID: companyID, Data: data})
}

// Crash reports an abnormal end of the pair's job and ends the subscription.
func (h *Hub) Crash(campaignID, companyID int, cause error) {
	k := key{campaignID, companyID}
	e := model.Event{
		Type:       model.EventError,
		Timestamp:  h.now().UTC(),
		CampaignID: campaignID,
		CompanyID:  companyID,
		Data:       map[string]any{"error": cause.Error()},
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.subs[k]
	if !ok {
		return
	}
	select {
	case s.ch <- e:
	default:
	}
	delete(h.subs, k)
	s.closeLocked(ReasonCrashed)
}

// Subscribers is the number of attached observers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close ends every subscription; later subscriptions are born closed.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for k, s := range h.subs {
		s.closeLocked(ReasonShutdown)
		delete(h.subs, k)
	}
}
