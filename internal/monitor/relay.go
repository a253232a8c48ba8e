package monitor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/queue"
)

const relayTimeout = 2 * time.Second

// Sink receives the progress of running jobs.
type Sink interface {
	Emit(campaignID, companyID int, typ model.EventType, data map[string]any)
	Crash(campaignID, companyID int, cause error)
}

var (
	_ Sink = (*Hub)(nil)
	_ Sink = (*Relay)(nil)
)

// Relay is the Sink of a process with no observers of its own. It broadcasts
// every event so the process holding the WebSocket can deliver it.
type Relay struct {
	out queue.Fanout
	now func() time.Time
}

func NewRelay(out queue.Fanout) *Relay {
	return &Relay{out: out, now: time.Now}
}

func (r *Relay) Emit(campaignID, companyID int, typ model.EventType, data map[string]any) {
	e := model.Event{Type: typ, Timestamp: r.now().UTC(), CampaignID: campaignID, CompanyID: companyID, Data: data}
	r.send(queue.Signal{Kind: queue.SignalEvent, CampaignID: campaignID, CompanyID: companyID, At: e.Timestamp, Event: &e})
}

func (r *Relay) Crash(campaignID, companyID int, cause error) {
	r.send(queue.Signal{
		Kind:       queue.SignalCrash,
		CampaignID: campaignID,
		CompanyID:  companyID,
		At:         r.now().UTC(),
		Error:      cause.Error(),
	})
}

// send never fails the job; a lost event only costs an observer an update.
func (r *Relay) send(sig queue.Signal) {
	ctx, cancel := context.WithTimeout(context.Background(), relayTimeout)
	defer cancel()
	if err := r.out.Broadcast(ctx, queue.ExchangeEvents, sig); err != nil {
		zap.L().Warn("relay event dropped",
			zap.Int("campaign_id", sig.CampaignID),
			zap.Int("company_id", sig.CompanyID),
			zap.Error(err),
		)
	}
}

// Forward delivers events relayed by other processes to hub's observers.
func Forward(ctx context.Context, in queue.Fanout, hub *Hub) error {
	return in.Listen(ctx, queue.ExchangeEvents, func(sig queue.Signal) {
		switch sig.Kind {
		case queue.SignalEvent:
			if sig.Event != nil {
				hub.Publish(*sig.Event)
			}
		case queue.SignalCrash:
			hub.Crash(sig.CampaignID, sig.CompanyID, errors.New(sig.Error))
		}
	})
}
