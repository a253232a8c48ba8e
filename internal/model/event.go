package model

import "time"

// EventType is the wire-level kind of a progress event.
type EventType string

const (
	EventLog    EventType = "log"
	EventStatus EventType = "status"
	EventError  EventType = "error"
)

// Event is one progress notification for a (campaign, company) pair.
// Events are delivered at most once and never persisted.
type Event struct {
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	CampaignID int            `json:"campaignId"`
	CompanyID  int            `json:"companyId"`
	Data       map[string]any `json:"data"`
}

// Terminal reports whether the event carries a terminal status. Events that
// crossed a process boundary carry the status as a plain string.
func (e Event) Terminal() bool {
	if e.Type != EventStatus {
		return false
	}
	switch s := e.Data["status"].(type) {
	case Status:
		return s.IsTerminal()
	case string:
		return Status(s).IsTerminal()
	}
	return false
}
