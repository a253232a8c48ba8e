// internal/model/campaign.go
package model

import "time"

// SenderProfile is the identity written into discovered contact forms.
type SenderProfile struct {
	FirstName string `db:"sender_first_name" json:"firstName"`
	LastName  string `db:"sender_last_name" json:"lastName"`
	Email     string `db:"sender_email" json:"email"`
	Phone     string `db:"sender_phone" json:"phone"`
	Company   string `db:"sender_company" json:"company"`
	Country   string `db:"sender_country" json:"country"`
	Address   string `db:"sender_address" json:"address"`
}

// FullName joins first and last name, skipping empty parts.
func (s SenderProfile) FullName() string {
	switch {
	case s.FirstName == "":
		return s.LastName
	case s.LastName == "":
		return s.FirstName
	}
	return s.FirstName + " " + s.LastName
}

type Campaign struct {
	ID              int           `db:"id" json:"id"`
	Name            string        `db:"name" json:"name"`
	OwnerID         string        `db:"owner_id" json:"ownerId"`
	Sender          SenderProfile `json:"sender"`
	MessageTemplate string        `db:"message_template" json:"messageTemplate"`
	Subject         string        `db:"subject" json:"subject"`
	QueuedCount     int           `db:"queued_count" json:"queuedCount"`
	CompletedCount  int           `db:"completed_count" json:"completedCount"`
	FailedCount     int           `db:"failed_count" json:"failedCount"`
	CreatedAt       time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt       *time.Time    `db:"updated_at" json:"updatedAt,omitempty"`
}

// Counters is the aggregate view the orchestrator writes back to a campaign.
type Counters struct {
	Queued    int `json:"queued"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// CountersFrom folds per-status company counts into campaign counters.
// Every non-terminal status counts as queued.
func CountersFrom(stats map[Status]int) Counters {
	var c Counters
	for status, n := range stats {
		switch status {
		case StatusCompleted:
			c.Completed += n
		case StatusFailed:
			c.Failed += n
		default:
			c.Queued += n
		}
	}
	return c
}
