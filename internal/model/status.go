package model

// Status is the per-company processing state.
type Status string

const (
	StatusPending     Status = "pending"
	StatusDiscovering Status = "discovering"
	StatusFilling     Status = "filling"
	StatusSubmitting  Status = "submitting"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
)

// FailureReason qualifies StatusFailed.
type FailureReason string

const (
	ReasonNone           FailureReason = ""
	ReasonTimeout        FailureReason = "timeout"
	ReasonNoContactFound FailureReason = "no_contact_found"
	ReasonCaptchaBlocked FailureReason = "captcha_blocked"
	ReasonError          FailureReason = "error"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusDiscovering, StatusFilling, StatusSubmitting, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// IsTerminal reports whether no automatic transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// InFlight reports whether a job is (or was, if orphaned) working on the company.
func (s Status) InFlight() bool {
	return s == StatusDiscovering || s == StatusFilling || s == StatusSubmitting
}

func (r FailureReason) IsValid() bool {
	switch r {
	case ReasonTimeout, ReasonNoContactFound, ReasonCaptchaBlocked, ReasonError:
		return true
	}
	return false
}

var transitions = map[Status][]Status{
	StatusPending:     {StatusDiscovering},
	StatusDiscovering: {StatusFilling, StatusFailed},
	StatusFilling:     {StatusSubmitting, StatusFailed},
	StatusSubmitting:  {StatusCompleted, StatusFailed},
	// re-queue is always an explicit caller action
	StatusCompleted: {StatusPending},
	StatusFailed:    {StatusPending},
}

// CanTransition reports whether from -> to is an edge of the job state machine.
// Operator resets of stuck jobs are checked separately by CanForceReset.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanForceReset reports whether a stuck company in s may be forced back to pending.
func CanForceReset(s Status) bool {
	return s.InFlight()
}
