// internal/errors/errors.go
package appErrors

import "fmt"

// ErrCampaignNotFound is returned when a campaign ID has no row.
type ErrCampaignNotFound struct {
	CampaignID int
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

func NewCampaignNotFound(id int) error {
	return &ErrCampaignNotFound{CampaignID: id}
}

// ErrCompanyNotFound is returned when a company ID has no row in the campaign.
type ErrCompanyNotFound struct {
	CompanyID int
}

func (e *ErrCompanyNotFound) Error() string {
	return fmt.Sprintf("company with ID %d not found", e.CompanyID)
}

func NewCompanyNotFound(id int) error {
	return &ErrCompanyNotFound{CompanyID: id}
}

// ErrCompanyBusy means another job currently owns the company.
type ErrCompanyBusy struct {
	CompanyID int
}

func (e *ErrCompanyBusy) Error() string {
	return fmt.Sprintf("company %d is already being processed", e.CompanyID)
}

func NewCompanyBusy(id int) error {
	return &ErrCompanyBusy{CompanyID: id}
}

// ErrCompanyNotEligible means the company's status does not allow processing.
type ErrCompanyNotEligible struct {
	CompanyID int
	Status    string
}

func (e *ErrCompanyNotEligible) Error() string {
	return fmt.Sprintf("company %d cannot be processed in status %s", e.CompanyID, e.Status)
}

func NewCompanyNotEligible(id int, status string) error {
	return &ErrCompanyNotEligible{CompanyID: id, Status: status}
}

// ErrQuotaExceeded carries the caller's daily usage so it can be shown instead
// of processing.
type ErrQuotaExceeded struct {
	Tier      string
	Used      int
	Limit     int
	Remaining int
}

func (e *ErrQuotaExceeded) Error() string {
	return fmt.Sprintf("daily limit reached for tier %s: %d/%d used", e.Tier, e.Used, e.Limit)
}

func NewQuotaExceeded(tier string, used, limit int) error {
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return &ErrQuotaExceeded{Tier: tier, Used: used, Limit: limit, Remaining: remaining}
}

// ErrInvalidInput is a request the engine refuses before doing any work.
type ErrInvalidInput struct {
	Field  string
	Reason string
}

func (e *ErrInvalidInput) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func NewInvalidInput(field, reason string) error {
	return &ErrInvalidInput{Field: field, Reason: reason}
}
