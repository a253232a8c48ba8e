// internal/model/company.go
package model

import (
	"strings"
	"time"
)

// ContactMethod records how a company was ultimately reached.
type ContactMethod string

const (
	ContactNone  ContactMethod = "none"
	ContactForm  ContactMethod = "form"
	ContactEmail ContactMethod = "email"
)

type Company struct {
	ID             int           `db:"id" json:"id"`
	CampaignID     int           `db:"campaign_id" json:"campaignId"`
	Name           string        `db:"company_name" json:"companyName"`
	WebsiteURL     string        `db:"website_url" json:"websiteUrl"`
	ContactEmail   string        `db:"contact_email" json:"contactEmail,omitempty"`
	ContactPerson  string        `db:"contact_person" json:"contactPerson,omitempty"`
	Phone          string        `db:"phone" json:"phone,omitempty"`
	Status         Status        `db:"status" json:"status"`
	ErrorReason    FailureReason `db:"error_reason" json:"errorReason,omitempty"`
	ErrorMessage   string        `db:"error_message" json:"errorMessage,omitempty"`
	ContactMethod  ContactMethod `db:"contact_method" json:"contactMethod,omitempty"`
	EmailsFound    []string      `db:"emails_found" json:"emailsFound,omitempty"`
	ContactPageURL string        `db:"contact_page_url" json:"contactPageUrl,omitempty"`
	ScreenshotRef  string        `db:"screenshot_ref" json:"screenshotRef,omitempty"`
	FieldsFilled   int           `db:"fields_filled" json:"fieldsFilled"`
	ProcessedAt    *time.Time    `db:"processed_at" json:"processedAt,omitempty"`
	CreatedAt      time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time     `db:"updated_at" json:"updatedAt"`
}

// ContactFirstName is the first whitespace token of the stored contact person.
func (c *Company) ContactFirstName() string {
	parts := strings.Fields(c.ContactPerson)
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

// ContactLastName is the last whitespace token of the stored contact person.
func (c *Company) ContactLastName() string {
	parts := strings.Fields(c.ContactPerson)
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

// Outcome is the terminal result of one company job. It is what the state
// machine persists and what callers of the single and batch operations see.
type Outcome struct {
	CompanyID      int           `json:"companyId"`
	Status         Status        `json:"status"`
	Reason         FailureReason `json:"errorReason,omitempty"`
	ErrorMessage   string        `json:"errorMessage,omitempty"`
	ContactMethod  ContactMethod `json:"contactMethod"`
	EmailsFound    []string      `json:"emailsFound,omitempty"`
	ContactPageURL string        `json:"contactPageUrl,omitempty"`
	ScreenshotRef  string        `json:"screenshotRef,omitempty"`
	FieldsFilled   int           `json:"fieldsFilled"`
	Acknowledged   bool          `json:"acknowledged,omitempty"`
	Skipped        bool          `json:"skipped,omitempty"`
}

// PartialSuccess reports a missing form with harvested addresses.
func (o Outcome) PartialSuccess() bool {
	return o.Reason == ReasonNoContactFound && len(o.EmailsFound) > 0
}
