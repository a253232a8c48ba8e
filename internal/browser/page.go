// Package browser drives one isolated headless browsing session per company:
// it finds a contact surface, fills the form and submits it.
package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/unclebandit/outreach-engine/internal/formfill"
	"github.com/unclebandit/outreach-engine/internal/model"
)

// Page is one isolated tab. Every blocking call honours ctx.
type Page interface {
	Navigate(ctx context.Context, url string) error
	URL() string
	HTML(ctx context.Context) (string, error)
	Eval(ctx context.Context, js string) error
	Click(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	Select(ctx context.Context, selector, value string) error
	Check(ctx context.Context, selector string) error
	// Submit clicks the form's submit control, or requests submission when it has none.
	Submit(ctx context.Context, form formfill.Form) error
	WaitSettle(ctx context.Context) error
	Screenshot(ctx context.Context) ([]byte, error)
	Close() error
}

// Browser hands out isolated pages.
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Emitter receives one event per discrete driver action.
type Emitter func(typ model.EventType, data map[string]any)

type Config struct {
	NavigationTimeout time.Duration
	SettleTimeout     time.Duration
	MinFormFields     int
	MaxEmails         int
}

func DefaultConfig() Config {
	return Config{
		NavigationTimeout: 30 * time.Second,
		SettleTimeout:     5 * time.Second,
		MinFormFields:     2,
		MaxEmails:         10,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = d.NavigationTimeout
	}
	if c.SettleTimeout <= 0 {
		c.SettleTimeout = d.SettleTimeout
	}
	if c.MinFormFields <= 0 {
		c.MinFormFields = d.MinFormFields
	}
	if c.MaxEmails <= 0 {
		c.MaxEmails = d.MaxEmails
	}
	return c
}

// CaptchaError reports an anti-automation challenge on a visited page.
type CaptchaError struct {
	Marker string
	URL    string
}

func (e *CaptchaError) Error() string {
	return fmt.Sprintf("captcha detected (%s) on %s", e.Marker, e.URL)
}
