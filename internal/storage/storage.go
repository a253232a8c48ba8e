// Package storage keeps the audit screenshot taken after each form submission.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
)

const (
	BackendLocal = "local"
	BackendGCS   = "gcs"
)

// ScreenshotStore persists one PNG and returns a reference that can be stored
// on the company record.
type ScreenshotStore interface {
	Save(ctx context.Context, name string, png []byte) (string, error)
}

// ObjectName is the storage key for a company's screenshot taken at t.
func ObjectName(campaignID, companyID int, t time.Time) string {
	return fmt.Sprintf("campaigns/%d/companies/%d/%s.png", campaignID, companyID, t.UTC().Format("20060102T150405.000Z"))
}

type Config struct {
	Backend  string
	Dir      string
	Bucket   string
	Endpoint string
}

// New builds the store selected by cfg.Backend.
func New(ctx context.Context, cfg Config) (ScreenshotStore, error) {
	switch cfg.Backend {
	case "", BackendLocal:
		return NewLocalStore(cfg.Dir)
	case BackendGCS:
		return NewGCSStore(ctx, cfg.Bucket, cfg.Endpoint)
	}
	return nil, eris.Errorf("unknown screenshot backend %q", cfg.Backend)
}

// Discard drops screenshots. Used when no store is configured.
type Discard struct{}

func (Discard) Save(context.Context, string, []byte) (string, error) { return "", nil }
