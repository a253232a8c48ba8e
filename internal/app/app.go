// Package app wires configuration into the running engine. The server, the
// queue worker and the maintenance CLI all build from here.
package app

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/browser"
	"github.com/unclebandit/outreach-engine/internal/config"
	"github.com/unclebandit/outreach-engine/internal/db"
	"github.com/unclebandit/outreach-engine/internal/monitor"
	"github.com/unclebandit/outreach-engine/internal/queue"
	"github.com/unclebandit/outreach-engine/internal/quota"
	"github.com/unclebandit/outreach-engine/internal/repository"
	"github.com/unclebandit/outreach-engine/internal/service"
	"github.com/unclebandit/outreach-engine/internal/storage"
)

type App struct {
	Config  *config.Config
	DB      *sql.DB
	Hub     *monitor.Hub
	Service *service.CampaignService

	closers []func() error
}

// Options selects the optional parts of the engine.
type Options struct {
	// Browser launches Chrome; only processing commands need it.
	Browser bool
	// Relay, when set, broadcasts job progress on it instead of delivering
	// it to the local hub. Used by processes that serve no observers.
	Relay queue.Fanout
}

// Open connects to the store and builds the campaign service.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	conn, err := db.Open(ctx, cfg.Store.Driver, cfg.Store.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, DB: conn, Hub: monitor.NewHub(0)}
	a.closers = append(a.closers, conn.Close)

	campaigns := &repository.CampaignRepository{DB: conn}
	companies := &repository.CompanyRepository{DB: conn}

	var events monitor.Sink = a.Hub
	if opts.Relay != nil {
		events = monitor.NewRelay(opts.Relay)
	}
	jobs := &service.Jobs{
		Companies:    companies,
		Events:       events,
		StageTimeout: cfg.Driver.StageTimeout,
	}
	if opts.Browser {
		if err := a.attachBrowser(ctx, jobs); err != nil {
			_ = a.Close()
			return nil, err
		}
	}

	orch := service.NewOrchestrator(campaigns, companies, jobs, cfg.Batch.Concurrency, cfg.Batch.DispatchInterval)
	a.Service = &service.CampaignService{
		CampaignRepo:   campaigns,
		CompanyRepo:    companies,
		Gatekeeper:     quota.NewGatekeeper(quota.NewSQLStore(conn)),
		Orchestrator:   orch,
		DefaultSubject: cfg.Campaign.DefaultSubject,
		SingleBudget:   cfg.Batch.SingleBudget,
		BatchBudget:    cfg.Batch.BatchBudget,
		StuckAfter:     cfg.Maintenance.StuckAfter,
	}
	return a, nil
}

func (a *App) attachBrowser(ctx context.Context, jobs *service.Jobs) error {
	cfg := a.Config
	rb, err := browser.NewRodBrowser(browser.RodConfig{
		Headless:       cfg.Browser.Headless,
		Bin:            cfg.Browser.Bin,
		UserAgent:      cfg.Browser.UserAgent,
		ViewportWidth:  cfg.Browser.ViewportWidth,
		ViewportHeight: cfg.Browser.ViewportHeight,
	})
	if err != nil {
		return eris.Wrap(err, "start browser")
	}
	a.closers = append(a.closers, rb.Close)

	shots, err := storage.New(ctx, storage.Config{
		Backend:  cfg.Screenshots.Backend,
		Dir:      cfg.Screenshots.Dir,
		Bucket:   cfg.Screenshots.Bucket,
		Endpoint: cfg.Screenshots.Endpoint,
	})
	if err != nil {
		return eris.Wrap(err, "open screenshot store")
	}
	if c, ok := shots.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}

	jobs.Driver = browser.NewDriver(rb, browser.Config{
		NavigationTimeout: cfg.Browser.NavigationTimeout,
		SettleTimeout:     cfg.Browser.SettleTimeout,
		MinFormFields:     cfg.Driver.MinFormFields,
		MaxEmails:         cfg.Driver.MaxEmails,
	})
	jobs.Screenshots = shots
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	a.Hub.Close()
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			zap.L().Warn("close failed", zap.Error(err))
			if first == nil {
				first = err
			}
		}
	}
	a.closers = nil
	return first
}
