// internal/service/orchestrator.go
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/repository"
)

// BatchRun is one dispatch of companies for a campaign. It never leaves the
// orchestrator; callers only see the BatchResult.
type BatchRun struct {
	ID          uuid.UUID
	CampaignID  int
	CompanyIDs  []int
	Ceiling     int
	Concurrency int
}

type BatchResult struct {
	RunID     string          `json:"runId,omitempty"`
	Processed int             `json:"processed"`
	Completed int             `json:"completed"`
	Failed    int             `json:"failed"`
	Skipped   int             `json:"skipped"`
	Results   []model.Outcome `json:"results"`
}

func (r *BatchResult) add(o model.Outcome) {
	r.Results = append(r.Results, o)
	switch {
	case o.Skipped:
		r.Skipped++
		return
	case o.Status == model.StatusCompleted:
		r.Completed++
	case o.Status == model.StatusFailed:
		r.Failed++
	}
	r.Processed++
}

// Orchestrator runs batches on a bounded pool, paced by a dispatch limiter.
type Orchestrator struct {
	Campaigns   repository.CampaignRepositoryInterface
	Companies   repository.CompanyRepositoryInterface
	Runner      JobRunner
	Concurrency int
	Interval    time.Duration

	claims    *claimSet
	countersM sync.Mutex

	runsM sync.Mutex
	runs  map[int]map[uuid.UUID]context.CancelFunc
}

func NewOrchestrator(campaigns repository.CampaignRepositoryInterface, companies repository.CompanyRepositoryInterface, runner JobRunner, concurrency int, interval time.Duration) *Orchestrator {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Orchestrator{
		Campaigns:   campaigns,
		Companies:   companies,
		Runner:      runner,
		Concurrency: concurrency,
		Interval:    interval,
		claims:      newClaimSet(),
		runs:        make(map[int]map[uuid.UUID]context.CancelFunc),
	}
}

// NewRun prepares a run over the first ceiling companies of ids.
func (o *Orchestrator) NewRun(campaignID int, ids []int, ceiling int) BatchRun {
	if ceiling > len(ids) {
		ceiling = len(ids)
	}
	if ceiling < 0 {
		ceiling = 0
	}
	return BatchRun{
		ID:          uuid.New(),
		CampaignID:  campaignID,
		CompanyIDs:  ids[:ceiling],
		Ceiling:     ceiling,
		Concurrency: o.Concurrency,
	}
}

// Busy reports whether a job in this process owns the company.
func (o *Orchestrator) Busy(companyID int) bool {
	return o.claims.Held(companyID)
}

// Owned lists companies owned by live jobs in this process.
func (o *Orchestrator) Owned() map[int]bool {
	return o.claims.Snapshot()
}

// Stop cancels every active run of the campaign and reports whether any was
// running. Calling it again is harmless.
func (o *Orchestrator) Stop(campaignID int) bool {
	o.runsM.Lock()
	defer o.runsM.Unlock()
	active := o.runs[campaignID]
	for _, cancel := range active {
		cancel()
	}
	return len(active) > 0
}

func (o *Orchestrator) register(run BatchRun, cancel context.CancelFunc) func() {
	o.runsM.Lock()
	defer o.runsM.Unlock()
	if o.runs[run.CampaignID] == nil {
		o.runs[run.CampaignID] = make(map[uuid.UUID]context.CancelFunc)
	}
	o.runs[run.CampaignID][run.ID] = cancel
	return func() {
		o.runsM.Lock()
		defer o.runsM.Unlock()
		delete(o.runs[run.CampaignID], run.ID)
		if len(o.runs[run.CampaignID]) == 0 {
			delete(o.runs, run.CampaignID)
		}
	}
}

// Run dispatches the run's companies in order and waits for all of them.
// Companies not dispatched before a stop stay pending and come back skipped.
func (o *Orchestrator) Run(ctx context.Context, campaign *model.Campaign, run BatchRun) *BatchResult {
	log := zap.L().With(zap.Int("campaign_id", campaign.ID), zap.String("run_id", run.ID.String()))
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	unregister := o.register(run, cancel)
	defer unregister()

	limit := rate.Inf
	if o.Interval > 0 {
		limit = rate.Every(o.Interval)
	}
	limiter := rate.NewLimiter(limit, 1)

	concurrency := run.Concurrency
	if concurrency < 1 {
		concurrency = o.Concurrency
	}
	var g errgroup.Group
	g.SetLimit(concurrency)

	log.Info("batch started", zap.Int("companies", len(run.CompanyIDs)), zap.Int("concurrency", concurrency))
	outcomes := make([]model.Outcome, len(run.CompanyIDs))
	for i, id := range run.CompanyIDs {
		i, id := i, id // per-iteration copies (go1.22 loopvar semantics)
		if err := limiter.Wait(ctx); err != nil {
			outcomes[i] = skipped(id)
			continue
		}
		g.Go(func() error {
			// a stop may land while this slot was being waited for
			if ctx.Err() != nil {
				outcomes[i] = skipped(id)
				return nil
			}
			outcomes[i] = o.runOne(ctx, campaign, id)
			return nil
		})
	}
	_ = g.Wait()

	result := &BatchResult{RunID: run.ID.String(), Results: make([]model.Outcome, 0, len(outcomes))}
	for _, out := range outcomes {
		result.add(out)
	}
	log.Info("batch finished",
		zap.Int("processed", result.Processed),
		zap.Int("completed", result.Completed),
		zap.Int("failed", result.Failed),
		zap.Int("skipped", result.Skipped),
	)
	return result
}

func skipped(companyID int) model.Outcome {
	return model.Outcome{CompanyID: companyID, Status: model.StatusPending, ContactMethod: model.ContactNone, Skipped: true}
}

func (o *Orchestrator) runOne(ctx context.Context, campaign *model.Campaign, companyID int) model.Outcome {
	log := zap.L().With(zap.Int("campaign_id", campaign.ID), zap.Int("company_id", companyID))
	if !o.claims.Claim(companyID) {
		log.Info("company already owned, skipping")
		return skipped(companyID)
	}
	defer o.claims.Release(companyID)

	company, err := o.Companies.GetByID(ctx, campaign.ID, companyID)
	if err != nil {
		log.Warn("load company failed", zap.Error(err))
		return skipped(companyID)
	}
	if company.Status != model.StatusPending {
		log.Info("company not pending, skipping", zap.String("status", company.Status.String()))
		out := skipped(companyID)
		out.Status = company.Status
		return out
	}

	out, err := o.Runner.Run(ctx, campaign, company)
	if err != nil {
		if errors.Is(err, errOwnershipLost) && out.Status == "" {
			log.Info("company claimed elsewhere, skipping")
			return skipped(companyID)
		}
		log.Error("job ended without a stored outcome", zap.Error(err))
		if out.Status == "" {
			out = model.Outcome{CompanyID: companyID, Status: model.StatusFailed, Reason: model.ReasonError, ErrorMessage: err.Error()}
		}
	}
	o.RefreshCounters(ctx, campaign.ID)
	return out
}

// RefreshCounters recomputes the campaign counters from stored statuses.
// Calls are serialized so concurrent jobs never interleave their writes.
func (o *Orchestrator) RefreshCounters(ctx context.Context, campaignID int) {
	o.countersM.Lock()
	defer o.countersM.Unlock()

	pctx, cancel := persistCtx(ctx)
	defer cancel()
	counts, err := o.Companies.StatusCounts(pctx, campaignID)
	if err != nil {
		zap.L().Warn("count statuses failed", zap.Int("campaign_id", campaignID), zap.Error(err))
		return
	}
	if err := o.Campaigns.UpdateCounters(pctx, campaignID, model.CountersFrom(counts)); err != nil {
		zap.L().Warn("update counters failed", zap.Int("campaign_id", campaignID), zap.Error(err))
	}
}
