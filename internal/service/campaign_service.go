// internal/service/campaign_service.go
package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/queue"
	"github.com/unclebandit/outreach-engine/internal/quota"
	"github.com/unclebandit/outreach-engine/internal/repository"
)

const (
	defaultSingleBudget = 60 * time.Second
	defaultBatchBudget  = 300 * time.Second
	defaultStuckAfter   = 15 * time.Minute
	// queued runs whose completion was never heard of are forgotten after this
	queuedRunTTL = 6 * time.Hour
)

type CampaignService struct {
	CampaignRepo repository.CampaignRepositoryInterface
	CompanyRepo  repository.CompanyRepositoryInterface
	Gatekeeper   *quota.Gatekeeper
	Orchestrator *Orchestrator
	Queue        queue.Queue

	DefaultSubject string
	SingleBudget   time.Duration
	BatchBudget    time.Duration
	StuckAfter     time.Duration
	Now            func() time.Time

	queuedM sync.Mutex
	queued  map[string]queuedRun
}

// queuedRun is an async batch handed to the queue and not yet reported done.
type queuedRun struct {
	campaignID int
	at         time.Time
}

// Caller identifies who is spending the daily allowance.
type Caller struct {
	ID   string
	Tier string
}

// BatchRequest selects companies for a batch. Empty CompanyIDs means every
// pending company; RequestedLimit 0 means no caller limit.
type BatchRequest struct {
	CompanyIDs     []int `json:"companyIds"`
	RequestedLimit int   `json:"requestedLimit"`
}

type CampaignDetails struct {
	ID              int                 `json:"id"`
	Name            string              `json:"name"`
	OwnerID         string              `json:"ownerId"`
	Sender          model.SenderProfile `json:"sender"`
	MessageTemplate string              `json:"messageTemplate"`
	Subject         string              `json:"subject"`
	CreatedAt       time.Time           `json:"createdAt"`
	UpdatedAt       *time.Time          `json:"updatedAt"`
	Counters        model.Counters      `json:"counters"`
	Stats           map[string]int      `json:"stats"`
}

func (s *CampaignService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func budget(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}

func (s *CampaignService) loadCampaign(ctx context.Context, id int) (*model.Campaign, error) {
	campaign, err := s.CampaignRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if campaign.Subject == "" {
		campaign.Subject = s.DefaultSubject
	}
	return campaign, nil
}

// RunSingle processes one company synchronously. Failed companies are
// re-queued first; completed and in-flight ones are refused.
func (s *CampaignService) RunSingle(ctx context.Context, campaignID, companyID int, caller Caller) (*model.Outcome, error) {
	campaign, err := s.loadCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	company, err := s.CompanyRepo.GetByID(ctx, campaignID, companyID)
	if err != nil {
		return nil, err
	}
	switch {
	case s.Orchestrator.Busy(companyID), company.Status.InFlight():
		return nil, appErrors.NewCompanyBusy(companyID)
	case company.Status == model.StatusCompleted:
		return nil, appErrors.NewCompanyNotEligible(companyID, company.Status.String())
	}

	res, err := s.Gatekeeper.Reserve(ctx, caller.ID, caller.Tier, 1)
	if err != nil {
		return nil, err
	}
	if company.Status == model.StatusFailed {
		ok, err := s.CompanyRepo.Transition(ctx, companyID, model.StatusFailed, model.StatusPending)
		if err != nil || !ok {
			s.release(ctx, res, res.Granted)
			if err != nil {
				return nil, err
			}
			return nil, appErrors.NewCompanyBusy(companyID)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, budget(s.SingleBudget, defaultSingleBudget))
	defer cancel()
	result := s.dispatch(ctx, campaign, []int{companyID}, res)
	if len(result.Results) == 0 {
		return nil, eris.Errorf("company %d produced no outcome", companyID)
	}
	return &result.Results[0], nil
}

// RunBatch processes up to min(requested, tier remaining, eligible) pending
// companies, in list order, and waits for them.
func (s *CampaignService) RunBatch(ctx context.Context, campaignID int, req BatchRequest, caller Caller) (*BatchResult, error) {
	campaign, err := s.loadCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if req.RequestedLimit < 0 {
		return nil, appErrors.NewInvalidInput("requestedLimit", "must not be negative")
	}
	eligible, err := s.eligible(ctx, campaignID, req.CompanyIDs)
	if err != nil {
		return nil, err
	}
	if len(eligible) == 0 {
		return &BatchResult{Results: []model.Outcome{}}, nil
	}

	want := quota.Ceiling(req.RequestedLimit, quota.TierUnlimited, len(eligible))
	res, err := s.Gatekeeper.Reserve(ctx, caller.ID, caller.Tier, want)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, budget(s.BatchBudget, defaultBatchBudget))
	defer cancel()
	return s.dispatch(ctx, campaign, eligible, res), nil
}

// EnqueueBatch hands the batch to a worker and returns its run ID. The
// allowance is checked now and reserved when the worker runs it.
func (s *CampaignService) EnqueueBatch(ctx context.Context, campaignID int, req BatchRequest, caller Caller) (string, error) {
	if s.Queue == nil {
		return "", eris.New("no batch queue configured")
	}
	if _, err := s.CampaignRepo.GetByID(ctx, campaignID); err != nil {
		return "", err
	}
	usage, err := s.Gatekeeper.Usage(ctx, caller.ID, caller.Tier)
	if err != nil {
		return "", err
	}
	if !usage.Unlimited && usage.DailyRemaining == 0 {
		return "", appErrors.NewQuotaExceeded(string(usage.Tier), usage.DailyUsed, usage.DailyLimit)
	}

	msg := queue.BatchMessage{
		RunID:          uuid.NewString(),
		CampaignID:     campaignID,
		CompanyIDs:     req.CompanyIDs,
		RequestedLimit: req.RequestedLimit,
		CallerID:       caller.ID,
		Tier:           caller.Tier,
		EnqueuedAt:     s.now().UTC(),
	}
	// tracked before publishing: an in-process worker may finish first
	s.trackQueued(msg)
	if err := s.Queue.Publish(ctx, queue.TopicBatches, msg); err != nil {
		s.forgetQueued(msg.RunID)
		return "", err
	}
	zap.L().Info("batch enqueued", zap.Int("campaign_id", campaignID), zap.String("run_id", msg.RunID))
	return msg.RunID, nil
}

// Attach makes q the batch queue and follows the completions workers
// broadcast, so Stop knows which campaigns still have queued work.
func (s *CampaignService) Attach(ctx context.Context, q queue.Queue) error {
	s.Queue = q
	return q.Listen(ctx, queue.ExchangeControl, func(sig queue.Signal) {
		if sig.Kind == queue.SignalRunDone {
			s.forgetQueued(sig.RunID)
		}
	})
}

func (s *CampaignService) trackQueued(msg queue.BatchMessage) {
	s.queuedM.Lock()
	defer s.queuedM.Unlock()
	if s.queued == nil {
		s.queued = make(map[string]queuedRun)
	}
	s.queued[msg.RunID] = queuedRun{campaignID: msg.CampaignID, at: msg.EnqueuedAt}
}

func (s *CampaignService) forgetQueued(runID string) {
	s.queuedM.Lock()
	defer s.queuedM.Unlock()
	delete(s.queued, runID)
}

// hasQueued reports whether the campaign has async runs not yet reported done.
func (s *CampaignService) hasQueued(campaignID int) bool {
	s.queuedM.Lock()
	defer s.queuedM.Unlock()
	cutoff := s.now().UTC().Add(-queuedRunTTL)
	found := false
	for id, run := range s.queued {
		if run.at.Before(cutoff) {
			delete(s.queued, id)
			continue
		}
		if run.campaignID == campaignID {
			found = true
		}
	}
	return found
}

// Stop cancels the campaign's running batches here and, through the queue,
// in every worker, which also drops the campaign's batches still waiting in
// the queue. It reports whether anything was running or queued.
func (s *CampaignService) Stop(ctx context.Context, campaignID int) (bool, error) {
	if _, err := s.CampaignRepo.GetByID(ctx, campaignID); err != nil {
		return false, err
	}
	stopped := s.StopLocal(campaignID)
	if s.Queue != nil {
		stopped = s.hasQueued(campaignID) || stopped
		sig := queue.Signal{Kind: queue.SignalStop, CampaignID: campaignID, At: s.now().UTC()}
		if err := s.Queue.Broadcast(ctx, queue.ExchangeControl, sig); err != nil {
			return stopped, eris.Wrap(err, "broadcast stop")
		}
	}
	zap.L().Info("stop requested", zap.Int("campaign_id", campaignID), zap.Bool("was_running", stopped))
	return stopped, nil
}

// StopLocal cancels the campaign's batches running in this process only.
func (s *CampaignService) StopLocal(campaignID int) bool {
	return s.Orchestrator.Stop(campaignID)
}

// ResetStuck returns in-flight companies untouched for olderThan to pending,
// leaving alone those owned by live jobs in this process.
func (s *CampaignService) ResetStuck(ctx context.Context, campaignID int, olderThan time.Duration) ([]int, error) {
	if _, err := s.CampaignRepo.GetByID(ctx, campaignID); err != nil {
		return nil, err
	}
	olderThan = budget(olderThan, budget(s.StuckAfter, defaultStuckAfter))
	cutoff := s.now().Add(-olderThan)
	ids, err := s.CompanyRepo.ResetStuck(ctx, campaignID, cutoff, s.Orchestrator.Owned())
	if err != nil {
		return ids, err
	}
	if len(ids) > 0 {
		s.Orchestrator.RefreshCounters(ctx, campaignID)
	}
	zap.L().Info("stuck companies reset", zap.Int("campaign_id", campaignID), zap.Ints("company_ids", ids))
	return ids, nil
}

// RetryFailed re-queues failed companies, within the caller's allowance, and
// runs them as a batch.
func (s *CampaignService) RetryFailed(ctx context.Context, campaignID int, caller Caller) (*BatchResult, error) {
	campaign, err := s.loadCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	failed, err := s.CompanyRepo.IDsByStatus(ctx, campaignID, model.StatusFailed)
	if err != nil {
		return nil, err
	}
	if len(failed) == 0 {
		return &BatchResult{Results: []model.Outcome{}}, nil
	}
	res, err := s.Gatekeeper.Reserve(ctx, caller.ID, caller.Tier, len(failed))
	if err != nil {
		return nil, err
	}

	requeued := make([]int, 0, res.Granted)
	for _, id := range failed[:res.Granted] {
		ok, err := s.CompanyRepo.Transition(ctx, id, model.StatusFailed, model.StatusPending)
		if err != nil {
			s.release(ctx, res, res.Granted)
			return nil, err
		}
		if ok {
			requeued = append(requeued, id)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, budget(s.BatchBudget, defaultBatchBudget))
	defer cancel()
	return s.dispatch(ctx, campaign, requeued, res), nil
}

// Usage reports the caller's allowance for today.
func (s *CampaignService) Usage(ctx context.Context, caller Caller) (*quota.Usage, error) {
	return s.Gatekeeper.Usage(ctx, caller.ID, caller.Tier)
}

// GetCampaignDetails returns the campaign with per-status company counts.
func (s *CampaignService) GetCampaignDetails(ctx context.Context, id int) (*CampaignDetails, error) {
	campaign, err := s.loadCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	counts, err := s.CompanyRepo.StatusCounts(ctx, id)
	if err != nil {
		return nil, err
	}

	stats := map[string]int{"total": 0}
	for _, st := range []model.Status{
		model.StatusPending, model.StatusDiscovering, model.StatusFilling,
		model.StatusSubmitting, model.StatusCompleted, model.StatusFailed,
	} {
		stats[st.String()] = counts[st]
		stats["total"] += counts[st]
	}

	return &CampaignDetails{
		ID:              campaign.ID,
		Name:            campaign.Name,
		OwnerID:         campaign.OwnerID,
		Sender:          campaign.Sender,
		MessageTemplate: campaign.MessageTemplate,
		Subject:         campaign.Subject,
		CreatedAt:       campaign.CreatedAt,
		UpdatedAt:       campaign.UpdatedAt,
		Counters:        model.CountersFrom(counts),
		Stats:           stats,
	}, nil
}

// ListCompanies pages through a campaign's company results.
func (s *CampaignService) ListCompanies(ctx context.Context, campaignID, page, pageSize int, status string) ([]*model.Company, map[string]int, error) {
	if _, err := s.CampaignRepo.GetByID(ctx, campaignID); err != nil {
		return nil, nil, err
	}
	st := model.Status(status)
	if status != "" && !st.IsValid() {
		return nil, nil, appErrors.NewInvalidInput("status", "unknown status "+status)
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	companies, total, err := s.CompanyRepo.ListByCampaign(ctx, campaignID, repository.CompanyFilter{
		Status: st,
		Offset: offset,
		Limit:  pageSize,
	})
	if err != nil {
		return nil, nil, err
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":       page,
		"pageSize":   pageSize,
		"totalCount": total,
		"totalPages": totalPages,
	}
	return companies, pagination, nil
}

// eligible keeps the pending companies of ids, in order and without
// duplicates. Empty ids selects every pending company.
func (s *CampaignService) eligible(ctx context.Context, campaignID int, ids []int) ([]int, error) {
	pending, err := s.CompanyRepo.IDsByStatus(ctx, campaignID, model.StatusPending)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return pending, nil
	}
	isPending := make(map[int]bool, len(pending))
	for _, id := range pending {
		isPending[id] = true
	}
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if isPending[id] {
			out = append(out, id)
			delete(isPending, id)
		}
	}
	return out, nil
}

// dispatch runs ids under the reservation and hands back what the run did
// not use.
func (s *CampaignService) dispatch(ctx context.Context, campaign *model.Campaign, ids []int, res *quota.Reservation) *BatchResult {
	run := s.Orchestrator.NewRun(campaign.ID, ids, res.Granted)
	result := s.Orchestrator.Run(ctx, campaign, run)
	if unused := res.Granted - result.Processed; unused > 0 {
		s.release(ctx, res, unused)
	}
	return result
}

func (s *CampaignService) release(ctx context.Context, res *quota.Reservation, n int) {
	pctx, cancel := persistCtx(ctx)
	defer cancel()
	if err := s.Gatekeeper.Release(pctx, res, n); err != nil {
		zap.L().Warn("release quota failed", zap.String("caller_id", res.CallerID), zap.Error(err))
	}
}
