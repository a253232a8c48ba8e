// internal/service/job.go
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/browser"
	"github.com/unclebandit/outreach-engine/internal/formfill"
	"github.com/unclebandit/outreach-engine/internal/model"
	"github.com/unclebandit/outreach-engine/internal/monitor"
	"github.com/unclebandit/outreach-engine/internal/repository"
	"github.com/unclebandit/outreach-engine/internal/storage"
)

const (
	defaultStageTimeout = 45 * time.Second
	persistTimeout      = 10 * time.Second
)

// errOwnershipLost means the stored status moved under a running job.
var errOwnershipLost = eris.New("company status changed by another owner")

// claimSet is the in-process half of company ownership; the stored-status
// compare-and-set is the other half.
type claimSet struct {
	mu  sync.Mutex
	ids map[int]bool
}

func newClaimSet() *claimSet {
	return &claimSet{ids: make(map[int]bool)}
}

func (c *claimSet) Claim(id int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ids[id] {
		return false
	}
	c.ids[id] = true
	return true
}

func (c *claimSet) Release(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.ids, id)
}

func (c *claimSet) Held(id int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ids[id]
}

func (c *claimSet) Snapshot() map[int]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int]bool, len(c.ids))
	for id := range c.ids {
		out[id] = true
	}
	return out
}

// JobRunner drives one claimed, pending company to a terminal outcome.
type JobRunner interface {
	Run(ctx context.Context, campaign *model.Campaign, company *model.Company) (model.Outcome, error)
}

// Jobs builds and runs per-company state machines.
type Jobs struct {
	Companies    repository.CompanyRepositoryInterface
	Driver       *browser.Driver
	Screenshots  storage.ScreenshotStore
	Events       monitor.Sink
	StageTimeout time.Duration
	Now          func() time.Time
}

func (j *Jobs) Run(ctx context.Context, campaign *model.Campaign, company *model.Company) (model.Outcome, error) {
	job := &job{
		jobs:     j,
		campaign: campaign,
		company:  company,
		status:   company.Status,
		log: zap.L().With(
			zap.Int("campaign_id", campaign.ID),
			zap.Int("company_id", company.ID),
		),
	}
	return job.run(ctx)
}

type job struct {
	jobs     *Jobs
	campaign *model.Campaign
	company  *model.Company
	status   model.Status
	log      *zap.Logger
}

func (j *job) now() time.Time {
	if j.jobs.Now != nil {
		return j.jobs.Now()
	}
	return time.Now()
}

func (j *job) stageTimeout() time.Duration {
	if j.jobs.StageTimeout > 0 {
		return j.jobs.StageTimeout
	}
	return defaultStageTimeout
}

func (j *job) emit(typ model.EventType, data map[string]any) {
	if j.jobs.Events != nil {
		j.jobs.Events.Emit(j.campaign.ID, j.company.ID, typ, data)
	}
}

// persistCtx survives a stop request so state writes still land.
func persistCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
}

func (j *job) advance(ctx context.Context, to model.Status) error {
	pctx, cancel := persistCtx(ctx)
	defer cancel()
	ok, err := j.jobs.Companies.Transition(pctx, j.company.ID, j.status, to)
	if err != nil {
		return err
	}
	if !ok {
		return errOwnershipLost
	}
	j.log.Debug("status changed", zap.String("from", j.status.String()), zap.String("to", to.String()))
	j.status = to
	j.emit(model.EventStatus, map[string]any{"status": to})
	return nil
}

func (j *job) run(ctx context.Context) (out model.Outcome, err error) {
	if err := j.advance(ctx, model.StatusDiscovering); err != nil {
		return model.Outcome{}, err
	}

	crashed := false
	defer func() {
		if r := recover(); r != nil {
			crashed = true
			j.log.Error("job panicked", zap.Any("panic", r), zap.Stack("stack"))
			out = j.failed(model.ReasonError, fmt.Sprintf("panic: %v", r))
		}
		out, err = j.finish(ctx, out, crashed)
	}()

	return j.work(ctx), nil
}

// finish persists the terminal outcome and closes the live stream.
func (j *job) finish(ctx context.Context, out model.Outcome, crashed bool) (model.Outcome, error) {
	out.CompanyID = j.company.ID
	if out.ContactMethod == "" {
		out.ContactMethod = model.ContactNone
	}

	pctx, cancel := persistCtx(ctx)
	defer cancel()
	ok, err := j.jobs.Companies.SaveOutcome(pctx, j.status, out)
	if err == nil && !ok {
		err = errOwnershipLost
	}
	if err != nil {
		j.log.Error("persist outcome failed", zap.Error(err))
		if j.jobs.Events != nil {
			j.jobs.Events.Crash(j.campaign.ID, j.company.ID, err)
		}
		return out, err
	}
	j.status = out.Status

	j.log.Info("company processed",
		zap.String("status", out.Status.String()),
		zap.String("reason", string(out.Reason)),
		zap.Int("fields_filled", out.FieldsFilled),
		zap.Int("emails_found", len(out.EmailsFound)),
	)
	j.emit(model.EventLog, map[string]any{"action": "outcome", "status": out.Status, "reason": out.Reason})
	if crashed && j.jobs.Events != nil {
		j.jobs.Events.Crash(j.campaign.ID, j.company.ID, errors.New(out.ErrorMessage))
		return out, nil
	}
	data := map[string]any{"status": out.Status, "contactMethod": out.ContactMethod}
	if out.Reason != model.ReasonNone {
		data["reason"] = out.Reason
		data["errorMessage"] = out.ErrorMessage
	}
	if len(out.EmailsFound) > 0 {
		data["emailsFound"] = out.EmailsFound
	}
	j.emit(model.EventStatus, data)
	return out, nil
}

func (j *job) failed(reason model.FailureReason, msg string) model.Outcome {
	return model.Outcome{Status: model.StatusFailed, Reason: reason, ErrorMessage: msg}
}

// failure maps a stage error to its terminal reason. Errors after the
// caller's context ended are timeouts whatever their wrapping.
func (j *job) failure(ctx context.Context, err error) model.Outcome {
	var captcha *browser.CaptchaError
	switch {
	case errors.As(err, &captcha):
		return j.failed(model.ReasonCaptchaBlocked, captcha.Error())
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled), ctx.Err() != nil:
		return j.failed(model.ReasonTimeout, err.Error())
	}
	return j.failed(model.ReasonError, err.Error())
}

func (j *job) work(ctx context.Context) model.Outcome {
	if err := ctx.Err(); err != nil {
		return j.failure(ctx, err)
	}
	session, err := j.jobs.Driver.Open(ctx, j.emit)
	if err != nil {
		return j.failure(ctx, err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			j.log.Debug("close session", zap.Error(err))
		}
	}()

	stageCtx, cancel := context.WithTimeout(ctx, j.stageTimeout())
	found, err := session.Discover(stageCtx, j.company.WebsiteURL)
	cancel()
	if err != nil {
		return j.failure(ctx, err)
	}
	if found.Form == nil {
		out := j.failed(model.ReasonNoContactFound, "no qualifying contact form found")
		out.ContactPageURL = found.PageURL
		if len(found.Emails) > 0 {
			out.ContactMethod = model.ContactEmail
			out.EmailsFound = found.Emails
			out.ErrorMessage = fmt.Sprintf("no qualifying contact form found; %d email address(es) harvested", len(found.Emails))
		}
		return out
	}

	if err := ctx.Err(); err != nil {
		return j.failure(ctx, err)
	}
	if err := j.advance(ctx, model.StatusFilling); err != nil {
		return j.failed(model.ReasonError, err.Error())
	}
	stageCtx, cancel = context.WithTimeout(ctx, j.stageTimeout())
	filled, err := session.Fill(stageCtx, formfill.NewResolver(j.campaign, j.company))
	cancel()
	if err != nil {
		out := j.failure(ctx, err)
		out.ContactPageURL = found.PageURL
		return out
	}

	if err := ctx.Err(); err != nil {
		out := j.failure(ctx, err)
		out.ContactPageURL = found.PageURL
		return out
	}
	if err := j.advance(ctx, model.StatusSubmitting); err != nil {
		return j.failed(model.ReasonError, err.Error())
	}
	// A submission in progress is not interrupted by a stop; only its own
	// budget bounds it.
	submitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), j.stageTimeout())
	defer cancel()
	res, err := session.Submit(submitCtx)
	if err != nil {
		out := j.failure(submitCtx, err)
		out.ContactMethod = model.ContactForm
		out.ContactPageURL = found.PageURL
		out.FieldsFilled = filled
		return out
	}

	out := model.Outcome{
		Status:         model.StatusCompleted,
		ContactMethod:  model.ContactForm,
		ContactPageURL: found.PageURL,
		FieldsFilled:   filled,
		Acknowledged:   res.Acknowledged,
	}
	out.ScreenshotRef = j.screenshot(submitCtx, session)
	return out
}

// screenshot failures never change the outcome.
func (j *job) screenshot(ctx context.Context, session *browser.Session) string {
	if j.jobs.Screenshots == nil {
		return ""
	}
	shot, err := session.Screenshot(ctx)
	if err != nil {
		j.log.Warn("screenshot failed", zap.Error(err))
		return ""
	}
	ref, err := j.jobs.Screenshots.Save(ctx, storage.ObjectName(j.campaign.ID, j.company.ID, j.now()), shot)
	if err != nil {
		j.log.Warn("screenshot upload failed", zap.Error(err))
		return ""
	}
	return ref
}
