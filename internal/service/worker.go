package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/outreach-engine/internal/errors"
	"github.com/unclebandit/outreach-engine/internal/queue"
)

// BatchRunner is what the worker needs from the campaign service.
type BatchRunner interface {
	RunBatch(ctx context.Context, campaignID int, req BatchRequest, caller Caller) (*BatchResult, error)
	RetryFailed(ctx context.Context, campaignID int, caller Caller) (*BatchResult, error)
	StopLocal(campaignID int) bool
}

// Worker processes queued batch messages
type Worker struct {
	Runner BatchRunner

	control   queue.Fanout
	mu        sync.Mutex
	stoppedAt map[int]time.Time
}

// Constructor
func NewWorker(runner BatchRunner) *Worker {
	return &Worker{Runner: runner, stoppedAt: make(map[int]time.Time)}
}

// Start follows stop requests, then subscribes the worker to the batch topic.
func (w *Worker) Start(ctx context.Context, q queue.Queue) error {
	if err := w.Listen(ctx, q); err != nil {
		return err
	}
	return q.Subscribe(ctx, queue.TopicBatches, w.Handle)
}

// Listen applies stop requests broadcast on f and reports finished runs on it.
func (w *Worker) Listen(ctx context.Context, f queue.Fanout) error {
	w.control = f
	return f.Listen(ctx, queue.ExchangeControl, w.onSignal)
}

func (w *Worker) onSignal(sig queue.Signal) {
	if sig.Kind != queue.SignalStop {
		return
	}
	w.mu.Lock()
	if sig.At.After(w.stoppedAt[sig.CampaignID]) {
		w.stoppedAt[sig.CampaignID] = sig.At
	}
	w.mu.Unlock()

	running := w.Runner.StopLocal(sig.CampaignID)
	zap.L().Info("stop received", zap.Int("campaign_id", sig.CampaignID), zap.Bool("was_running", running))
}

// stoppedBeforeStart reports whether a stop for the campaign was issued after
// msg was enqueued.
func (w *Worker) stoppedBeforeStart(msg queue.BatchMessage) bool {
	if msg.EnqueuedAt.IsZero() {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	at, ok := w.stoppedAt[msg.CampaignID]
	return ok && !msg.EnqueuedAt.After(at)
}

func (w *Worker) done(ctx context.Context, msg queue.BatchMessage) {
	if w.control == nil {
		return
	}
	sig := queue.Signal{Kind: queue.SignalRunDone, CampaignID: msg.CampaignID, RunID: msg.RunID, At: time.Now().UTC()}
	if err := w.control.Broadcast(context.WithoutCancel(ctx), queue.ExchangeControl, sig); err != nil {
		zap.L().Warn("report run done failed", zap.String("run_id", msg.RunID), zap.Error(err))
	}
}

// Handle runs one batch. Only infrastructure errors are returned, so the
// queue never retries a rejected or finished batch.
func (w *Worker) Handle(ctx context.Context, msg queue.BatchMessage) error {
	log := zap.L().With(zap.Int("campaign_id", msg.CampaignID), zap.String("run_id", msg.RunID))
	if w.stoppedBeforeStart(msg) {
		log.Info("batch stopped before it started, dropping")
		w.done(ctx, msg)
		return nil
	}
	caller := Caller{ID: msg.CallerID, Tier: msg.Tier}

	var (
		result *BatchResult
		err    error
	)
	if msg.RetryFailed {
		result, err = w.Runner.RetryFailed(ctx, msg.CampaignID, caller)
	} else {
		req := BatchRequest{CompanyIDs: msg.CompanyIDs, RequestedLimit: msg.RequestedLimit}
		result, err = w.Runner.RunBatch(ctx, msg.CampaignID, req, caller)
	}
	if err != nil {
		if permanent(err) {
			log.Warn("batch rejected", zap.Error(err))
			w.done(ctx, msg)
			return nil
		}
		return err
	}
	w.done(ctx, msg)
	log.Info("queued batch finished",
		zap.Int("processed", result.Processed),
		zap.Int("completed", result.Completed),
		zap.Int("failed", result.Failed),
	)
	return nil
}

func permanent(err error) bool {
	var (
		quotaErr    *appErrors.ErrQuotaExceeded
		campaignErr *appErrors.ErrCampaignNotFound
		inputErr    *appErrors.ErrInvalidInput
	)
	return errors.As(err, &quotaErr) || errors.As(err, &campaignErr) || errors.As(err, &inputErr)
}
