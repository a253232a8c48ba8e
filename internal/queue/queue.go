package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/unclebandit/outreach-engine/internal/model"
)

// TopicBatches carries batch requests accepted by the HTTP surface.
const TopicBatches = "outreach_batches"

const defaultMaxRetries = 3

// Broadcast exchanges. Every listening process receives every signal.
const (
	// ExchangeControl carries stop requests and run completions.
	ExchangeControl = "outreach_control"
	// ExchangeEvents carries job progress from workers to observers.
	ExchangeEvents = "outreach_events"
)

// BatchMessage asks a worker to run a batch on behalf of a caller.
type BatchMessage struct {
	RunID          string `json:"run_id"`
	CampaignID     int    `json:"campaign_id"`
	CompanyIDs     []int  `json:"company_ids"`
	RequestedLimit int    `json:"requested_limit"`
	CallerID       string `json:"caller_id"`
	Tier           string `json:"tier"`
	RetryFailed    bool   `json:"retry_failed,omitempty"`
	// EnqueuedAt lets a worker drop batches stopped before they started.
	EnqueuedAt time.Time `json:"enqueued_at"`
}

type SignalKind string

const (
	SignalStop    SignalKind = "stop"
	SignalRunDone SignalKind = "run_done"
	SignalEvent   SignalKind = "event"
	SignalCrash   SignalKind = "crash"
)

// Signal is a fire-and-forget broadcast. Listeners that are not running when
// it is sent never see it.
type Signal struct {
	Kind       SignalKind   `json:"kind"`
	CampaignID int          `json:"campaign_id"`
	CompanyID  int          `json:"company_id,omitempty"`
	RunID      string       `json:"run_id,omitempty"`
	At         time.Time    `json:"at"`
	Event      *model.Event `json:"event,omitempty"`
	Error      string       `json:"error,omitempty"`
}

// Fanout broadcasts signals to every listener of an exchange.
type Fanout interface {
	Broadcast(ctx context.Context, exchange string, sig Signal) error
	Listen(ctx context.Context, exchange string, fn func(Signal)) error
}

// Handler processes one message. A returned error schedules a retry.
type Handler func(ctx context.Context, msg BatchMessage) error

// Queue interface
type Queue interface {
	Fanout
	Publish(ctx context.Context, topic string, msg BatchMessage) error
	Subscribe(ctx context.Context, topic string, handler Handler) error
	Close() error
}

// InMemoryQueue delivers in process with retry and linear backoff.
type InMemoryQueue struct {
	mu         sync.Mutex
	handlers   map[string][]Handler
	listeners  map[string][]func(Signal)
	wg         sync.WaitGroup
	closed     bool
	MaxRetries int
	Backoff    time.Duration
}

// NewInMemoryQueue creates a new queue
func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		handlers:   make(map[string][]Handler),
		listeners:  make(map[string][]func(Signal)),
		MaxRetries: defaultMaxRetries,
		Backoff:    500 * time.Millisecond,
	}
}

// job wraps a message with retry info
type job struct {
	msg        BatchMessage
	retryCount int
}

// Publish hands the message to every subscriber of topic.
func (q *InMemoryQueue) Publish(ctx context.Context, topic string, msg BatchMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return eris.New("queue closed")
	}
	handlers := q.handlers[topic]
	if len(handlers) == 0 {
		return eris.Errorf("no subscribers for topic %s", topic)
	}

	// handlers outlive the publishing request
	jobCtx := context.WithoutCancel(ctx)
	for _, handler := range handlers {
		q.wg.Add(1)
		go q.process(jobCtx, handler, job{msg: msg})
	}
	return nil
}

// process handles retries and errors
func (q *InMemoryQueue) process(ctx context.Context, handler Handler, j job) {
	defer q.wg.Done()
	log := zap.L().With(zap.Int("campaign_id", j.msg.CampaignID), zap.String("run_id", j.msg.RunID))
	for {
		err := handler(ctx, j.msg)
		if err == nil {
			log.Debug("batch message processed")
			return
		}

		j.retryCount++
		if j.retryCount > q.MaxRetries {
			log.Error("batch message permanently failed", zap.Int("attempts", j.retryCount), zap.Error(err))
			return
		}
		log.Warn("batch message failed, retrying", zap.Int("attempt", j.retryCount), zap.Error(err))

		select {
		case <-time.After(time.Duration(j.retryCount) * q.Backoff):
		case <-ctx.Done():
			return
		}
	}
}

// Subscribe adds a handler for a topic. ctx is unused in process.
func (q *InMemoryQueue) Subscribe(_ context.Context, topic string, handler Handler) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[topic] = append(q.handlers[topic], handler)
	return nil
}

// Close rejects new messages and waits for in-flight handlers.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wg.Wait()
	return nil
}

// Broadcast calls every listener of exchange before returning.
func (q *InMemoryQueue) Broadcast(_ context.Context, exchange string, sig Signal) error {
	q.mu.Lock()
	listeners := append(([]func(Signal))(nil), q.listeners[exchange]...)
	q.mu.Unlock()
	for _, fn := range listeners {
		fn(sig)
	}
	return nil
}

// Listen registers fn for exchange. ctx is unused in process.
func (q *InMemoryQueue) Listen(_ context.Context, exchange string, fn func(Signal)) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners[exchange] = append(q.listeners[exchange], fn)
	return nil
}
