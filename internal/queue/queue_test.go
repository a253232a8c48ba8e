package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastQueue() *InMemoryQueue {
	q := NewInMemoryQueue()
	q.Backoff = time.Millisecond
	return q
}

func TestInMemoryQueue_NoSubscribers(t *testing.T) {
	q := fastQueue()
	err := q.Publish(context.Background(), TopicBatches, BatchMessage{CampaignID: 1})
	assert.Error(t, err)
}

func TestInMemoryQueue_Delivers(t *testing.T) {
	q := fastQueue()
	got := make(chan BatchMessage, 1)
	require.NoError(t, q.Subscribe(context.Background(), TopicBatches, func(_ context.Context, msg BatchMessage) error {
		got <- msg
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, q.Publish(ctx, TopicBatches, BatchMessage{CampaignID: 7, CompanyIDs: []int{1, 2}, Tier: "free"}))
	// the publishing request ending must not cancel the handler
	cancel()

	select {
	case msg := <-got:
		assert.Equal(t, 7, msg.CampaignID)
		assert.Equal(t, []int{1, 2}, msg.CompanyIDs)
	case <-time.After(2 * time.Second):
		t.Fatal("message not delivered")
	}
	require.NoError(t, q.Close())
}

func TestInMemoryQueue_RetriesThenGivesUp(t *testing.T) {
	q := fastQueue()
	var calls int32
	require.NoError(t, q.Subscribe(context.Background(), TopicBatches, func(context.Context, BatchMessage) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("database down")
	}))
	require.NoError(t, q.Publish(context.Background(), TopicBatches, BatchMessage{}))
	require.NoError(t, q.Close())
	assert.Equal(t, int32(defaultMaxRetries+1), atomic.LoadInt32(&calls))
}

func TestInMemoryQueue_RecoversOnRetry(t *testing.T) {
	q := fastQueue()
	var calls int32
	require.NoError(t, q.Subscribe(context.Background(), TopicBatches, func(context.Context, BatchMessage) error {
		if atomic.AddInt32(&calls, 1) < 2 {
			return errors.New("transient")
		}
		return nil
	}))
	require.NoError(t, q.Publish(context.Background(), TopicBatches, BatchMessage{}))
	require.NoError(t, q.Close())
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestInMemoryQueue_ClosedRejects(t *testing.T) {
	q := fastQueue()
	require.NoError(t, q.Subscribe(context.Background(), TopicBatches, func(context.Context, BatchMessage) error { return nil }))
	require.NoError(t, q.Close())
	assert.Error(t, q.Publish(context.Background(), TopicBatches, BatchMessage{}))
}

func TestRetryCountHeader(t *testing.T) {
	assert.Equal(t, int32(0), retryCount(nil))
	assert.Equal(t, int32(2), retryCount(amqp.Table{retryHeader: int32(2)}))
	assert.Equal(t, int32(3), retryCount(amqp.Table{retryHeader: int64(3)}))
	assert.Equal(t, int32(0), retryCount(amqp.Table{retryHeader: "x"}))
}

func TestInMemoryQueue_BroadcastReachesEveryListener(t *testing.T) {
	q := fastQueue()
	var first, second []Signal
	require.NoError(t, q.Listen(context.Background(), ExchangeControl, func(s Signal) { first = append(first, s) }))
	require.NoError(t, q.Listen(context.Background(), ExchangeControl, func(s Signal) { second = append(second, s) }))

	stop := Signal{Kind: SignalStop, CampaignID: 4, At: time.Now()}
	require.NoError(t, q.Broadcast(context.Background(), ExchangeControl, stop))
	require.NoError(t, q.Broadcast(context.Background(), ExchangeEvents, Signal{Kind: SignalEvent, CampaignID: 4}))

	assert.Equal(t, []Signal{stop}, first)
	assert.Equal(t, []Signal{stop}, second)
}

func TestInMemoryQueue_BroadcastWithoutListeners(t *testing.T) {
	q := fastQueue()
	assert.NoError(t, q.Broadcast(context.Background(), ExchangeEvents, Signal{Kind: SignalEvent}))
}
