package queue

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

const retryHeader = "x-retry-count"

// AMQPQueue publishes batch messages to durable RabbitMQ queues, one per topic.
type AMQPQueue struct {
	conn       *amqp.Connection
	mu         sync.Mutex
	pub        *amqp.Channel
	declared   map[string]bool
	exchanges  map[string]bool
	MaxRetries int
}

func DialAMQP(url string) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, eris.Wrap(err, "connect to RabbitMQ")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, eris.Wrap(err, "open a channel")
	}
	return &AMQPQueue{
		conn:       conn,
		pub:        ch,
		declared:   make(map[string]bool),
		exchanges:  make(map[string]bool),
		MaxRetries: defaultMaxRetries,
	}, nil
}

func declare(ch *amqp.Channel, topic string) error {
	_, err := ch.QueueDeclare(
		topic, // name
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	return eris.Wrapf(err, "declare queue %s", topic)
}

func (q *AMQPQueue) Publish(ctx context.Context, topic string, msg BatchMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return eris.Wrap(err, "encode batch message")
	}
	return q.publish(ctx, topic, body, 0)
}

func (q *AMQPQueue) publish(ctx context.Context, topic string, body []byte, retries int32) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.declared[topic] {
		if err := declare(q.pub, topic); err != nil {
			return err
		}
		q.declared[topic] = true
	}
	err := q.pub.Publish("", topic, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Headers:      amqp.Table{retryHeader: retries},
		Body:         body,
	})
	return eris.Wrapf(err, "publish to %s", topic)
}

// Subscribe consumes topic until ctx ends. Failed messages are republished
// with an incremented retry header, then dropped after MaxRetries.
func (q *AMQPQueue) Subscribe(ctx context.Context, topic string, handler Handler) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return eris.Wrap(err, "open a consumer channel")
	}
	if err := declare(ch, topic); err != nil {
		ch.Close()
		return err
	}
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return eris.Wrap(err, "set prefetch")
	}
	msgs, err := ch.Consume(
		topic,
		"",
		false, // autoAck = false for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		ch.Close()
		return eris.Wrap(err, "register consumer")
	}

	go func() {
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					return
				}
				q.deliver(ctx, topic, d, handler)
			}
		}
	}()
	return nil
}

func (q *AMQPQueue) deliver(ctx context.Context, topic string, d amqp.Delivery, handler Handler) {
	var msg BatchMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		zap.L().Warn("invalid batch message dropped", zap.Error(err))
		_ = d.Ack(false)
		return
	}
	log := zap.L().With(zap.Int("campaign_id", msg.CampaignID), zap.String("run_id", msg.RunID))

	err := handler(ctx, msg)
	if err == nil {
		_ = d.Ack(false)
		return
	}

	retries := retryCount(d.Headers)
	if int(retries) >= q.MaxRetries {
		log.Error("batch message permanently failed", zap.Int32("retries", retries), zap.Error(err))
		_ = d.Ack(false)
		return
	}
	log.Warn("batch message failed, republishing", zap.Int32("retries", retries), zap.Error(err))
	if perr := q.publish(context.WithoutCancel(ctx), topic, d.Body, retries+1); perr != nil {
		log.Error("republish failed, requeueing", zap.Error(perr))
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

func retryCount(h amqp.Table) int32 {
	switch v := h[retryHeader].(type) {
	case int32:
		return v
	case int64:
		return int32(v)
	case int:
		return int32(v)
	}
	return 0
}

func declareExchange(ch *amqp.Channel, exchange string) error {
	err := ch.ExchangeDeclare(
		exchange, // name
		"fanout", // kind
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	return eris.Wrapf(err, "declare exchange %s", exchange)
}

// Broadcast publishes sig to every queue bound to exchange.
func (q *AMQPQueue) Broadcast(ctx context.Context, exchange string, sig Signal) error {
	body, err := json.Marshal(sig)
	if err != nil {
		return eris.Wrap(err, "encode signal")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.exchanges[exchange] {
		if err := declareExchange(q.pub, exchange); err != nil {
			return err
		}
		q.exchanges[exchange] = true
	}
	err = q.pub.Publish(exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	return eris.Wrapf(err, "broadcast to %s", exchange)
}

// Listen binds a private, auto-deleted queue to exchange and calls fn for
// each signal until ctx ends.
func (q *AMQPQueue) Listen(ctx context.Context, exchange string, fn func(Signal)) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return eris.Wrap(err, "open a listener channel")
	}
	if err := declareExchange(ch, exchange); err != nil {
		ch.Close()
		return err
	}
	own, err := ch.QueueDeclare(
		"",    // server-named
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		ch.Close()
		return eris.Wrap(err, "declare listener queue")
	}
	if err := ch.QueueBind(own.Name, "", exchange, false, nil); err != nil {
		ch.Close()
		return eris.Wrapf(err, "bind to %s", exchange)
	}
	msgs, err := ch.Consume(own.Name, "", true, true, false, false, nil)
	if err != nil {
		ch.Close()
		return eris.Wrap(err, "register listener")
	}

	go func() {
		defer ch.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-msgs:
				if !ok {
					return
				}
				var sig Signal
				if err := json.Unmarshal(d.Body, &sig); err != nil {
					zap.L().Warn("invalid signal dropped", zap.String("exchange", exchange), zap.Error(err))
					continue
				}
				fn(sig)
			}
		}
	}()
	return nil
}

func (q *AMQPQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.pub.Close(); err != nil {
		zap.L().Debug("close publish channel", zap.Error(err))
	}
	return eris.Wrap(q.conn.Close(), "close RabbitMQ connection")
}
