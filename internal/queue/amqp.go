package queue

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/streadway/amqp"
)

const retryCountHeader = "x-retry-count"

// AMQPQueue is a RabbitMQ-backed Queue for split-process deployments, where
// the API process expands campaigns and dedicated worker processes drain the
// dispatch topic.
//
// RabbitMQ does not dedup by message id, so keyed idempotency on this path is
// provided by the dispatch-log row for the same (campaign, customer) pair:
// consumers skip jobs whose log entry is already terminal. Cancel is likewise
// a no-op here; cancellation of queued work is only effective on the
// in-memory queue.
type AMQPQueue struct {
	conn *amqp.Connection
	log  zerolog.Logger

	mu  sync.Mutex
	pub *amqp.Channel
}

func DialAMQP(url string, log zerolog.Logger) (*AMQPQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	pub, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	return &AMQPQueue{
		conn: conn,
		pub:  pub,
		log:  log.With().Str("component", "amqp_queue").Logger(),
	}, nil
}

func (q *AMQPQueue) Close() error {
	return q.conn.Close()
}

func declareQueue(ch *amqp.Channel, topic string) error {
	_, err := ch.QueueDeclare(
		topic,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	return err
}

func (q *AMQPQueue) Publish(topic, key string, payload any, delay time.Duration) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", key, err)
	}
	if delay <= 0 {
		return q.publish(topic, key, body, 0)
	}
	// Jitter delays are short-lived, so an in-process timer is enough; a job
	// lost to a crash inside this window is re-armed by the backup scheduler.
	time.AfterFunc(delay, func() {
		if err := q.publish(topic, key, body, 0); err != nil {
			q.log.Error().Str("topic", topic).Str("key", key).Err(err).Msg("delayed publish failed")
		}
	})
	return nil
}

func (q *AMQPQueue) publish(topic, key string, body []byte, retryCount int) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := declareQueue(q.pub, topic); err != nil {
		return err
	}
	return q.pub.Publish(
		"",    // default exchange
		topic, // routing key
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    key,
			Headers:      amqp.Table{retryCountHeader: int32(retryCount)},
			Body:         body,
		},
	)
}

// Cancel cannot remove messages already handed to the broker.
func (q *AMQPQueue) Cancel(topic, key string) bool {
	return false
}

func (q *AMQPQueue) Subscribe(topic string, c Consumer, policy RetryPolicy) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("open amqp channel: %w", err)
	}
	if err := declareQueue(ch, topic); err != nil {
		return fmt.Errorf("declare queue %s: %w", topic, err)
	}
	msgs, err := ch.Consume(
		topic,
		"",    // consumer tag
		false, // autoAck off for reliability
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("consume %s: %w", topic, err)
	}

	go func() {
		for d := range msgs {
			q.handleDelivery(topic, c, policy, d)
		}
	}()
	return nil
}

func (q *AMQPQueue) handleDelivery(topic string, c Consumer, policy RetryPolicy, d amqp.Delivery) {
	err := c.Handle(d.Body)
	if err == nil {
		d.Ack(false)
		return
	}

	attempt := headerRetryCount(d.Headers) + 1
	if attempt >= policy.MaxAttempts {
		q.log.Error().Str("topic", topic).Str("key", d.MessageId).
			Int("attempts", attempt).Err(err).Msg("job permanently failed")
		c.Exhausted(d.Body, err)
		d.Ack(false)
		return
	}

	// Re-publish with the bumped retry header after the backoff instead of a
	// bare Nack, so the redelivery carries its attempt count.
	q.log.Warn().Str("topic", topic).Str("key", d.MessageId).
		Int("attempt", attempt).Int("max_attempts", policy.MaxAttempts).
		Err(err).Msg("job attempt failed, scheduling retry")
	key := d.MessageId
	body := d.Body
	time.AfterFunc(policy.Backoff(attempt), func() {
		if err := q.publish(topic, key, body, attempt); err != nil {
			q.log.Error().Str("topic", topic).Str("key", key).Err(err).Msg("retry publish failed")
		}
	})
	d.Ack(false)
}

func headerRetryCount(h amqp.Table) int {
	if h == nil {
		return 0
	}
	switch v := h[retryCountHeader].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	}
	return 0
}
