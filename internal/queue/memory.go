package queue

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type subscription struct {
	consumer Consumer
	policy   RetryPolicy
}

type pendingJob struct {
	timer *time.Timer
	fired bool
}

// MemoryQueue is an in-process queue with keyed dedup, delayed delivery, and
// retry with exponential backoff. It backs single-binary deployments and
// tests; AMQPQueue covers split-process deployments.
type MemoryQueue struct {
	mu      sync.Mutex
	subs    map[string]*subscription
	pending map[string]*pendingJob
	log     zerolog.Logger

	wg sync.WaitGroup
}

func NewMemoryQueue(log zerolog.Logger) *MemoryQueue {
	return &MemoryQueue{
		subs:    make(map[string]*subscription),
		pending: make(map[string]*pendingJob),
		log:     log.With().Str("component", "queue").Logger(),
	}
}

func jobKey(topic, key string) string { return topic + "|" + key }

// Publish schedules the payload to fire after delay. The key stays live until
// the consumer finishes with the job, so a duplicate Publish while the job is
// queued or in flight is a no-op.
func (q *MemoryQueue) Publish(topic, key string, payload any, delay time.Duration) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", key, err)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	k := jobKey(topic, key)
	if _, exists := q.pending[k]; exists {
		q.log.Debug().Str("topic", topic).Str("key", key).Msg("duplicate publish ignored")
		return nil
	}

	pj := &pendingJob{}
	q.wg.Add(1)
	pj.timer = time.AfterFunc(delay, func() { q.fire(topic, key, body) })
	q.pending[k] = pj
	return nil
}

// Cancel removes a job that has not fired yet.
func (q *MemoryQueue) Cancel(topic, key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	k := jobKey(topic, key)
	pj, ok := q.pending[k]
	if !ok || pj.fired {
		return false
	}
	if !pj.timer.Stop() {
		return false
	}
	delete(q.pending, k)
	q.wg.Done()
	return true
}

func (q *MemoryQueue) Subscribe(topic string, c Consumer, policy RetryPolicy) error {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.subs[topic]; exists {
		return fmt.Errorf("topic %s already has a subscriber", topic)
	}
	q.subs[topic] = &subscription{consumer: c, policy: policy}
	return nil
}

// Wait blocks until every in-flight job has finished. Test helper.
func (q *MemoryQueue) Wait() {
	q.wg.Wait()
}

func (q *MemoryQueue) fire(topic, key string, body []byte) {
	q.mu.Lock()
	k := jobKey(topic, key)
	pj, ok := q.pending[k]
	if !ok {
		q.mu.Unlock()
		return
	}
	pj.fired = true
	sub := q.subs[topic]
	q.mu.Unlock()

	if sub == nil {
		q.log.Warn().Str("topic", topic).Str("key", key).Msg("no subscriber for topic, dropping job")
		q.release(k)
		return
	}

	go func() {
		defer q.release(k)
		q.processJob(topic, key, sub, body)
	}()
}

func (q *MemoryQueue) release(k string) {
	q.mu.Lock()
	delete(q.pending, k)
	q.mu.Unlock()
	q.wg.Done()
}

func (q *MemoryQueue) processJob(topic, key string, sub *subscription, body []byte) {
	var lastErr error
	for attempt := 1; attempt <= sub.policy.MaxAttempts; attempt++ {
		lastErr = sub.consumer.Handle(body)
		if lastErr == nil {
			return
		}
		q.log.Warn().Str("topic", topic).Str("key", key).
			Int("attempt", attempt).Int("max_attempts", sub.policy.MaxAttempts).
			Err(lastErr).Msg("job attempt failed")
		if attempt < sub.policy.MaxAttempts {
			time.Sleep(sub.policy.Backoff(attempt))
		}
	}
	q.log.Error().Str("topic", topic).Str("key", key).
		Err(lastErr).Msg("job permanently failed")
	sub.consumer.Exhausted(body, lastErr)
}
