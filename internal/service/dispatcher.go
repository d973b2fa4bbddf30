package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/convoreach/backend/internal/queue"
	"github.com/convoreach/backend/internal/repository"
	"github.com/convoreach/backend/internal/transport"
)

// DispatcherConfig tunes the dispatch worker pool.
type DispatcherConfig struct {
	Concurrency   int
	RatePerWindow int
	RateWindow    time.Duration
	MaxAttempts   int
	RetryBase     time.Duration
}

// Dispatcher drains per-recipient dispatch jobs under two compounding
// constraints: a global rate limit on send starts shared across all
// campaigns, and a bound on simultaneous in-flight sends.
type Dispatcher struct {
	campaigns  repository.CampaignRepositoryInterface
	logs       repository.DispatchLogRepositoryInterface
	transports *transport.Registry
	queue      queue.Queue
	completion *CompletionDetector
	cfg        DispatcherConfig

	limiter *rate.Limiter
	sem     *semaphore.Weighted
	log     zerolog.Logger

	ctx context.Context
}

func NewDispatcher(
	campaigns repository.CampaignRepositoryInterface,
	logs repository.DispatchLogRepositoryInterface,
	transports *transport.Registry,
	q queue.Queue,
	completion *CompletionDetector,
	cfg DispatcherConfig,
	log zerolog.Logger,
) *Dispatcher {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if cfg.RatePerWindow <= 0 {
		cfg.RatePerWindow = 20
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	perSecond := float64(cfg.RatePerWindow) / cfg.RateWindow.Seconds()
	return &Dispatcher{
		campaigns:  campaigns,
		logs:       logs,
		transports: transports,
		queue:      q,
		completion: completion,
		cfg:        cfg,
		limiter:    rate.NewLimiter(rate.Limit(perSecond), 1),
		sem:        semaphore.NewWeighted(int64(cfg.Concurrency)),
		log:        log.With().Str("component", "dispatcher").Logger(),
	}
}

// Start subscribes the dispatch pool to the dispatch topic with the queue's
// retry policy; only an exhausted failure reaches the FAILED log path.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.ctx = ctx
	return d.queue.Subscribe(queue.TopicDispatch, d, queue.RetryPolicy{
		MaxAttempts: d.cfg.MaxAttempts,
		BaseBackoff: d.cfg.RetryBase,
	})
}

// Handle implements queue.Consumer. An error return hands the job back to the
// queue's retry policy.
func (d *Dispatcher) Handle(body []byte) error {
	var job queue.DispatchJob
	if err := json.Unmarshal(body, &job); err != nil {
		return fmt.Errorf("decode dispatch job: %w", err)
	}

	if err := d.sem.Acquire(d.ctx, 1); err != nil {
		return err
	}
	defer d.sem.Release(1)

	if err := d.limiter.Wait(d.ctx); err != nil {
		return err
	}
	return d.dispatch(job)
}

func (d *Dispatcher) dispatch(job queue.DispatchJob) error {
	entry, err := d.logs.GetByCampaignAndCustomer(job.CampaignID, job.CustomerID)
	if err != nil {
		return err
	}
	if entry == nil {
		return fmt.Errorf("no dispatch log for %s", job.Key())
	}
	if entry.Status.IsTerminal() {
		// Redelivered or re-expanded job whose outcome is already recorded.
		d.log.Debug().Str("key", job.Key()).Str("status", entry.Status.String()).
			Msg("dispatch already settled, skipping")
		return nil
	}

	c, err := d.campaigns.GetByID(job.CampaignID)
	if err != nil {
		return err
	}
	t, err := d.transports.Active(c.AccountID)
	if err != nil {
		return err
	}

	deliveryID, err := t.Send(d.ctx, job.Phone, job.Message)
	if err != nil {
		return fmt.Errorf("send to %s: %w", job.Phone, err)
	}

	if err := d.logs.MarkSent(entry.ID); err != nil {
		return err
	}
	counters, err := d.campaigns.IncrementSent(job.CampaignID)
	if err != nil {
		return err
	}
	d.log.Info().Str("key", job.Key()).Str("delivery_id", deliveryID).Msg("message sent")
	return d.completion.Check(job.CampaignID, counters)
}

// Exhausted implements queue.Consumer: the job's retries are spent, so the
// failure becomes the recipient's terminal outcome.
func (d *Dispatcher) Exhausted(body []byte, lastErr error) {
	var job queue.DispatchJob
	if err := json.Unmarshal(body, &job); err != nil {
		d.log.Error().Err(err).Msg("decode exhausted dispatch job")
		return
	}

	entry, err := d.logs.GetByCampaignAndCustomer(job.CampaignID, job.CustomerID)
	if err != nil || entry == nil {
		d.log.Error().Str("key", job.Key()).Err(err).Msg("lookup dispatch log for exhausted job")
		return
	}
	if entry.Status.IsTerminal() {
		return
	}

	if err := d.logs.MarkFailed(entry.ID, lastErr.Error()); err != nil {
		d.log.Error().Str("key", job.Key()).Err(err).Msg("mark dispatch failed")
		return
	}
	counters, err := d.campaigns.IncrementFailed(job.CampaignID)
	if err != nil {
		d.log.Error().Str("key", job.Key()).Err(err).Msg("increment failed count")
		return
	}
	d.log.Warn().Str("key", job.Key()).Err(lastErr).Msg("dispatch permanently failed")
	if err := d.completion.Check(job.CampaignID, counters); err != nil {
		d.log.Error().Int("campaign_id", job.CampaignID).Err(err).Msg("completion check")
	}
}
