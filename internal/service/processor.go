package service

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/convoreach/backend/internal/model"
	"github.com/convoreach/backend/internal/queue"
	"github.com/convoreach/backend/internal/repository"
)

// cancelCheckEvery is the recipient-batch boundary at which an in-flight
// expansion re-reads campaign status to notice a cancel.
const cancelCheckEvery = 25

// ProcessorConfig tunes campaign expansion.
type ProcessorConfig struct {
	Concurrency int
	JitterMin   time.Duration
	JitterMax   time.Duration
}

// Processor consumes campaign processing jobs and expands each campaign into
// per-recipient dispatch jobs.
type Processor struct {
	campaigns  repository.CampaignRepositoryInterface
	customers  repository.CustomerRepositoryInterface
	logs       repository.DispatchLogRepositoryInterface
	queue      queue.Queue
	completion *CompletionDetector
	cfg        ProcessorConfig
	sem        *semaphore.Weighted
	log        zerolog.Logger

	ctx context.Context
}

func NewProcessor(
	campaigns repository.CampaignRepositoryInterface,
	customers repository.CustomerRepositoryInterface,
	logs repository.DispatchLogRepositoryInterface,
	q queue.Queue,
	completion *CompletionDetector,
	cfg ProcessorConfig,
	log zerolog.Logger,
) *Processor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	return &Processor{
		campaigns:  campaigns,
		customers:  customers,
		logs:       logs,
		queue:      q,
		completion: completion,
		cfg:        cfg,
		sem:        semaphore.NewWeighted(int64(cfg.Concurrency)),
		log:        log.With().Str("component", "processor").Logger(),
	}
}

// Start subscribes the processor to the processing topic. Expansion errors
// are fatal for the run (the campaign is marked FAILED and an operator
// re-triggers it), so the subscription carries a single attempt.
func (p *Processor) Start(ctx context.Context) error {
	p.ctx = ctx
	return p.queue.Subscribe(queue.TopicProcess, p, queue.RetryPolicy{MaxAttempts: 1})
}

// Handle implements queue.Consumer.
func (p *Processor) Handle(body []byte) error {
	var job queue.ProcessJob
	if err := json.Unmarshal(body, &job); err != nil {
		return fmt.Errorf("decode processing job: %w", err)
	}

	if err := p.sem.Acquire(p.ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)

	return p.process(job.CampaignID)
}

// Exhausted implements queue.Consumer. The failure is already persisted on
// the campaign by the time the queue gives up, so there is nothing further to
// unwind.
func (p *Processor) Exhausted(body []byte, lastErr error) {}

func (p *Processor) process(campaignID int) error {
	c, err := p.campaigns.GetByID(campaignID)
	if err != nil {
		return err
	}
	if c.Status.IsTerminal() {
		p.log.Info().Int("campaign_id", campaignID).Str("status", c.Status.String()).
			Msg("skipping expansion of terminal campaign")
		return nil
	}

	ok, err := p.campaigns.MarkProcessing(campaignID)
	if err != nil {
		return err
	}
	if !ok {
		// A cancel (or another finalize) landed between the read above and
		// this write; the campaign stays terminal and nothing is enqueued.
		p.log.Info().Int("campaign_id", campaignID).
			Msg("campaign went terminal before expansion started, skipping")
		return nil
	}
	p.log.Info().Int("campaign_id", campaignID).Strs("tags", c.TargetTags).Msg("expanding campaign")

	targets, err := p.customers.FindTargets(c.AccountID, c.TargetTags)
	if err != nil {
		return p.fail(campaignID, fmt.Errorf("resolve recipients: %w", err))
	}

	// total_target is fixed here, before any dispatch job exists, and never
	// recomputed mid-run.
	if err := p.campaigns.SetTotalTarget(campaignID, len(targets)); err != nil {
		return p.fail(campaignID, fmt.Errorf("record target count: %w", err))
	}
	if len(targets) == 0 {
		_, err := p.campaigns.FinalizeAs(campaignID, model.StatusCompleted)
		if err != nil {
			return err
		}
		p.log.Info().Int("campaign_id", campaignID).Msg("campaign has no recipients, completed immediately")
		return nil
	}

	for i := range targets {
		if i > 0 && i%cancelCheckEvery == 0 {
			cur, err := p.campaigns.GetByID(campaignID)
			if err != nil {
				return p.fail(campaignID, err)
			}
			if cur.Status == model.StatusCanceled {
				p.log.Info().Int("campaign_id", campaignID).Int("enqueued", i).
					Msg("campaign canceled mid-expansion, stopping enqueue")
				return nil
			}
		}

		t := targets[i]
		rendered := Personalize(c.Message, &t)

		entry := &model.DispatchLog{
			CampaignID:   campaignID,
			CustomerID:   t.ID,
			CustomerName: t.Name,
			Phone:        t.Phone,
			Message:      rendered,
		}
		if err := p.logs.CreatePending(entry); err != nil {
			return p.fail(campaignID, fmt.Errorf("create dispatch log for customer %d: %w", t.ID, err))
		}

		job := queue.DispatchJob{
			CampaignID:   campaignID,
			CustomerID:   t.ID,
			CustomerName: t.Name,
			Phone:        t.Phone,
			Message:      rendered,
		}
		if err := p.queue.Publish(queue.TopicDispatch, job.Key(), job, p.jitter()); err != nil {
			return p.fail(campaignID, fmt.Errorf("enqueue dispatch for customer %d: %w", t.ID, err))
		}
	}

	p.log.Info().Int("campaign_id", campaignID).Int("total", len(targets)).Msg("campaign expanded")

	// A re-triggered campaign whose recipients all settled in an earlier run
	// produces no counter increments this run: every dispatch job finds its
	// log entry terminal and skips. Check completion here so such a campaign
	// does not idle in PROCESSING forever.
	cur, err := p.campaigns.GetByID(campaignID)
	if err != nil {
		return err
	}
	return p.completion.Check(campaignID, repository.CampaignCounters{
		Sent: cur.SentCount, Failed: cur.FailedCount, Total: cur.TotalTarget,
	})
}

// jitter draws an independent random delay per recipient so sends do not
// burst at the provider in a bot-like pattern. It compounds with the global
// rate limit rather than replacing it.
func (p *Processor) jitter() time.Duration {
	if p.cfg.JitterMax <= p.cfg.JitterMin {
		return p.cfg.JitterMin
	}
	return p.cfg.JitterMin + time.Duration(rand.Int63n(int64(p.cfg.JitterMax-p.cfg.JitterMin)))
}

func (p *Processor) fail(campaignID int, cause error) error {
	if _, err := p.campaigns.FinalizeAs(campaignID, model.StatusFailed); err != nil {
		p.log.Error().Int("campaign_id", campaignID).Err(err).Msg("could not mark campaign failed")
	}
	p.log.Error().Int("campaign_id", campaignID).Err(cause).Msg("campaign expansion failed")
	return cause
}
