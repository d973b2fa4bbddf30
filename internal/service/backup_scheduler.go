package service

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/convoreach/backend/internal/apperrors"
	"github.com/convoreach/backend/internal/repository"
)

// BackupScheduler is a reconciliation pass over scheduled campaigns whose due
// time has passed but which never entered the queue (a lost delayed job, a
// restart inside the delay window). It stays thin: each due campaign is fed
// back through the manager's idempotent RunNow, never expanded here.
type BackupScheduler struct {
	campaigns repository.CampaignRepositoryInterface
	manager   *Manager
	interval  time.Duration
	log       zerolog.Logger
	now       func() time.Time

	cron *cron.Cron

	mu      sync.Mutex
	running bool
}

func NewBackupScheduler(
	campaigns repository.CampaignRepositoryInterface,
	manager *Manager,
	interval time.Duration,
	log zerolog.Logger,
) *BackupScheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	return &BackupScheduler{
		campaigns: campaigns,
		manager:   manager,
		interval:  interval,
		log:       log.With().Str("component", "backup_scheduler").Logger(),
		now:       time.Now,
	}
}

// Start begins the periodic poll and returns a stop function.
func (s *BackupScheduler) Start() (func(), error) {
	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", s.interval), s.tick); err != nil {
		return nil, fmt.Errorf("register backup poll: %w", err)
	}
	s.cron = c
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}

// tick skips overlapping runs: a poll still executing when the next fires
// wins, the new tick is dropped rather than queued.
func (s *BackupScheduler) tick() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Debug().Msg("previous poll still running, skipping tick")
		return
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.runOnce()
}

func (s *BackupScheduler) runOnce() {
	due, err := s.campaigns.ListDueScheduled(s.now())
	if err != nil {
		s.log.Error().Err(err).Msg("list due campaigns failed")
		return
	}
	if len(due) == 0 {
		return
	}
	s.log.Info().Int("count", len(due)).Msg("re-arming overdue campaigns")

	for _, c := range due {
		err := s.manager.RunNow(c.ID)
		switch {
		case err == nil:
			s.log.Info().Int("campaign_id", c.ID).Msg("overdue campaign re-queued")
		case isExpectedRunNowError(err):
			// The primary path already picked it up.
			s.log.Debug().Int("campaign_id", c.ID).Err(err).Msg("campaign already handled")
		default:
			// One failing campaign must not block the rest of the poll; the
			// next tick retries it.
			s.log.Error().Int("campaign_id", c.ID).Err(err).Msg("re-queue failed, leaving pending")
		}
	}
}

func isExpectedRunNowError(err error) bool {
	var running *apperrors.CampaignAlreadyRunningError
	var done *apperrors.CampaignAlreadyDoneError
	return errors.As(err, &running) || errors.As(err, &done)
}
