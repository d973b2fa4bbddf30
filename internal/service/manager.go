package service

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/convoreach/backend/internal/apperrors"
	"github.com/convoreach/backend/internal/model"
	"github.com/convoreach/backend/internal/queue"
	"github.com/convoreach/backend/internal/repository"
)

// Manager is the public entry point of the dispatcher: run a campaign now,
// arm it for a future time, cancel it, and read its progress.
type Manager struct {
	campaigns repository.CampaignRepositoryInterface
	logs      repository.DispatchLogRepositoryInterface
	queue     queue.Queue
	log       zerolog.Logger
	now       func() time.Time
}

func NewManager(
	campaigns repository.CampaignRepositoryInterface,
	logs repository.DispatchLogRepositoryInterface,
	q queue.Queue,
	log zerolog.Logger,
) *Manager {
	return &Manager{
		campaigns: campaigns,
		logs:      logs,
		queue:     q,
		log:       log.With().Str("component", "manager").Logger(),
		now:       time.Now,
	}
}

// CampaignStats is the caller-facing progress snapshot. Counters are read
// from the campaign row, so partial progress is visible mid-run.
type CampaignStats struct {
	Total       int                  `json:"total"`
	Sent        int                  `json:"sent"`
	Failed      int                  `json:"failed"`
	Pending     int                  `json:"pending"`
	SuccessRate float64              `json:"success_rate"`
	Status      model.CampaignStatus `json:"status"`
	StartedAt   *time.Time           `json:"started_at,omitempty"`
	CompletedAt *time.Time           `json:"completed_at,omitempty"`
}

// LogsPage is one page of dispatch log entries.
type LogsPage struct {
	Entries    []model.DispatchLog `json:"entries"`
	Total      int                 `json:"total"`
	Page       int                 `json:"page"`
	TotalPages int                 `json:"total_pages"`
}

// RunNow queues a campaign for immediate expansion. A campaign that is
// PROCESSING or COMPLETED is rejected; FAILED and CANCELED campaigns may be
// re-triggered by an operator. Re-running a PENDING campaign is a no-op
// because the processing job's identity dedups in the queue.
func (m *Manager) RunNow(campaignID int) error {
	c, err := m.campaigns.GetByID(campaignID)
	if err != nil {
		return err
	}
	switch c.Status {
	case model.StatusProcessing:
		return apperrors.NewCampaignAlreadyRunning(campaignID)
	case model.StatusCompleted:
		return apperrors.NewCampaignAlreadyDone(campaignID)
	}

	ok, err := m.campaigns.MarkPending(campaignID)
	if err != nil {
		return err
	}
	if !ok {
		return m.lostStatusRace(campaignID)
	}
	job := queue.ProcessJob{CampaignID: campaignID}
	if err := m.queue.Publish(queue.TopicProcess, job.Key(), job, 0); err != nil {
		return err
	}
	m.log.Info().Int("campaign_id", campaignID).Msg("campaign queued for processing")
	return nil
}

// ScheduleAt arms a campaign to run at a future time. The processing job is
// enqueued with the matching delay; the backup scheduler re-arms it if that
// delayed job is ever lost.
func (m *Manager) ScheduleAt(campaignID int, when time.Time) error {
	now := m.now()
	if !when.After(now) {
		return apperrors.NewInvalidSchedule(when)
	}
	c, err := m.campaigns.GetByID(campaignID)
	if err != nil {
		return err
	}
	switch c.Status {
	case model.StatusProcessing:
		return apperrors.NewCampaignAlreadyRunning(campaignID)
	case model.StatusCompleted:
		return apperrors.NewCampaignAlreadyDone(campaignID)
	}

	ok, err := m.campaigns.Schedule(campaignID, when)
	if err != nil {
		return err
	}
	if !ok {
		return m.lostStatusRace(campaignID)
	}
	// A re-schedule must replace the previously queued job, or the old timer
	// still fires at the original time while the dedup key swallows the new
	// one.
	job := queue.ProcessJob{CampaignID: campaignID}
	m.queue.Cancel(queue.TopicProcess, job.Key())
	if err := m.queue.Publish(queue.TopicProcess, job.Key(), job, when.Sub(now)); err != nil {
		return err
	}
	m.log.Info().Int("campaign_id", campaignID).Time("run_at", when).Msg("campaign scheduled")
	return nil
}

// lostStatusRace maps a refused guarded status write to the error the caller
// would have seen had it read the fresh status itself.
func (m *Manager) lostStatusRace(campaignID int) error {
	c, err := m.campaigns.GetByID(campaignID)
	if err != nil {
		return err
	}
	if c.Status == model.StatusCompleted {
		return apperrors.NewCampaignAlreadyDone(campaignID)
	}
	return apperrors.NewCampaignAlreadyRunning(campaignID)
}

// Cancel stops a campaign. A queued-but-unstarted processing job is removed;
// a job already being processed is not interrupted, the processor notices the
// CANCELED status and stops enqueuing further recipients.
func (m *Manager) Cancel(campaignID int) error {
	c, err := m.campaigns.GetByID(campaignID)
	if err != nil {
		return err
	}
	if c.Status == model.StatusCompleted {
		return apperrors.NewCampaignAlreadyDone(campaignID)
	}

	job := queue.ProcessJob{CampaignID: campaignID}
	removed := m.queue.Cancel(queue.TopicProcess, job.Key())

	// FinalizeAs refuses to touch a campaign that is already terminal, so a
	// cancel can never resurrect or regress one.
	if _, err := m.campaigns.FinalizeAs(campaignID, model.StatusCanceled); err != nil {
		return err
	}
	m.log.Info().Int("campaign_id", campaignID).Bool("dequeued", removed).Msg("campaign canceled")
	return nil
}

// Stats returns the campaign's live counters.
func (m *Manager) Stats(campaignID int) (*CampaignStats, error) {
	c, err := m.campaigns.GetByID(campaignID)
	if err != nil {
		return nil, err
	}

	pending := c.TotalTarget - c.SentCount - c.FailedCount
	if pending < 0 {
		pending = 0
	}
	var rate float64
	if done := c.SentCount + c.FailedCount; done > 0 {
		rate = math.Round(float64(c.SentCount)/float64(done)*100) / 100
	}
	return &CampaignStats{
		Total:       c.TotalTarget,
		Sent:        c.SentCount,
		Failed:      c.FailedCount,
		Pending:     pending,
		SuccessRate: rate,
		Status:      c.Status,
		StartedAt:   c.StartedAt,
		CompletedAt: c.CompletedAt,
	}, nil
}

// Logs returns one page of the campaign's dispatch log.
func (m *Manager) Logs(campaignID, page, pageSize int) (*LogsPage, error) {
	if _, err := m.campaigns.GetByID(campaignID); err != nil {
		return nil, err
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	entries, total, err := m.logs.ListByCampaign(campaignID, offset, pageSize)
	if err != nil {
		return nil, err
	}
	return &LogsPage{
		Entries:    entries,
		Total:      total,
		Page:       page,
		TotalPages: (total + pageSize - 1) / pageSize,
	}, nil
}
