package service

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/convoreach/backend/internal/apperrors"
	"github.com/convoreach/backend/internal/model"
	"github.com/convoreach/backend/internal/queue"
)

func newTestManager(t *testing.T) (*Manager, *fakeCampaignRepo, *fakeLogRepo, *recordingQueue) {
	t.Helper()
	campaigns := newFakeCampaignRepo()
	logs := newFakeLogRepo()
	q := &recordingQueue{}
	m := NewManager(campaigns, logs, q, zerolog.Nop())
	return m, campaigns, logs, q
}

func TestManagerRunNow(t *testing.T) {
	m, campaigns, _, q := newTestManager(t)
	campaigns.put(&model.Campaign{ID: 1, AccountID: 1, Status: model.StatusDraft})

	require.NoError(t, m.RunNow(1))

	assert.Equal(t, model.StatusPending, campaigns.status(1))
	jobs := q.jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, queue.TopicProcess, jobs[0].topic)
	assert.Equal(t, "campaign:1", jobs[0].key)
	assert.Equal(t, time.Duration(0), jobs[0].delay)
}

func TestManagerRunNowNotFound(t *testing.T) {
	m, _, _, _ := newTestManager(t)

	err := m.RunNow(99)

	var notFound *apperrors.CampaignNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, 99, notFound.CampaignID)
}

func TestManagerRunNowRejectsProcessingAndCompleted(t *testing.T) {
	m, campaigns, _, q := newTestManager(t)
	campaigns.put(&model.Campaign{ID: 1, Status: model.StatusProcessing})
	campaigns.put(&model.Campaign{ID: 2, Status: model.StatusCompleted})

	var running *apperrors.CampaignAlreadyRunningError
	require.ErrorAs(t, m.RunNow(1), &running)

	var done *apperrors.CampaignAlreadyDoneError
	require.ErrorAs(t, m.RunNow(2), &done)

	assert.Empty(t, q.jobs())
}

func TestManagerRunNowAllowsRetryOfFailed(t *testing.T) {
	m, campaigns, _, q := newTestManager(t)
	campaigns.put(&model.Campaign{ID: 1, Status: model.StatusFailed})

	require.NoError(t, m.RunNow(1))

	assert.Equal(t, model.StatusPending, campaigns.status(1))
	assert.Len(t, q.jobs(), 1)
}

func TestManagerScheduleAt(t *testing.T) {
	m, campaigns, _, q := newTestManager(t)
	campaigns.put(&model.Campaign{ID: 1, Status: model.StatusDraft})

	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	when := now.Add(2 * time.Hour)

	require.NoError(t, m.ScheduleAt(1, when))

	c, err := campaigns.GetByID(1)
	require.NoError(t, err)
	assert.Equal(t, model.KindScheduled, c.Kind)
	assert.Equal(t, model.StatusPending, c.Status)
	require.NotNil(t, c.ScheduledAt)
	assert.True(t, c.ScheduledAt.Equal(when))

	jobs := q.jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, 2*time.Hour, jobs[0].delay)
}

// The guarded PENDING write refuses a campaign that completed between the
// manager's status read and its write; the caller sees the conflict instead
// of a resurrected campaign.
func TestManagerRunNowLosesRaceToCompletion(t *testing.T) {
	m, campaigns, _, q := newTestManager(t)
	campaigns.put(&model.Campaign{ID: 1, Status: model.StatusDraft})

	var once sync.Once
	campaigns.onGet = func(id int) {
		once.Do(func() {
			won, err := campaigns.FinalizeAs(id, model.StatusCompleted)
			require.NoError(t, err)
			require.True(t, won)
		})
	}

	var done *apperrors.CampaignAlreadyDoneError
	require.ErrorAs(t, m.RunNow(1), &done)
	assert.Equal(t, model.StatusCompleted, campaigns.status(1))
	assert.Empty(t, q.jobs())
}

// Re-scheduling replaces the queued job: without the cancel, the dedup key
// would swallow the new delayed job and the old timer would fire at the
// original time.
func TestManagerRescheduleReplacesQueuedJob(t *testing.T) {
	m, campaigns, _, q := newTestManager(t)
	campaigns.put(&model.Campaign{ID: 1, Status: model.StatusDraft})
	q.cancelResult = true

	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	require.NoError(t, m.ScheduleAt(1, now.Add(time.Hour)))
	require.NoError(t, m.ScheduleAt(1, now.Add(10*time.Hour)))

	jobs := q.jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, 10*time.Hour, jobs[1].delay)
	assert.Contains(t, q.canceled, "campaign_process|campaign:1",
		"the stale delayed job must be removed before the replacement is queued")

	c, err := campaigns.GetByID(1)
	require.NoError(t, err)
	assert.True(t, c.ScheduledAt.Equal(now.Add(10*time.Hour)))
}

func TestManagerScheduleAtRejectsPast(t *testing.T) {
	m, campaigns, _, q := newTestManager(t)
	campaigns.put(&model.Campaign{ID: 1, Status: model.StatusDraft})

	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	var invalid *apperrors.InvalidScheduleError
	require.ErrorAs(t, m.ScheduleAt(1, now.Add(-time.Minute)), &invalid)
	require.ErrorAs(t, m.ScheduleAt(1, now), &invalid, "exactly now is not in the future")
	assert.Empty(t, q.jobs())
}

func TestManagerCancel(t *testing.T) {
	m, campaigns, _, q := newTestManager(t)
	campaigns.put(&model.Campaign{ID: 1, Status: model.StatusPending})
	q.cancelResult = true

	require.NoError(t, m.Cancel(1))

	assert.Equal(t, model.StatusCanceled, campaigns.status(1))
	assert.Equal(t, []string{"campaign_process|campaign:1"}, q.canceled)
}

func TestManagerCancelRejectsCompleted(t *testing.T) {
	m, campaigns, _, _ := newTestManager(t)
	campaigns.put(&model.Campaign{ID: 1, Status: model.StatusCompleted})

	var done *apperrors.CampaignAlreadyDoneError
	require.ErrorAs(t, m.Cancel(1), &done)
	assert.Equal(t, model.StatusCompleted, campaigns.status(1))
}

func TestManagerCancelIsIdempotent(t *testing.T) {
	m, campaigns, _, _ := newTestManager(t)
	campaigns.put(&model.Campaign{ID: 1, Status: model.StatusPending})

	require.NoError(t, m.Cancel(1))
	require.NoError(t, m.Cancel(1))

	assert.Equal(t, model.StatusCanceled, campaigns.status(1))
	assert.Equal(t, 1, campaigns.finalizeWins, "second cancel must not re-finalize")
}

func TestManagerStats(t *testing.T) {
	m, campaigns, _, _ := newTestManager(t)
	campaigns.put(&model.Campaign{
		ID: 1, Status: model.StatusProcessing,
		TotalTarget: 10, SentCount: 2, FailedCount: 1,
	})

	stats, err := m.Stats(1)
	require.NoError(t, err)

	assert.Equal(t, 10, stats.Total)
	assert.Equal(t, 2, stats.Sent)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 7, stats.Pending)
	assert.InDelta(t, 0.67, stats.SuccessRate, 0.0001)
	assert.Equal(t, model.StatusProcessing, stats.Status)
}

func TestManagerStatsNoProgress(t *testing.T) {
	m, campaigns, _, _ := newTestManager(t)
	campaigns.put(&model.Campaign{ID: 1, Status: model.StatusPending})

	stats, err := m.Stats(1)
	require.NoError(t, err)

	assert.Zero(t, stats.SuccessRate)
	assert.Zero(t, stats.Pending)
}

func TestManagerLogsPaging(t *testing.T) {
	m, campaigns, logs, _ := newTestManager(t)
	campaigns.put(&model.Campaign{ID: 1, Status: model.StatusCompleted})
	for i := 1; i <= 45; i++ {
		require.NoError(t, logs.CreatePending(&model.DispatchLog{CampaignID: 1, CustomerID: i}))
	}

	page, err := m.Logs(1, 2, 20)
	require.NoError(t, err)
	assert.Len(t, page.Entries, 20)
	assert.Equal(t, 45, page.Total)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 3, page.TotalPages)

	// Out-of-range inputs clamp instead of failing.
	page, err = m.Logs(1, 0, -5)
	require.NoError(t, err)
	assert.Equal(t, 1, page.Page)
	assert.Len(t, page.Entries, 20)

	page, err = m.Logs(1, 1, 500)
	require.NoError(t, err)
	assert.Len(t, page.Entries, 45)
}

func TestManagerLogsUnknownCampaign(t *testing.T) {
	m, _, _, _ := newTestManager(t)

	_, err := m.Logs(7, 1, 20)

	var notFound *apperrors.CampaignNotFoundError
	require.True(t, errors.As(err, &notFound))
}
