package service

import (
	"context"
	"sync"
	"time"

	"github.com/convoreach/backend/internal/apperrors"
	"github.com/convoreach/backend/internal/model"
	"github.com/convoreach/backend/internal/queue"
	"github.com/convoreach/backend/internal/repository"
)

// fakeCampaignRepo is an in-memory stand-in for the campaigns table. Counter
// increments and FinalizeAs mirror the SQL semantics, including the
// compare-and-set on terminal status.
type fakeCampaignRepo struct {
	mu        sync.Mutex
	campaigns map[int]*model.Campaign
	nextID    int

	finalizeWins int
	dueExtra     []*model.Campaign
	getErr       error
	onGet        func(id int)
}

var _ repository.CampaignRepositoryInterface = (*fakeCampaignRepo)(nil)

func newFakeCampaignRepo() *fakeCampaignRepo {
	return &fakeCampaignRepo{campaigns: make(map[int]*model.Campaign), nextID: 1}
}

func (r *fakeCampaignRepo) put(c *model.Campaign) *model.Campaign {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c.ID == 0 {
		c.ID = r.nextID
	}
	if c.ID >= r.nextID {
		r.nextID = c.ID + 1
	}
	r.campaigns[c.ID] = c
	return c
}

func (r *fakeCampaignRepo) Create(c *model.Campaign) error {
	if c.Status == "" {
		c.Status = model.StatusDraft
	}
	if c.Kind == "" {
		c.Kind = model.KindManual
	}
	c.CreatedAt = time.Now()
	r.put(c)
	return nil
}

func (r *fakeCampaignRepo) GetByID(id int) (*model.Campaign, error) {
	r.mu.Lock()
	if r.getErr != nil {
		r.mu.Unlock()
		return nil, r.getErr
	}
	c, ok := r.campaigns[id]
	if !ok {
		r.mu.Unlock()
		return nil, apperrors.NewCampaignNotFound(id)
	}
	cp := *c
	hook := r.onGet
	r.mu.Unlock()

	if hook != nil {
		hook(id)
	}
	return &cp, nil
}

func (r *fakeCampaignRepo) List(offset, limit int, status string) ([]*model.Campaign, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.Campaign{}
	for _, c := range r.campaigns {
		if status == "" || c.Status.String() == status {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, len(out), nil
}

func (r *fakeCampaignRepo) MarkPending(id int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.Status == model.StatusProcessing || c.Status == model.StatusCompleted {
		return false, nil
	}
	c.Status = model.StatusPending
	return true, nil
}

func (r *fakeCampaignRepo) Schedule(id int, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.Status == model.StatusProcessing || c.Status == model.StatusCompleted {
		return false, nil
	}
	c.Kind = model.KindScheduled
	c.Status = model.StatusPending
	c.ScheduledAt = &at
	return true, nil
}

func (r *fakeCampaignRepo) MarkProcessing(id int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.Status.IsTerminal() {
		return false, nil
	}
	now := time.Now()
	c.Status = model.StatusProcessing
	c.StartedAt = &now
	return true, nil
}

func (r *fakeCampaignRepo) SetTotalTarget(id, total int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.campaigns[id]; ok {
		c.TotalTarget = total
	}
	return nil
}

func (r *fakeCampaignRepo) IncrementSent(id int) (repository.CampaignCounters, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return repository.CampaignCounters{}, apperrors.NewCampaignNotFound(id)
	}
	c.SentCount++
	return repository.CampaignCounters{Sent: c.SentCount, Failed: c.FailedCount, Total: c.TotalTarget}, nil
}

func (r *fakeCampaignRepo) IncrementFailed(id int) (repository.CampaignCounters, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return repository.CampaignCounters{}, apperrors.NewCampaignNotFound(id)
	}
	c.FailedCount++
	return repository.CampaignCounters{Sent: c.SentCount, Failed: c.FailedCount, Total: c.TotalTarget}, nil
}

func (r *fakeCampaignRepo) FinalizeAs(id int, status model.CampaignStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.Status.IsTerminal() {
		return false, nil
	}
	now := time.Now()
	c.Status = status
	c.CompletedAt = &now
	r.finalizeWins++
	return true, nil
}

func (r *fakeCampaignRepo) ListDueScheduled(now time.Time) ([]*model.Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []*model.Campaign{}
	for _, c := range r.campaigns {
		if c.Kind == model.KindScheduled && c.Status == model.StatusPending &&
			c.ScheduledAt != nil && !c.ScheduledAt.After(now) {
			cp := *c
			out = append(out, &cp)
		}
	}
	out = append(out, r.dueExtra...)
	return out, nil
}

func (r *fakeCampaignRepo) status(id int) model.CampaignStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.campaigns[id].Status
}

func (r *fakeCampaignRepo) counters(id int) repository.CampaignCounters {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := r.campaigns[id]
	return repository.CampaignCounters{Sent: c.SentCount, Failed: c.FailedCount, Total: c.TotalTarget}
}

type fakeCustomerRepo struct {
	customers []model.Customer
	findErr   error
}

var _ repository.CustomerRepositoryInterface = (*fakeCustomerRepo)(nil)

func (r *fakeCustomerRepo) GetByID(id int) (*model.Customer, error) {
	for _, c := range r.customers {
		if c.ID == id {
			cp := c
			return &cp, nil
		}
	}
	return nil, nil
}

// FindTargets applies the same selection as the SQL repository: non-group
// customers of the account, matching ANY of the tags when tags are given.
func (r *fakeCustomerRepo) FindTargets(accountID int, tags []string) ([]model.Customer, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	out := []model.Customer{}
	for _, c := range r.customers {
		if c.AccountID != accountID || c.IsGroup {
			continue
		}
		if len(tags) == 0 || overlaps(c.Tags, tags) {
			out = append(out, c)
		}
	}
	return out, nil
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

type fakeLogRepo struct {
	mu      sync.Mutex
	entries map[[2]int]*model.DispatchLog
	nextID  int

	onCreate func(n int)
	creates  int
}

var _ repository.DispatchLogRepositoryInterface = (*fakeLogRepo)(nil)

func newFakeLogRepo() *fakeLogRepo {
	return &fakeLogRepo{entries: make(map[[2]int]*model.DispatchLog), nextID: 1}
}

func (r *fakeLogRepo) CreatePending(entry *model.DispatchLog) error {
	r.mu.Lock()
	k := [2]int{entry.CampaignID, entry.CustomerID}
	if existing, ok := r.entries[k]; ok {
		*entry = *existing
		r.mu.Unlock()
		return nil
	}
	entry.ID = r.nextID
	r.nextID++
	entry.Status = model.DispatchPending
	entry.CreatedAt = time.Now()
	entry.UpdatedAt = entry.CreatedAt
	cp := *entry
	r.entries[k] = &cp
	r.creates++
	n := r.creates
	hook := r.onCreate
	r.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	return nil
}

func (r *fakeLogRepo) GetByCampaignAndCustomer(campaignID, customerID int) (*model.DispatchLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[[2]int{campaignID, customerID}]; ok {
		cp := *e
		return &cp, nil
	}
	return nil, nil
}

func (r *fakeLogRepo) byID(id int) *model.DispatchLog {
	for _, e := range r.entries {
		if e.ID == id {
			return e
		}
	}
	return nil
}

func (r *fakeLogRepo) MarkSent(id int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.byID(id); e != nil {
		now := time.Now()
		e.Status = model.DispatchSent
		e.SentAt = &now
		e.ErrorText = ""
	}
	return nil
}

func (r *fakeLogRepo) MarkFailed(id int, errText string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.byID(id); e != nil {
		e.Status = model.DispatchFailed
		e.ErrorText = errText
	}
	return nil
}

func (r *fakeLogRepo) ListByCampaign(campaignID, offset, limit int) ([]model.DispatchLog, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	all := []model.DispatchLog{}
	for _, e := range r.entries {
		if e.CampaignID == campaignID {
			all = append(all, *e)
		}
	}
	total := len(all)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return all[offset:end], total, nil
}

func (r *fakeLogRepo) statusOf(campaignID, customerID int) model.DispatchStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries[[2]int{campaignID, customerID}].Status
}

// publishedJob is one recorded Publish call.
type publishedJob struct {
	topic   string
	key     string
	payload any
	delay   time.Duration
}

// recordingQueue captures Publish and Cancel calls without delivering
// anything. Pipeline tests that need real delivery use MemoryQueue instead.
type recordingQueue struct {
	mu           sync.Mutex
	published    []publishedJob
	canceled     []string
	cancelResult bool
	publishErr   error
}

var _ queue.Queue = (*recordingQueue)(nil)

func (q *recordingQueue) Publish(topic, key string, payload any, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publishErr != nil {
		return q.publishErr
	}
	q.published = append(q.published, publishedJob{topic: topic, key: key, payload: payload, delay: delay})
	return nil
}

func (q *recordingQueue) Cancel(topic, key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.canceled = append(q.canceled, topic+"|"+key)
	return q.cancelResult
}

func (q *recordingQueue) Subscribe(topic string, c queue.Consumer, policy queue.RetryPolicy) error {
	return nil
}

func (q *recordingQueue) jobs() []publishedJob {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]publishedJob(nil), q.published...)
}

// stubTransport answers every send with a fixed outcome.
type stubTransport struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (t *stubTransport) Send(ctx context.Context, phone, message string) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.calls++
	if t.err != nil {
		return "", t.err
	}
	return "delivery-1", nil
}

func (t *stubTransport) sendCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}
