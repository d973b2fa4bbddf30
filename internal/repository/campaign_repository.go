package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/convoreach/backend/internal/apperrors"
	"github.com/convoreach/backend/internal/model"
)

// CampaignCounters is the result of an atomic counter increment: the row's
// counters as they stood immediately after the update.
type CampaignCounters struct {
	Sent   int
	Failed int
	Total  int
}

type CampaignRepositoryInterface interface {
	Create(c *model.Campaign) error
	GetByID(id int) (*model.Campaign, error)
	List(offset, limit int, status string) ([]*model.Campaign, int, error)
	MarkPending(id int) (bool, error)
	Schedule(id int, at time.Time) (bool, error)
	MarkProcessing(id int) (bool, error)
	SetTotalTarget(id, total int) error
	IncrementSent(id int) (CampaignCounters, error)
	IncrementFailed(id int) (CampaignCounters, error)
	FinalizeAs(id int, status model.CampaignStatus) (bool, error)
	ListDueScheduled(now time.Time) ([]*model.Campaign, error)
}

type CampaignRepository struct {
	DB *sql.DB
}

var _ CampaignRepositoryInterface = (*CampaignRepository)(nil)

const campaignColumns = `id, account_id, name, message, target_tags, kind, status,
	scheduled_at, total_target, sent_count, failed_count, started_at, completed_at,
	created_at, updated_at`

func scanCampaign(row interface{ Scan(...any) error }) (*model.Campaign, error) {
	var c model.Campaign
	err := row.Scan(
		&c.ID, &c.AccountID, &c.Name, &c.Message, pq.Array(&c.TargetTags),
		&c.Kind, &c.Status, &c.ScheduledAt, &c.TotalTarget, &c.SentCount,
		&c.FailedCount, &c.StartedAt, &c.CompletedAt, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *CampaignRepository) Create(c *model.Campaign) error {
	c.CreatedAt = time.Now()
	if c.Status == "" {
		c.Status = model.StatusDraft
	}
	if c.Kind == "" {
		c.Kind = model.KindManual
	}
	query := `
		INSERT INTO campaigns (account_id, name, message, target_tags, kind, status, scheduled_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	return r.DB.QueryRow(query,
		c.AccountID, c.Name, c.Message, pq.Array(c.TargetTags),
		c.Kind, c.Status, c.ScheduledAt, c.CreatedAt,
	).Scan(&c.ID)
}

func (r *CampaignRepository) GetByID(id int) (*model.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id=$1`
	c, err := scanCampaign(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperrors.NewCampaignNotFound(id)
		}
		return nil, err
	}
	return c, nil
}

func (r *CampaignRepository) List(offset, limit int, status string) ([]*model.Campaign, int, error) {
	campaigns := []*model.Campaign{}
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE 1=1`
	args := []any{}
	argPos := 1

	if status != "" {
		query += fmt.Sprintf(" AND status=$%d", argPos)
		args = append(args, status)
		argPos++
	}
	query += fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, 0, err
		}
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	countQuery := `SELECT COUNT(*) FROM campaigns WHERE 1=1`
	countArgs := []any{}
	if status != "" {
		countQuery += " AND status=$1"
		countArgs = append(countArgs, status)
	}
	var total int
	if err := r.DB.QueryRow(countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}
	return campaigns, total, nil
}

// MarkPending queues a campaign for a run. The guard in the WHERE clause
// refuses a campaign that started or completed since the caller read it;
// FAILED and CANCELED may be re-armed by an operator.
func (r *CampaignRepository) MarkPending(id int) (bool, error) {
	query := `
		UPDATE campaigns SET status=$1, updated_at=NOW()
		WHERE id=$2 AND status NOT IN ($3, $4)
	`
	res, err := r.DB.Exec(query, model.StatusPending, id,
		model.StatusProcessing, model.StatusCompleted)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Schedule arms a campaign for a future run, under the same guard as
// MarkPending.
func (r *CampaignRepository) Schedule(id int, at time.Time) (bool, error) {
	query := `
		UPDATE campaigns
		SET kind=$1, status=$2, scheduled_at=$3, updated_at=NOW()
		WHERE id=$4 AND status NOT IN ($5, $6)
	`
	res, err := r.DB.Exec(query, model.KindScheduled, model.StatusPending, at, id,
		model.StatusProcessing, model.StatusCompleted)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkProcessing flips a campaign to PROCESSING unless it went terminal since
// the caller read it. A cancel landing just before expansion starts must stay
// canceled, so the guard lives in the WHERE clause like FinalizeAs.
func (r *CampaignRepository) MarkProcessing(id int) (bool, error) {
	query := `
		UPDATE campaigns SET status=$1, started_at=NOW(), updated_at=NOW()
		WHERE id=$2 AND status NOT IN ($3, $4, $5)
	`
	res, err := r.DB.Exec(query, model.StatusProcessing, id,
		model.StatusCompleted, model.StatusFailed, model.StatusCanceled)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetTotalTarget records the recipient count at expansion time. It is written
// once per run and never recomputed mid-run.
func (r *CampaignRepository) SetTotalTarget(id, total int) error {
	query := `UPDATE campaigns SET total_target=$1, updated_at=NOW() WHERE id=$2`
	_, err := r.DB.Exec(query, total, id)
	return err
}

// IncrementSent bumps sent_count and returns the fresh counters in the same
// statement, so concurrent workers never read a stale value.
func (r *CampaignRepository) IncrementSent(id int) (CampaignCounters, error) {
	query := `
		UPDATE campaigns SET sent_count = sent_count + 1, updated_at=NOW()
		WHERE id=$1
		RETURNING sent_count, failed_count, total_target
	`
	var c CampaignCounters
	err := r.DB.QueryRow(query, id).Scan(&c.Sent, &c.Failed, &c.Total)
	return c, err
}

func (r *CampaignRepository) IncrementFailed(id int) (CampaignCounters, error) {
	query := `
		UPDATE campaigns SET failed_count = failed_count + 1, updated_at=NOW()
		WHERE id=$1
		RETURNING sent_count, failed_count, total_target
	`
	var c CampaignCounters
	err := r.DB.QueryRow(query, id).Scan(&c.Sent, &c.Failed, &c.Total)
	return c, err
}

// FinalizeAs flips a campaign to a terminal status and stamps completed_at,
// but only if it is not terminal already. The compare-and-set lives in the
// WHERE clause so exactly one concurrent caller wins.
func (r *CampaignRepository) FinalizeAs(id int, status model.CampaignStatus) (bool, error) {
	query := `
		UPDATE campaigns SET status=$1, completed_at=NOW(), updated_at=NOW()
		WHERE id=$2 AND status NOT IN ($3, $4, $5)
	`
	res, err := r.DB.Exec(query, status, id,
		model.StatusCompleted, model.StatusFailed, model.StatusCanceled)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListDueScheduled returns scheduled campaigns whose run time has passed but
// which are still waiting to be picked up.
func (r *CampaignRepository) ListDueScheduled(now time.Time) ([]*model.Campaign, error) {
	query := `
		SELECT ` + campaignColumns + `
		FROM campaigns
		WHERE kind=$1 AND status=$2 AND scheduled_at IS NOT NULL AND scheduled_at <= $3
		ORDER BY scheduled_at ASC
	`
	rows, err := r.DB.Query(query, model.KindScheduled, model.StatusPending, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	campaigns := []*model.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		campaigns = append(campaigns, c)
	}
	return campaigns, rows.Err()
}
