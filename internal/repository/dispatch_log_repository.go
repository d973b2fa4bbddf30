package repository

import (
	"database/sql"
	"time"

	"github.com/convoreach/backend/internal/model"
)

type DispatchLogRepositoryInterface interface {
	CreatePending(entry *model.DispatchLog) error
	GetByCampaignAndCustomer(campaignID, customerID int) (*model.DispatchLog, error)
	MarkSent(id int) error
	MarkFailed(id int, errText string) error
	ListByCampaign(campaignID, offset, limit int) ([]model.DispatchLog, int, error)
}

type DispatchLogRepository struct {
	DB *sql.DB
}

var _ DispatchLogRepositoryInterface = (*DispatchLogRepository)(nil)

// CreatePending inserts a PENDING log row for the (campaign, customer) pair.
// The insert is idempotent: a retried expansion finds the existing row and
// reuses it instead of creating a duplicate. A UNIQUE constraint on
// (campaign_id, customer_id) backs this at the schema level.
func (r *DispatchLogRepository) CreatePending(entry *model.DispatchLog) error {
	existing, err := r.GetByCampaignAndCustomer(entry.CampaignID, entry.CustomerID)
	if err != nil {
		return err
	}
	if existing != nil {
		*entry = *existing
		return nil
	}

	now := time.Now()
	entry.Status = model.DispatchPending
	entry.CreatedAt = now
	entry.UpdatedAt = now
	query := `
		INSERT INTO dispatch_logs
			(campaign_id, customer_id, customer_name, phone, message, status, error_text, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, '', $7, $8)
		ON CONFLICT (campaign_id, customer_id) DO NOTHING
		RETURNING id
	`
	err = r.DB.QueryRow(query,
		entry.CampaignID, entry.CustomerID, entry.CustomerName,
		entry.Phone, entry.Message, entry.Status, entry.CreatedAt, entry.UpdatedAt,
	).Scan(&entry.ID)
	if err == sql.ErrNoRows {
		// Lost a race with a concurrent expansion; pick up the winner's row.
		existing, err = r.GetByCampaignAndCustomer(entry.CampaignID, entry.CustomerID)
		if err != nil {
			return err
		}
		if existing != nil {
			*entry = *existing
		}
		return nil
	}
	return err
}

func (r *DispatchLogRepository) GetByCampaignAndCustomer(campaignID, customerID int) (*model.DispatchLog, error) {
	query := `
		SELECT id, campaign_id, customer_id, customer_name, phone, message, status, sent_at, error_text, created_at, updated_at
		FROM dispatch_logs
		WHERE campaign_id=$1 AND customer_id=$2
	`
	var e model.DispatchLog
	err := r.DB.QueryRow(query, campaignID, customerID).Scan(
		&e.ID, &e.CampaignID, &e.CustomerID, &e.CustomerName, &e.Phone,
		&e.Message, &e.Status, &e.SentAt, &e.ErrorText, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &e, nil
}

func (r *DispatchLogRepository) MarkSent(id int) error {
	query := `
		UPDATE dispatch_logs
		SET status=$1, sent_at=NOW(), error_text='', updated_at=NOW()
		WHERE id=$2
	`
	_, err := r.DB.Exec(query, model.DispatchSent, id)
	return err
}

func (r *DispatchLogRepository) MarkFailed(id int, errText string) error {
	query := `
		UPDATE dispatch_logs
		SET status=$1, error_text=$2, updated_at=NOW()
		WHERE id=$3
	`
	_, err := r.DB.Exec(query, model.DispatchFailed, errText, id)
	return err
}

func (r *DispatchLogRepository) ListByCampaign(campaignID, offset, limit int) ([]model.DispatchLog, int, error) {
	query := `
		SELECT id, campaign_id, customer_id, customer_name, phone, message, status, sent_at, error_text, created_at, updated_at
		FROM dispatch_logs
		WHERE campaign_id=$1
		ORDER BY id
		LIMIT $2 OFFSET $3
	`
	rows, err := r.DB.Query(query, campaignID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries := []model.DispatchLog{}
	for rows.Next() {
		var e model.DispatchLog
		if err := rows.Scan(
			&e.ID, &e.CampaignID, &e.CustomerID, &e.CustomerName, &e.Phone,
			&e.Message, &e.Status, &e.SentAt, &e.ErrorText, &e.CreatedAt, &e.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int
	if err := r.DB.QueryRow(
		`SELECT COUNT(*) FROM dispatch_logs WHERE campaign_id=$1`, campaignID,
	).Scan(&total); err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}
