package model

import "time"

// CampaignKind distinguishes campaigns triggered by hand from campaigns armed
// with a future run time.
type CampaignKind string

const (
	KindManual    CampaignKind = "MANUAL"
	KindScheduled CampaignKind = "SCHEDULED"
)

// CampaignStatus is the lifecycle state of a campaign.
type CampaignStatus string

const (
	StatusDraft      CampaignStatus = "DRAFT"
	StatusPending    CampaignStatus = "PENDING"
	StatusProcessing CampaignStatus = "PROCESSING"
	StatusCompleted  CampaignStatus = "COMPLETED"
	StatusFailed     CampaignStatus = "FAILED"
	StatusCanceled   CampaignStatus = "CANCELED"
)

func (s CampaignStatus) String() string { return string(s) }

// IsTerminal reports whether no further transition may leave this status.
func (s CampaignStatus) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

func (s CampaignStatus) IsValid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

type Campaign struct {
	ID          int            `db:"id" json:"id"`
	AccountID   int            `db:"account_id" json:"account_id"`
	Name        string         `db:"name" json:"name"`
	Message     string         `db:"message" json:"message"`
	TargetTags  []string       `db:"target_tags" json:"target_tags"`
	Kind        CampaignKind   `db:"kind" json:"kind"`
	Status      CampaignStatus `db:"status" json:"status"`
	ScheduledAt *time.Time     `db:"scheduled_at" json:"scheduled_at,omitempty"`
	TotalTarget int            `db:"total_target" json:"total_target"`
	SentCount   int            `db:"sent_count" json:"sent_count"`
	FailedCount int            `db:"failed_count" json:"failed_count"`
	StartedAt   *time.Time     `db:"started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	CreatedAt   time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt   *time.Time     `db:"updated_at" json:"updated_at,omitempty"`
}
