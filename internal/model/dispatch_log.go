package model

import "time"

// DispatchStatus is the per-recipient delivery outcome. A log entry starts
// PENDING and is moved exactly once to SENT or FAILED.
type DispatchStatus string

const (
	DispatchPending DispatchStatus = "PENDING"
	DispatchSent    DispatchStatus = "SENT"
	DispatchFailed  DispatchStatus = "FAILED"
)

func (s DispatchStatus) String() string { return string(s) }

func (s DispatchStatus) IsTerminal() bool {
	return s == DispatchSent || s == DispatchFailed
}

// DispatchLog is the durable record of one send attempt. There is exactly one
// row per (campaign, customer) pair.
type DispatchLog struct {
	ID           int            `db:"id" json:"id"`
	CampaignID   int            `db:"campaign_id" json:"campaign_id"`
	CustomerID   int            `db:"customer_id" json:"customer_id"`
	CustomerName string         `db:"customer_name" json:"customer_name"`
	Phone        string         `db:"phone" json:"phone"`
	Message      string         `db:"message" json:"message"`
	Status       DispatchStatus `db:"status" json:"status"`
	SentAt       *time.Time     `db:"sent_at" json:"sent_at,omitempty"`
	ErrorText    string         `db:"error_text" json:"error_text,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}
