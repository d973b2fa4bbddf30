// Package apperrors defines the sentinel errors the queue manager surfaces to
// its callers. Each is a typed error so callers can branch with errors.As.
package apperrors

import (
	"fmt"
	"time"
)

// CampaignNotFoundError is returned when the referenced campaign does not exist.
type CampaignNotFoundError struct {
	CampaignID int
}

func (e *CampaignNotFoundError) Error() string {
	return fmt.Sprintf("campaign with ID %d not found", e.CampaignID)
}

func NewCampaignNotFound(id int) error {
	return &CampaignNotFoundError{CampaignID: id}
}

// CampaignAlreadyRunningError is returned when a run is requested for a
// campaign that is currently PROCESSING.
type CampaignAlreadyRunningError struct {
	CampaignID int
}

func (e *CampaignAlreadyRunningError) Error() string {
	return fmt.Sprintf("campaign %d is already running", e.CampaignID)
}

func NewCampaignAlreadyRunning(id int) error {
	return &CampaignAlreadyRunningError{CampaignID: id}
}

// CampaignAlreadyDoneError is returned when a run or cancel is requested for a
// campaign that already COMPLETED.
type CampaignAlreadyDoneError struct {
	CampaignID int
}

func (e *CampaignAlreadyDoneError) Error() string {
	return fmt.Sprintf("campaign %d has already completed", e.CampaignID)
}

func NewCampaignAlreadyDone(id int) error {
	return &CampaignAlreadyDoneError{CampaignID: id}
}

// InvalidScheduleError is returned when a schedule time is not strictly in the
// future.
type InvalidScheduleError struct {
	When time.Time
}

func (e *InvalidScheduleError) Error() string {
	return fmt.Sprintf("schedule time %s is not in the future", e.When.Format(time.RFC3339))
}

func NewInvalidSchedule(when time.Time) error {
	return &InvalidScheduleError{When: when}
}

// NoActiveTransportError is returned when an account has no transport bound at
// send time.
type NoActiveTransportError struct {
	AccountID int
}

func (e *NoActiveTransportError) Error() string {
	return fmt.Sprintf("no active transport for account %d", e.AccountID)
}

func NewNoActiveTransport(accountID int) error {
	return &NoActiveTransportError{AccountID: accountID}
}
