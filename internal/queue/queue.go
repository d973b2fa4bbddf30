// Package queue carries campaign work between the pipeline stages. Jobs have
// deterministic identities so re-submitting the same work is a no-op.
package queue

import (
	"fmt"
	"time"
)

const (
	// TopicProcess carries "expand this campaign" jobs.
	TopicProcess = "campaign_process"
	// TopicDispatch carries per-recipient send jobs.
	TopicDispatch = "campaign_dispatch"
)

// ProcessJob asks the processor to expand one campaign.
type ProcessJob struct {
	CampaignID int `json:"campaign_id"`
}

// Key is the job's dedup identity: at most one live expansion per campaign.
func (j ProcessJob) Key() string {
	return fmt.Sprintf("campaign:%d", j.CampaignID)
}

// DispatchJob asks a dispatch worker to deliver one rendered message.
type DispatchJob struct {
	CampaignID   int    `json:"campaign_id"`
	CustomerID   int    `json:"customer_id"`
	CustomerName string `json:"customer_name"`
	Phone        string `json:"phone"`
	Message      string `json:"message"`
}

// Key is the job's dedup identity: at most one live send per (campaign,
// customer) pair, even if expansion is retried.
func (j DispatchJob) Key() string {
	return fmt.Sprintf("campaign:%d:customer:%d", j.CampaignID, j.CustomerID)
}

// Consumer processes jobs from one topic. Handle is retried per the
// subscription's RetryPolicy; Exhausted fires once with the last error after
// the final attempt fails.
type Consumer interface {
	Handle(body []byte) error
	Exhausted(body []byte, lastErr error)
}

// RetryPolicy controls per-job redelivery.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
}

// Backoff returns the wait before the given retry (1-based), doubling each
// time from the base.
func (p RetryPolicy) Backoff(retry int) time.Duration {
	d := p.BaseBackoff
	for i := 1; i < retry; i++ {
		d *= 2
	}
	return d
}

// Queue is the transport between pipeline stages.
//
// Publish enqueues a payload under a dedup key, firing after the given delay;
// publishing a key that is already live is a no-op. Cancel removes a queued
// but not yet started job, reporting whether anything was removed; it is
// best-effort and never interrupts a job mid-flight.
type Queue interface {
	Publish(topic, key string, payload any, delay time.Duration) error
	Cancel(topic, key string) bool
	Subscribe(topic string, c Consumer, policy RetryPolicy) error
}
