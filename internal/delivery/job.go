// Package delivery implements the in-process outbound delivery queue:
// batched dispatch with inter-batch delay, per-job retry, and
// permanent-failure classification.
package delivery

import (
	"time"

	"lettercast/internal/mailer"
	"lettercast/internal/models"
)

// Status is the lifecycle state of a delivery job.
type Status string

const (
	StatusPending Status = "pending"
	StatusSending Status = "sending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
	StatusBounced Status = "bounced"
)

// Terminal reports whether a job in this status will never transition
// again.
func (s Status) Terminal() bool {
	switch s {
	case StatusSent, StatusFailed, StatusBounced:
		return true
	}
	return false
}

// Job is one outbound notification to one recipient. Jobs are owned by
// the queue during processing; external readers only see snapshots.
type Job struct {
	ID           string           `json:"id"`
	NewsletterID string           `json:"newsletter_id"`
	Recipient    models.Recipient `json:"recipient"`
	Payload      mailer.Message   `json:"-"`

	Status        Status     `json:"status"`
	Attempts      int        `json:"attempts"`
	MaxAttempts   int        `json:"max_attempts"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	Error         string     `json:"error,omitempty"`
}

// Stats summarizes the live queue, recomputed on each call.
type Stats struct {
	Total       int     `json:"total"`
	Pending     int     `json:"pending"`
	Sending     int     `json:"sending"`
	Sent        int     `json:"sent"`
	Failed      int     `json:"failed"`
	Bounced     int     `json:"bounced"`
	SuccessRate float64 `json:"success_rate"`
}
