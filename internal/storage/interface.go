// Package storage defines the persistence interface for delivery
// records and subscriber status, with SQLite and PostgreSQL backends
// selected by configuration.
package storage

import (
	"context"
	"time"

	"lettercast/internal/models"
)

// Delivery record statuses. These mirror the queue's job lifecycle but
// live independently of it: records survive restarts, jobs do not.
const (
	RecordPending   = "pending"
	RecordSent      = "sent"
	RecordDelivered = "delivered"
	RecordBounced   = "bounced"
	RecordFailed    = "failed"
)

// DeliveryRecord is one persisted (newsletter, recipient) delivery row.
type DeliveryRecord struct {
	ID           string     `json:"id"`
	NewsletterID string     `json:"newsletter_id"`
	Address      string     `json:"address"`
	Status       string     `json:"status"`
	Opens        int        `json:"opens"`
	Clicks       int        `json:"clicks"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	SentAt       *time.Time `json:"sent_at,omitempty"`
	OpenedAt     *time.Time `json:"opened_at,omitempty"`
	ClickedAt    *time.Time `json:"clicked_at,omitempty"`
}

// RecordCounts aggregates delivery records for one newsletter.
type RecordCounts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Sent      int `json:"sent"`
	Delivered int `json:"delivered"`
	Bounced   int `json:"bounced"`
	Failed    int `json:"failed"`
	Opened    int `json:"opened"`  // records with at least one open
	Clicked   int `json:"clicked"` // records with at least one click
}

// Store is the narrow persistence interface consumed by the tracker and
// the subscriber-status collaborator.
type Store interface {
	// CreateRecord inserts a pending record for the pair, or leaves an
	// existing one untouched.
	CreateRecord(ctx context.Context, newsletterID string, rcpt models.Recipient) error

	// SetRecordStatus upserts the record's status, timestamping the
	// transition. errMsg is stored for bounced/failed transitions.
	SetRecordStatus(ctx context.Context, newsletterID, address, status, errMsg string) error

	// IncrementOpens / IncrementClicks bump engagement counters,
	// stamping the first event time.
	IncrementOpens(ctx context.Context, newsletterID, address string) error
	IncrementClicks(ctx context.Context, newsletterID, address string) error

	// GetRecord fetches one record, or nil when absent.
	GetRecord(ctx context.Context, newsletterID, address string) (*DeliveryRecord, error)

	// CountRecords aggregates records for a newsletter.
	CountRecords(ctx context.Context, newsletterID string) (RecordCounts, error)

	// DeleteRecordsBefore deletes at most limit records older than
	// cutoff and returns how many went.
	DeleteRecordsBefore(ctx context.Context, cutoff time.Time, limit int) (int, error)

	// SetSubscriberStatus upserts a subscriber's lifecycle status.
	SetSubscriberStatus(ctx context.Context, address string, status models.SubscriberStatus) error

	// GetSubscriberStatus returns the stored status, or empty when the
	// subscriber is unknown.
	GetSubscriberStatus(ctx context.Context, address string) (models.SubscriberStatus, error)

	Health(ctx context.Context) error
	Close() error
}
