// Package tracker records per-recipient delivery lifecycle state
// durably, independent of the in-memory queue. It is write-mostly: the
// queue records transitions here but never reads them back into its
// decisions.
package tracker

import (
	"context"
	"time"

	"lettercast/internal/common/logging"
	"lettercast/internal/models"
	"lettercast/internal/storage"
)

// Stats aggregates delivery outcomes for one newsletter. Rates guard
// against empty denominators.
type Stats struct {
	storage.RecordCounts
	DeliveryRate float64 `json:"delivery_rate"`
	OpenRate     float64 `json:"open_rate"`
	ClickRate    float64 `json:"click_rate"`
	BounceRate   float64 `json:"bounce_rate"`
}

// Tracker is the durable delivery record service.
type Tracker struct {
	store  storage.Store
	logger logging.Logger

	retentionAge   time.Duration
	retentionBatch int
}

// New creates a tracker over the given store.
func New(store storage.Store, retentionAge time.Duration, retentionBatch int, logger logging.Logger) *Tracker {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if retentionAge <= 0 {
		retentionAge = 90 * 24 * time.Hour
	}
	if retentionBatch <= 0 {
		retentionBatch = 500
	}
	return &Tracker{
		store:          store,
		logger:         logger,
		retentionAge:   retentionAge,
		retentionBatch: retentionBatch,
	}
}

// CreateRecord registers a pending record for the pair. Idempotent.
func (t *Tracker) CreateRecord(ctx context.Context, newsletterID string, rcpt models.Recipient) {
	if err := t.store.CreateRecord(ctx, newsletterID, rcpt); err != nil {
		t.logger.Error("Failed to create delivery record", err,
			logging.Field{Key: "newsletter_id", Value: newsletterID},
			logging.Field{Key: "address", Value: rcpt.Address},
		)
	}
}

// MarkSent records a successful handoff to the send channel.
func (t *Tracker) MarkSent(ctx context.Context, newsletterID, address string) {
	t.setStatus(ctx, newsletterID, address, storage.RecordSent, "")
}

// MarkDelivered records a downstream delivery confirmation.
func (t *Tracker) MarkDelivered(ctx context.Context, newsletterID, address string) {
	t.setStatus(ctx, newsletterID, address, storage.RecordDelivered, "")
}

// MarkBounced records a permanent failure.
func (t *Tracker) MarkBounced(ctx context.Context, newsletterID, address, reason string) {
	t.setStatus(ctx, newsletterID, address, storage.RecordBounced, reason)
}

// MarkFailed records retry exhaustion.
func (t *Tracker) MarkFailed(ctx context.Context, newsletterID, address, reason string) {
	t.setStatus(ctx, newsletterID, address, storage.RecordFailed, reason)
}

// TrackOpen bumps the open counter for the pair.
func (t *Tracker) TrackOpen(ctx context.Context, newsletterID, address string) {
	if err := t.store.IncrementOpens(ctx, newsletterID, address); err != nil {
		t.logger.Error("Failed to record open", err,
			logging.Field{Key: "newsletter_id", Value: newsletterID},
			logging.Field{Key: "address", Value: address},
		)
	}
}

// TrackClick bumps the click counter for the pair.
func (t *Tracker) TrackClick(ctx context.Context, newsletterID, address string) {
	if err := t.store.IncrementClicks(ctx, newsletterID, address); err != nil {
		t.logger.Error("Failed to record click", err,
			logging.Field{Key: "newsletter_id", Value: newsletterID},
			logging.Field{Key: "address", Value: address},
		)
	}
}

func (t *Tracker) setStatus(ctx context.Context, newsletterID, address, status, reason string) {
	if err := t.store.SetRecordStatus(ctx, newsletterID, address, status, reason); err != nil {
		t.logger.Error("Failed to update delivery record", err,
			logging.Field{Key: "newsletter_id", Value: newsletterID},
			logging.Field{Key: "address", Value: address},
			logging.Field{Key: "status", Value: status},
		)
	}
}

// GetStats aggregates counts and derives rates for one newsletter.
func (t *Tracker) GetStats(ctx context.Context, newsletterID string) (Stats, error) {
	counts, err := t.store.CountRecords(ctx, newsletterID)
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{RecordCounts: counts}
	total := counts.Total
	if total < 1 {
		total = 1 // floor the denominator; an empty sample has zero rates
	}
	delivered := counts.Sent + counts.Delivered
	stats.DeliveryRate = float64(delivered) / float64(total)
	stats.BounceRate = float64(counts.Bounced) / float64(total)

	sentBase := delivered
	if sentBase < 1 {
		sentBase = 1
	}
	stats.OpenRate = float64(counts.Opened) / float64(sentBase)
	stats.ClickRate = float64(counts.Clicked) / float64(sentBase)

	return stats, nil
}

// Cleanup deletes records older than the retention age in bounded
// batches until none remain. Returns the total deleted.
func (t *Tracker) Cleanup(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-t.retentionAge)
	total := 0
	for {
		deleted, err := t.store.DeleteRecordsBefore(ctx, cutoff, t.retentionBatch)
		if err != nil {
			return total, err
		}
		total += deleted
		if deleted < t.retentionBatch {
			break
		}
	}
	if total > 0 {
		t.logger.Info("Delivery record retention cleanup",
			logging.Field{Key: "deleted", Value: total},
			logging.Field{Key: "cutoff", Value: cutoff},
		)
	}
	return total, nil
}

// Recorder adapts the tracker to the delivery queue's write-only
// recording interface.
type Recorder struct {
	tracker *Tracker
}

// NewRecorder wraps a tracker for the queue.
func NewRecorder(t *Tracker) *Recorder {
	return &Recorder{tracker: t}
}

func (r *Recorder) RecordEnqueued(ctx context.Context, newsletterID string, rcpt models.Recipient) {
	r.tracker.CreateRecord(ctx, newsletterID, rcpt)
}

func (r *Recorder) RecordSent(ctx context.Context, newsletterID, address string) {
	r.tracker.MarkSent(ctx, newsletterID, address)
}

func (r *Recorder) RecordBounced(ctx context.Context, newsletterID, address, reason string) {
	r.tracker.MarkBounced(ctx, newsletterID, address, reason)
}

func (r *Recorder) RecordFailed(ctx context.Context, newsletterID, address, reason string) {
	r.tracker.MarkFailed(ctx, newsletterID, address, reason)
}
