package delivery

import (
	"context"
	"sync"
	"time"

	"lettercast/internal/common/errors"
	"lettercast/internal/common/logging"
	"lettercast/internal/common/utils"
	"lettercast/internal/mailer"
	"lettercast/internal/models"
)

// Generator produces the personalized message for one recipient. It is
// called synchronously for the whole batch before processing begins.
type Generator func(item *models.Newsletter, rcpt models.Recipient) (mailer.Message, error)

// Recorder persists delivery lifecycle transitions for observability.
// The queue only writes to it; it never reads tracking state back into
// its decisions.
type Recorder interface {
	RecordEnqueued(ctx context.Context, newsletterID string, rcpt models.Recipient)
	RecordSent(ctx context.Context, newsletterID, address string)
	RecordBounced(ctx context.Context, newsletterID, address, reason string)
	RecordFailed(ctx context.Context, newsletterID, address, reason string)
}

// StatusSetter is the subscriber-status collaborator notified on bounce
// classification.
type StatusSetter interface {
	SetStatus(ctx context.Context, address string, status models.SubscriberStatus) error
}

// Options tune one processing run. Zero values fall back to the queue
// defaults; a negative delay disables that delay for the run.
type Options struct {
	// BatchSize is how many jobs dispatch concurrently per batch.
	// Default 1: strictly serial, respecting downstream rate limits.
	BatchSize int
	// BatchDelay is the pause between batches (not after the last one).
	BatchDelay time.Duration
	// RetryDelay is the pause between attempts for a single job.
	RetryDelay time.Duration
	// OnProgress is called after each batch completes.
	OnProgress func(done, total int)
	// OnError is called when a job exhausts its attempts.
	OnError func(job Job, err error)
}

// Config holds queue defaults.
type Config struct {
	BatchSize   int
	BatchDelay  time.Duration
	MaxAttempts int
	RetryDelay  time.Duration
}

// DefaultConfig returns queue defaults tuned for a shared, rate-limited
// send channel: serial batches, generous delays.
func DefaultConfig() Config {
	return Config{
		BatchSize:   1,
		BatchDelay:  10 * time.Second,
		MaxAttempts: 3,
		RetryDelay:  60 * time.Second,
	}
}

// Queue accumulates delivery jobs across Enqueue calls and drains them
// with Process. At most one Process run is active per queue instance.
type Queue struct {
	config   Config
	sender   mailer.Sender
	recorder Recorder
	statuses StatusSetter
	logger   logging.Logger

	mu         sync.Mutex
	jobs       []*Job
	processing bool
}

// NewQueue creates a delivery queue. recorder and statuses may be nil.
func NewQueue(config Config, sender mailer.Sender, recorder Recorder, statuses StatusSetter, logger logging.Logger) *Queue {
	def := DefaultConfig()
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.BatchDelay < 0 {
		config.BatchDelay = def.BatchDelay
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.RetryDelay < 0 {
		config.RetryDelay = def.RetryDelay
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Queue{
		config:   config,
		sender:   sender,
		recorder: recorder,
		statuses: statuses,
		logger:   logger,
	}
}

// Enqueue generates personalized content for every recipient up front
// and appends one pending job each. Recipients with a malformed address
// or whose content generation fails get a terminal failed job so stats
// stay honest.
func (q *Queue) Enqueue(ctx context.Context, item *models.Newsletter, recipients []models.Recipient, generate Generator) int {
	enqueued := 0
	for _, rcpt := range recipients {
		job := &Job{
			ID:           utils.NewJobID(),
			NewsletterID: item.ID,
			Recipient:    rcpt,
			Status:       StatusPending,
			MaxAttempts:  q.config.MaxAttempts,
		}

		if !mailer.ValidateAddress(rcpt.Address) {
			job.Status = StatusFailed
			job.Error = "malformed recipient address"
			q.logger.Warn("Rejected malformed recipient address",
				logging.Field{Key: "newsletter_id", Value: item.ID},
				logging.Field{Key: "recipient", Value: rcpt.Address},
			)
			if q.recorder != nil {
				q.recorder.RecordEnqueued(ctx, item.ID, rcpt)
				q.recorder.RecordFailed(ctx, item.ID, rcpt.Address, job.Error)
			}
			q.mu.Lock()
			q.jobs = append(q.jobs, job)
			q.mu.Unlock()
			continue
		}

		msg, err := generate(item, rcpt)
		if err != nil {
			job.Status = StatusFailed
			job.Error = err.Error()
			q.logger.Warn("Content generation failed for recipient",
				logging.Field{Key: "newsletter_id", Value: item.ID},
				logging.Field{Key: "recipient", Value: rcpt.Address},
				logging.Field{Key: "error", Value: err.Error()},
			)
			if q.recorder != nil {
				q.recorder.RecordEnqueued(ctx, item.ID, rcpt)
				q.recorder.RecordFailed(ctx, item.ID, rcpt.Address, err.Error())
			}
		} else {
			job.Payload = msg
			enqueued++
			if q.recorder != nil {
				q.recorder.RecordEnqueued(ctx, item.ID, rcpt)
			}
		}

		q.mu.Lock()
		q.jobs = append(q.jobs, job)
		q.mu.Unlock()
	}

	q.logger.Info("Enqueued delivery jobs",
		logging.Field{Key: "newsletter_id", Value: item.ID},
		logging.Field{Key: "recipients", Value: len(recipients)},
		logging.Field{Key: "enqueued", Value: enqueued},
	)
	return enqueued
}

// Process drains pending jobs in batches. It refuses to run while
// another run is active. Batch N+1 never starts before batch N fully
// settles; that ordering is the backpressure protecting the send
// channel.
func (q *Queue) Process(ctx context.Context, opts Options) error {
	q.mu.Lock()
	if q.processing {
		q.mu.Unlock()
		return errors.ValidationError("queue is already processing")
	}
	q.processing = true

	var pending []*Job
	for _, job := range q.jobs {
		if job.Status == StatusPending {
			pending = append(pending, job)
		}
	}
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.processing = false
		q.mu.Unlock()
	}()

	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = q.config.BatchSize
	}
	batchDelay := q.config.BatchDelay
	if opts.BatchDelay > 0 {
		batchDelay = opts.BatchDelay
	} else if opts.BatchDelay < 0 {
		batchDelay = 0
	}
	retryDelay := q.config.RetryDelay
	if opts.RetryDelay > 0 {
		retryDelay = opts.RetryDelay
	} else if opts.RetryDelay < 0 {
		retryDelay = 0
	}

	total := len(pending)
	done := 0

	for start := 0; start < total; start += batchSize {
		end := start + batchSize
		if end > total {
			end = total
		}
		batch := pending[start:end]

		var wg sync.WaitGroup
		for _, job := range batch {
			wg.Add(1)
			go func(job *Job) {
				defer wg.Done()
				q.sendWithRetry(ctx, job, retryDelay)
			}(job)
		}
		wg.Wait()

		done += len(batch)
		if opts.OnProgress != nil {
			opts.OnProgress(done, total)
		}
		if opts.OnError != nil {
			for _, job := range batch {
				q.mu.Lock()
				failed := job.Status == StatusFailed
				snapshot := *job
				q.mu.Unlock()
				if failed {
					opts.OnError(snapshot, errors.SendError(snapshot.Error, nil))
				}
			}
		}

		if end < total && batchDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(batchDelay):
			}
		}
	}

	q.logger.Info("Delivery run complete",
		logging.Field{Key: "processed", Value: done},
	)
	return nil
}

// sendWithRetry drives one job to a terminal state: sent, bounced on a
// permanent-failure signature, or failed once attempts are exhausted.
func (q *Queue) sendWithRetry(ctx context.Context, job *Job, retryDelay time.Duration) {
	for {
		now := time.Now()
		q.mu.Lock()
		job.Status = StatusSending
		job.Attempts++
		job.LastAttemptAt = &now
		attempts := job.Attempts
		q.mu.Unlock()

		err := q.sender.Send(job.Recipient.Address, job.Payload)
		if err == nil {
			sentAt := time.Now()
			q.mu.Lock()
			job.Status = StatusSent
			job.SentAt = &sentAt
			job.Error = ""
			q.mu.Unlock()
			if q.recorder != nil {
				q.recorder.RecordSent(ctx, job.NewsletterID, job.Recipient.Address)
			}
			return
		}

		if IsPermanentFailure(err) {
			q.mu.Lock()
			job.Status = StatusBounced
			job.Error = err.Error()
			q.mu.Unlock()
			q.logger.Warn("Delivery bounced",
				logging.Field{Key: "recipient", Value: job.Recipient.Address},
				logging.Field{Key: "error", Value: err.Error()},
			)
			if q.statuses != nil {
				if statusErr := q.statuses.SetStatus(ctx, job.Recipient.Address, models.SubscriberBounced); statusErr != nil {
					q.logger.Error("Failed to update subscriber status", statusErr,
						logging.Field{Key: "recipient", Value: job.Recipient.Address},
					)
				}
			}
			if q.recorder != nil {
				q.recorder.RecordBounced(ctx, job.NewsletterID, job.Recipient.Address, err.Error())
			}
			return
		}

		if attempts >= job.MaxAttempts {
			q.mu.Lock()
			job.Status = StatusFailed
			job.Error = err.Error()
			q.mu.Unlock()
			q.logger.Warn("Delivery failed after exhausting attempts",
				logging.Field{Key: "recipient", Value: job.Recipient.Address},
				logging.Field{Key: "attempts", Value: attempts},
				logging.Field{Key: "error", Value: err.Error()},
			)
			if q.recorder != nil {
				q.recorder.RecordFailed(ctx, job.NewsletterID, job.Recipient.Address, err.Error())
			}
			return
		}

		q.logger.Debug("Transient send failure, retrying",
			logging.Field{Key: "recipient", Value: job.Recipient.Address},
			logging.Field{Key: "attempt", Value: attempts},
			logging.Field{Key: "error", Value: err.Error()},
		)

		if retryDelay > 0 {
			select {
			case <-ctx.Done():
				// hand the job back to pending so the next run resumes
				// it instead of leaving it stranded in sending
				q.mu.Lock()
				job.Status = StatusPending
				q.mu.Unlock()
				return
			case <-time.After(retryDelay):
			}
		}
	}
}

// Stats recomputes per-status counts from the live queue.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := Stats{Total: len(q.jobs)}
	for _, job := range q.jobs {
		switch job.Status {
		case StatusPending:
			stats.Pending++
		case StatusSending:
			stats.Sending++
		case StatusSent:
			stats.Sent++
		case StatusFailed:
			stats.Failed++
		case StatusBounced:
			stats.Bounced++
		}
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Sent) / float64(stats.Total)
	}
	return stats
}

// Jobs returns a snapshot of all jobs.
func (q *Queue) Jobs() []Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	jobs := make([]Job, len(q.jobs))
	for i, job := range q.jobs {
		jobs[i] = *job
	}
	return jobs
}

// ClearCompleted prunes terminal-state jobs to bound memory for
// long-running processes. Pending and sending jobs stay.
func (q *Queue) ClearCompleted() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.jobs[:0]
	removed := 0
	for _, job := range q.jobs {
		if job.Status.Terminal() {
			removed++
			continue
		}
		kept = append(kept, job)
	}
	q.jobs = kept
	return removed
}
