package delivery

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lettercast/internal/common/errors"
	"lettercast/internal/mailer"
	"lettercast/internal/models"
)

// mockSender records calls and delegates outcomes to a per-call hook.
type mockSender struct {
	mu       sync.Mutex
	calls    []string
	inFlight int
	maxSeen  int
	fn       func(to string, attempt int) error
}

func (m *mockSender) Send(to string, msg mailer.Message) error {
	m.mu.Lock()
	m.calls = append(m.calls, to)
	m.inFlight++
	if m.inFlight > m.maxSeen {
		m.maxSeen = m.inFlight
	}
	attempt := 0
	for _, c := range m.calls {
		if c == to {
			attempt++
		}
	}
	fn := m.fn
	m.mu.Unlock()

	var err error
	if fn != nil {
		err = fn(to, attempt)
	}

	m.mu.Lock()
	m.inFlight--
	m.mu.Unlock()
	return err
}

func (m *mockSender) callCount(to string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c == to {
			n++
		}
	}
	return n
}

func (m *mockSender) maxConcurrency() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxSeen
}

// mockRecorder captures lifecycle transitions.
type mockRecorder struct {
	mu       sync.Mutex
	enqueued []string
	sent     []string
	bounced  []string
	failed   []string
}

func (r *mockRecorder) RecordEnqueued(ctx context.Context, newsletterID string, rcpt models.Recipient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.enqueued = append(r.enqueued, rcpt.Address)
}

func (r *mockRecorder) RecordSent(ctx context.Context, newsletterID, address string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, address)
}

func (r *mockRecorder) RecordBounced(ctx context.Context, newsletterID, address, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bounced = append(r.bounced, address)
}

func (r *mockRecorder) RecordFailed(ctx context.Context, newsletterID, address, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failed = append(r.failed, address)
}

// mockStatuses captures subscriber status updates.
type mockStatuses struct {
	mu       sync.Mutex
	statuses map[string]models.SubscriberStatus
}

func (s *mockStatuses) SetStatus(ctx context.Context, address string, status models.SubscriberStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statuses == nil {
		s.statuses = make(map[string]models.SubscriberStatus)
	}
	s.statuses[address] = status
	return nil
}

func (s *mockStatuses) get(address string) models.SubscriberStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[address]
}

func testNewsletter() *models.Newsletter {
	return &models.Newsletter{
		ID:          "n1",
		Title:       "Weekly Digest",
		Slug:        "weekly-digest",
		PublishedAt: time.Now(),
	}
}

func recipients(addrs ...string) []models.Recipient {
	out := make([]models.Recipient, len(addrs))
	for i, a := range addrs {
		out[i] = models.Recipient{Address: a}
	}
	return out
}

func staticGenerator(item *models.Newsletter, rcpt models.Recipient) (mailer.Message, error) {
	return mailer.Message{Subject: item.Title, Text: "hi " + rcpt.Address}, nil
}

// fastConfig disables all delays so terminal states are reached quickly.
func fastConfig(maxAttempts int) Config {
	return Config{
		BatchSize:   1,
		BatchDelay:  0,
		MaxAttempts: maxAttempts,
		RetryDelay:  0,
	}
}

func TestEnqueue(t *testing.T) {
	sender := &mockSender{}
	recorder := &mockRecorder{}
	q := NewQueue(fastConfig(3), sender, recorder, nil, nil)

	n := q.Enqueue(context.Background(), testNewsletter(),
		recipients("a@example.com", "b@example.com"), staticGenerator)

	assert.Equal(t, 2, n)
	assert.Len(t, recorder.enqueued, 2)

	stats := q.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 2, stats.Pending)
}

func TestEnqueueGenerationFailure(t *testing.T) {
	recorder := &mockRecorder{}
	q := NewQueue(fastConfig(3), &mockSender{}, recorder, nil, nil)

	generate := func(item *models.Newsletter, rcpt models.Recipient) (mailer.Message, error) {
		if rcpt.Address == "broken@example.com" {
			return mailer.Message{}, fmt.Errorf("template render failed")
		}
		return staticGenerator(item, rcpt)
	}

	n := q.Enqueue(context.Background(), testNewsletter(),
		recipients("ok@example.com", "broken@example.com"), generate)

	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"broken@example.com"}, recorder.failed)

	stats := q.Stats()
	assert.Equal(t, 2, stats.Total, "the failed recipient still counts toward totals")
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Failed)
}

func TestEnqueueMalformedAddress(t *testing.T) {
	sender := &mockSender{}
	recorder := &mockRecorder{}
	q := NewQueue(fastConfig(3), sender, recorder, nil, nil)

	n := q.Enqueue(context.Background(), testNewsletter(),
		recipients("ok@example.com", "not-an-address"), staticGenerator)

	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"not-an-address"}, recorder.failed)

	require.NoError(t, q.Process(context.Background(), Options{}))
	assert.Zero(t, sender.callCount("not-an-address"), "malformed addresses never reach the sender")

	stats := q.Stats()
	assert.Equal(t, 1, stats.Sent)
	assert.Equal(t, 1, stats.Failed)
}

func TestProcessSendsAll(t *testing.T) {
	sender := &mockSender{}
	recorder := &mockRecorder{}
	q := NewQueue(fastConfig(3), sender, recorder, nil, nil)

	q.Enqueue(context.Background(), testNewsletter(),
		recipients("a@example.com", "b@example.com", "c@example.com"), staticGenerator)
	require.NoError(t, q.Process(context.Background(), Options{}))

	stats := q.Stats()
	assert.Equal(t, 3, stats.Sent)
	assert.Equal(t, 0, stats.Pending)
	assert.InDelta(t, 1.0, stats.SuccessRate, 0.001)
	assert.Len(t, recorder.sent, 3)

	for _, job := range q.Jobs() {
		assert.Equal(t, StatusSent, job.Status)
		assert.Equal(t, 1, job.Attempts)
		assert.NotNil(t, job.SentAt)
		assert.NotNil(t, job.LastAttemptAt)
	}
}

func TestProcessSerialBatchesWithDelay(t *testing.T) {
	sender := &mockSender{
		fn: func(to string, attempt int) error {
			time.Sleep(5 * time.Millisecond)
			return nil
		},
	}
	q := NewQueue(fastConfig(3), sender, nil, nil, nil)

	q.Enqueue(context.Background(), testNewsletter(),
		recipients("a@x.com", "b@x.com", "c@x.com", "d@x.com", "e@x.com"), staticGenerator)

	var progress []int
	start := time.Now()
	require.NoError(t, q.Process(context.Background(), Options{
		BatchSize:  1,
		BatchDelay: 20 * time.Millisecond,
		OnProgress: func(done, total int) {
			progress = append(progress, done)
			assert.Equal(t, 5, total)
		},
	}))
	elapsed := time.Since(start)

	assert.Equal(t, 1, sender.maxConcurrency(), "batch size 1 means strictly serial sends")
	assert.Equal(t, []int{1, 2, 3, 4, 5}, progress)
	// four inter-batch delays; none after the final batch
	assert.GreaterOrEqual(t, elapsed, 80*time.Millisecond)
	assert.Equal(t, 5, q.Stats().Sent)
}

func TestProcessLargerBatches(t *testing.T) {
	sender := &mockSender{
		fn: func(to string, attempt int) error {
			time.Sleep(5 * time.Millisecond)
			return nil
		},
	}
	q := NewQueue(fastConfig(3), sender, nil, nil, nil)

	q.Enqueue(context.Background(), testNewsletter(),
		recipients("a@x.com", "b@x.com", "c@x.com", "d@x.com", "e@x.com"), staticGenerator)
	require.NoError(t, q.Process(context.Background(), Options{BatchSize: 2}))

	assert.LessOrEqual(t, sender.maxConcurrency(), 2)
	assert.Equal(t, 5, q.Stats().Sent)
}

func TestProcessRetriesTransientFailures(t *testing.T) {
	// recipient b fails twice with a transient error, then succeeds
	sender := &mockSender{
		fn: func(to string, attempt int) error {
			if to == "b@example.com" && attempt <= 2 {
				return fmt.Errorf("connection timed out")
			}
			return nil
		},
	}
	recorder := &mockRecorder{}
	q := NewQueue(fastConfig(3), sender, recorder, nil, nil)

	q.Enqueue(context.Background(), testNewsletter(),
		recipients("a@example.com", "b@example.com", "c@example.com"), staticGenerator)
	require.NoError(t, q.Process(context.Background(), Options{}))

	stats := q.Stats()
	assert.Equal(t, 3, stats.Sent)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, 0, stats.Bounced)

	assert.Equal(t, 1, sender.callCount("a@example.com"))
	assert.Equal(t, 3, sender.callCount("b@example.com"))
	assert.Equal(t, 1, sender.callCount("c@example.com"))

	for _, job := range q.Jobs() {
		if job.Recipient.Address == "b@example.com" {
			assert.Equal(t, 3, job.Attempts)
		}
	}
}

func TestProcessExhaustsAttempts(t *testing.T) {
	sender := &mockSender{
		fn: func(to string, attempt int) error {
			return fmt.Errorf("connection timed out")
		},
	}
	recorder := &mockRecorder{}
	var failedJobs []Job
	q := NewQueue(fastConfig(3), sender, recorder, nil, nil)

	q.Enqueue(context.Background(), testNewsletter(),
		recipients("gone@example.com"), staticGenerator)
	require.NoError(t, q.Process(context.Background(), Options{
		OnError: func(job Job, err error) {
			failedJobs = append(failedJobs, job)
		},
	}))

	assert.Equal(t, 3, sender.callCount("gone@example.com"), "exactly maxAttempts sends")

	jobs := q.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, StatusFailed, jobs[0].Status)
	assert.Equal(t, 3, jobs[0].Attempts)
	assert.NotNil(t, jobs[0].LastAttemptAt)
	assert.Contains(t, jobs[0].Error, "timed out")

	assert.Equal(t, []string{"gone@example.com"}, recorder.failed)
	require.Len(t, failedJobs, 1)
	assert.Equal(t, "gone@example.com", failedJobs[0].Recipient.Address)
}

func TestProcessBouncesWithoutRetry(t *testing.T) {
	sender := &mockSender{
		fn: func(to string, attempt int) error {
			return fmt.Errorf("550 5.1.1 user unknown")
		},
	}
	recorder := &mockRecorder{}
	statuses := &mockStatuses{}
	q := NewQueue(fastConfig(3), sender, recorder, statuses, nil)

	q.Enqueue(context.Background(), testNewsletter(),
		recipients("bad@example.com"), staticGenerator)
	require.NoError(t, q.Process(context.Background(), Options{}))

	assert.Equal(t, 1, sender.callCount("bad@example.com"), "permanent failures never retry")

	jobs := q.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, StatusBounced, jobs[0].Status)
	assert.Equal(t, 1, jobs[0].Attempts)

	assert.Equal(t, models.SubscriberBounced, statuses.get("bad@example.com"))
	assert.Equal(t, []string{"bad@example.com"}, recorder.bounced)
	assert.Empty(t, recorder.failed)
}

func TestProcessRejectsConcurrentRuns(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	sender := &mockSender{
		fn: func(to string, attempt int) error {
			close(started)
			<-release
			return nil
		},
	}
	q := NewQueue(fastConfig(3), sender, nil, nil, nil)
	q.Enqueue(context.Background(), testNewsletter(), recipients("a@example.com"), staticGenerator)

	done := make(chan error, 1)
	go func() {
		done <- q.Process(context.Background(), Options{})
	}()
	<-started

	err := q.Process(context.Background(), Options{})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))

	close(release)
	require.NoError(t, <-done)

	// once the first run settles, a new run is allowed again
	require.NoError(t, q.Process(context.Background(), Options{}))
}

func TestProcessHonorsContextDuringRetryDelay(t *testing.T) {
	// first attempt fails with a transient error, later attempts succeed
	sender := &mockSender{
		fn: func(to string, attempt int) error {
			if attempt == 1 {
				return fmt.Errorf("connection timed out")
			}
			return nil
		},
	}
	q := NewQueue(Config{BatchSize: 1, MaxAttempts: 3, RetryDelay: time.Hour}, sender, nil, nil, nil)
	q.Enqueue(context.Background(), testNewsletter(), recipients("a@example.com"), staticGenerator)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	require.NoError(t, q.Process(ctx, Options{RetryDelay: time.Hour}))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1, sender.callCount("a@example.com"))

	// the interrupted job goes back to pending, never stuck in sending
	jobs := q.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, StatusPending, jobs[0].Status)
	assert.Equal(t, 1, jobs[0].Attempts)

	// a fresh run resumes it
	require.NoError(t, q.Process(context.Background(), Options{RetryDelay: -1}))
	assert.Equal(t, 1, q.Stats().Sent)
	assert.Equal(t, 2, sender.callCount("a@example.com"))
}

func TestProcessDefaultOptionsKeepConfiguredBatchDelay(t *testing.T) {
	sender := &mockSender{}
	q := NewQueue(Config{BatchSize: 1, BatchDelay: 60 * time.Millisecond, MaxAttempts: 1}, sender, nil, nil, nil)

	q.Enqueue(context.Background(), testNewsletter(),
		recipients("a@x.com", "b@x.com", "c@x.com"), staticGenerator)

	start := time.Now()
	require.NoError(t, q.Process(context.Background(), Options{}))
	elapsed := time.Since(start)

	// two inter-batch delays out of the configured default
	assert.GreaterOrEqual(t, elapsed, 120*time.Millisecond)
	assert.Equal(t, 3, q.Stats().Sent)
}

func TestProcessNegativeBatchDelayDisablesIt(t *testing.T) {
	sender := &mockSender{}
	q := NewQueue(Config{BatchSize: 1, BatchDelay: time.Hour, MaxAttempts: 1}, sender, nil, nil, nil)

	q.Enqueue(context.Background(), testNewsletter(),
		recipients("a@x.com", "b@x.com", "c@x.com"), staticGenerator)

	start := time.Now()
	require.NoError(t, q.Process(context.Background(), Options{BatchDelay: -1}))

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 3, q.Stats().Sent)
}

func TestClearCompleted(t *testing.T) {
	sender := &mockSender{
		fn: func(to string, attempt int) error {
			if to == "bounce@example.com" {
				return fmt.Errorf("mailbox unavailable")
			}
			return nil
		},
	}
	q := NewQueue(fastConfig(1), sender, nil, nil, nil)

	q.Enqueue(context.Background(), testNewsletter(),
		recipients("a@example.com", "bounce@example.com"), staticGenerator)
	require.NoError(t, q.Process(context.Background(), Options{}))

	// one more pending job that never processes
	q.Enqueue(context.Background(), testNewsletter(), recipients("later@example.com"), staticGenerator)

	removed := q.ClearCompleted()
	assert.Equal(t, 2, removed)

	stats := q.Stats()
	assert.Equal(t, 1, stats.Total)
	assert.Equal(t, 1, stats.Pending)
}

func TestStatsEmptyQueue(t *testing.T) {
	q := NewQueue(fastConfig(3), &mockSender{}, nil, nil, nil)
	stats := q.Stats()
	assert.Equal(t, 0, stats.Total)
	assert.Equal(t, 0.0, stats.SuccessRate)
}
