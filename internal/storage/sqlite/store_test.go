package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lettercast/internal/models"
	"lettercast/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewRequiresPath(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestCreateRecordIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	rcpt := models.Recipient{Address: "a@example.com"}

	require.NoError(t, s.CreateRecord(ctx, "n1", rcpt))
	require.NoError(t, s.CreateRecord(ctx, "n1", rcpt))

	counts, err := s.CountRecords(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Total)
	assert.Equal(t, 1, counts.Pending)
}

func TestSetRecordStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRecord(ctx, "n1", models.Recipient{Address: "a@example.com"}))
	require.NoError(t, s.SetRecordStatus(ctx, "n1", "a@example.com", storage.RecordSent, ""))

	rec, err := s.GetRecord(ctx, "n1", "a@example.com")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, storage.RecordSent, rec.Status)
	require.NotNil(t, rec.SentAt)
	firstSentAt := *rec.SentAt

	t.Run("sent_at is stamped once", func(t *testing.T) {
		time.Sleep(10 * time.Millisecond)
		require.NoError(t, s.SetRecordStatus(ctx, "n1", "a@example.com", storage.RecordDelivered, ""))

		rec, err := s.GetRecord(ctx, "n1", "a@example.com")
		require.NoError(t, err)
		assert.Equal(t, storage.RecordDelivered, rec.Status)
		require.NotNil(t, rec.SentAt)
		assert.Equal(t, firstSentAt.Unix(), rec.SentAt.Unix())
	})

	t.Run("failure reason is stored", func(t *testing.T) {
		require.NoError(t, s.SetRecordStatus(ctx, "n1", "b@example.com", storage.RecordBounced, "550 5.1.1 user unknown"))

		rec, err := s.GetRecord(ctx, "n1", "b@example.com")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, storage.RecordBounced, rec.Status)
		assert.Equal(t, "550 5.1.1 user unknown", rec.Error)
		assert.Nil(t, rec.SentAt)
	})

	t.Run("upsert creates the record when absent", func(t *testing.T) {
		require.NoError(t, s.SetRecordStatus(ctx, "n2", "c@example.com", storage.RecordFailed, "timeout"))

		rec, err := s.GetRecord(ctx, "n2", "c@example.com")
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, storage.RecordFailed, rec.Status)
	})
}

func TestEngagementCounters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateRecord(ctx, "n1", models.Recipient{Address: "a@example.com"}))

	require.NoError(t, s.IncrementOpens(ctx, "n1", "a@example.com"))
	require.NoError(t, s.IncrementOpens(ctx, "n1", "a@example.com"))
	require.NoError(t, s.IncrementClicks(ctx, "n1", "a@example.com"))

	rec, err := s.GetRecord(ctx, "n1", "a@example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, rec.Opens)
	assert.Equal(t, 1, rec.Clicks)
	assert.NotNil(t, rec.OpenedAt)
	assert.NotNil(t, rec.ClickedAt)

	t.Run("opened_at keeps the first open time", func(t *testing.T) {
		first := *rec.OpenedAt
		time.Sleep(10 * time.Millisecond)
		require.NoError(t, s.IncrementOpens(ctx, "n1", "a@example.com"))

		rec, err := s.GetRecord(ctx, "n1", "a@example.com")
		require.NoError(t, err)
		assert.Equal(t, 3, rec.Opens)
		assert.Equal(t, first.Unix(), rec.OpenedAt.Unix())
	})

	t.Run("unknown pair is a no-op", func(t *testing.T) {
		assert.NoError(t, s.IncrementOpens(ctx, "n1", "nobody@example.com"))
		rec, err := s.GetRecord(ctx, "n1", "nobody@example.com")
		require.NoError(t, err)
		assert.Nil(t, rec)
	})
}

func TestCountRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetRecordStatus(ctx, "n1", "a@example.com", storage.RecordSent, ""))
	require.NoError(t, s.SetRecordStatus(ctx, "n1", "b@example.com", storage.RecordDelivered, ""))
	require.NoError(t, s.SetRecordStatus(ctx, "n1", "c@example.com", storage.RecordBounced, "bounce"))
	require.NoError(t, s.SetRecordStatus(ctx, "n1", "d@example.com", storage.RecordFailed, "timeout"))
	require.NoError(t, s.CreateRecord(ctx, "n1", models.Recipient{Address: "e@example.com"}))
	require.NoError(t, s.IncrementOpens(ctx, "n1", "a@example.com"))
	require.NoError(t, s.IncrementClicks(ctx, "n1", "b@example.com"))

	// a different newsletter must not leak into the counts
	require.NoError(t, s.SetRecordStatus(ctx, "n2", "a@example.com", storage.RecordSent, ""))

	counts, err := s.CountRecords(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, storage.RecordCounts{
		Total:     5,
		Pending:   1,
		Sent:      1,
		Delivered: 1,
		Bounced:   1,
		Failed:    1,
		Opened:    1,
		Clicked:   1,
	}, counts)

	empty, err := s.CountRecords(ctx, "unknown")
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Total)
}

func TestDeleteRecordsBefore(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, addr := range []string{"a@x.com", "b@x.com", "c@x.com", "d@x.com", "e@x.com"} {
		require.NoError(t, s.CreateRecord(ctx, "n1", models.Recipient{Address: addr}))
	}

	// cutoff in the future covers all five; the limit bounds each batch
	cutoff := time.Now().Add(time.Minute)

	deleted, err := s.DeleteRecordsBefore(ctx, cutoff, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	deleted, err = s.DeleteRecordsBefore(ctx, cutoff, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	deleted, err = s.DeleteRecordsBefore(ctx, cutoff, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	counts, err := s.CountRecords(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Total)

	t.Run("past cutoff spares recent records", func(t *testing.T) {
		require.NoError(t, s.CreateRecord(ctx, "n1", models.Recipient{Address: "new@x.com"}))

		deleted, err := s.DeleteRecordsBefore(ctx, time.Now().Add(-time.Hour), 100)
		require.NoError(t, err)
		assert.Equal(t, 0, deleted)
	})
}

func TestSubscriberStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("unknown subscriber has empty status", func(t *testing.T) {
		status, err := s.GetSubscriberStatus(ctx, "nobody@example.com")
		require.NoError(t, err)
		assert.Empty(t, status)
	})

	t.Run("set and overwrite", func(t *testing.T) {
		require.NoError(t, s.SetSubscriberStatus(ctx, "a@example.com", models.SubscriberActive))

		status, err := s.GetSubscriberStatus(ctx, "a@example.com")
		require.NoError(t, err)
		assert.Equal(t, models.SubscriberActive, status)

		require.NoError(t, s.SetSubscriberStatus(ctx, "a@example.com", models.SubscriberBounced))

		status, err = s.GetSubscriberStatus(ctx, "a@example.com")
		require.NoError(t, err)
		assert.Equal(t, models.SubscriberBounced, status)
	})
}

func TestHealth(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Health(context.Background()))
}
