// Package sqlite implements the storage interface on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"lettercast/internal/common/errors"
	"lettercast/internal/common/utils"
	"lettercast/internal/models"
	"lettercast/internal/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS delivery_records (
	id TEXT PRIMARY KEY,
	newsletter_id TEXT NOT NULL,
	address TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'pending',
	opens INTEGER NOT NULL DEFAULT 0,
	clicks INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	sent_at TIMESTAMP,
	opened_at TIMESTAMP,
	clicked_at TIMESTAMP,
	UNIQUE(newsletter_id, address)
);
CREATE INDEX IF NOT EXISTS idx_delivery_records_newsletter ON delivery_records(newsletter_id);
CREATE INDEX IF NOT EXISTS idx_delivery_records_created ON delivery_records(created_at);

CREATE TABLE IF NOT EXISTS subscribers (
	address TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`

// Store is a SQLite-backed storage.Store.
type Store struct {
	db *sql.DB
}

// New opens (and migrates) a SQLite database at the given path. Use
// ":memory:" for tests.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, errors.ConfigError("sqlite path is required")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.ConnectionError("failed to open sqlite database", err)
	}
	// SQLite handles one writer at a time
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.InternalError("failed to apply sqlite schema", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) CreateRecord(ctx context.Context, newsletterID string, rcpt models.Recipient) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delivery_records (id, newsletter_id, address, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(newsletter_id, address) DO NOTHING`,
		utils.NewRecordID(), newsletterID, rcpt.Address, storage.RecordPending, now, now)
	if err != nil {
		return errors.InternalError("failed to create delivery record", err)
	}
	return nil
}

func (s *Store) SetRecordStatus(ctx context.Context, newsletterID, address, status, errMsg string) error {
	now := time.Now()
	sentClause := ""
	if status == storage.RecordSent || status == storage.RecordDelivered {
		sentClause = ", sent_at = COALESCE(sent_at, excluded.updated_at)"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delivery_records (id, newsletter_id, address, status, error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(newsletter_id, address) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			updated_at = excluded.updated_at`+sentClause,
		utils.NewRecordID(), newsletterID, address, status, errMsg, now, now)
	if err != nil {
		return errors.InternalError("failed to update delivery record", err)
	}
	return nil
}

func (s *Store) IncrementOpens(ctx context.Context, newsletterID, address string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE delivery_records
		SET opens = opens + 1,
			opened_at = COALESCE(opened_at, ?),
			updated_at = ?
		WHERE newsletter_id = ? AND address = ?`,
		now, now, newsletterID, address)
	if err != nil {
		return errors.InternalError("failed to record open", err)
	}
	return nil
}

func (s *Store) IncrementClicks(ctx context.Context, newsletterID, address string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE delivery_records
		SET clicks = clicks + 1,
			clicked_at = COALESCE(clicked_at, ?),
			updated_at = ?
		WHERE newsletter_id = ? AND address = ?`,
		now, now, newsletterID, address)
	if err != nil {
		return errors.InternalError("failed to record click", err)
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, newsletterID, address string) (*storage.DeliveryRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, newsletter_id, address, status, opens, clicks, error,
		       created_at, updated_at, sent_at, opened_at, clicked_at
		FROM delivery_records
		WHERE newsletter_id = ? AND address = ?`,
		newsletterID, address)

	var rec storage.DeliveryRecord
	err := row.Scan(&rec.ID, &rec.NewsletterID, &rec.Address, &rec.Status,
		&rec.Opens, &rec.Clicks, &rec.Error,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.SentAt, &rec.OpenedAt, &rec.ClickedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.InternalError("failed to read delivery record", err)
	}
	return &rec, nil
}

func (s *Store) CountRecords(ctx context.Context, newsletterID string) (storage.RecordCounts, error) {
	var counts storage.RecordCounts
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'sent' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'delivered' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'bounced' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN opens > 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN clicks > 0 THEN 1 ELSE 0 END), 0)
		FROM delivery_records
		WHERE newsletter_id = ?`,
		newsletterID)

	err := row.Scan(&counts.Total, &counts.Pending, &counts.Sent, &counts.Delivered,
		&counts.Bounced, &counts.Failed, &counts.Opened, &counts.Clicked)
	if err != nil {
		return counts, errors.InternalError("failed to aggregate delivery records", err)
	}
	return counts, nil
}

func (s *Store) DeleteRecordsBefore(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM delivery_records
		WHERE id IN (
			SELECT id FROM delivery_records
			WHERE created_at < ?
			ORDER BY created_at
			LIMIT ?
		)`,
		cutoff, limit)
	if err != nil {
		return 0, errors.InternalError("failed to delete old delivery records", err)
	}
	deleted, _ := result.RowsAffected()
	return int(deleted), nil
}

func (s *Store) SetSubscriberStatus(ctx context.Context, address string, status models.SubscriberStatus) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscribers (address, status, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			status = excluded.status,
			updated_at = excluded.updated_at`,
		address, string(status), time.Now())
	if err != nil {
		return errors.InternalError("failed to update subscriber status", err)
	}
	return nil
}

func (s *Store) GetSubscriberStatus(ctx context.Context, address string) (models.SubscriberStatus, error) {
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM subscribers WHERE address = ?`, address).Scan(&status)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.InternalError("failed to read subscriber status", err)
	}
	return models.SubscriberStatus(status), nil
}

func (s *Store) Health(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
