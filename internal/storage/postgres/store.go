// Package postgres implements the storage interface on PostgreSQL
// using pgx.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

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
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	sent_at TIMESTAMPTZ,
	opened_at TIMESTAMPTZ,
	clicked_at TIMESTAMPTZ,
	UNIQUE(newsletter_id, address)
);
CREATE INDEX IF NOT EXISTS idx_delivery_records_newsletter ON delivery_records(newsletter_id);
CREATE INDEX IF NOT EXISTS idx_delivery_records_created ON delivery_records(created_at);

CREATE TABLE IF NOT EXISTS subscribers (
	address TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// Config holds PostgreSQL connection settings.
type Config struct {
	Host     string
	Port     string
	Database string
	Username string
	Password string
	SSLMode  string
}

// DSN renders the pgx connection string.
func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.Username, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// Store is a PostgreSQL-backed storage.Store.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to PostgreSQL and applies the schema.
func New(ctx context.Context, config Config) (*Store, error) {
	if config.Host == "" || config.Database == "" || config.Username == "" {
		return nil, errors.ConfigError("postgres host, database and username are required")
	}
	if config.SSLMode == "" {
		config.SSLMode = "disable"
	}

	pool, err := pgxpool.New(ctx, config.DSN())
	if err != nil {
		return nil, errors.ConnectionError("failed to create postgres pool", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.ConnectionError("failed to connect to postgres", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, errors.InternalError("failed to apply postgres schema", err)
	}

	return &Store{pool: pool}, nil
}

func (s *Store) CreateRecord(ctx context.Context, newsletterID string, rcpt models.Recipient) error {
	now := time.Now()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO delivery_records (id, newsletter_id, address, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (newsletter_id, address) DO NOTHING`,
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
		sentClause = ", sent_at = COALESCE(delivery_records.sent_at, excluded.updated_at)"
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO delivery_records (id, newsletter_id, address, status, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (newsletter_id, address) DO UPDATE SET
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
	_, err := s.pool.Exec(ctx, `
		UPDATE delivery_records
		SET opens = opens + 1,
			opened_at = COALESCE(opened_at, $1),
			updated_at = $2
		WHERE newsletter_id = $3 AND address = $4`,
		now, now, newsletterID, address)
	if err != nil {
		return errors.InternalError("failed to record open", err)
	}
	return nil
}

func (s *Store) IncrementClicks(ctx context.Context, newsletterID, address string) error {
	now := time.Now()
	_, err := s.pool.Exec(ctx, `
		UPDATE delivery_records
		SET clicks = clicks + 1,
			clicked_at = COALESCE(clicked_at, $1),
			updated_at = $2
		WHERE newsletter_id = $3 AND address = $4`,
		now, now, newsletterID, address)
	if err != nil {
		return errors.InternalError("failed to record click", err)
	}
	return nil
}

func (s *Store) GetRecord(ctx context.Context, newsletterID, address string) (*storage.DeliveryRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, newsletter_id, address, status, opens, clicks, error,
		       created_at, updated_at, sent_at, opened_at, clicked_at
		FROM delivery_records
		WHERE newsletter_id = $1 AND address = $2`,
		newsletterID, address)

	var rec storage.DeliveryRecord
	err := row.Scan(&rec.ID, &rec.NewsletterID, &rec.Address, &rec.Status,
		&rec.Opens, &rec.Clicks, &rec.Error,
		&rec.CreatedAt, &rec.UpdatedAt, &rec.SentAt, &rec.OpenedAt, &rec.ClickedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.InternalError("failed to read delivery record", err)
	}
	return &rec, nil
}

func (s *Store) CountRecords(ctx context.Context, newsletterID string) (storage.RecordCounts, error) {
	var counts storage.RecordCounts
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'pending'),
		       COUNT(*) FILTER (WHERE status = 'sent'),
		       COUNT(*) FILTER (WHERE status = 'delivered'),
		       COUNT(*) FILTER (WHERE status = 'bounced'),
		       COUNT(*) FILTER (WHERE status = 'failed'),
		       COUNT(*) FILTER (WHERE opens > 0),
		       COUNT(*) FILTER (WHERE clicks > 0)
		FROM delivery_records
		WHERE newsletter_id = $1`,
		newsletterID)

	err := row.Scan(&counts.Total, &counts.Pending, &counts.Sent, &counts.Delivered,
		&counts.Bounced, &counts.Failed, &counts.Opened, &counts.Clicked)
	if err != nil {
		return counts, errors.InternalError("failed to aggregate delivery records", err)
	}
	return counts, nil
}

func (s *Store) DeleteRecordsBefore(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM delivery_records
		WHERE id IN (
			SELECT id FROM delivery_records
			WHERE created_at < $1
			ORDER BY created_at
			LIMIT $2
		)`,
		cutoff, limit)
	if err != nil {
		return 0, errors.InternalError("failed to delete old delivery records", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) SetSubscriberStatus(ctx context.Context, address string, status models.SubscriberStatus) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscribers (address, status, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (address) DO UPDATE SET
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
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM subscribers WHERE address = $1`, address).Scan(&status)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.InternalError("failed to read subscriber status", err)
	}
	return models.SubscriberStatus(status), nil
}

func (s *Store) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
