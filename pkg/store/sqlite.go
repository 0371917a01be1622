package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/psantana5/earthfetch/pkg/models"
)

// SQLiteStore is a SQLite-based ledger
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the ledger at dbPath
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// - _journal_mode=WAL: readers do not block the single writer
	// - _busy_timeout=10000: wait up to 10 seconds when the database is locked
	// - _txlock=immediate: take the write lock at transaction start
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=10000&_synchronous=NORMAL&_txlock=immediate", dbPath)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single writer for SQLite to avoid SQLITE_BUSY
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		service TEXT NOT NULL,
		id TEXT NOT NULL,
		status TEXT NOT NULL,
		remote_status TEXT,
		progress INTEGER DEFAULT 0,
		submitted_at DATETIME NOT NULL,
		last_polled_at DATETIME,
		data TEXT NOT NULL,
		PRIMARY KEY (service, id)
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
	CREATE INDEX IF NOT EXISTS idx_jobs_submitted ON jobs(submitted_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// SaveJob inserts or replaces a job
func (s *SQLiteStore) SaveJob(ctx context.Context, job *models.Job) error {
	data, err := marshalJob(job)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO jobs
		(service, id, status, remote_status, progress, submitted_at, last_polled_at, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, job.Service, job.ID, string(job.Status), job.RemoteStatus, job.Progress,
		job.SubmittedAt, nullTime(job.LastPolledAt), string(data))
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob retrieves a job by id or "service/id"
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	service, remote := splitID(id)

	var row *sql.Row
	if service != "" {
		row = s.db.QueryRowContext(ctx, `SELECT data FROM jobs WHERE service = ? AND id = ?`, service, remote)
	} else {
		row = s.db.QueryRowContext(ctx, `SELECT data FROM jobs WHERE id = ? ORDER BY submitted_at DESC LIMIT 1`, remote)
	}

	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return unmarshalJob(data)
}

// ListJobs returns matching jobs, newest first
func (s *SQLiteStore) ListJobs(ctx context.Context, filter Filter) ([]*models.Job, error) {
	q, args := listQuery("SELECT data FROM jobs", filter, func(int) string { return "?" })
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return scanJobs(rows)
}

// UpdateJob replaces an existing job
func (s *SQLiteStore) UpdateJob(ctx context.Context, job *models.Job) error {
	data, err := marshalJob(job)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, remote_status = ?, progress = ?, last_polled_at = ?, data = ?
		WHERE service = ? AND id = ?
	`, string(job.Status), job.RemoteStatus, job.Progress, nullTime(job.LastPolledAt), string(data),
		job.Service, job.ID)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job
func (s *SQLiteStore) DeleteJob(ctx context.Context, id string) error {
	service, remote := splitID(id)
	var res sql.Result
	var err error
	if service != "" {
		res, err = s.db.ExecContext(ctx, `DELETE FROM jobs WHERE service = ? AND id = ?`, service, remote)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, remote)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// HealthCheck pings the database
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close checkpoints the WAL and closes the database
func (s *SQLiteStore) Close() error {
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		s.db.Close()
		return fmt.Errorf("failed to checkpoint WAL: %w", err)
	}
	return s.db.Close()
}
