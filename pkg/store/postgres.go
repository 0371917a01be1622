package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/lib/pq"

	"github.com/psantana5/earthfetch/pkg/models"
)

// PostgreSQLStore implements Store using PostgreSQL, for ledgers shared by
// several hosts
type PostgreSQLStore struct {
	db *sql.DB
}

// NewPostgreSQLStore connects and creates the schema
func NewPostgreSQLStore(config Config) (*PostgreSQLStore, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("PostgreSQL DSN is required")
	}

	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(2)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgreSQLStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *PostgreSQLStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS earthfetch_jobs (
		service TEXT NOT NULL,
		id TEXT NOT NULL,
		status TEXT NOT NULL,
		remote_status TEXT,
		progress INTEGER DEFAULT 0,
		submitted_at TIMESTAMPTZ NOT NULL,
		last_polled_at TIMESTAMPTZ,
		data JSONB NOT NULL,
		PRIMARY KEY (service, id)
	);

	CREATE INDEX IF NOT EXISTS idx_earthfetch_jobs_status ON earthfetch_jobs(status);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func pgPlaceholder(n int) string { return "$" + strconv.Itoa(n) }

// SaveJob upserts a job
func (s *PostgreSQLStore) SaveJob(ctx context.Context, job *models.Job) error {
	data, err := marshalJob(job)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO earthfetch_jobs
		(service, id, status, remote_status, progress, submitted_at, last_polled_at, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (service, id) DO UPDATE SET
			status = EXCLUDED.status,
			remote_status = EXCLUDED.remote_status,
			progress = EXCLUDED.progress,
			last_polled_at = EXCLUDED.last_polled_at,
			data = EXCLUDED.data
	`, job.Service, job.ID, string(job.Status), job.RemoteStatus, job.Progress,
		job.SubmittedAt, nullTime(job.LastPolledAt), string(data))
	if err != nil {
		return fmt.Errorf("failed to save job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob retrieves a job by id or "service/id"
func (s *PostgreSQLStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	service, remote := splitID(id)

	var row *sql.Row
	if service != "" {
		row = s.db.QueryRowContext(ctx, `SELECT data FROM earthfetch_jobs WHERE service = $1 AND id = $2`, service, remote)
	} else {
		row = s.db.QueryRowContext(ctx, `SELECT data FROM earthfetch_jobs WHERE id = $1 ORDER BY submitted_at DESC LIMIT 1`, remote)
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
func (s *PostgreSQLStore) ListJobs(ctx context.Context, filter Filter) ([]*models.Job, error) {
	q, args := listQuery("SELECT data FROM earthfetch_jobs", filter, pgPlaceholder)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	return scanJobs(rows)
}

// UpdateJob replaces an existing job
func (s *PostgreSQLStore) UpdateJob(ctx context.Context, job *models.Job) error {
	data, err := marshalJob(job)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE earthfetch_jobs SET status = $1, remote_status = $2, progress = $3, last_polled_at = $4, data = $5
		WHERE service = $6 AND id = $7
	`, string(job.Status), job.RemoteStatus, job.Progress, nullTime(job.LastPolledAt), string(data), job.Service, job.ID)
	if err != nil {
		return fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job
func (s *PostgreSQLStore) DeleteJob(ctx context.Context, id string) error {
	service, remote := splitID(id)
	var res sql.Result
	var err error
	if service != "" {
		res, err = s.db.ExecContext(ctx, `DELETE FROM earthfetch_jobs WHERE service = $1 AND id = $2`, service, remote)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM earthfetch_jobs WHERE id = $1`, remote)
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
func (s *PostgreSQLStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool
func (s *PostgreSQLStore) Close() error {
	return s.db.Close()
}
