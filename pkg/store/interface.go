package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/psantana5/earthfetch/pkg/models"
)

var (
	ErrJobNotFound         = errors.New("job not found")
	ErrUnsupportedDatabase = errors.New("unsupported ledger type")
)

// Store is the job ledger. Jobs are keyed by service and remote id so
// polling and fetching can resume in a later process.
type Store interface {
	SaveJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, filter Filter) ([]*models.Job, error)
	UpdateJob(ctx context.Context, job *models.Job) error
	DeleteJob(ctx context.Context, id string) error

	HealthCheck(ctx context.Context) error
	Close() error
}

// Filter narrows ListJobs; zero fields match everything
type Filter struct {
	Service string
	Status  models.JobStatus
	Limit   int
}

func (f Filter) match(job *models.Job) bool {
	if f.Service != "" && job.Service != f.Service {
		return false
	}
	if f.Status != "" && job.Status != f.Status {
		return false
	}
	return true
}

// Config selects a ledger implementation
type Config struct {
	Type string // "memory", "sqlite" or "postgres"
	DSN  string // file path for sqlite, connection string for postgres

	// PostgreSQL specific
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ParseLocation turns a ledger location into a Config: "memory", a
// postgres:// URL, or a SQLite file path.
func ParseLocation(loc string) Config {
	switch {
	case loc == "" || loc == "memory":
		return Config{Type: "memory"}
	case strings.HasPrefix(loc, "postgres://"), strings.HasPrefix(loc, "postgresql://"):
		return Config{Type: "postgres", DSN: loc}
	default:
		return Config{Type: "sqlite", DSN: strings.TrimPrefix(loc, "sqlite:")}
	}
}

// NewStore creates a store based on configuration
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "memory", "":
		return NewMemoryStore(), nil
	case "postgres", "postgresql":
		return NewPostgreSQLStore(config)
	case "sqlite":
		path := config.DSN
		if path == "" {
			path = "earthfetch.db"
		}
		return NewSQLiteStore(path)
	default:
		return nil, ErrUnsupportedDatabase
	}
}
