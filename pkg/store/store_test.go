package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/psantana5/earthfetch/pkg/models"
)

func testJob(service, id string, status models.JobStatus, submitted time.Time) *models.Job {
	return &models.Job{
		ID:          id,
		Service:     service,
		Status:      status,
		SubmittedAt: submitted,
		Request: &models.OrderRequest{
			Service:  service,
			Criteria: models.SearchCriteria{ShortName: "ATL07", Version: "003"},
		},
	}
}

func runStoreSuite(t *testing.T, s Store) {
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("SaveAndGet", func(t *testing.T) {
		job := testJob("nsidc", "5000000962482", models.JobStatusPending, base)
		if err := s.SaveJob(ctx, job); err != nil {
			t.Fatalf("SaveJob: %v", err)
		}
		got, err := s.GetJob(ctx, "5000000962482")
		if err != nil {
			t.Fatalf("GetJob: %v", err)
		}
		if got.Service != "nsidc" || got.Status != models.JobStatusPending {
			t.Errorf("unexpected job %+v", got)
		}
		if got.Request == nil || got.Request.Criteria.ShortName != "ATL07" {
			t.Errorf("request not round-tripped: %+v", got.Request)
		}
		if _, err := s.GetJob(ctx, "nsidc/5000000962482"); err != nil {
			t.Errorf("GetJob by service/id: %v", err)
		}
	})

	t.Run("Update", func(t *testing.T) {
		job, _ := s.GetJob(ctx, "5000000962482")
		now := base.Add(time.Minute)
		job.Advance(models.JobStatusComplete, "remote status complete", now)
		job.LastPolledAt = &now
		job.Manifest = []models.FileDescriptor{{URL: "https://n5eil02u.ecs.nsidc.org/esir/5000000962482.zip", Name: "5000000962482.zip"}}
		if err := s.UpdateJob(ctx, job); err != nil {
			t.Fatalf("UpdateJob: %v", err)
		}
		got, _ := s.GetJob(ctx, job.ID)
		if got.Status != models.JobStatusComplete || len(got.Manifest) != 1 || len(got.Transitions) != 2 {
			t.Errorf("update not persisted: %+v", got)
		}

		missing := testJob("nsidc", "nope", models.JobStatusPending, base)
		if err := s.UpdateJob(ctx, missing); !errors.Is(err, ErrJobNotFound) {
			t.Errorf("UpdateJob(missing) = %v, want ErrJobNotFound", err)
		}
	})

	t.Run("List", func(t *testing.T) {
		s.SaveJob(ctx, testJob("harmony", "a1", models.JobStatusRunning, base.Add(2*time.Hour)))
		s.SaveJob(ctx, testJob("harmony", "a2", models.JobStatusFailed, base.Add(3*time.Hour)))

		all, err := s.ListJobs(ctx, Filter{})
		if err != nil {
			t.Fatalf("ListJobs: %v", err)
		}
		if len(all) != 3 || all[0].ID != "a2" {
			t.Fatalf("expected 3 jobs newest first, got %d", len(all))
		}

		harmony, _ := s.ListJobs(ctx, Filter{Service: "harmony"})
		if len(harmony) != 2 {
			t.Errorf("expected 2 harmony jobs, got %d", len(harmony))
		}
		running, _ := s.ListJobs(ctx, Filter{Status: models.JobStatusRunning})
		if len(running) != 1 || running[0].ID != "a1" {
			t.Errorf("unexpected running jobs: %v", running)
		}
		limited, _ := s.ListJobs(ctx, Filter{Limit: 1})
		if len(limited) != 1 {
			t.Errorf("limit ignored: %d", len(limited))
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := s.DeleteJob(ctx, "harmony/a2"); err != nil {
			t.Fatalf("DeleteJob: %v", err)
		}
		if _, err := s.GetJob(ctx, "a2"); !errors.Is(err, ErrJobNotFound) {
			t.Errorf("GetJob after delete = %v", err)
		}
		if err := s.DeleteJob(ctx, "a2"); !errors.Is(err, ErrJobNotFound) {
			t.Errorf("second delete = %v", err)
		}
	})

	t.Run("Health", func(t *testing.T) {
		if err := s.HealthCheck(ctx); err != nil {
			t.Errorf("HealthCheck: %v", err)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()
	runStoreSuite(t, s)
}

// TestPostgreSQLStore runs against a real database
// Set DATABASE_DSN to run: export DATABASE_DSN="postgresql://..."
func TestPostgreSQLStore(t *testing.T) {
	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		t.Skip("Skipping PostgreSQL integration test: DATABASE_DSN not set")
	}
	s, err := NewStore(Config{Type: "postgres", DSN: dsn})
	if err != nil {
		t.Fatalf("Failed to create PostgreSQL store: %v", err)
	}
	defer s.Close()
	pg := s.(*PostgreSQLStore)
	pg.db.Exec("DELETE FROM earthfetch_jobs")
	runStoreSuite(t, s)
}

// TestSQLiteConcurrentAccess checks that concurrent pollers saving jobs do
// not hit SQLITE_BUSY
func TestSQLiteConcurrentAccess(t *testing.T) {
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "concurrent.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer s.Close()

	ctx := context.Background()
	const numJobs = 20
	var wg sync.WaitGroup
	errs := make(chan error, numJobs*2)
	for i := 0; i < numJobs; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			job := testJob("nsidc", fmt.Sprintf("job-%d", idx), models.JobStatusPending, time.Now())
			if err := s.SaveJob(ctx, job); err != nil {
				errs <- err
				return
			}
			job.Advance(models.JobStatusRunning, "processing", time.Now())
			if err := s.UpdateJob(ctx, job); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent write failed: %v", err)
	}

	jobs, _ := s.ListJobs(ctx, Filter{Status: models.JobStatusRunning})
	if len(jobs) != numJobs {
		t.Errorf("expected %d running jobs, got %d", numJobs, len(jobs))
	}
}

func TestParseLocation(t *testing.T) {
	tests := map[string]Config{
		"":                            {Type: "memory"},
		"memory":                      {Type: "memory"},
		"postgres://u@h/db":           {Type: "postgres", DSN: "postgres://u@h/db"},
		"sqlite:/var/lib/ledger.db":   {Type: "sqlite", DSN: "/var/lib/ledger.db"},
		"/home/user/.earthfetch/j.db": {Type: "sqlite", DSN: "/home/user/.earthfetch/j.db"},
	}
	for in, want := range tests {
		if got := ParseLocation(in); got != want {
			t.Errorf("ParseLocation(%q) = %+v, want %+v", in, got, want)
		}
	}
}
