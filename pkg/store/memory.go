package store

import (
	"context"
	"sort"
	"sync"

	"github.com/psantana5/earthfetch/pkg/models"
)

// MemoryStore is an in-memory implementation of the ledger
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*models.Job
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*models.Job)}
}

// SaveJob inserts or replaces a job
func (s *MemoryStore) SaveJob(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[key(job.Service, job.ID)] = job.Clone()
	return nil
}

// GetJob retrieves a job by id, or by "service/id" when ids collide
func (s *MemoryStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if job, ok := s.jobs[id]; ok {
		return job.Clone(), nil
	}
	for _, job := range s.jobs {
		if job.ID == id {
			return job.Clone(), nil
		}
	}
	return nil, ErrJobNotFound
}

// ListJobs returns matching jobs, newest first
func (s *MemoryStore) ListJobs(ctx context.Context, filter Filter) ([]*models.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*models.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		if filter.match(job) {
			jobs = append(jobs, job.Clone())
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].SubmittedAt.After(jobs[j].SubmittedAt)
	})
	if filter.Limit > 0 && len(jobs) > filter.Limit {
		jobs = jobs[:filter.Limit]
	}
	return jobs, nil
}

// UpdateJob replaces an existing job
func (s *MemoryStore) UpdateJob(ctx context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(job.Service, job.ID)
	if _, ok := s.jobs[k]; !ok {
		return ErrJobNotFound
	}
	s.jobs[k] = job.Clone()
	return nil
}

// DeleteJob removes a job
func (s *MemoryStore) DeleteJob(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, job := range s.jobs {
		if k == id || job.ID == id {
			delete(s.jobs, k)
			return nil
		}
	}
	return ErrJobNotFound
}

// HealthCheck always succeeds
func (s *MemoryStore) HealthCheck(ctx context.Context) error { return nil }

// Close is a no-op
func (s *MemoryStore) Close() error { return nil }

func key(service, id string) string {
	return service + "/" + id
}
