package orders

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/psantana5/earthfetch/pkg/auth"
	"github.com/psantana5/earthfetch/pkg/models"
)

// scriptedService replays a fixed sequence of status reports. The last
// report repeats once the script is exhausted.
type scriptedService struct {
	mu        sync.Mutex
	script    []step
	calls     int
	submits   int
	submitErr error
	submitID  string
	entered   chan struct{} // receives on every Status call when set
	release   chan struct{} // Status blocks on it when set
}

type step struct {
	report *models.StatusReport
	err    error
}

func report(status models.JobStatus, remote string) step {
	return step{report: &models.StatusReport{Status: status, Remote: remote}}
}

func (s *scriptedService) Name() string { return "fake" }

func (s *scriptedService) Submit(ctx context.Context, sess *auth.Session, req *models.OrderRequest) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submits++
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	return &models.Job{ID: s.submitID}, nil
}

func (s *scriptedService) Status(ctx context.Context, sess *auth.Session, job *models.Job) (*models.StatusReport, error) {
	if s.entered != nil {
		s.entered <- struct{}{}
	}
	if s.release != nil {
		select {
		case <-s.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.script) == 0 {
		return nil, errors.New("empty script")
	}
	i := s.calls
	if i >= len(s.script) {
		i = len(s.script) - 1
	}
	s.calls++
	st := s.script[i]
	if st.err != nil {
		return nil, st.err
	}
	r := *st.report
	return &r, nil
}

func (s *scriptedService) setScript(steps ...step) {
	s.mu.Lock()
	s.script = steps
	s.calls = 0
	s.mu.Unlock()
}

func (s *scriptedService) statusCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// memRecorder records saved jobs
type memRecorder struct {
	mu   sync.Mutex
	jobs map[string]*models.Job
	n    int
}

func (r *memRecorder) SaveJob(ctx context.Context, job *models.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.jobs == nil {
		r.jobs = make(map[string]*models.Job)
	}
	r.jobs[job.ID] = job.Clone()
	r.n++
	return nil
}

func testCreds() Credentials {
	return StaticCredentials{S: auth.NewSession(nil, "test-token", time.Time{})}
}

func validCriteria() models.SearchCriteria {
	return models.SearchCriteria{
		ShortName:   "ATL07",
		Version:     "003",
		BoundingBox: models.BoundingBox{West: -62.8, South: 81.7, East: -56.4, North: 83},
		Temporal: models.TemporalRange{
			Start: time.Date(2019, 6, 22, 0, 0, 0, 0, time.UTC),
			End:   time.Date(2019, 6, 22, 23, 59, 59, 0, time.UTC),
		},
	}
}

func fastPoll() PollOptions {
	return PollOptions{Timeout: 5 * time.Second, Interval: time.Millisecond, Strategy: "fixed"}
}
