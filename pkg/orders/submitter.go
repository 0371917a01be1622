package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/psantana5/earthfetch/pkg/auth"
	"github.com/psantana5/earthfetch/pkg/logging"
	"github.com/psantana5/earthfetch/pkg/metrics"
	"github.com/psantana5/earthfetch/pkg/models"
	"github.com/psantana5/earthfetch/pkg/tracing"
)

// JobRecorder persists jobs as they change; implemented by the store package
type JobRecorder interface {
	SaveJob(ctx context.Context, job *models.Job) error
}

// Submitter sends order requests. It never retries: a duplicate submission
// would create a duplicate order.
type Submitter struct {
	service  Service
	creds    Credentials
	recorder JobRecorder
	metrics  *metrics.Recorder
	logger   *logging.Logger
	now      func() time.Time
}

// SubmitterOption customizes a Submitter
type SubmitterOption func(*Submitter)

// WithRecorder persists every accepted job
func WithRecorder(r JobRecorder) SubmitterOption {
	return func(s *Submitter) { s.recorder = r }
}

// WithSubmitMetrics records submission outcomes
func WithSubmitMetrics(m *metrics.Recorder) SubmitterOption {
	return func(s *Submitter) { s.metrics = m }
}

// WithSubmitLogger sets the logger
func WithSubmitLogger(l *logging.Logger) SubmitterOption {
	return func(s *Submitter) { s.logger = l }
}

// NewSubmitter creates a submitter for service
func NewSubmitter(service Service, creds Credentials, opts ...SubmitterOption) *Submitter {
	s := &Submitter{
		service: service,
		creds:   creds,
		logger:  logging.Discard(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit sends req and returns the accepted job in the pending state
func (s *Submitter) Submit(ctx context.Context, req *models.OrderRequest) (*models.Job, error) {
	ctx, span := tracing.Start(ctx, "orders.submit", attribute.String("service", s.service.Name()))
	defer span.End()

	job, err := s.submit(ctx, req)
	s.metrics.ObserveSubmission(s.service.Name(), err)
	if err != nil {
		tracing.RecordError(span, err)
		s.logger.Error("Order submission failed", logging.Fields{"service": s.service.Name(), "error": err})
		return nil, err
	}

	span.SetAttributes(attribute.String("job_id", job.ID))
	s.logger.Info("Order accepted", logging.Fields{"service": job.Service, "job_id": job.ID, "status_url": job.StatusURL})
	return job, nil
}

func (s *Submitter) submit(ctx context.Context, req *models.OrderRequest) (*models.Job, error) {
	if req == nil {
		return nil, &InvalidCriteriaError{Field: "request", Reason: "is nil"}
	}
	// Requests are normally produced by query.Build; check again so that a
	// hand-made request can never reach the network.
	if err := req.Criteria.Validate(); err != nil {
		return nil, NewInvalidCriteria(err)
	}
	if req.Service != "" && req.Service != s.service.Name() {
		return nil, &SubmissionError{Service: s.service.Name(), Reason: fmt.Sprintf("request was built for %q", req.Service)}
	}

	sess, err := s.creds.Session(ctx)
	if err != nil {
		if cerr := credentialError(s.service.Name(), err); errors.Is(cerr, ErrAuthentication) {
			return nil, cerr
		}
		return nil, &SubmissionError{Service: s.service.Name(), Reason: "failed to obtain session", Err: err}
	}

	job, err := s.service.Submit(ctx, sess, req)
	if err != nil {
		var authErr *AuthenticationError
		var subErr *SubmissionError
		if errors.As(err, &authErr) || errors.As(err, &subErr) {
			return nil, err
		}
		return nil, &SubmissionError{Service: s.service.Name(), Reason: "request failed", Err: err}
	}
	if job == nil || job.ID == "" {
		return nil, &SubmissionError{Service: s.service.Name(), Reason: "response did not contain a job identifier"}
	}

	job.Service = s.service.Name()
	job.Status = models.JobStatusPending
	job.Request = req
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = s.now()
	}

	if s.recorder != nil {
		if err := s.recorder.SaveJob(ctx, job); err != nil {
			// The order exists remotely; report it rather than lose the id
			s.logger.Error("Failed to record submitted job", logging.Fields{"job_id": job.ID, "error": err})
		}
	}
	return job, nil
}

func credentialError(service string, err error) error {
	if errors.Is(err, auth.ErrLoginRejected) || errors.Is(err, auth.ErrNoCredentials) {
		return &AuthenticationError{Service: service, Message: err.Error()}
	}
	return fmt.Errorf("failed to obtain session: %w", err)
}
