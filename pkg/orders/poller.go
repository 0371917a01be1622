package orders

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/psantana5/earthfetch/pkg/logging"
	"github.com/psantana5/earthfetch/pkg/metrics"
	"github.com/psantana5/earthfetch/pkg/models"
	"github.com/psantana5/earthfetch/pkg/retry"
	"github.com/psantana5/earthfetch/pkg/tracing"
)

// PollOptions bound a poll loop
type PollOptions struct {
	Timeout  time.Duration // overall deadline for this call; 0 means no deadline
	Interval time.Duration // initial delay between polls
	Strategy retry.Strategy
	MaxDelay time.Duration // cap for exponential backoff
}

// DefaultPollOptions matches the cadence the services document
func DefaultPollOptions() PollOptions {
	return PollOptions{
		Timeout:  2 * time.Hour,
		Interval: 10 * time.Second,
		Strategy: retry.StrategyFixed,
		MaxDelay: 2 * time.Minute,
	}
}

// Poller drives jobs to a terminal state. Any number of jobs may be polled
// concurrently; polls of one job never overlap.
type Poller struct {
	service  Service
	creds    Credentials
	recorder JobRecorder
	metrics  *metrics.Recorder
	logger   *logging.Logger
	now      func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
}

// PollerOption customizes a Poller
type PollerOption func(*Poller)

// WithPollRecorder persists the job after every status change
func WithPollRecorder(r JobRecorder) PollerOption {
	return func(p *Poller) { p.recorder = r }
}

// WithPollMetrics records poll observations
func WithPollMetrics(m *metrics.Recorder) PollerOption {
	return func(p *Poller) { p.metrics = m }
}

// WithPollLogger sets the logger
func WithPollLogger(l *logging.Logger) PollerOption {
	return func(p *Poller) { p.logger = l }
}

// NewPoller creates a poller for jobs of service
func NewPoller(service Service, creds Credentials, opts ...PollerOption) *Poller {
	p := &Poller{
		service:  service,
		creds:    creds,
		logger:   logging.Discard(),
		now:      time.Now,
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Poll performs a single status check and folds the result into job
func (p *Poller) Poll(ctx context.Context, job *models.Job) error {
	if err := p.acquire(job.ID); err != nil {
		return err
	}
	defer p.release(job.ID)
	return p.pollOnce(ctx, job)
}

// PollUntilTerminal polls job until it is complete, failed or cancelled.
//
// A remote failure or cancellation is returned as the job's status, not as an
// error. When opts.Timeout elapses first a *PollTimeoutError carrying the
// last known status is returned; calling again with the same job resumes.
// Cancelling ctx stops the loop and returns the job with a nil error; the
// remote job keeps running.
func (p *Poller) PollUntilTerminal(ctx context.Context, job *models.Job, opts PollOptions) (*models.Job, error) {
	if job == nil || job.ID == "" {
		return job, &PreconditionError{Want: models.JobStatusPending}
	}
	if err := p.acquire(job.ID); err != nil {
		return job, err
	}
	defer p.release(job.ID)

	ctx, span := tracing.Start(ctx, "orders.poll",
		attribute.String("service", p.service.Name()),
		attribute.String("job_id", job.ID))
	defer span.End()

	log := p.logger.WithFields(logging.Fields{"service": p.service.Name(), "job_id": job.ID})
	start := p.now()
	defer func() { p.metrics.ObservePollLoop(p.service.Name(), string(job.Status), p.now().Sub(start)) }()

	// pollCtx carries the poll deadline; ctx alone signals caller cancellation
	var pollCtx context.Context
	var cancel context.CancelFunc
	if opts.Timeout > 0 {
		pollCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
	} else {
		pollCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	if opts.Interval <= 0 {
		opts.Interval = DefaultPollOptions().Interval
	}
	backoff := &retry.Backoff{Strategy: opts.Strategy, Initial: opts.Interval, Max: opts.MaxDelay}

	for {
		if models.IsTerminalState(job.Status) {
			span.SetAttributes(attribute.String("status", string(job.Status)))
			log.Info("Job reached terminal state", logging.Fields{"status": job.Status, "remote_status": job.RemoteStatus})
			return job, nil
		}

		err := p.pollOnce(pollCtx, job)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			log.Info("Polling cancelled; remote job continues", logging.Fields{"status": job.Status})
			return job, nil
		case pollCtx.Err() != nil:
			return job, p.timeout(job, log)
		case errors.Is(err, ErrAuthentication) || !retry.IsRetryable(err):
			tracing.RecordError(span, err)
			log.Error("Polling failed", logging.Fields{"error": err, "status": job.Status})
			return job, err
		default:
			p.metrics.ObservePollRetry(p.service.Name())
			log.Warn("Transient poll failure, will retry", logging.Fields{"error": err})
		}

		if models.IsTerminalState(job.Status) {
			continue
		}

		delay := backoff.Next()
		log.Debug("Job not finished, waiting", logging.Fields{"status": job.Status, "progress": job.Progress, "delay": delay.String()})

		if err := retry.Sleep(pollCtx, delay); err != nil {
			if ctx.Err() != nil {
				log.Info("Polling cancelled; remote job continues", logging.Fields{"status": job.Status})
				return job, nil
			}
			return job, p.timeout(job, log)
		}
	}
}

func (p *Poller) timeout(job *models.Job, log *logging.Logger) error {
	log.Warn("Poll deadline reached", logging.Fields{"status": job.Status, "remote_status": job.RemoteStatus})
	return &PollTimeoutError{JobID: job.ID, LastStatus: job.Status, Remote: job.RemoteStatus}
}

func (p *Poller) pollOnce(ctx context.Context, job *models.Job) error {
	sess, err := p.creds.Session(ctx)
	if err != nil {
		return credentialError(p.service.Name(), err)
	}

	report, err := p.service.Status(ctx, sess, job)
	if err != nil {
		return err
	}

	now := p.now()
	job.LastPolledAt = &now
	p.metrics.ObservePoll(p.service.Name(), string(report.Status))

	if models.IsTerminalState(job.Status) {
		// Terminal jobs keep their recorded outcome
		return nil
	}

	changed := job.Advance(report.Status, "remote status "+report.Remote, now)
	job.RemoteStatus = report.Remote
	if report.Progress > job.Progress {
		job.Progress = report.Progress
	}
	if len(report.Messages) > 0 {
		job.Messages = append([]string(nil), report.Messages...)
	}
	if job.Status == models.JobStatusComplete && len(job.Manifest) == 0 {
		job.Manifest = append([]models.FileDescriptor(nil), report.Manifest...)
	}

	if p.recorder != nil && (changed || models.IsTerminalState(job.Status)) {
		if err := p.recorder.SaveJob(ctx, job); err != nil {
			p.logger.Warn("Failed to record job state", logging.Fields{"job_id": job.ID, "error": err})
		}
	}
	return nil
}

func (p *Poller) acquire(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inflight[id]; busy {
		return ErrPollInProgress
	}
	p.inflight[id] = struct{}{}
	return nil
}

func (p *Poller) release(id string) {
	p.mu.Lock()
	delete(p.inflight, id)
	p.mu.Unlock()
}
