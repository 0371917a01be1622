// Package workflow runs a plan of independent orders concurrently, each
// through build, submit, poll, fetch and optional extraction.
package workflow

import (
	"context"
	"fmt"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/psantana5/earthfetch/pkg/archive"
	"github.com/psantana5/earthfetch/pkg/logging"
	"github.com/psantana5/earthfetch/pkg/models"
	"github.com/psantana5/earthfetch/pkg/orders"
	"github.com/psantana5/earthfetch/pkg/query"
	"github.com/psantana5/earthfetch/pkg/retry"
)

// Pipeline is everything needed to run orders against one service
type Pipeline struct {
	Encoder   query.Encoder
	Submitter *orders.Submitter
	Poller    *orders.Poller
	Fetcher   *orders.Fetcher
	// NeedsCollection means requests address the collection by concept id
	NeedsCollection bool
}

// CollectionResolver looks up collection concept ids; cmr.Client
// implements it
type CollectionResolver interface {
	CollectionID(ctx context.Context, shortName, version, provider string) (string, error)
}

// Result is the outcome of one order
type Result struct {
	Name      string
	Job       *models.Job
	Fetch     *orders.FetchResult
	Extracted []string
	Err       error
}

// Runner executes plans
type Runner struct {
	pipelines map[string]Pipeline
	resolver  CollectionResolver
	poll      orders.PollOptions
	logger    *logging.Logger
}

// NewRunner creates a runner over the given service pipelines
func NewRunner(pipelines map[string]Pipeline, resolver CollectionResolver, poll orders.PollOptions, logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Runner{pipelines: pipelines, resolver: resolver, poll: poll, logger: logger}
}

// Run executes every order of plan. Orders are independent: one failing
// does not stop the others. Results are in plan order.
func (r *Runner) Run(ctx context.Context, plan *Plan) ([]Result, error) {
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	poll, err := r.pollOptions(plan.Poll)
	if err != nil {
		return nil, err
	}

	results := make([]Result, len(plan.Orders))
	var g errgroup.Group
	if plan.Concurrency > 0 {
		g.SetLimit(plan.Concurrency)
	}
	for i, spec := range plan.Orders {
		g.Go(func() error {
			results[i] = r.runOrder(ctx, spec, plan.Destination, poll)
			return nil
		})
	}
	_ = g.Wait()
	return results, nil
}

func (r *Runner) pollOptions(spec PollSpec) (orders.PollOptions, error) {
	opts := r.poll
	if spec.Interval > 0 {
		opts.Interval = spec.Interval
	}
	if spec.Timeout > 0 {
		opts.Timeout = spec.Timeout
	}
	if spec.MaxDelay > 0 {
		opts.MaxDelay = spec.MaxDelay
	}
	if spec.Backoff != "" {
		s, err := retry.ParseStrategy(spec.Backoff)
		if err != nil {
			return opts, err
		}
		opts.Strategy = s
	}
	return opts, nil
}

func (r *Runner) runOrder(ctx context.Context, spec OrderSpec, dest string, poll orders.PollOptions) Result {
	res := Result{Name: spec.Name}
	log := r.logger.WithFields(logging.Fields{"order": spec.Name, "service": spec.Service})

	p, ok := r.pipelines[spec.Service]
	if !ok {
		res.Err = fmt.Errorf("order %s: unknown service %q", spec.Name, spec.Service)
		return res
	}

	criteria, err := spec.Criteria()
	if err != nil {
		res.Err = orders.NewInvalidCriteria(err)
		return res
	}
	opts := spec.OrderOptions()
	if p.NeedsCollection && opts.CollectionID == "" {
		if r.resolver == nil {
			res.Err = fmt.Errorf("order %s: collection_id is required", spec.Name)
			return res
		}
		id, err := r.resolver.CollectionID(ctx, criteria.ShortName, criteria.Version, criteria.Provider)
		if err != nil {
			res.Err = fmt.Errorf("order %s: %w", spec.Name, err)
			return res
		}
		log.Debug("Resolved collection", logging.Fields{"collection_id": id})
		opts.CollectionID = id
	}

	req, err := query.Build(criteria, opts, p.Encoder)
	if err != nil {
		res.Err = err
		return res
	}

	job, err := p.Submitter.Submit(ctx, req)
	if err != nil {
		res.Err = err
		return res
	}
	res.Job = job
	log = log.WithField("job_id", job.ID)

	job, err = p.Poller.PollUntilTerminal(ctx, job, poll)
	res.Job = job
	if err != nil {
		res.Err = err
		return res
	}
	if ctx.Err() != nil {
		res.Err = ctx.Err()
		return res
	}
	if job.Status != models.JobStatusComplete {
		res.Err = fmt.Errorf("order %s: job %s ended %s (remote %q)", spec.Name, job.ID, job.Status, job.RemoteStatus)
		return res
	}

	outDir := filepath.Join(dest, spec.Name)
	fetched, err := p.Fetcher.Fetch(ctx, job, outDir)
	res.Fetch = fetched
	if err != nil {
		res.Err = err
	}
	if fetched == nil || !spec.Extract {
		return res
	}

	for _, path := range fetched.Succeeded {
		if !archive.IsZip(path) {
			continue
		}
		files, err := archive.Extract(path, outDir, archive.Options{Flatten: true, RemoveArchive: true})
		res.Extracted = append(res.Extracted, files...)
		if err != nil {
			log.Error("Extraction failed", logging.Fields{"archive": path, "error": err})
			if res.Err == nil {
				res.Err = err
			}
		}
	}
	return res
}
