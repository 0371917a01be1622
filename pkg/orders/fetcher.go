package orders

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v3/disk"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/crypto/sha3"
	"golang.org/x/sync/errgroup"

	"github.com/psantana5/earthfetch/pkg/auth"
	"github.com/psantana5/earthfetch/pkg/logging"
	"github.com/psantana5/earthfetch/pkg/metrics"
	"github.com/psantana5/earthfetch/pkg/models"
	"github.com/psantana5/earthfetch/pkg/retry"
	"github.com/psantana5/earthfetch/pkg/tracing"
)

// DefaultConcurrency is the number of parallel downloads per fetch
const DefaultConcurrency = 4

// Outcome summarizes a fetch
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomePartial   Outcome = "partial"
	OutcomeFailed    Outcome = "failed"
)

// FileFailure is a manifest entry that could not be fetched
type FileFailure struct {
	File models.FileDescriptor
	Err  error
}

// FetchResult lists what a fetch produced
type FetchResult struct {
	JobID     string
	Succeeded []string // local paths, in manifest order
	Failed    []FileFailure
	Bytes     int64
}

// Outcome reports succeeded, partial or failed
func (r *FetchResult) Outcome() Outcome {
	switch {
	case len(r.Failed) == 0:
		return OutcomeSucceeded
	case len(r.Succeeded) == 0:
		return OutcomeFailed
	default:
		return OutcomePartial
	}
}

// Fetcher downloads the outputs of completed jobs
type Fetcher struct {
	creds       Credentials
	concurrency int
	retry       retry.Config
	metrics     *metrics.Recorder
	logger      *logging.Logger
	freeSpace   func(dir string) (uint64, error)
}

// FetcherOption customizes a Fetcher
type FetcherOption func(*Fetcher)

// WithConcurrency bounds parallel downloads; n < 1 selects the default
func WithConcurrency(n int) FetcherOption {
	return func(f *Fetcher) {
		if n > 0 {
			f.concurrency = n
		}
	}
}

// WithFetchRetry sets the per-file retry policy for transient errors
func WithFetchRetry(cfg retry.Config) FetcherOption {
	return func(f *Fetcher) { f.retry = cfg }
}

// WithFetchMetrics records file outcomes
func WithFetchMetrics(m *metrics.Recorder) FetcherOption {
	return func(f *Fetcher) { f.metrics = m }
}

// WithFetchLogger sets the logger
func WithFetchLogger(l *logging.Logger) FetcherOption {
	return func(f *Fetcher) { f.logger = l }
}

// NewFetcher creates a fetcher that authenticates through creds
func NewFetcher(creds Credentials, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		creds:       creds,
		concurrency: DefaultConcurrency,
		retry:       retry.DefaultConfig(),
		logger:      logging.Discard(),
		freeSpace:   diskFree,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func diskFree(dir string) (uint64, error) {
	usage, err := disk.Usage(dir)
	if err != nil {
		return 0, err
	}
	return usage.Free, nil
}

// Fetch downloads every file of a complete job into dest. A failing file
// does not stop the others. The error is nil only if every file succeeded;
// otherwise it is a *FetchError and the result still lists what was saved.
func (f *Fetcher) Fetch(ctx context.Context, job *models.Job, dest string) (*FetchResult, error) {
	if job == nil {
		return nil, &PreconditionError{Want: models.JobStatusComplete}
	}
	if job.Status != models.JobStatusComplete {
		return nil, &PreconditionError{JobID: job.ID, Status: job.Status, Want: models.JobStatusComplete}
	}

	ctx, span := tracing.Start(ctx, "orders.fetch",
		attribute.String("job_id", job.ID),
		attribute.Int("files", len(job.Manifest)))
	defer span.End()

	log := f.logger.WithFields(logging.Fields{"job_id": job.ID, "dest": dest})

	if err := os.MkdirAll(dest, 0755); err != nil {
		return nil, fmt.Errorf("failed to create destination: %w", err)
	}
	if err := f.preflight(job.Manifest, dest); err != nil {
		tracing.RecordError(span, err)
		return nil, err
	}

	sess, err := f.creds.Session(ctx)
	if err != nil {
		return nil, credentialError(job.Service, err)
	}

	targets, errs := resolveTargets(dest, job.Manifest)
	paths := make([]string, len(job.Manifest))
	var mu sync.Mutex
	var total int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)
	for i, fd := range job.Manifest {
		if errs[i] != nil {
			continue
		}
		target := targets[i]
		g.Go(func() error {
			var written int64
			err := retry.Do(gctx, f.retry, func() error {
				n, err := f.download(gctx, sess, fd, target)
				written = n
				return err
			})
			f.metrics.ObserveFile(job.Service, written, err)
			if err != nil {
				log.Warn("File download failed", logging.Fields{"url": fd.URL, "error": err})
				errs[i] = err
				return nil
			}
			log.Debug("File saved", logging.Fields{"path": target, "bytes": written})
			paths[i] = target
			mu.Lock()
			total += written
			mu.Unlock()
			return nil
		})
	}
	// Workers report per-file errors through errs and never fail the group
	_ = g.Wait()

	result := &FetchResult{JobID: job.ID, Bytes: total}
	var failures []error
	for i, fd := range job.Manifest {
		if errs[i] != nil {
			result.Failed = append(result.Failed, FileFailure{File: fd, Err: errs[i]})
			failures = append(failures, fmt.Errorf("%s: %w", fd.Name, errs[i]))
			continue
		}
		result.Succeeded = append(result.Succeeded, paths[i])
	}

	span.SetAttributes(attribute.String("outcome", string(result.Outcome())))
	log.Info("Fetch finished", logging.Fields{
		"outcome":   result.Outcome(),
		"succeeded": len(result.Succeeded),
		"failed":    len(result.Failed),
		"bytes":     total,
	})

	if len(failures) == 0 {
		return result, nil
	}
	ferr := &FetchError{
		JobID:      job.ID,
		LastStatus: job.Status,
		Failed:     len(result.Failed),
		Total:      len(job.Manifest),
		Err:        errors.Join(failures...),
	}
	tracing.RecordError(span, ferr)
	return result, ferr
}

// preflight checks the destination volume can hold every file of known size
func (f *Fetcher) preflight(manifest []models.FileDescriptor, dest string) error {
	var need uint64
	for _, fd := range manifest {
		if fd.ExpectedSize > 0 {
			need += uint64(fd.ExpectedSize)
		}
	}
	if need == 0 || f.freeSpace == nil {
		return nil
	}
	free, err := f.freeSpace(dest)
	if err != nil {
		// Unknown free space is not a reason to refuse the fetch
		f.logger.Debug("Could not read free disk space", logging.Fields{"dest": dest, "error": err})
		return nil
	}
	if free < need {
		return &InsufficientSpaceError{Dir: dest, Need: need, Free: free}
	}
	return nil
}

func (f *Fetcher) download(ctx context.Context, sess *auth.Session, fd models.FileDescriptor, target string) (int64, error) {
	ctx, span := tracing.Start(ctx, "orders.download", attribute.String("url", fd.URL))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fd.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("invalid file url: %w", err)
	}
	resp, err := sess.Do(req)
	if err != nil {
		tracing.RecordError(span, err)
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if IsAuthStatus(resp.StatusCode) {
			return 0, &AuthenticationError{StatusCode: resp.StatusCode, Message: string(body)}
		}
		return 0, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}

	var h hash.Hash
	if fd.Checksum != nil && fd.Checksum.Value != "" {
		h, err = newHash(fd.Checksum.Algorithm)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", fd.URL, err)
		}
	}

	part := target + ".part"
	out, err := os.Create(part)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", part, err)
	}
	committed := false
	defer func() {
		if !committed {
			os.Remove(part)
		}
	}()

	var w io.Writer = out
	if h != nil {
		w = io.MultiWriter(out, h)
	}
	n, err := io.Copy(w, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		tracing.RecordError(span, err)
		return n, fmt.Errorf("failed to write %s: %w", fd.Name, err)
	}

	if fd.ExpectedSize > 0 && n != fd.ExpectedSize {
		return n, &IntegrityError{URL: fd.URL, Kind: "size",
			Expected: strconv.FormatInt(fd.ExpectedSize, 10), Actual: strconv.FormatInt(n, 10)}
	}
	if h != nil {
		actual := hex.EncodeToString(h.Sum(nil))
		if !strings.EqualFold(actual, fd.Checksum.Value) {
			return n, &IntegrityError{URL: fd.URL, Kind: fd.Checksum.Algorithm,
				Expected: strings.ToLower(fd.Checksum.Value), Actual: actual}
		}
	}

	if err := os.Rename(part, target); err != nil {
		return n, fmt.Errorf("failed to move %s into place: %w", fd.Name, err)
	}
	committed = true
	return n, nil
}

// newHash maps a checksum algorithm name to its hash. Names are matched
// case-insensitively with or without a dash ("SHA-256", "sha256").
func newHash(algorithm string) (hash.Hash, error) {
	switch strings.ReplaceAll(strings.ToUpper(algorithm), "-", "") {
	case "MD5":
		return md5.New(), nil
	case "SHA1":
		return sha1.New(), nil
	case "SHA256":
		return sha256.New(), nil
	case "SHA512":
		return sha512.New(), nil
	case "SHA3256":
		return sha3.New256(), nil
	case "SHA3512":
		return sha3.New512(), nil
	default:
		return nil, &IntegrityError{Kind: "algorithm", Expected: "MD5|SHA-1|SHA-256|SHA-512|SHA3-256|SHA3-512", Actual: algorithm}
	}
}

// resolveTargets assigns every manifest entry a distinct local path. Entries
// whose names collide get a numeric suffix before the extension
// ("out.nc4", "out-1.nc4") so no download overwrites another.
func resolveTargets(dest string, manifest []models.FileDescriptor) ([]string, []error) {
	targets := make([]string, len(manifest))
	errs := make([]error, len(manifest))
	used := make(map[string]bool, len(manifest))
	for i, fd := range manifest {
		target, err := targetPath(dest, fd)
		if err != nil {
			errs[i] = err
			continue
		}
		ext := filepath.Ext(target)
		stem := strings.TrimSuffix(target, ext)
		for n := 1; used[target]; n++ {
			target = fmt.Sprintf("%s-%d%s", stem, n, ext)
		}
		used[target] = true
		targets[i] = target
	}
	return targets, errs
}

// targetPath resolves the local file for fd inside dest. Names are reduced
// to their base so a manifest can never write outside dest.
func targetPath(dest string, fd models.FileDescriptor) (string, error) {
	name := fd.Name
	if name == "" {
		if u, err := url.Parse(fd.URL); err == nil {
			name = path.Base(u.Path)
		}
	}
	name = filepath.Base(filepath.FromSlash(name))
	if name == "" || name == "." || name == ".." || name == string(filepath.Separator) {
		return "", fmt.Errorf("cannot derive a file name for %s", fd.URL)
	}
	return filepath.Join(dest, name), nil
}
