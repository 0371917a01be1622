// Package metrics records order lifecycle metrics into a private Prometheus
// registry. A nil *Recorder is valid and records nothing, so components can
// take one optionally.
package metrics

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"
)

// Recorder holds the order metric families
type Recorder struct {
	registry *prometheus.Registry

	submissions  *prometheus.CounterVec
	polls        *prometheus.CounterVec
	pollRetries  *prometheus.CounterVec
	pollDuration *prometheus.HistogramVec
	files        *prometheus.CounterVec
	bytes        *prometheus.CounterVec
}

// NewRecorder creates a recorder with its own registry
func NewRecorder() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "earthfetch_submissions_total",
				Help: "Order submissions by service and outcome",
			},
			[]string{"service", "outcome"}, // "accepted", "rejected", "error"
		),
		polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "earthfetch_polls_total",
				Help: "Status observations by service and reported status",
			},
			[]string{"service", "status"},
		),
		pollRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "earthfetch_poll_retries_total",
				Help: "Transient status-check failures that were retried",
			},
			[]string{"service"},
		),
		pollDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "earthfetch_poll_duration_seconds",
				Help:    "Wall time of poll loops by final status",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"service", "status"},
		),
		files: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "earthfetch_files_total",
				Help: "Downloaded files by outcome",
			},
			[]string{"outcome"}, // "ok", "failed"
		),
		bytes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "earthfetch_downloaded_bytes_total",
				Help: "Bytes written to verified output files",
			},
			[]string{"service"},
		),
	}
	r.registry.MustRegister(r.submissions, r.polls, r.pollRetries, r.pollDuration, r.files, r.bytes)
	return r
}

// Registry exposes the underlying registry
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveSubmission counts a submission attempt
func (r *Recorder) ObserveSubmission(service string, err error) {
	if r == nil {
		return
	}
	outcome := "accepted"
	if err != nil {
		outcome = "error"
	}
	r.submissions.WithLabelValues(service, outcome).Inc()
}

// ObservePoll counts one status observation
func (r *Recorder) ObservePoll(service, status string) {
	if r == nil {
		return
	}
	r.polls.WithLabelValues(service, status).Inc()
}

// ObservePollRetry counts a retried transient failure
func (r *Recorder) ObservePollRetry(service string) {
	if r == nil {
		return
	}
	r.pollRetries.WithLabelValues(service).Inc()
}

// ObservePollLoop records how long a poll loop ran
func (r *Recorder) ObservePollLoop(service, status string, d time.Duration) {
	if r == nil {
		return
	}
	r.pollDuration.WithLabelValues(service, status).Observe(d.Seconds())
}

// ObserveFile counts a file outcome and, on success, its size
func (r *Recorder) ObserveFile(service string, size int64, err error) {
	if r == nil {
		return
	}
	if err != nil {
		r.files.WithLabelValues("failed").Inc()
		return
	}
	r.files.WithLabelValues("ok").Inc()
	r.bytes.WithLabelValues(service).Add(float64(size))
}

// Handler serves the registry in the Prometheus exposition format
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// WriteTextfile writes the current metrics to path in the text format read
// by the node_exporter textfile collector. The file is replaced atomically.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	families, err := r.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".earthfetch-metrics-*")
	if err != nil {
		return fmt.Errorf("failed to create metrics file: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := expfmt.NewEncoder(tmp, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to encode %s: %w", mf.GetName(), err)
		}
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
