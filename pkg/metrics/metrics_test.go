package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilRecorder(t *testing.T) {
	var r *Recorder
	r.ObserveSubmission("nsidc", nil)
	r.ObservePoll("nsidc", "running")
	r.ObservePollRetry("nsidc")
	r.ObservePollLoop("nsidc", "complete", time.Second)
	r.ObserveFile("nsidc", 10, nil)
	assert.NoError(t, r.WriteTextfile(filepath.Join(t.TempDir(), "x.prom")))
}

func TestRecorderCounts(t *testing.T) {
	r := NewRecorder()
	r.ObserveSubmission("nsidc", nil)
	r.ObserveSubmission("nsidc", errors.New("rejected"))
	r.ObservePoll("harmony", "running")
	r.ObservePoll("harmony", "running")
	r.ObservePollRetry("harmony")
	r.ObserveFile("harmony", 2048, nil)
	r.ObserveFile("harmony", 0, errors.New("checksum"))

	assert.Equal(t, 1.0, testutil.ToFloat64(r.submissions.WithLabelValues("nsidc", "accepted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.submissions.WithLabelValues("nsidc", "error")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.polls.WithLabelValues("harmony", "running")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.pollRetries.WithLabelValues("harmony")))
	assert.Equal(t, 2048.0, testutil.ToFloat64(r.bytes.WithLabelValues("harmony")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.files.WithLabelValues("failed")))
}

func TestWriteTextfile(t *testing.T) {
	r := NewRecorder()
	r.ObserveSubmission("nsidc", nil)
	r.ObservePollLoop("nsidc", "complete", 3*time.Second)

	path := filepath.Join(t.TempDir(), "earthfetch.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `earthfetch_submissions_total{outcome="accepted",service="nsidc"} 1`)
	assert.Contains(t, string(data), `earthfetch_poll_duration_seconds_count{service="nsidc",status="complete"} 1`)
	assert.True(t, strings.HasPrefix(string(data), "# HELP"))
}

func family(t *testing.T, r *Recorder, name string) *dto.MetricFamily {
	t.Helper()
	families, err := r.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	t.Fatalf("metric family %s not gathered", name)
	return nil
}

func TestPollLoopHistogram(t *testing.T) {
	r := NewRecorder()
	r.ObservePollLoop("harmony", "complete", 90*time.Second)
	r.ObservePollLoop("harmony", "complete", 30*time.Second)

	mf := family(t, r, "earthfetch_poll_duration_seconds")
	assert.Equal(t, dto.MetricType_HISTOGRAM, mf.GetType())
	require.Len(t, mf.GetMetric(), 1)
	h := mf.GetMetric()[0].GetHistogram()
	assert.Equal(t, uint64(2), h.GetSampleCount())
	assert.InDelta(t, 120.0, h.GetSampleSum(), 0.001)
}
