package workflow_test

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psantana5/earthfetch/internal/simulator"
	"github.com/psantana5/earthfetch/pkg/auth"
	"github.com/psantana5/earthfetch/pkg/cmr"
	"github.com/psantana5/earthfetch/pkg/harmony"
	"github.com/psantana5/earthfetch/pkg/models"
	"github.com/psantana5/earthfetch/pkg/nsidc"
	"github.com/psantana5/earthfetch/pkg/orders"
	"github.com/psantana5/earthfetch/pkg/retry"
	"github.com/psantana5/earthfetch/pkg/store"
	"github.com/psantana5/earthfetch/pkg/workflow"
)

type fixture struct {
	runner *workflow.Runner
	store  store.Store
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	sim := simulator.New(simulator.Config{Token: "tok", PollsToComplete: 3})
	srv := httptest.NewServer(sim.Handler())
	t.Cleanup(srv.Close)

	sess := auth.NewSession(nil, "tok", time.Time{})
	creds := orders.StaticCredentials{S: sess}
	st := store.NewMemoryStore()

	pipeline := func(svc orders.Service) workflow.Pipeline {
		return workflow.Pipeline{
			Submitter: orders.NewSubmitter(svc, creds, orders.WithRecorder(st)),
			Poller:    orders.NewPoller(svc, creds, orders.WithPollRecorder(st)),
			Fetcher:   orders.NewFetcher(creds, orders.WithFetchRetry(retry.Config{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1})),
		}
	}
	n := pipeline(nsidc.NewClient(srv.URL, nil))
	n.Encoder = nsidc.Encoder{}
	h := pipeline(harmony.NewClient(srv.URL, nil))
	h.Encoder = harmony.Encoder{}
	h.NeedsCollection = true

	poll := orders.PollOptions{Timeout: 10 * time.Second, Interval: time.Millisecond, Strategy: retry.StrategyFixed}
	runner := workflow.NewRunner(
		map[string]workflow.Pipeline{nsidc.ServiceName: n, harmony.ServiceName: h},
		cmr.NewClient(srv.URL, sess, nil),
		poll, nil,
	)
	return fixture{runner: runner, store: st}
}

func atl07Order() workflow.OrderSpec {
	return workflow.OrderSpec{
		Service:     nsidc.ServiceName,
		ShortName:   "ATL07",
		Version:     "003",
		BoundingBox: "-62.8,81.7,-56.4,83",
		Temporal:    "2019-06-22T00:00:00Z,2019-06-22T23:59:59Z",
		Extract:     true,
	}
}

func TestRunATL07EndToEnd(t *testing.T) {
	f := newFixture(t)
	dest := t.TempDir()

	results, err := f.runner.Run(context.Background(), &workflow.Plan{
		Destination: dest,
		Orders:      []workflow.OrderSpec{atl07Order()},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	require.NoError(t, res.Err)
	assert.Equal(t, models.JobStatusComplete, res.Job.Status)
	assert.Equal(t, orders.OutcomeSucceeded, res.Fetch.Outcome())
	require.Len(t, res.Fetch.Succeeded, 1)
	require.Len(t, res.Extracted, 1)
	assert.Equal(t, ".h5", filepath.Ext(res.Extracted[0]))

	entries, err := os.ReadDir(filepath.Join(dest, "ATL07-003"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "archive is removed after extraction")

	saved, err := f.store.GetJob(context.Background(), res.Job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusComplete, saved.Status)
	assert.NotEmpty(t, saved.Transitions)
}

func TestRunIndependentOrders(t *testing.T) {
	f := newFixture(t)

	failing := atl07Order()
	failing.Name = "broken"
	failing.ShortName = simulator.FailShortName

	snow := workflow.OrderSpec{
		Name:        "snow",
		Service:     harmony.ServiceName,
		ShortName:   "MOD10A1",
		Version:     "61",
		BoundingBox: "-110,40,-100,45",
		Temporal:    "2020-01-01,2020-01-31",
	}

	results, err := f.runner.Run(context.Background(), &workflow.Plan{
		Destination: t.TempDir(),
		Concurrency: 2,
		Orders:      []workflow.OrderSpec{failing, snow},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Error(t, results[0].Err)
	assert.Equal(t, models.JobStatusFailed, results[0].Job.Status)
	assert.Nil(t, results[0].Fetch)

	require.NoError(t, results[1].Err)
	assert.Equal(t, simulator.CollectionID("MOD10A1"), results[1].Job.Request.Options.CollectionID)
	assert.Len(t, results[1].Fetch.Succeeded, 1)
}

func TestRunUnknownService(t *testing.T) {
	f := newFixture(t)
	o := atl07Order()
	o.Service = "ftp"

	results, err := f.runner.Run(context.Background(), &workflow.Plan{Destination: t.TempDir(), Orders: []workflow.OrderSpec{o}})
	require.NoError(t, err)
	assert.ErrorContains(t, results[0].Err, "unknown service")
}

func TestRunInvalidPlan(t *testing.T) {
	f := newFixture(t)
	_, err := f.runner.Run(context.Background(), &workflow.Plan{})
	assert.Error(t, err)
}
