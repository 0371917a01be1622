package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/earthfetch/pkg/auth"
	"github.com/psantana5/earthfetch/pkg/cmr"
	"github.com/psantana5/earthfetch/pkg/harmony"
	"github.com/psantana5/earthfetch/pkg/logging"
	"github.com/psantana5/earthfetch/pkg/metrics"
	"github.com/psantana5/earthfetch/pkg/models"
	"github.com/psantana5/earthfetch/pkg/nsidc"
	"github.com/psantana5/earthfetch/pkg/orders"
	"github.com/psantana5/earthfetch/pkg/query"
	"github.com/psantana5/earthfetch/pkg/ratelimit"
	"github.com/psantana5/earthfetch/pkg/retry"
	"github.com/psantana5/earthfetch/pkg/shutdown"
	"github.com/psantana5/earthfetch/pkg/store"
	tlsutil "github.com/psantana5/earthfetch/pkg/tls"
	"github.com/psantana5/earthfetch/pkg/tracing"
	"github.com/psantana5/earthfetch/pkg/workflow"
)

// version is stamped at build time with -ldflags "-X ..."
var version = "dev"

// application holds the components shared by every command of one process
type application struct {
	logger    *logging.Logger
	transport http.RoundTripper
	creds     *auth.Provider
	metrics   *metrics.Recorder
	mgr       *shutdown.Manager
	stop      context.CancelFunc
	ledger    store.Store
}

var app = &application{}

func (a *application) setup(cmd *cobra.Command) error {
	a.logger = logging.NewLogger(logging.ParseLevel(viper.GetString("log_level")), viper.GetBool("log_json"))
	a.mgr = shutdown.New(30*time.Second, a.logger)
	a.metrics = metrics.NewRecorder()

	ctx, stop := a.mgr.Context(cmd.Context())
	a.stop = stop
	cmd.SetContext(ctx)

	base := http.DefaultTransport.(*http.Transport).Clone()
	if ca := viper.GetString("ca_file"); ca != "" {
		cfg, err := tlsutil.ClientConfig(ca)
		if err != nil {
			return err
		}
		base.TLSClientConfig = cfg
	}
	a.transport = base
	if rps := viper.GetFloat64("rate_limit"); rps > 0 {
		a.transport = ratelimit.NewTransport(base, rps, max(1, int(rps)))
	}

	scheme, host := splitHost(viper.GetString("urs_host"))
	var prompt auth.PromptFunc
	if viper.GetBool("prompt") {
		prompt = auth.TerminalPrompt
	}
	a.creds = auth.NewProvider(auth.Config{
		LoginHost:   host,
		LoginScheme: scheme,
		Username:    viper.GetString("username"),
		Password:    viper.GetString("password"),
		Token:       viper.GetString("token"),
		NetrcPath:   viper.GetString("netrc"),
		FetchToken:  viper.GetBool("fetch_token"),
		Prompt:      prompt,
		Transport:   a.transport,
		Logger:      a.logger,
	})

	tp, err := tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "earthfetch",
		ServiceVersion: version,
		OTLPEndpoint:   viper.GetString("otlp_endpoint"),
		Insecure:       true,
		Enabled:        viper.GetString("otlp_endpoint") != "",
	})
	if err != nil {
		return err
	}
	a.mgr.Register("tracing", tp.Shutdown)

	if path := viper.GetString("metrics_file"); path != "" {
		a.mgr.Register("metrics", func(context.Context) error { return a.metrics.WriteTextfile(path) })
	}
	if addr := viper.GetString("metrics_addr"); addr != "" {
		a.serveMetrics(addr)
	}
	return nil
}

func (a *application) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	a.mgr.Register("metrics-server", shutdown.StopHTTPServer(srv))
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Metrics server failed", logging.Fields{"addr": addr, "error": err})
		}
	}()
	a.logger.Info("Serving metrics", logging.Fields{"addr": addr})
}

// close runs the registered cleanup steps
func (a *application) close() error {
	if a.mgr == nil {
		return nil
	}
	err := a.mgr.Shutdown()
	if a.stop != nil {
		a.stop()
	}
	return err
}

// store opens the job ledger on first use
func (a *application) store() (store.Store, error) {
	if a.ledger != nil {
		return a.ledger, nil
	}
	cfg := store.ParseLocation(viper.GetString("ledger"))
	if cfg.Type == "sqlite" {
		if rest, ok := strings.CutPrefix(cfg.DSN, "~/"); ok {
			if home, err := os.UserHomeDir(); err == nil {
				cfg.DSN = filepath.Join(home, rest)
			}
		}
		if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}
	st, err := store.NewStore(cfg)
	if err != nil {
		return nil, err
	}
	a.ledger = st
	a.mgr.Register("ledger", shutdown.CloseResource(st))
	return st, nil
}

func (a *application) cmr() *cmr.Client {
	return cmr.NewClient(viper.GetString("cmr_url"), &http.Client{Transport: a.transport, Timeout: time.Minute}, a.logger)
}

// service returns the client for a service name
func (a *application) service(name string) (orders.Service, query.Encoder, error) {
	switch name {
	case nsidc.ServiceName:
		return nsidc.NewClient(viper.GetString("nsidc_url"), a.logger), nsidc.Encoder{}, nil
	case harmony.ServiceName:
		return harmony.NewClient(viper.GetString("harmony_url"), a.logger), harmony.Encoder{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown service %q (want %s or %s)", name, nsidc.ServiceName, harmony.ServiceName)
	}
}

func (a *application) submitter(svc orders.Service, st store.Store) *orders.Submitter {
	return orders.NewSubmitter(svc, a.creds,
		orders.WithRecorder(st), orders.WithSubmitMetrics(a.metrics), orders.WithSubmitLogger(a.logger))
}

func (a *application) poller(svc orders.Service, st store.Store) *orders.Poller {
	return orders.NewPoller(svc, a.creds,
		orders.WithPollRecorder(st), orders.WithPollMetrics(a.metrics), orders.WithPollLogger(a.logger))
}

func (a *application) fetcher() *orders.Fetcher {
	return orders.NewFetcher(a.creds,
		orders.WithConcurrency(viper.GetInt("concurrency")),
		orders.WithFetchMetrics(a.metrics), orders.WithFetchLogger(a.logger))
}

func (a *application) pipelines(st store.Store) (map[string]workflow.Pipeline, error) {
	pipelines := make(map[string]workflow.Pipeline)
	for _, name := range []string{nsidc.ServiceName, harmony.ServiceName} {
		svc, enc, err := a.service(name)
		if err != nil {
			return nil, err
		}
		pipelines[name] = workflow.Pipeline{
			Encoder:         enc,
			Submitter:       a.submitter(svc, st),
			Poller:          a.poller(svc, st),
			Fetcher:         a.fetcher(),
			NeedsCollection: name == harmony.ServiceName,
		}
	}
	return pipelines, nil
}

// pollOptions reads the poll cadence from configuration
func pollOptions() (orders.PollOptions, error) {
	strategy, err := retry.ParseStrategy(viper.GetString("backoff"))
	if err != nil {
		return orders.PollOptions{}, err
	}
	return orders.PollOptions{
		Interval: viper.GetDuration("poll_interval"),
		Timeout:  viper.GetDuration("poll_timeout"),
		Strategy: strategy,
		MaxDelay: viper.GetDuration("backoff_max"),
	}, nil
}

// loadJob reads a job from the ledger with a readable not-found error
func (a *application) loadJob(ctx context.Context, st store.Store, id string) (*models.Job, error) {
	job, err := st.GetJob(ctx, id)
	if errors.Is(err, store.ErrJobNotFound) {
		return nil, fmt.Errorf("job %s is not in the ledger %s", id, viper.GetString("ledger"))
	}
	return job, err
}

// splitHost separates an optional scheme from the login host
func splitHost(host string) (string, string) {
	if scheme, rest, ok := strings.Cut(host, "://"); ok {
		return scheme, strings.TrimRight(rest, "/")
	}
	return "https", host
}
