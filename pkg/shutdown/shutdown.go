package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/psantana5/earthfetch/pkg/logging"
)

// Manager cancels running work on SIGINT/SIGTERM and then runs cleanup
// functions in reverse registration order
type Manager struct {
	mu      sync.Mutex
	funcs   []namedFunc
	timeout time.Duration
	logger  *logging.Logger
	once    sync.Once
}

type namedFunc struct {
	name string
	fn   func(context.Context) error
}

// New creates a manager whose cleanup phase is bounded by timeout
func New(timeout time.Duration, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{timeout: timeout, logger: logger}
}

// Register adds a cleanup function. Functions run LIFO.
func (m *Manager) Register(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs = append(m.funcs, namedFunc{name: name, fn: fn})
}

// Context returns a context cancelled on the first SIGINT or SIGTERM. The
// returned stop function releases the signal handler.
func (m *Manager) Context(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		if parent.Err() == nil {
			m.logger.Info("Received signal, stopping; remote jobs keep running")
		}
	}()
	return ctx, stop
}

// Shutdown runs every registered function once. Errors are logged and
// joined into the result.
func (m *Manager) Shutdown() error {
	var result error
	m.once.Do(func() {
		m.mu.Lock()
		funcs := append([]namedFunc(nil), m.funcs...)
		m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		var errs []error
		for i := len(funcs) - 1; i >= 0; i-- {
			f := funcs[i]
			if err := f.fn(ctx); err != nil {
				m.logger.Warn("Shutdown step failed", logging.Fields{"step": f.name, "error": err})
				errs = append(errs, fmt.Errorf("%s: %w", f.name, err))
			}
		}
		if len(errs) > 0 {
			result = errors.Join(errs...)
		}
	})
	return result
}

// CloseResource creates a shutdown function for an io.Closer
func CloseResource(closer interface{ Close() error }) func(context.Context) error {
	return func(context.Context) error { return closer.Close() }
}

// StopHTTPServer creates a shutdown function for an http.Server
func StopHTTPServer(server interface{ Shutdown(context.Context) error }) func(context.Context) error {
	return func(ctx context.Context) error { return server.Shutdown(ctx) }
}
