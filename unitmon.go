package unitmon

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/unitmon/unitmon/internal/alert"
	cfg "github.com/unitmon/unitmon/internal/config"
	"github.com/unitmon/unitmon/internal/diag"
	"github.com/unitmon/unitmon/internal/history"
	"github.com/unitmon/unitmon/internal/history/factory"
	"github.com/unitmon/unitmon/internal/initsys"
	"github.com/unitmon/unitmon/internal/logger"
	"github.com/unitmon/unitmon/internal/metrics"
	"github.com/unitmon/unitmon/internal/monitor"
	iapi "github.com/unitmon/unitmon/internal/server"
	"github.com/unitmon/unitmon/internal/state"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = cfg.Config

type ServiceSpec = cfg.ServiceSpec

type CycleResult = monitor.CycleResult

type ServiceResult = monitor.ServiceResult

type HistorySink = history.Sink

// ErrLocked is returned by RunOnce when another watchdog process holds the
// lock file.
var ErrLocked = state.ErrLocked

// LoadConfig reads and validates a TOML configuration file.
func LoadConfig(path string) (*Config, error) { return cfg.Load(path) }

// NewLogger builds the configured slog logger. The returned closer flushes
// the rotated log file, if any.
func NewLogger(c *Config) (*slog.Logger, io.Closer, error) {
	return logger.New(logger.Config{
		File:       c.Log.File,
		Level:      c.Log.Level,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
		Console:    c.Log.Console,
		Journal:    c.Log.Journal,
	})
}

// Monitor is a thin facade over internal/monitor.Monitor. It wires the init
// backend, the alert dispatcher, diagnostics and the optional history sink
// from configuration, providing a stable public API for embedding.
type Monitor struct {
	inner   *monitor.Monitor
	closers []io.Closer
}

// New builds a fully wired Monitor from configuration. log may be nil, in
// which case slog.Default is used.
func New(c *Config, log *slog.Logger) (*Monitor, error) {
	init, err := initsys.New(c.Init)
	if err != nil {
		return nil, err
	}
	disp, err := alert.New(c.Email, c.AdminEmail)
	if err != nil {
		_ = init.Close()
		return nil, err
	}

	var closers []io.Closer
	var sink history.Sink
	if c.History.DSN != "" {
		sink, err = factory.NewSinkFromDSN(c.History.DSN)
		if err != nil {
			_ = init.Close()
			return nil, err
		}
		if cl, ok := sink.(io.Closer); ok {
			closers = append(closers, cl)
		}
	}

	m := monitor.New(c, monitor.Deps{
		Init:        init,
		Dispatcher:  disp,
		Snapshotter: diag.New(c.Diag),
		Sink:        sink,
		Logger:      log,
	})
	return &Monitor{inner: m, closers: append(closers, init)}, nil
}

// RunOnce performs a single check cycle. It returns ErrLocked when another
// watchdog holds the lock file.
func (m *Monitor) RunOnce(ctx context.Context) (CycleResult, error) { return m.inner.RunOnce(ctx) }

// Run checks all services repeatedly until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error { return m.inner.Run(ctx) }

// LastCycle returns the most recent completed cycle, if any.
func (m *Monitor) LastCycle() (CycleResult, bool) { return m.inner.LastCycle() }

// Close releases the init backend connection and any history sink.
func (m *Monitor) Close() error {
	var first error
	for _, c := range m.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// NewStatusServer builds the HTTP status API server from configuration.
// The caller starts and shuts it down.
func NewStatusServer(c *Config, m *Monitor) (*http.Server, error) {
	return iapi.New(c.Server, m.inner)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the
// default registry. It returns any immediate listen error; otherwise it runs
// the server in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
