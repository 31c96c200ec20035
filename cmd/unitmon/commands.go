package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/unitmon/unitmon"
	"github.com/unitmon/unitmon/internal/state"
	"github.com/unitmon/unitmon/pkg/client"
	"github.com/unitmon/unitmon/pkg/confgen"
)

// Process exit codes. Cron and systemd timers key off these: 0 means every
// checked unit is up (or another run already held the lock), 1 means the
// watchdog itself could not run, 2 means it ran but units are down.
const (
	exitOK       = 0
	exitFatal    = 1
	exitDegraded = 2
)

// exitError carries an exit code alongside the message cobra prints.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// exitCode maps a command error to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitFatal
}

func fatal(err error) error    { return &exitError{code: exitFatal, err: err} }
func degraded(err error) error { return &exitError{code: exitDegraded, err: err} }

type command struct{}

// Run performs the check cycle(s): a single pass by default, or a daemon
// loop when requested by flag or config.
func (c command) Run(f RunFlags) error {
	if f.Once && f.Daemon {
		return fatal(fmt.Errorf("--once and --daemon are mutually exclusive"))
	}
	if f.ConfigPath == "" {
		return fatal(fmt.Errorf("config file required. Use --config=config.toml"))
	}

	cfg, err := unitmon.LoadConfig(f.ConfigPath)
	if err != nil {
		return fatal(err)
	}
	daemon := cfg.Daemon
	if f.Once {
		daemon = false
	}
	if f.Daemon {
		daemon = true
	}

	log, closer, err := unitmon.NewLogger(cfg)
	if err != nil {
		return fatal(err)
	}
	defer func() { _ = closer.Close() }()

	if cfg.Metrics.Enabled {
		if err := unitmon.RegisterMetricsDefault(); err != nil {
			log.Warn("failed to register metrics", "error", err)
		}
		go func() {
			if err := unitmon.ServeMetrics(cfg.Metrics.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server error", "error", err)
			}
		}()
	}

	mon, err := unitmon.New(cfg, log)
	if err != nil {
		return fatal(err)
	}
	defer func() { _ = mon.Close() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if daemon {
		return c.runDaemon(ctx, cfg, mon, log)
	}

	res, err := mon.RunOnce(ctx)
	if err != nil {
		if errors.Is(err, unitmon.ErrLocked) {
			// Another run is already checking; nothing is wrong with the host.
			return nil
		}
		return fatal(err)
	}
	if down := res.Down(); down > 0 {
		return degraded(fmt.Errorf("%d service(s) down after check", down))
	}
	return nil
}

// runDaemon runs the monitor loop with the optional status API server until
// a shutdown signal arrives.
func (c command) runDaemon(ctx context.Context, cfg *unitmon.Config, mon *unitmon.Monitor, log *slog.Logger) error {
	var srv *http.Server
	if cfg.Server.Enabled {
		var err error
		srv, err = unitmon.NewStatusServer(cfg, mon)
		if err != nil {
			return fatal(err)
		}
		go func() {
			var serveErr error
			if srv.TLSConfig != nil {
				serveErr = srv.ListenAndServeTLS("", "")
			} else {
				serveErr = srv.ListenAndServe()
			}
			if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				log.Error("status server error", "error", serveErr)
			}
		}()
		log.Info("status server listening", "addr", cfg.Server.Listen, "base_path", cfg.Server.BasePath)
	}

	err := mon.Run(ctx)

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return fatal(err)
	}
	return nil
}

// Status prints per-unit state, read from the state file by default or from
// a running daemon's status API when a server URL is given.
func (c command) Status(f StatusFlags) error {
	if f.ServerURL != "" {
		return c.statusViaAPI(f)
	}
	if f.ConfigPath == "" {
		return fatal(fmt.Errorf("config file required. Use --config=config.toml, or --server-url for a running daemon"))
	}
	return c.statusFromState(f)
}

// statusViaAPI queries a running daemon for its last cycle.
func (c command) statusViaAPI(f StatusFlags) error {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	api := client.New(client.Config{BaseURL: f.ServerURL, Timeout: timeout})
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	st, err := api.Status(ctx)
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s: %w (start it with 'unitmon run --daemon')", f.ServerURL, err)
	}
	return c.printStatus(st, f.JSON)
}

// statusFromState renders the persisted state file for every configured
// unit. Units never checked show as unknown.
func (c command) statusFromState(f StatusFlags) error {
	cfg, err := unitmon.LoadConfig(f.ConfigPath)
	if err != nil {
		return fatal(err)
	}
	g, err := state.NewStore(cfg.StateFile).Load()
	if err != nil {
		// corrupt state degrades to empty, never fatal
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	st := &client.StatusResponse{}
	if fi, statErr := os.Stat(cfg.StateFile); statErr == nil {
		st.UpdatedAt = fi.ModTime()
	}
	for _, spec := range cfg.Services {
		rec := g.Service(spec.Name)
		st.Services = append(st.Services, client.ServiceStatus{
			Name:     spec.Name,
			Status:   string(rec.LastStatus),
			Failures: rec.ConsecutiveFailures,
		})
		if rec.LastStatus == state.StatusDown {
			st.Down++
		}
	}
	return c.printStatus(st, f.JSON)
}

func (c command) printStatus(st *client.StatusResponse, asJSON bool) error {
	if asJSON {
		printJSON(st)
	} else {
		printStatusTable(st)
	}
	if st.Down > 0 {
		return degraded(fmt.Errorf("%d service(s) down", st.Down))
	}
	return nil
}

// Template prints a starter configuration snippet to out. It deliberately
// writes no files; redirect the output to install it.
func (c command) Template(out io.Writer, f TemplateFlags) error {
	gen := confgen.NewGenerator()
	snippet, err := gen.Generate(confgen.Profile(f.Profile), f.Email)
	if err != nil {
		return err
	}
	_, err = out.Write(snippet)
	return err
}

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("Error formatting output: %v\n", err)
		return
	}
	fmt.Println(string(data))
}

func printStatusTable(st *client.StatusResponse) {
	fmt.Printf("Last check: %s  (%d down)\n", st.UpdatedAt.Format(time.RFC3339), st.Down)
	for _, s := range st.Services {
		line := fmt.Sprintf("  %-40s %s", s.Name, s.Status)
		switch {
		case s.Skipped:
			line += " (skipped: " + s.SkipReason + ")"
		case s.Failures > 0:
			line += fmt.Sprintf(" (failures: %d)", s.Failures)
		}
		if s.Recovered {
			line += " [restarted]"
		}
		if s.AlertSent {
			line += " [alerted]"
		}
		fmt.Println(line)
	}
}
