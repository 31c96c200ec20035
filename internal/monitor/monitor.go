// Package monitor holds the watchdog engine: the sequential
// check-restart-alert-persist cycle, the bounded-retry executor, and the
// daemon loop. Processing is deliberately single-threaded per cycle; the
// only concurrency hazard is cross-process and is handled by the state
// lock, which scopes every cycle.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/unitmon/unitmon/internal/alert"
	"github.com/unitmon/unitmon/internal/config"
	"github.com/unitmon/unitmon/internal/diag"
	"github.com/unitmon/unitmon/internal/history"
	"github.com/unitmon/unitmon/internal/initsys"
	"github.com/unitmon/unitmon/internal/metrics"
	"github.com/unitmon/unitmon/internal/state"
)

// Deps are the collaborators injected into the engine. Nil fields get safe
// defaults (no-op dispatcher, default logger, snapshotter from config).
type Deps struct {
	Init        initsys.Init
	Dispatcher  alert.Dispatcher
	Snapshotter *diag.Snapshotter
	Sink        history.Sink
	Logger      *slog.Logger
}

// Monitor runs the watchdog over the configured services.
type Monitor struct {
	cfg    *config.Config
	init   initsys.Init
	disp   alert.Dispatcher
	snap   *diag.Snapshotter
	sink   history.Sink
	exec   *Executor
	store  *state.Store
	lock   *state.Lock
	logger *slog.Logger
	now    func() time.Time

	mu   sync.RWMutex
	last *CycleResult
}

func New(cfg *config.Config, d Deps) *Monitor {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	disp := d.Dispatcher
	if disp == nil {
		disp = alert.Nop{}
	}
	snap := d.Snapshotter
	if snap == nil {
		snap = diag.New(cfg.Diag)
	}
	return &Monitor{
		cfg:    cfg,
		init:   d.Init,
		disp:   disp,
		snap:   snap,
		sink:   d.Sink,
		exec:   NewExecutor(d.Init, cfg, logger),
		store:  state.NewStore(cfg.StateFile),
		lock:   state.NewLock(cfg.LockFile, cfg.LockStaleAfter),
		logger: logger,
		now:    time.Now,
	}
}

// ServiceResult is the per-service outcome of one cycle.
type ServiceResult struct {
	Name        string       `json:"name"`
	Status      state.Status `json:"status"`
	Failures    int          `json:"failures"`
	Skipped     bool         `json:"skipped,omitempty"`
	SkipReason  string       `json:"skip_reason,omitempty"`
	ProbeError  string       `json:"probe_error,omitempty"`
	ActionTaken bool         `json:"action_taken,omitempty"`
	Recovered   bool         `json:"recovered,omitempty"`
	AlertSent   bool         `json:"alert_sent,omitempty"`
}

// CycleResult is the outcome of one full pass over all services.
type CycleResult struct {
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Services   []ServiceResult `json:"services"`
}

// Down counts services that ended the cycle down.
func (c CycleResult) Down() int {
	n := 0
	for _, s := range c.Services {
		if !s.Skipped && s.Status == state.StatusDown {
			n++
		}
	}
	return n
}

// LastCycle returns the most recent cycle result, if any cycle has run.
func (m *Monitor) LastCycle() (CycleResult, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.last == nil {
		return CycleResult{}, false
	}
	return *m.last, true
}

func (m *Monitor) setLast(res CycleResult) {
	m.mu.Lock()
	m.last = &res
	m.mu.Unlock()
}

// RunOnce performs a single cycle under the cross-process lock. A held
// lock is reported as state.ErrLocked: the caller decides whether that
// means a clean exit (one-shot) or a skipped cycle (daemon).
func (m *Monitor) RunOnce(ctx context.Context) (CycleResult, error) {
	if err := m.lock.Acquire(); err != nil {
		if errors.Is(err, state.ErrLocked) {
			m.logger.Warn("concurrent run in progress, not checking",
				slog.String("lock_file", m.lock.Path()))
			return CycleResult{}, err
		}
		return CycleResult{}, err
	}
	defer func() {
		if err := m.lock.Release(); err != nil {
			m.logger.Warn("lock release failed", slog.Any("error", err))
		}
	}()

	g, err := m.store.Load()
	if err != nil {
		// corrupt or unreadable state degrades to empty, never fatal
		m.logger.Warn("state unreadable, starting from empty",
			slog.String("state_file", m.store.Path()), slog.Any("error", err))
	}
	return m.runCycle(ctx, g), nil
}

// Run is daemon mode: repeat cycles until ctx is canceled, sleeping the
// configured interval in between. The in-flight service action of the
// current cycle completes before the loop exits.
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.Info("daemon started",
		slog.Duration("interval", m.cfg.CheckInterval),
		slog.Int("services", len(m.cfg.Services)),
		slog.String("backend", m.init.Describe()))
	for {
		if _, err := m.RunOnce(ctx); err != nil && !errors.Is(err, state.ErrLocked) {
			m.logger.Error("cycle failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			m.logger.Info("daemon stopping")
			return nil
		case <-time.After(m.cfg.CheckInterval):
		}
	}
}

func (m *Monitor) runCycle(ctx context.Context, g state.Global) CycleResult {
	started := m.now()
	m.logger.Info("cycle start", slog.Int("services", len(m.cfg.Services)))
	res := CycleResult{StartedAt: started}

	for _, spec := range m.cfg.Services {
		select {
		case <-ctx.Done():
			m.logger.Info("shutdown requested, ending cycle early")
			res.FinishedAt = m.now()
			m.setLast(res)
			return res
		default:
		}
		// the in-flight service completes even if shutdown arrives mid-action
		sr, changed := m.checkService(context.WithoutCancel(ctx), spec, g)
		res.Services = append(res.Services, sr)
		if changed {
			if err := m.store.Save(g); err != nil {
				// keep going with in-memory state; the next save retries
				m.logger.Error("state save failed",
					slog.String("state_file", m.store.Path()), slog.Any("error", err))
			}
		}
	}

	res.FinishedAt = m.now()
	metrics.IncCycle()
	metrics.ObserveCycleDuration(res.FinishedAt.Sub(started).Seconds())
	m.logger.Info("cycle end",
		slog.Int("down", res.Down()),
		slog.Duration("took", res.FinishedAt.Sub(started)))
	m.setLast(res)
	return res
}

// checkService runs the per-service state machine and reports whether the
// persisted record changed.
func (m *Monitor) checkService(ctx context.Context, spec config.ServiceSpec, g state.Global) (ServiceResult, bool) {
	sr := ServiceResult{Name: spec.Name}

	if skip, reason := m.shouldSkip(ctx, spec.Name); skip {
		m.logger.Warn("skipping unit", slog.String("unit", spec.Name), slog.String("reason", reason))
		metrics.IncCheck(spec.Name, "skipped")
		sr.Skipped = true
		sr.SkipReason = reason
		sr.Status = state.StatusUnknown
		return sr, false
	}

	st := g.Service(spec.Name)
	up, perr := m.init.IsActive(ctx, spec.Name)
	if perr != nil {
		// fail-closed: an unanswerable probe counts as down, but is logged
		// apart from a confirmed-down result
		m.logger.Warn("unit status could not be determined, treating as down",
			slog.String("unit", spec.Name), slog.Any("error", perr))
		sr.ProbeError = perr.Error()
	}

	if up {
		recovered := st.LastStatus == state.StatusDown
		changed := st.ConsecutiveFailures != 0 || st.LastStatus != state.StatusUp
		st.ConsecutiveFailures = 0
		st.LastStatus = state.StatusUp
		g[spec.Name] = st
		sr.Status = state.StatusUp
		metrics.IncCheck(spec.Name, "up")
		metrics.SetServiceUp(spec.Name, true)
		metrics.SetConsecutiveFailures(spec.Name, 0)
		if recovered {
			m.logger.Info("service recovered", slog.String("unit", spec.Name))
			m.export(ctx, history.EventRecovered, spec.Name, 0, "")
		}
		return sr, changed
	}

	st.ConsecutiveFailures++
	st.LastStatus = state.StatusDown
	m.logger.Warn("service down",
		slog.String("unit", spec.Name),
		slog.Int("failures", st.ConsecutiveFailures),
		slog.String("action", string(spec.Action)))
	if perr != nil {
		metrics.IncCheck(spec.Name, "error")
	} else {
		metrics.IncCheck(spec.Name, "down")
	}
	m.export(ctx, history.EventDown, spec.Name, st.ConsecutiveFailures, sr.ProbeError)

	if spec.Action != config.ActionNone {
		sr.ActionTaken = true
		if m.exec.Execute(ctx, spec.Name, spec.Action) {
			// confirmed back up: the restart masks the failure entirely
			st.ConsecutiveFailures = 0
			st.LastStatus = state.StatusUp
			g[spec.Name] = st
			sr.Status = state.StatusUp
			sr.Recovered = true
			metrics.IncRestart(spec.Name, "succeeded")
			metrics.SetServiceUp(spec.Name, true)
			metrics.SetConsecutiveFailures(spec.Name, 0)
			m.export(ctx, history.EventRestartSucceeded, spec.Name, 0, string(spec.Action))
			return sr, true
		}
		m.logger.Error("recovery failed, service still down",
			slog.String("unit", spec.Name),
			slog.String("action", string(spec.Action)),
			slog.Int("attempts", m.exec.attempts))
		metrics.IncRestart(spec.Name, "failed")
		m.export(ctx, history.EventRestartFailed, spec.Name, st.ConsecutiveFailures, string(spec.Action))
	}

	sr.Status = state.StatusDown
	sr.Failures = st.ConsecutiveFailures
	metrics.SetServiceUp(spec.Name, false)
	metrics.SetConsecutiveFailures(spec.Name, st.ConsecutiveFailures)

	if spec.Alarm && st.ConsecutiveFailures >= m.cfg.AlertThreshold && m.rateLimitOpen(st) {
		// the window advances on the attempt, success or not, so a broken
		// delivery path cannot cause an alert storm
		st.LastAlertAt = m.now()
		sr.AlertSent = m.sendAlert(ctx, spec, st.ConsecutiveFailures)
	}

	g[spec.Name] = st
	return sr, true
}

// shouldSkip filters out units the init system does not know or that are
// masked; neither can meaningfully be monitored and a typo in the service
// list must not accumulate failures or alert.
func (m *Monitor) shouldSkip(ctx context.Context, unit string) (bool, string) {
	exists, err := m.init.Exists(ctx, unit)
	if err != nil {
		m.logger.Warn("cannot determine whether unit exists",
			slog.String("unit", unit), slog.Any("error", err))
	} else if !exists {
		return true, "unit not found"
	}
	masked, err := m.init.IsMasked(ctx, unit)
	if err == nil && masked {
		return true, "unit is masked"
	}
	return false, ""
}

func (m *Monitor) rateLimitOpen(st state.ServiceState) bool {
	if st.LastAlertAt.IsZero() {
		return true
	}
	return m.now().Sub(st.LastAlertAt) >= m.cfg.AlertRateLimit
}

// sendAlert composes and dispatches one alert under the per-dispatch
// timeout. Delivery failure is logged and exported, never escalated.
func (m *Monitor) sendAlert(ctx context.Context, spec config.ServiceSpec, failures int) bool {
	ev := alert.Event{
		Service:    spec.Name,
		Failures:   failures,
		Action:     string(spec.Action),
		Retries:    m.cfg.RetryCount,
		OccurredAt: m.now(),
	}
	alert.Compose(&ev, m.buildReport(ctx, spec.Name))

	dctx := ctx
	if m.cfg.Email.Timeout > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, m.cfg.Email.Timeout)
		defer cancel()
	}
	if err := m.disp.Dispatch(dctx, ev); err != nil {
		m.logger.Error("alert dispatch failed",
			slog.String("unit", spec.Name),
			slog.String("method", m.disp.Method()),
			slog.Any("error", err))
		metrics.IncAlert(spec.Name, "failed")
		m.export(ctx, history.EventAlertFailed, spec.Name, failures, err.Error())
		return false
	}
	m.logger.Info("alert sent",
		slog.String("unit", spec.Name),
		slog.String("method", m.disp.Method()),
		slog.Int("failures", failures))
	metrics.IncAlert(spec.Name, "sent")
	m.export(ctx, history.EventAlertSent, spec.Name, failures, m.disp.Method())
	return true
}

// buildReport gathers the best-effort enrichment for one alert.
func (m *Monitor) buildReport(ctx context.Context, unit string) alert.Report {
	rep := alert.Report{Snapshot: m.snap.Snapshot(ctx)}
	if props, err := m.init.Properties(ctx, unit); err == nil {
		rep.Props = props
		rep.HasProps = true
	} else {
		m.logger.Debug("unit properties unavailable", slog.String("unit", unit), slog.Any("error", err))
	}
	n := m.cfg.Diag.LogTailLines
	if n <= 0 {
		n = 20
	}
	if lines, err := m.init.JournalTail(ctx, unit, n); err == nil {
		rep.Journal = lines
	} else {
		m.logger.Debug("journal tail unavailable", slog.String("unit", unit), slog.Any("error", err))
	}
	rep.LogTail = tailFile(m.cfg.Log.File, n)
	return rep
}

func (m *Monitor) export(ctx context.Context, t history.EventType, service string, failures int, detail string) {
	if m.sink == nil {
		return
	}
	e := history.Event{
		Type:       t,
		Service:    service,
		OccurredAt: m.now().UTC(),
		Failures:   failures,
		Detail:     detail,
	}
	if err := m.sink.Send(ctx, e); err != nil {
		m.logger.Warn("history export failed",
			slog.String("unit", service), slog.String("type", string(t)), slog.Any("error", err))
	}
}
