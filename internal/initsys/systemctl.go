package initsys

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/unitmon/unitmon/internal/config"
)

// runner executes a host binary and returns its stdout. Kept as an
// interface so tests can script outcomes without a systemd host.
type runner interface {
	run(ctx context.Context, name string, args ...string) (string, error)
}

type execRunner struct{}

func (execRunner) run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) && len(ee.Stderr) > 0 {
			return string(out), fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(ee.Stderr)))
		}
		return string(out), err
	}
	return string(out), nil
}

// Systemctl drives the init system through the systemctl binary.
type Systemctl struct {
	path    string
	timeout time.Duration
	r       runner
}

func NewSystemctl(cfg config.InitConfig) *Systemctl {
	path := cfg.SystemctlPath
	if path == "" {
		path = "systemctl"
	}
	return &Systemctl{path: path, timeout: cfg.Timeout, r: execRunner{}}
}

func (s *Systemctl) Describe() string { return "systemctl" }

func (s *Systemctl) Close() error { return nil }

func (s *Systemctl) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *Systemctl) IsActive(ctx context.Context, unit string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	// is-active exits non-zero for anything but active, so the output is
	// authoritative and the exit error only matters when unrecognized.
	out, err := s.r.run(ctx, s.path, "is-active", normalizeUnit(unit))
	switch state := strings.TrimSpace(out); state {
	case "active":
		return true, nil
	case "inactive", "failed", "unknown":
		return false, nil
	case "activating", "deactivating", "reloading", "refreshing":
		return false, fmt.Errorf("unit %s is %s", unit, state)
	default:
		if err != nil {
			return false, fmt.Errorf("query %s: %w", unit, err)
		}
		return false, fmt.Errorf("query %s: unexpected is-active output %q", unit, state)
	}
}

func (s *Systemctl) Exists(ctx context.Context, unit string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	u := normalizeUnit(unit)
	out, err := s.r.run(ctx, s.path, "list-unit-files", "--no-legend", "--no-pager", u)
	if strings.TrimSpace(out) != "" {
		return true, nil
	}
	if err != nil && !isExitError(err) {
		return false, fmt.Errorf("list unit files for %s: %w", unit, err)
	}
	// Not in any unit file; transient or generated units still show up in
	// the unit list.
	out, err = s.r.run(ctx, s.path, "list-units", "--all", "--no-legend", "--no-pager", u)
	if strings.TrimSpace(out) != "" {
		return true, nil
	}
	if err != nil && !isExitError(err) {
		return false, fmt.Errorf("list units for %s: %w", unit, err)
	}
	return false, nil
}

func (s *Systemctl) IsMasked(ctx context.Context, unit string) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	out, err := s.r.run(ctx, s.path, "is-enabled", normalizeUnit(unit))
	state := strings.TrimSpace(out)
	if state == "masked" || state == "masked-runtime" {
		return true, nil
	}
	if state != "" {
		return false, nil
	}
	if err != nil && !isExitError(err) {
		return false, fmt.Errorf("is-enabled %s: %w", unit, err)
	}
	return false, nil
}

func (s *Systemctl) Start(ctx context.Context, unit string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.r.run(ctx, s.path, "start", normalizeUnit(unit)); err != nil {
		return fmt.Errorf("start %s: %w", unit, err)
	}
	return nil
}

func (s *Systemctl) Restart(ctx context.Context, unit string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, err := s.r.run(ctx, s.path, "restart", normalizeUnit(unit)); err != nil {
		return fmt.Errorf("restart %s: %w", unit, err)
	}
	return nil
}

func (s *Systemctl) Properties(ctx context.Context, unit string) (UnitProperties, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	out, err := s.r.run(ctx, s.path, "show", normalizeUnit(unit),
		"--property=MainPID,ActiveState,SubState,LoadState,UnitFileState")
	if err != nil {
		return UnitProperties{}, fmt.Errorf("show %s: %w", unit, err)
	}
	return parseShowOutput(out), nil
}

func (s *Systemctl) JournalTail(ctx context.Context, unit string, n int) ([]string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	out, err := s.r.run(ctx, "journalctl", "-u", normalizeUnit(unit),
		"-n", strconv.Itoa(n), "--no-pager", "-o", "short-iso")
	if err != nil {
		return nil, fmt.Errorf("journal tail for %s: %w", unit, err)
	}
	var lines []string
	for _, l := range strings.Split(out, "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	return lines, nil
}

func parseShowOutput(out string) UnitProperties {
	var p UnitProperties
	for _, line := range strings.Split(out, "\n") {
		k, v, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch k {
		case "MainPID":
			p.MainPID, _ = strconv.Atoi(v)
		case "ActiveState":
			p.ActiveState = v
		case "SubState":
			p.SubState = v
		case "LoadState":
			p.LoadState = v
		case "UnitFileState":
			p.UnitFileState = v
		}
	}
	return p
}

func isExitError(err error) bool {
	var ee *exec.ExitError
	return errors.As(err, &ee)
}
