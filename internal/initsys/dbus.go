package initsys

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	sd "github.com/coreos/go-systemd/v22/dbus"
	"github.com/unitmon/unitmon/internal/config"
)

// Dbus talks to systemd over the system bus. Unit queries use the pattern
// listing calls, which answer without loading units; jobs run in "replace"
// mode and are waited for to completion.
type Dbus struct {
	conn    *sd.Conn
	timeout time.Duration
	r       runner
}

func NewDbus(cfg config.InitConfig) (*Dbus, error) {
	ctx := context.Background()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	conn, err := sd.NewSystemConnectionContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}
	return &Dbus{conn: conn, timeout: cfg.Timeout, r: execRunner{}}, nil
}

func (d *Dbus) Describe() string { return "systemd-dbus" }

func (d *Dbus) Close() error {
	d.conn.Close()
	return nil
}

func (d *Dbus) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d.timeout)
}

func (d *Dbus) IsActive(ctx context.Context, unit string) (bool, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	units, err := d.conn.ListUnitsByPatternsContext(ctx, nil, []string{normalizeUnit(unit)})
	if err != nil {
		return false, fmt.Errorf("query %s: %w", unit, err)
	}
	if len(units) == 0 {
		// not loaded at all
		return false, nil
	}
	switch state := units[0].ActiveState; state {
	case "active":
		return true, nil
	case "inactive", "failed":
		return false, nil
	case "activating", "deactivating", "reloading", "refreshing":
		return false, fmt.Errorf("unit %s is %s", unit, state)
	default:
		return false, fmt.Errorf("query %s: unexpected active state %q", unit, state)
	}
}

func (d *Dbus) Exists(ctx context.Context, unit string) (bool, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	u := normalizeUnit(unit)
	files, err := d.conn.ListUnitFilesByPatternsContext(ctx, nil, []string{u})
	if err != nil {
		return false, fmt.Errorf("list unit files for %s: %w", unit, err)
	}
	if len(files) > 0 {
		return true, nil
	}
	units, err := d.conn.ListUnitsByPatternsContext(ctx, nil, []string{u})
	if err != nil {
		return false, fmt.Errorf("list units for %s: %w", unit, err)
	}
	return len(units) > 0, nil
}

func (d *Dbus) IsMasked(ctx context.Context, unit string) (bool, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	u := normalizeUnit(unit)
	files, err := d.conn.ListUnitFilesByPatternsContext(ctx, nil, []string{u})
	if err != nil {
		return false, fmt.Errorf("list unit files for %s: %w", unit, err)
	}
	for _, f := range files {
		if strings.HasPrefix(f.Type, "masked") {
			return true, nil
		}
	}
	units, err := d.conn.ListUnitsByPatternsContext(ctx, nil, []string{u})
	if err != nil {
		return false, fmt.Errorf("list units for %s: %w", unit, err)
	}
	for _, us := range units {
		if us.LoadState == "masked" {
			return true, nil
		}
	}
	return false, nil
}

func (d *Dbus) Start(ctx context.Context, unit string) error {
	return d.runJob(ctx, unit, "start", d.conn.StartUnitContext)
}

func (d *Dbus) Restart(ctx context.Context, unit string) error {
	return d.runJob(ctx, unit, "restart", d.conn.RestartUnitContext)
}

type jobFunc func(ctx context.Context, name string, mode string, ch chan<- string) (int, error)

func (d *Dbus) runJob(ctx context.Context, unit, verb string, job jobFunc) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	done := make(chan string, 1)
	if _, err := job(ctx, normalizeUnit(unit), "replace", done); err != nil {
		return fmt.Errorf("%s %s: %w", verb, unit, err)
	}
	select {
	case result := <-done:
		if result != "done" {
			return fmt.Errorf("%s %s: job finished with %q", verb, unit, result)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s %s: %w", verb, unit, ctx.Err())
	}
}

func (d *Dbus) Properties(ctx context.Context, unit string) (UnitProperties, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	u := normalizeUnit(unit)
	props, err := d.conn.GetUnitPropertiesContext(ctx, u)
	if err != nil {
		return UnitProperties{}, fmt.Errorf("unit properties for %s: %w", unit, err)
	}
	p := UnitProperties{
		ActiveState:   propString(props, "ActiveState"),
		SubState:      propString(props, "SubState"),
		LoadState:     propString(props, "LoadState"),
		UnitFileState: propString(props, "UnitFileState"),
	}
	// MainPID lives on the Service interface; not every unit type has one.
	if strings.HasSuffix(u, ".service") {
		if prop, err := d.conn.GetServicePropertyContext(ctx, u, "MainPID"); err == nil {
			if pid, ok := prop.Value.Value().(uint32); ok {
				p.MainPID = int(pid)
			}
		}
	}
	return p, nil
}

func (d *Dbus) JournalTail(ctx context.Context, unit string, n int) ([]string, error) {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	// Reading the journal natively needs cgo; journalctl is always present
	// on a systemd host.
	out, err := d.r.run(ctx, "journalctl", "-u", normalizeUnit(unit),
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

func propString(props map[string]interface{}, key string) string {
	if v, ok := props[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
