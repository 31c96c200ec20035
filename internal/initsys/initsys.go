// Package initsys talks to the host init system (systemd). Two backends
// implement the same interface: one drives the systemctl binary, the other
// speaks to systemd over D-Bus. Callers decide what a query error means;
// the watchdog treats it as down (fail-closed) but logs it apart from a
// confirmed-down answer.
package initsys

import (
	"context"
	"fmt"
	"strings"

	"github.com/unitmon/unitmon/internal/config"
)

// UnitProperties is the best-effort unit detail attached to alerts.
type UnitProperties struct {
	MainPID       int
	ActiveState   string
	SubState      string
	LoadState     string
	UnitFileState string
}

// Init is the capability the watchdog needs from the init system.
type Init interface {
	// IsActive reports whether the unit is active. inactive and failed are
	// definitive answers (false, nil); transitional states and query
	// failures return an error.
	IsActive(ctx context.Context, unit string) (bool, error)
	// Exists reports whether the init system knows the unit at all.
	Exists(ctx context.Context, unit string) (bool, error)
	// IsMasked reports whether the unit is masked from starting.
	IsMasked(ctx context.Context, unit string) (bool, error)
	Start(ctx context.Context, unit string) error
	Restart(ctx context.Context, unit string) error
	// Properties fetches diagnostic unit detail; best-effort.
	Properties(ctx context.Context, unit string) (UnitProperties, error)
	// JournalTail returns the most recent n journal lines for the unit.
	JournalTail(ctx context.Context, unit string, n int) ([]string, error)
	// Describe identifies the backend for logs.
	Describe() string
	Close() error
}

// New selects the backend configured in cfg.
func New(cfg config.InitConfig) (Init, error) {
	switch cfg.Backend {
	case config.BackendDbus:
		return NewDbus(cfg)
	case config.BackendSystemctl, "":
		return NewSystemctl(cfg), nil
	default:
		return nil, fmt.Errorf("unknown init backend %q", cfg.Backend)
	}
}

// normalizeUnit appends ".service" to bare names; systemctl does the same
// implicitly but D-Bus requires the full unit name.
func normalizeUnit(name string) string {
	if strings.Contains(name, ".") {
		return name
	}
	return name + ".service"
}
