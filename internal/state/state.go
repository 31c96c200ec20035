// Package state persists the watchdog's per-service records between
// invocations and owns the cross-process lock file. The state document is a
// single JSON file replaced atomically on every save; a missing or corrupt
// file degrades to an empty state, never to a fatal error.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Status is the last-known probe result for a service.
type Status string

const (
	StatusUp      Status = "up"
	StatusDown    Status = "down"
	StatusUnknown Status = "unknown"
)

// ServiceState is the mutable per-service record.
type ServiceState struct {
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastAlertAt         time.Time `json:"last_alert_at"`
	LastStatus          Status    `json:"last_status"`
}

// Global maps service name to its record.
type Global map[string]ServiceState

// Service returns the record for name, defaulted to an unknown-status zero
// record when the service has never been seen.
func (g Global) Service(name string) ServiceState {
	if st, ok := g[name]; ok {
		return st
	}
	return ServiceState{LastStatus: StatusUnknown}
}

// CurrentVersion is the schema version written by Save.
const CurrentVersion = 1

// document is the on-disk form.
type document struct {
	Version  int                     `json:"version"`
	SavedAt  time.Time               `json:"saved_at"`
	Services map[string]ServiceState `json:"services"`
}

// Store reads and writes the state document at a fixed path.
type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string { return s.path }

// Load returns the persisted state. The returned map is always usable: an
// absent file yields an empty state with a nil error, while a corrupt or
// unreadable file yields an empty state plus an advisory error the caller
// should log and otherwise ignore. Unknown JSON fields are dropped and a
// document written by a newer version is read best-effort.
func (s *Store) Load() (Global, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Global{}, nil
		}
		return Global{}, fmt.Errorf("read state %s: %w", s.path, err)
	}
	if len(b) == 0 {
		return Global{}, nil
	}
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return Global{}, fmt.Errorf("corrupt state %s: %w", s.path, err)
	}
	g := Global{}
	for name, st := range doc.Services {
		if st.ConsecutiveFailures < 0 {
			st.ConsecutiveFailures = 0
		}
		switch st.LastStatus {
		case StatusUp, StatusDown, StatusUnknown:
		default:
			st.LastStatus = StatusUnknown
		}
		g[name] = st
	}
	if doc.Version > CurrentVersion {
		return g, fmt.Errorf("state %s has version %d, newer than supported %d", s.path, doc.Version, CurrentVersion)
	}
	return g, nil
}

// Save atomically replaces the state document: the new content is written to
// a temporary file in the same directory and renamed over the target, so a
// crash mid-write can never leave a truncated document behind.
func (s *Store) Save(g Global) error {
	doc := document{
		Version:  CurrentVersion,
		SavedAt:  time.Now().UTC(),
		Services: g,
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir %s: %w", dir, err)
	}
	tmp := fmt.Sprintf("%s.%d.tmp", s.path, time.Now().UnixNano())
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("write state temp %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace state %s: %w", s.path, err)
	}
	return nil
}
