package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/unitmon/unitmon/internal/config"
	"github.com/unitmon/unitmon/internal/initsys"
	"github.com/unitmon/unitmon/internal/monitor"
)

// upInit reports every unit active.
type upInit struct{}

func (upInit) IsActive(context.Context, string) (bool, error)  { return true, nil }
func (upInit) Exists(context.Context, string) (bool, error)    { return true, nil }
func (upInit) IsMasked(context.Context, string) (bool, error)  { return false, nil }
func (upInit) Start(context.Context, string) error             { return nil }
func (upInit) Restart(context.Context, string) error           { return nil }
func (upInit) JournalTail(context.Context, string, int) ([]string, error) {
	return nil, nil
}
func (upInit) Properties(context.Context, string) (initsys.UnitProperties, error) {
	return initsys.UnitProperties{}, nil
}
func (upInit) Describe() string { return "stub" }
func (upInit) Close() error     { return nil }

func testMonitor(t *testing.T) *monitor.Monitor {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Services = []config.ServiceSpec{{Name: "nginx", Action: config.ActionNone}}
	cfg.StateFile = filepath.Join(dir, "state.json")
	cfg.LockFile = filepath.Join(dir, "unitmon.lock")
	cfg.Diag.TopProcesses = 0
	return monitor.New(&cfg, monitor.Deps{Init: upInit{}, Logger: slog.New(slog.DiscardHandler)})
}

func TestStatusBeforeFirstCycle(t *testing.T) {
	r := NewRouter(testMonitor(t), "/api")
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/status", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before any cycle, got %d", rec.Code)
	}
}

func TestStatusServesLastCycle(t *testing.T) {
	mon := testMonitor(t)
	if _, err := mon.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	r := NewRouter(mon, "/api")
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/api/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var resp StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Down != 0 || len(resp.Services) != 1 || resp.Services[0].Name != "nginx" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.UpdatedAt.IsZero() {
		t.Fatalf("updated_at must be stamped")
	}
}

func TestHealthz(t *testing.T) {
	r := NewRouter(testMonitor(t), "")
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status %d", rec.Code)
	}
}

func TestNewServerTimeouts(t *testing.T) {
	srv, err := New(config.ServerConfig{Listen: ":0", BasePath: "/api"}, testMonitor(t))
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if srv.ReadHeaderTimeout != 10*time.Second || srv.IdleTimeout != 60*time.Second {
		t.Fatalf("timeouts not applied: %+v", srv)
	}
}

func TestSanitizeBase(t *testing.T) {
	cases := map[string]string{
		"":          "",
		"/":         "",
		"api":       "/api",
		"/api/":     "/api",
		"//api//v1": "/api/v1",
		"/../api":   "/api",
	}
	for in, want := range cases {
		if got := sanitizeBase(in); got != want {
			t.Fatalf("sanitizeBase(%q) = %q, want %q", in, got, want)
		}
	}
}
