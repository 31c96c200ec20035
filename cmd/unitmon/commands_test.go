package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/unitmon/unitmon/internal/state"
	"github.com/unitmon/unitmon/pkg/client"
)

// writeStatusConfig writes a config naming a state file in dir and returns
// both paths.
func writeStatusConfig(t *testing.T, services string) (configPath, statePath string) {
	t.Helper()
	dir := t.TempDir()
	configPath = filepath.Join(dir, "config.toml")
	statePath = filepath.Join(dir, "state.json")
	body := `
state_file = "` + statePath + `"
lock_file = "` + filepath.Join(dir, "unitmon.lock") + `"
` + services + `
[email]
method = "none"

[log]
file = ""
console = false
journal = false
`
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return configPath, statePath
}

func TestExitCodeMapping(t *testing.T) {
	if got := exitCode(nil); got != exitOK {
		t.Fatalf("nil error: exit %d", got)
	}
	if got := exitCode(errors.New("plain")); got != exitFatal {
		t.Fatalf("plain error: exit %d", got)
	}
	if got := exitCode(fatal(errors.New("boom"))); got != exitFatal {
		t.Fatalf("fatal error: exit %d", got)
	}
	wrapped := fmt.Errorf("context: %w", degraded(errors.New("2 down")))
	if got := exitCode(wrapped); got != exitDegraded {
		t.Fatalf("wrapped degraded error: exit %d", got)
	}
}

func TestRunRequiresConfig(t *testing.T) {
	err := command{}.Run(RunFlags{})
	if err == nil {
		t.Fatal("expected error without config path")
	}
	if exitCode(err) != exitFatal {
		t.Fatalf("exit = %d, want %d", exitCode(err), exitFatal)
	}
}

func TestRunRejectsConflictingModes(t *testing.T) {
	err := command{}.Run(RunFlags{ConfigPath: "x.toml", Once: true, Daemon: true})
	if err == nil || !strings.Contains(err.Error(), "mutually exclusive") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunBadConfigIsFatal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("this is not toml = ["), 0o644); err != nil {
		t.Fatal(err)
	}
	err := command{}.Run(RunFlags{ConfigPath: path})
	if err == nil {
		t.Fatal("expected error for malformed config")
	}
	if exitCode(err) != exitFatal {
		t.Fatalf("exit = %d, want %d", exitCode(err), exitFatal)
	}
}

func TestRunOnceDegradedWhenUnitDown(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	// A systemctl path that does not exist makes every probe fail closed,
	// so the unit counts as down without touching the host.
	body := `
check_interval = "1s"
state_file = "` + filepath.Join(dir, "state.json") + `"
lock_file = "` + filepath.Join(dir, "unitmon.lock") + `"

[[services]]
name = "ghost.service"
action = "none"
alarm = false

[email]
method = "none"

[init]
systemctl_path = "` + filepath.Join(dir, "no-such-systemctl") + `"

[log]
file = ""
console = false
journal = false
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	err := command{}.Run(RunFlags{ConfigPath: path, Once: true})
	if err == nil {
		t.Fatal("expected degraded error")
	}
	if exitCode(err) != exitDegraded {
		t.Fatalf("exit = %d, want %d (err: %v)", exitCode(err), exitDegraded, err)
	}

	// State must have been persisted for the failed unit.
	if _, statErr := os.Stat(filepath.Join(dir, "state.json")); statErr != nil {
		t.Fatalf("state file not written: %v", statErr)
	}
}

func TestStatusAgainstDaemonAPI(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/status" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(client.StatusResponse{
			UpdatedAt: time.Now(),
			Services:  []client.ServiceStatus{{Name: "nginx.service", Status: "up"}},
		})
	}))
	defer srv.Close()

	if err := (command{}).Status(StatusFlags{ServerURL: srv.URL + "/api"}); err != nil {
		t.Fatalf("Status: %v", err)
	}
}

func TestStatusDegradedWhenUnitsDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(client.StatusResponse{
			UpdatedAt: time.Now(),
			Down:      1,
			Services:  []client.ServiceStatus{{Name: "nginx.service", Status: "down", Failures: 4}},
		})
	}))
	defer srv.Close()

	err := (command{}).Status(StatusFlags{ServerURL: srv.URL, JSON: true})
	if exitCode(err) != exitDegraded {
		t.Fatalf("exit = %d, want %d (err: %v)", exitCode(err), exitDegraded, err)
	}
}

func TestStatusRequiresConfigOrServer(t *testing.T) {
	err := (command{}).Status(StatusFlags{})
	if err == nil {
		t.Fatal("expected error without --config or --server-url")
	}
	if exitCode(err) != exitFatal {
		t.Fatalf("exit = %d, want %d", exitCode(err), exitFatal)
	}
}

func TestStatusFromStateFile(t *testing.T) {
	configPath, statePath := writeStatusConfig(t, `
[[services]]
name = "nginx.service"
action = "restart"
alarm = true

[[services]]
name = "sshd.service"
action = "none"
alarm = false
`)
	err := state.NewStore(statePath).Save(state.Global{
		"nginx.service": {ConsecutiveFailures: 4, LastStatus: state.StatusDown},
		"sshd.service":  {LastStatus: state.StatusUp},
	})
	if err != nil {
		t.Fatalf("seed state: %v", err)
	}

	serr := (command{}).Status(StatusFlags{ConfigPath: configPath})
	if exitCode(serr) != exitDegraded {
		t.Fatalf("exit = %d, want %d (err: %v)", exitCode(serr), exitDegraded, serr)
	}
}

func TestStatusFromAbsentStateFile(t *testing.T) {
	// One-shot deployments may ask for status before any check ran; every
	// unit shows unknown and the exit is clean.
	configPath, _ := writeStatusConfig(t, `
[[services]]
name = "nginx.service"
action = "restart"
alarm = true
`)
	if err := (command{}).Status(StatusFlags{ConfigPath: configPath, JSON: true}); err != nil {
		t.Fatalf("Status: %v", err)
	}
}

func TestStatusUnreachableDaemon(t *testing.T) {
	err := (command{}).Status(StatusFlags{ServerURL: "http://127.0.0.1:1", Timeout: time.Second})
	if err == nil {
		t.Fatal("expected error for unreachable daemon")
	}
	if exitCode(err) != exitFatal {
		t.Fatalf("exit = %d, want %d", exitCode(err), exitFatal)
	}
}

func TestTemplatePrintsSnippet(t *testing.T) {
	var buf bytes.Buffer
	c := command{}
	if err := c.Template(&buf, TemplateFlags{Profile: "webserver", Email: "ops@example.com"}); err != nil {
		t.Fatalf("Template: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "nginx.service") || !strings.Contains(out, "ops@example.com") {
		t.Fatalf("unexpected template output: %s", out)
	}
}

func TestTemplateUnknownProfile(t *testing.T) {
	var buf bytes.Buffer
	if err := (command{}).Template(&buf, TemplateFlags{Profile: "bogus"}); err == nil {
		t.Fatal("expected error for unknown profile")
	}
}

func TestTemplateCommandProducesNoFiles(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	root := buildRoot()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs([]string{"template", "ssh"})
	if err := root.Execute(); err != nil {
		t.Fatalf("template: %v", err)
	}
	if !strings.Contains(buf.String(), "sshd.service") {
		t.Fatalf("unexpected output: %s", buf.String())
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("template must not create files, found %v", entries)
	}
}

func TestBuildRootHasSubcommands(t *testing.T) {
	root := buildRoot()
	want := map[string]bool{"run": false, "status": false, "template": false, "version": false}
	for _, c := range root.Commands() {
		name := strings.Fields(c.Use)[0]
		if _, ok := want[name]; ok {
			want[name] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Fatalf("missing subcommand %q", name)
		}
	}
}
