package initsys

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRunJobResults(t *testing.T) {
	d := &Dbus{timeout: time.Second}

	ok := func(ctx context.Context, name, mode string, ch chan<- string) (int, error) {
		if name != "nginx.service" || mode != "replace" {
			t.Fatalf("job args: %s %s", name, mode)
		}
		ch <- "done"
		return 1, nil
	}
	if err := d.runJob(context.Background(), "nginx", "restart", ok); err != nil {
		t.Fatalf("done job: %v", err)
	}

	failed := func(ctx context.Context, name, mode string, ch chan<- string) (int, error) {
		ch <- "failed"
		return 2, nil
	}
	err := d.runJob(context.Background(), "nginx", "restart", failed)
	if err == nil || !strings.Contains(err.Error(), "failed") {
		t.Fatalf("failed job: %v", err)
	}

	refuse := func(ctx context.Context, name, mode string, ch chan<- string) (int, error) {
		return 0, errors.New("access denied")
	}
	err = d.runJob(context.Background(), "nginx", "start", refuse)
	if err == nil || !strings.Contains(err.Error(), "access denied") {
		t.Fatalf("refused job: %v", err)
	}

	stuck := func(ctx context.Context, name, mode string, ch chan<- string) (int, error) {
		return 3, nil // never delivers a result
	}
	d.timeout = 20 * time.Millisecond
	err = d.runJob(context.Background(), "nginx", "start", stuck)
	if err == nil {
		t.Fatalf("stuck job must time out")
	}
}

func TestPropString(t *testing.T) {
	props := map[string]interface{}{
		"ActiveState": "active",
		"MainPID":     uint32(42),
	}
	if got := propString(props, "ActiveState"); got != "active" {
		t.Fatalf("string prop: %q", got)
	}
	if got := propString(props, "MainPID"); got != "" {
		t.Fatalf("non-string prop must yield empty, got %q", got)
	}
	if got := propString(props, "absent"); got != "" {
		t.Fatalf("missing prop must yield empty, got %q", got)
	}
}
