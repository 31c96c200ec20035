package diag

import (
	"context"
	"testing"

	"github.com/unitmon/unitmon/internal/config"
)

func byCPU(a, b ProcessInfo) bool {
	if a.CPUPercent != b.CPUPercent {
		return a.CPUPercent > b.CPUPercent
	}
	return a.PID < b.PID
}

func TestTopByOrdersDescending(t *testing.T) {
	rows := []ProcessInfo{
		{PID: 10, CPUPercent: 1.5},
		{PID: 20, CPUPercent: 80.0},
		{PID: 30, CPUPercent: 12.25},
	}
	out := topBy(rows, 10, byCPU)
	if len(out) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(out))
	}
	if out[0].PID != 20 || out[1].PID != 30 || out[2].PID != 10 {
		t.Fatalf("wrong order: %+v", out)
	}
}

func TestTopByBreaksTiesByPID(t *testing.T) {
	rows := []ProcessInfo{
		{PID: 900, CPUPercent: 5},
		{PID: 3, CPUPercent: 5},
		{PID: 42, CPUPercent: 5},
	}
	out := topBy(rows, 10, byCPU)
	if out[0].PID != 3 || out[1].PID != 42 || out[2].PID != 900 {
		t.Fatalf("ties must order by ascending PID: %+v", out)
	}
}

func TestTopByTruncates(t *testing.T) {
	rows := make([]ProcessInfo, 50)
	for i := range rows {
		rows[i] = ProcessInfo{PID: int32(i + 1), CPUPercent: float64(i)}
	}
	out := topBy(rows, 5, byCPU)
	if len(out) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(out))
	}
	if out[0].CPUPercent != 49 {
		t.Fatalf("expected highest first, got %+v", out[0])
	}
}

func TestTopByDoesNotMutateInput(t *testing.T) {
	rows := []ProcessInfo{{PID: 2, CPUPercent: 1}, {PID: 1, CPUPercent: 9}}
	_ = topBy(rows, 2, byCPU)
	if rows[0].PID != 2 {
		t.Fatalf("input slice reordered: %+v", rows)
	}
}

func TestTopByZeroN(t *testing.T) {
	rows := []ProcessInfo{{PID: 1, CPUPercent: 1}}
	if out := topBy(rows, 0, byCPU); out != nil {
		t.Fatalf("expected nil for n=0, got %+v", out)
	}
}

func TestSnapshotBestEffort(t *testing.T) {
	s := New(config.DiagConfig{TopProcesses: 3})
	snap := s.Snapshot(context.Background())
	if snap.TakenAt.IsZero() {
		t.Fatalf("snapshot must be stamped")
	}
	if len(snap.TopCPU) > 3 || len(snap.TopMem) > 3 {
		t.Fatalf("tables exceed configured N: cpu=%d mem=%d", len(snap.TopCPU), len(snap.TopMem))
	}
}

func TestSnapshotNegativeNClamped(t *testing.T) {
	s := New(config.DiagConfig{TopProcesses: -1})
	snap := s.Snapshot(context.Background())
	if len(snap.TopCPU) != 0 || len(snap.TopMem) != 0 {
		t.Fatalf("negative N must yield empty tables")
	}
}
