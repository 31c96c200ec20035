// Package diag captures best-effort host diagnostics used to enrich alerts:
// top CPU/memory process tables and a handful of host facts. Every collection
// is independently best-effort; a failure yields an empty table or a zero
// fact, never an error, because diagnostics must not block alerting.
package diag

import (
	"context"
	"net"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/unitmon/unitmon/internal/config"
)

// ProcessInfo is one row of a top-processes table.
type ProcessInfo struct {
	PID           int32   `json:"pid"`
	Name          string  `json:"name"`
	User          string  `json:"user,omitempty"`
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryMB      float64 `json:"memory_mb"`
}

// HostInfo is the host-fact section of a snapshot. Zero values mean the
// fact could not be collected.
type HostInfo struct {
	Hostname        string        `json:"hostname"`
	FQDN            string        `json:"fqdn"`
	Platform        string        `json:"platform,omitempty"`
	KernelVersion   string        `json:"kernel_version,omitempty"`
	Uptime          time.Duration `json:"uptime,omitempty"`
	Load1           float64       `json:"load1"`
	Load5           float64       `json:"load5"`
	Load15          float64       `json:"load15"`
	MemoryTotalMB   float64       `json:"memory_total_mb"`
	MemoryUsedMB    float64       `json:"memory_used_mb"`
	MemoryUsedPct   float64       `json:"memory_used_percent"`
	RootFSTotalGB   float64       `json:"rootfs_total_gb"`
	RootFSUsedGB    float64       `json:"rootfs_used_gb"`
	RootFSUsedPct   float64       `json:"rootfs_used_percent"`
	ProcessCount    int           `json:"process_count"`
	CollectedErrors int           `json:"-"`
}

// Snapshot is one point-in-time diagnostic capture.
type Snapshot struct {
	TakenAt time.Time     `json:"taken_at"`
	Host    HostInfo      `json:"host"`
	TopCPU  []ProcessInfo `json:"top_cpu"`
	TopMem  []ProcessInfo `json:"top_mem"`
}

// Snapshotter reads the process table and host metrics at call time.
type Snapshotter struct {
	topN int
}

func New(cfg config.DiagConfig) *Snapshotter {
	n := cfg.TopProcesses
	if n < 0 {
		n = 0
	}
	return &Snapshotter{topN: n}
}

// Snapshot collects the diagnostic capture. It never fails: sections that
// cannot be read come back empty.
func (s *Snapshotter) Snapshot(ctx context.Context) Snapshot {
	snap := Snapshot{TakenAt: time.Now(), Host: collectHost(ctx)}
	rows := collectProcesses(ctx)
	snap.Host.ProcessCount = len(rows)
	snap.TopCPU = topBy(rows, s.topN, func(a, b ProcessInfo) bool {
		if a.CPUPercent != b.CPUPercent {
			return a.CPUPercent > b.CPUPercent
		}
		return a.PID < b.PID
	})
	snap.TopMem = topBy(rows, s.topN, func(a, b ProcessInfo) bool {
		if a.MemoryPercent != b.MemoryPercent {
			return a.MemoryPercent > b.MemoryPercent
		}
		return a.PID < b.PID
	})
	return snap
}

func collectProcesses(ctx context.Context) []ProcessInfo {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil
	}
	rows := make([]ProcessInfo, 0, len(procs))
	for _, p := range procs {
		row := ProcessInfo{PID: p.Pid}
		// each field is optional; a process may vanish mid-read
		if name, err := p.NameWithContext(ctx); err == nil {
			row.Name = name
		}
		if user, err := p.UsernameWithContext(ctx); err == nil {
			row.User = user
		}
		if cpu, err := p.CPUPercentWithContext(ctx); err == nil {
			row.CPUPercent = cpu
		}
		if memPct, err := p.MemoryPercentWithContext(ctx); err == nil {
			row.MemoryPercent = float64(memPct)
		}
		if mi, err := p.MemoryInfoWithContext(ctx); err == nil && mi != nil {
			row.MemoryMB = float64(mi.RSS) / (1024 * 1024)
		}
		rows = append(rows, row)
	}
	return rows
}

func collectHost(ctx context.Context) HostInfo {
	var h HostInfo
	if name, err := os.Hostname(); err == nil {
		h.Hostname = name
		h.FQDN = lookupFQDN(name)
	}
	if info, err := host.InfoWithContext(ctx); err == nil {
		h.Platform = info.Platform + " " + info.PlatformVersion
		h.KernelVersion = info.KernelVersion
		h.Uptime = time.Duration(info.Uptime) * time.Second
	}
	if avg, err := load.AvgWithContext(ctx); err == nil {
		h.Load1, h.Load5, h.Load15 = avg.Load1, avg.Load5, avg.Load15
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		h.MemoryTotalMB = float64(vm.Total) / (1024 * 1024)
		h.MemoryUsedMB = float64(vm.Used) / (1024 * 1024)
		h.MemoryUsedPct = vm.UsedPercent
	}
	if du, err := disk.UsageWithContext(ctx, "/"); err == nil {
		h.RootFSTotalGB = float64(du.Total) / (1024 * 1024 * 1024)
		h.RootFSUsedGB = float64(du.Used) / (1024 * 1024 * 1024)
		h.RootFSUsedPct = du.UsedPercent
	}
	return h
}

// lookupFQDN resolves the canonical name for the host, falling back to the
// bare hostname when DNS cannot answer.
func lookupFQDN(hostname string) string {
	addrs, err := net.LookupHost(hostname)
	if err != nil || len(addrs) == 0 {
		return hostname
	}
	names, err := net.LookupAddr(addrs[0])
	if err != nil || len(names) == 0 {
		return hostname
	}
	return strings.TrimSuffix(names[0], ".")
}

func topBy(rows []ProcessInfo, n int, less func(a, b ProcessInfo) bool) []ProcessInfo {
	if n == 0 || len(rows) == 0 {
		return nil
	}
	out := make([]ProcessInfo, len(rows))
	copy(out, rows)
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	if len(out) > n {
		out = out[:n]
	}
	return out
}
