package alert

import (
	"fmt"
	"strings"
	"time"

	"github.com/unitmon/unitmon/internal/diag"
	"github.com/unitmon/unitmon/internal/initsys"
)

// Report carries the best-effort enrichment attached to an alert. Any field
// may be zero; the composer renders a placeholder instead of failing.
type Report struct {
	Props    initsys.UnitProperties
	HasProps bool
	Journal  []string
	Snapshot diag.Snapshot
	LogTail  []string
}

// Compose fills ev.Subject and ev.Body from the failure facts and the
// collected report. All sections except the summary are best-effort.
func Compose(ev *Event, rep Report) {
	host := rep.Snapshot.Host
	hostname := host.Hostname
	if hostname == "" {
		hostname = "unknown-host"
	}
	fqdn := host.FQDN
	if fqdn == "" {
		fqdn = hostname
	}

	ev.Subject = fmt.Sprintf("CRITICAL: Service '%s' failed on %s", ev.Service, hostname)

	var b strings.Builder
	b.WriteString("CRITICAL SERVICE ALERT\n")
	b.WriteString("======================\n\n")
	fmt.Fprintf(&b, "Service '%s' has failed %d consecutive times on %s.\n\n", ev.Service, ev.Failures, fqdn)

	b.WriteString("Alert Details:\n--------------\n")
	fmt.Fprintf(&b, "Service:           %s\n", ev.Service)
	fmt.Fprintf(&b, "Hostname:          %s\n", fqdn)
	fmt.Fprintf(&b, "Failure Count:     %d\n", ev.Failures)
	fmt.Fprintf(&b, "Last Check:        %s\n", ev.OccurredAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "Configured Action: %s\n", ev.Action)
	fmt.Fprintf(&b, "Retry Attempts:    %d\n\n", ev.Retries)

	b.WriteString("Service Details:\n----------------\n")
	if rep.HasProps {
		p := rep.Props
		fmt.Fprintf(&b, "ActiveState:   %s\n", valueOr(p.ActiveState))
		fmt.Fprintf(&b, "SubState:      %s\n", valueOr(p.SubState))
		fmt.Fprintf(&b, "LoadState:     %s\n", valueOr(p.LoadState))
		fmt.Fprintf(&b, "UnitFileState: %s\n", valueOr(p.UnitFileState))
		fmt.Fprintf(&b, "MainPID:       %d\n\n", p.MainPID)
	} else {
		b.WriteString("not available\n\n")
	}

	b.WriteString("System Information:\n-------------------\n")
	writeHostSection(&b, host)

	fmt.Fprintf(&b, "Top %d CPU Consumers:\n--------------------\n", len(rep.Snapshot.TopCPU))
	writeProcTable(&b, rep.Snapshot.TopCPU, func(p diag.ProcessInfo) string {
		return fmt.Sprintf("%6.1f%%", p.CPUPercent)
	})

	fmt.Fprintf(&b, "Top %d Memory Consumers:\n-----------------------\n", len(rep.Snapshot.TopMem))
	writeProcTable(&b, rep.Snapshot.TopMem, func(p diag.ProcessInfo) string {
		return fmt.Sprintf("%6.1f%% (%.0f MB)", p.MemoryPercent, p.MemoryMB)
	})

	b.WriteString("Recent Service Journal:\n-----------------------\n")
	writeLines(&b, rep.Journal)

	b.WriteString("Recent Watchdog Logs:\n---------------------\n")
	writeLines(&b, rep.LogTail)

	b.WriteString("Recommended Actions:\n--------------------\n")
	fmt.Fprintf(&b, "1. Check service status: systemctl status %s\n", ev.Service)
	fmt.Fprintf(&b, "2. View service logs:    journalctl -u %s -f\n", ev.Service)
	b.WriteString("3. Check system resources: free -h; df -h\n")
	b.WriteString("4. Verify configuration files\n")
	b.WriteString("5. Check for disk space issues\n\n")

	b.WriteString("This is an automated alert from unitmon.\n")
	b.WriteString("The failure count resets when the service returns to normal operation.\n")

	ev.Body = b.String()
}

func writeHostSection(b *strings.Builder, h diag.HostInfo) {
	if h.Platform != "" {
		fmt.Fprintf(b, "OS:       %s (kernel %s)\n", h.Platform, h.KernelVersion)
	}
	if h.Uptime > 0 {
		fmt.Fprintf(b, "Uptime:   %s\n", formatUptime(h.Uptime))
	}
	fmt.Fprintf(b, "Load:     %.2f %.2f %.2f\n", h.Load1, h.Load5, h.Load15)
	if h.MemoryTotalMB > 0 {
		fmt.Fprintf(b, "Memory:   %.0f/%.0f MB used (%.1f%%)\n", h.MemoryUsedMB, h.MemoryTotalMB, h.MemoryUsedPct)
	}
	if h.RootFSTotalGB > 0 {
		fmt.Fprintf(b, "Root FS:  %.1f/%.1f GB used (%.1f%%)\n", h.RootFSUsedGB, h.RootFSTotalGB, h.RootFSUsedPct)
	}
	if h.ProcessCount > 0 {
		fmt.Fprintf(b, "Procs:    %d\n", h.ProcessCount)
	}
	b.WriteString("\n")
}

func writeProcTable(b *strings.Builder, rows []diag.ProcessInfo, metric func(diag.ProcessInfo) string) {
	if len(rows) == 0 {
		b.WriteString("not available\n\n")
		return
	}
	for _, p := range rows {
		name := p.Name
		if name == "" {
			name = "?"
		}
		fmt.Fprintf(b, "%8d  %-20s %-10s %s\n", p.PID, truncate(name, 20), truncate(p.User, 10), metric(p))
	}
	b.WriteString("\n")
}

func writeLines(b *strings.Builder, lines []string) {
	if len(lines) == 0 {
		b.WriteString("not available\n\n")
		return
	}
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\n")
	}
	b.WriteString("\n")
}

func valueOr(s string) string {
	if s == "" {
		return "?"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	return fmt.Sprintf("%dh %dm", hours, mins)
}
