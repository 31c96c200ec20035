package logger

import (
	"context"
	"log/slog"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
)

// journalHandler mirrors records to systemd-journald. Attrs become journal
// fields (uppercased, sanitized); the level maps to a syslog priority.
type journalHandler struct {
	level slog.Leveler
	attrs []slog.Attr
	group string
}

// newJournalHandler returns nil when no journal socket is present, so the
// fanout silently skips the journal outside of systemd environments.
func newJournalHandler(level slog.Leveler) slog.Handler {
	if !journal.Enabled() {
		return nil
	}
	return &journalHandler{level: level}
}

func (h *journalHandler) Enabled(_ context.Context, level slog.Level) bool {
	min := slog.LevelInfo
	if h.level != nil {
		min = h.level.Level()
	}
	return level >= min
}

func (h *journalHandler) Handle(_ context.Context, r slog.Record) error {
	vars := map[string]string{
		"SYSLOG_IDENTIFIER": "unitmon",
	}
	for _, a := range h.attrs {
		vars[journalFieldName(h.group, a.Key)] = a.Value.String()
	}
	r.Attrs(func(a slog.Attr) bool {
		vars[journalFieldName(h.group, a.Key)] = a.Value.String()
		return true
	})
	return journal.Send(r.Message, journalPriority(r.Level), vars)
}

func (h *journalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := *h
	nh.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &nh
}

func (h *journalHandler) WithGroup(name string) slog.Handler {
	nh := *h
	if nh.group != "" {
		nh.group += "_" + name
	} else {
		nh.group = name
	}
	return &nh
}

func journalPriority(level slog.Level) journal.Priority {
	switch {
	case level >= slog.LevelError:
		return journal.PriErr
	case level >= slog.LevelWarn:
		return journal.PriWarning
	case level >= slog.LevelInfo:
		return journal.PriInfo
	default:
		return journal.PriDebug
	}
}

// journalFieldName maps an attr key to a valid journal field: uppercase,
// [A-Z0-9_] only, no leading underscore or digit.
func journalFieldName(group, key string) string {
	name := key
	if group != "" {
		name = group + "_" + key
	}
	var b strings.Builder
	for _, r := range strings.ToUpper(name) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	out := b.String()
	if out == "" || out[0] == '_' || (out[0] >= '0' && out[0] <= '9') {
		out = "X" + out
	}
	if len(out) > 64 {
		out = out[:64]
	}
	return out
}
