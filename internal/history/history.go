// Package history exports watchdog events to external analytics systems.
// The export is an audit trail only: a sink error is logged by the caller
// and never affects monitoring.
package history

import (
	"context"
	"time"
)

// EventType is the kind of watchdog event.
type EventType string

const (
	EventDown             EventType = "down"
	EventRecovered        EventType = "recovered"
	EventRestartSucceeded EventType = "restart_succeeded"
	EventRestartFailed    EventType = "restart_failed"
	EventAlertSent        EventType = "alert_sent"
	EventAlertFailed      EventType = "alert_failed"
)

// Event is one exported record.
type Event struct {
	Type       EventType `json:"type"`
	Service    string    `json:"service"`
	OccurredAt time.Time `json:"occurred_at"`
	Failures   int       `json:"failures"`
	Detail     string    `json:"detail,omitempty"`
}

// Sink is a destination for watchdog events. Implementations must be safe
// for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
