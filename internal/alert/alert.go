// Package alert delivers watchdog notifications to the administrator.
// Delivery is polymorphic over a small capability interface; the monitor
// depends only on Dispatcher and enforces rate limiting itself, so every
// backend is stateless per call.
package alert

import (
	"context"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/unitmon/unitmon/internal/config"
)

// Event is one alert to deliver. Subject and Body are filled by Compose
// before dispatch; the remaining fields describe the failure itself.
type Event struct {
	Service    string
	Failures   int
	Action     string
	Retries    int
	OccurredAt time.Time
	Subject    string
	Body       string
}

// Dispatcher sends one Event. A nil error means sent. Implementations must
// honor ctx cancellation so a hung delivery degrades to a logged failure.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event) error
	Method() string
}

// New selects the backend configured under [email]. The admin address is
// the recipient for every real backend.
func New(cfg config.EmailConfig, adminEmail string) (Dispatcher, error) {
	switch cfg.Method {
	case config.MethodNone, "":
		return Nop{}, nil
	case config.MethodSendmail:
		return NewSendmail(cfg, adminEmail), nil
	case config.MethodMail:
		return NewMail(cfg, adminEmail), nil
	case config.MethodSMTP:
		return NewSMTP(cfg, adminEmail), nil
	default:
		return nil, fmt.Errorf("unknown email method %q", cfg.Method)
	}
}

// Nop reports every event as sent without performing I/O.
type Nop struct{}

func (Nop) Dispatch(context.Context, Event) error { return nil }
func (Nop) Method() string                        { return config.MethodNone }

// message renders the full RFC 822 text handed to sendmail or SMTP DATA.
// The subject is MIME Q-encoded so non-ASCII unit descriptions survive.
func message(from, to string, ev Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", ev.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", ev.OccurredAt.Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(ev.Body, "\n", "\r\n"))
	return b.String()
}
