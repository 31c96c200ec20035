package alert

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/unitmon/unitmon/internal/config"
)

// mailRunner executes a local delivery binary with a message on stdin.
// An interface so tests can script outcomes without an MTA installed.
type mailRunner interface {
	run(ctx context.Context, stdin string, name string, args ...string) error
}

type execMailRunner struct{}

func (execMailRunner) run(ctx context.Context, stdin string, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = strings.NewReader(stdin)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Sendmail pipes a complete RFC 822 message into the local MTA binary.
type Sendmail struct {
	path string
	from string
	to   string
	r    mailRunner
}

func NewSendmail(cfg config.EmailConfig, to string) *Sendmail {
	path := cfg.SendmailPath
	if path == "" {
		path = "/usr/sbin/sendmail"
	}
	return &Sendmail{path: path, from: senderOr(cfg.From), to: to, r: execMailRunner{}}
}

func (s *Sendmail) Method() string { return config.MethodSendmail }

func (s *Sendmail) Dispatch(ctx context.Context, ev Event) error {
	// -t reads recipients from the headers, -i ignores lone dots in the body
	if err := s.r.run(ctx, message(s.from, s.to, ev), s.path, "-t", "-i"); err != nil {
		return fmt.Errorf("sendmail delivery to %s: %w", s.to, err)
	}
	return nil
}

// Mail invokes a command-line mail utility with the body on stdin.
type Mail struct {
	path string
	to   string
	r    mailRunner
}

func NewMail(cfg config.EmailConfig, to string) *Mail {
	path := cfg.MailPath
	if path == "" {
		path = "/usr/bin/mail"
	}
	return &Mail{path: path, to: to, r: execMailRunner{}}
}

func (m *Mail) Method() string { return config.MethodMail }

func (m *Mail) Dispatch(ctx context.Context, ev Event) error {
	if err := m.r.run(ctx, ev.Body, m.path, "-s", ev.Subject, m.to); err != nil {
		return fmt.Errorf("mail delivery to %s: %w", m.to, err)
	}
	return nil
}

// senderOr defaults the envelope sender to unitmon@<hostname>.
func senderOr(from string) string {
	if from != "" {
		return from
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "localhost"
	}
	return "unitmon@" + hostname
}
