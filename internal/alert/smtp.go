package alert

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"

	"github.com/unitmon/unitmon/internal/config"
)

// SMTP delivers through a remote server: dial, EHLO, optional STARTTLS,
// optional PLAIN auth, then one MAIL/RCPT/DATA transaction per event.
// The ctx deadline is applied to the connection so a stalled server cannot
// hang a monitoring cycle.
type SMTP struct {
	cfg  config.SMTPConfig
	from string
	to   string
}

func NewSMTP(cfg config.EmailConfig, to string) *SMTP {
	return &SMTP{cfg: cfg.SMTP, from: senderOr(cfg.From), to: to}
}

func (s *SMTP) Method() string { return config.MethodSMTP }

func (s *SMTP) Dispatch(ctx context.Context, ev Event) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("smtp dial %s: %w", addr, err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake %s: %w", addr, err)
	}
	defer func() { _ = c.Close() }()

	if s.cfg.StartTLS {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return fmt.Errorf("smtp %s: starttls required but not offered", addr)
		}
		if err := c.StartTLS(&tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("smtp starttls %s: %w", addr, err)
		}
	}
	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth %s as %s: %w", addr, s.cfg.Username, err)
		}
	}
	if err := c.Mail(s.from); err != nil {
		return fmt.Errorf("smtp mail from %s: %w", s.from, err)
	}
	if err := c.Rcpt(s.to); err != nil {
		return fmt.Errorf("smtp rcpt to %s: %w", s.to, err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write([]byte(message(s.from, s.to, ev))); err != nil {
		_ = w.Close()
		return fmt.Errorf("smtp write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp finish message: %w", err)
	}
	return c.Quit()
}
