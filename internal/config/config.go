package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Action is what the watchdog does when a unit is found down.
type Action string

const (
	ActionRestart Action = "restart"
	ActionStart   Action = "start"
	ActionNone    Action = "none"
)

// ServiceSpec describes one watched unit. Loaded once from the config file
// and immutable for the process lifetime.
type ServiceSpec struct {
	Name   string `toml:"name" mapstructure:"name"`
	Action Action `toml:"action" mapstructure:"action"`
	Alarm  bool   `toml:"alarm" mapstructure:"alarm"`
}

// Config is the top-level TOML structure. All durations accept Go duration
// strings ("5s", "1h"). See Default for the values applied when a field is
// omitted.
type Config struct {
	AdminEmail     string        `toml:"admin_email" mapstructure:"admin_email"`
	AlertThreshold int           `toml:"alert_threshold" mapstructure:"alert_threshold"`
	AlertRateLimit time.Duration `toml:"alert_rate_limit" mapstructure:"alert_rate_limit"`
	RetryCount     int           `toml:"retry_count" mapstructure:"retry_count"`
	RetryDelay     time.Duration `toml:"retry_delay" mapstructure:"retry_delay"`
	CheckInterval  time.Duration `toml:"check_interval" mapstructure:"check_interval"`
	Daemon         bool          `toml:"daemon" mapstructure:"daemon"`
	StateFile      string        `toml:"state_file" mapstructure:"state_file"`
	LockFile       string        `toml:"lock_file" mapstructure:"lock_file"`
	LockStaleAfter time.Duration `toml:"lock_stale_after" mapstructure:"lock_stale_after"`

	Services []ServiceSpec `toml:"services" mapstructure:"services"`

	Email   EmailConfig   `toml:"email" mapstructure:"email"`
	Log     LogConfig     `toml:"log" mapstructure:"log"`
	Init    InitConfig    `toml:"init" mapstructure:"init"`
	Diag    DiagConfig    `toml:"diagnostics" mapstructure:"diagnostics"`
	Metrics MetricsConfig `toml:"metrics" mapstructure:"metrics"`
	Server  ServerConfig  `toml:"server" mapstructure:"server"`
	History HistoryConfig `toml:"history" mapstructure:"history"`
}

// EmailConfig selects the alert delivery backend and its settings.
type EmailConfig struct {
	Method       string        `toml:"method" mapstructure:"method"`
	From         string        `toml:"from" mapstructure:"from"`
	SendmailPath string        `toml:"sendmail_path" mapstructure:"sendmail_path"`
	MailPath     string        `toml:"mail_path" mapstructure:"mail_path"`
	Timeout      time.Duration `toml:"timeout" mapstructure:"timeout"`
	SMTP         SMTPConfig    `toml:"smtp" mapstructure:"smtp"`
}

type SMTPConfig struct {
	Host     string `toml:"host" mapstructure:"host"`
	Port     int    `toml:"port" mapstructure:"port"`
	Username string `toml:"username" mapstructure:"username"`
	Password string `toml:"password" mapstructure:"password"`
	StartTLS bool   `toml:"starttls" mapstructure:"starttls"`
}

type LogConfig struct {
	File       string `toml:"file" mapstructure:"file"`
	Level      string `toml:"level" mapstructure:"level"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
	Console    bool   `toml:"console" mapstructure:"console"`
	Journal    bool   `toml:"journal" mapstructure:"journal"`
}

// InitConfig selects and tunes the init-system backend.
type InitConfig struct {
	Backend        string        `toml:"backend" mapstructure:"backend"`
	SystemctlPath  string        `toml:"systemctl_path" mapstructure:"systemctl_path"`
	Timeout        time.Duration `toml:"timeout" mapstructure:"timeout"`
	StabilizeDelay time.Duration `toml:"stabilize_delay" mapstructure:"stabilize_delay"`
}

type DiagConfig struct {
	TopProcesses int `toml:"top_processes" mapstructure:"top_processes"`
	LogTailLines int `toml:"log_tail_lines" mapstructure:"log_tail_lines"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
}

type ServerConfig struct {
	Enabled  bool       `toml:"enabled" mapstructure:"enabled"`
	Listen   string     `toml:"listen" mapstructure:"listen"`
	BasePath string     `toml:"base_path" mapstructure:"base_path"`
	TLS      *TLSConfig `toml:"tls" mapstructure:"tls"`
}

type TLSConfig struct {
	Enabled      bool   `toml:"enabled" mapstructure:"enabled"`
	CertFile     string `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string `toml:"key_file" mapstructure:"key_file"`
	Dir          string `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool   `toml:"auto_generate" mapstructure:"auto_generate"`
	MinVersion   string `toml:"min_version" mapstructure:"min_version"`
	MaxVersion   string `toml:"max_version" mapstructure:"max_version"`
}

type HistoryConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

const (
	MethodSendmail = "sendmail"
	MethodSMTP     = "smtp"
	MethodMail     = "mail"
	MethodNone     = "none"

	BackendSystemctl = "systemctl"
	BackendDbus      = "dbus"
)

// Default returns a Config carrying the documented defaults. Services and
// AdminEmail are intentionally left empty: both must come from the file.
func Default() Config {
	return Config{
		AlertThreshold: 10,
		AlertRateLimit: time.Hour,
		RetryCount:     3,
		RetryDelay:     5 * time.Second,
		CheckInterval:  60 * time.Second,
		StateFile:      "/var/lib/unitmon/state.json",
		LockFile:       "/tmp/unitmon.lock",
		LockStaleAfter: 10 * time.Minute,
		Email: EmailConfig{
			Method:       MethodSendmail,
			SendmailPath: "/usr/sbin/sendmail",
			MailPath:     "/usr/bin/mail",
			Timeout:      30 * time.Second,
			SMTP:         SMTPConfig{Port: 587, StartTLS: true},
		},
		Log: LogConfig{
			File:       "/var/log/unitmon.log",
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Console:    true,
			Journal:    true,
		},
		Init: InitConfig{
			Backend:        BackendSystemctl,
			SystemctlPath:  "systemctl",
			Timeout:        30 * time.Second,
			StabilizeDelay: 3 * time.Second,
		},
		Diag: DiagConfig{
			TopProcesses: 10,
			LogTailLines: 20,
		},
		Metrics: MetricsConfig{Listen: ":9090"},
		Server:  ServerConfig{Listen: ":8080", BasePath: "/api"},
	}
}

// Load reads a TOML config file, applies defaults for omitted fields and
// validates the result. A missing or malformed file, or a validation
// failure, is returned as an error: the caller must not run with it.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate checks the whole configuration. It reports the first problem
// found; the process must refuse to start on any of them.
func (c *Config) Validate() error {
	if len(c.Services) == 0 {
		return fmt.Errorf("no services configured")
	}
	seen := make(map[string]struct{}, len(c.Services))
	for i, s := range c.Services {
		if s.Name == "" {
			return fmt.Errorf("service %d: name required", i)
		}
		if !isValidUnitName(s.Name) {
			return fmt.Errorf("service %q: invalid unit name", s.Name)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("service %q listed twice", s.Name)
		}
		seen[s.Name] = struct{}{}
		switch s.Action {
		case ActionRestart, ActionStart, ActionNone:
		case "":
			return fmt.Errorf("service %q: action required (restart, start or none)", s.Name)
		default:
			return fmt.Errorf("service %q: unknown action %q", s.Name, s.Action)
		}
	}
	if c.AlertThreshold < 1 {
		return fmt.Errorf("alert_threshold must be >= 1, got %d", c.AlertThreshold)
	}
	if c.AlertRateLimit < 0 {
		return fmt.Errorf("alert_rate_limit must not be negative")
	}
	if c.RetryCount < 0 {
		return fmt.Errorf("retry_count must not be negative")
	}
	if c.RetryDelay < 0 {
		return fmt.Errorf("retry_delay must not be negative")
	}
	if c.CheckInterval < time.Second {
		return fmt.Errorf("check_interval must be at least 1s, got %s", c.CheckInterval)
	}
	if c.StateFile == "" {
		return fmt.Errorf("state_file required")
	}
	if c.LockFile == "" {
		return fmt.Errorf("lock_file required")
	}
	if c.LockStaleAfter <= 0 {
		return fmt.Errorf("lock_stale_after must be positive")
	}
	if err := c.validateEmail(); err != nil {
		return err
	}
	switch c.Init.Backend {
	case BackendSystemctl, BackendDbus:
	default:
		return fmt.Errorf("unknown init backend %q (systemctl or dbus)", c.Init.Backend)
	}
	if c.Init.Timeout <= 0 {
		return fmt.Errorf("init timeout must be positive")
	}
	if c.Diag.TopProcesses < 0 {
		return fmt.Errorf("diagnostics top_processes must not be negative")
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics enabled but no listen address")
	}
	if c.Server.Enabled && c.Server.Listen == "" {
		return fmt.Errorf("server enabled but no listen address")
	}
	return nil
}

func (c *Config) validateEmail() error {
	switch c.Email.Method {
	case MethodSendmail, MethodSMTP, MethodMail, MethodNone:
	default:
		return fmt.Errorf("unknown email method %q (sendmail, smtp, mail or none)", c.Email.Method)
	}
	if c.Email.Method == MethodNone {
		return nil
	}
	// Alerts that would actually be delivered need a recipient. No default
	// is guessed for it.
	if c.anyAlarmed() {
		if c.AdminEmail == "" {
			return fmt.Errorf("admin_email required when alarmed services use email method %q", c.Email.Method)
		}
		if !strings.Contains(c.AdminEmail, "@") {
			return fmt.Errorf("admin_email %q does not look like an address", c.AdminEmail)
		}
	}
	if c.Email.Timeout <= 0 {
		return fmt.Errorf("email timeout must be positive")
	}
	switch c.Email.Method {
	case MethodSMTP:
		if c.Email.SMTP.Host == "" {
			return fmt.Errorf("email method smtp requires smtp.host")
		}
		if c.Email.SMTP.Port < 1 || c.Email.SMTP.Port > 65535 {
			return fmt.Errorf("smtp.port %d out of range", c.Email.SMTP.Port)
		}
	case MethodSendmail:
		if c.Email.SendmailPath == "" {
			return fmt.Errorf("email method sendmail requires sendmail_path")
		}
	case MethodMail:
		if c.Email.MailPath == "" {
			return fmt.Errorf("email method mail requires mail_path")
		}
	}
	return nil
}

func (c *Config) anyAlarmed() bool {
	for _, s := range c.Services {
		if s.Alarm {
			return true
		}
	}
	return false
}

// Service returns the spec for name, if configured.
func (c *Config) Service(name string) (ServiceSpec, bool) {
	for _, s := range c.Services {
		if s.Name == name {
			return s, true
		}
	}
	return ServiceSpec{}, false
}

// isValidUnitName accepts the systemd unit-name charset: letters, digits,
// ":", "-", "_", ".", "\", "@". Path separators and whitespace are rejected
// because names end up in shell-free exec argv and in filenames.
func isValidUnitName(s string) bool {
	if len(s) > 255 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == ':' || r == '-' || r == '_' || r == '.' || r == '\\' || r == '@':
		default:
			return false
		}
	}
	return !strings.Contains(s, "/")
}
