// Package confgen generates starter TOML configuration files for common
// monitoring setups. The output is a complete config that passes validation
// once the admin email is filled in.
package confgen

import (
	"fmt"
	"strings"
)

// Profile selects which starter configuration to generate.
type Profile string

const (
	ProfileMinimal   Profile = "minimal"
	ProfileBasic     Profile = "basic"
	ProfileWebserver Profile = "webserver"
	ProfileWeb       Profile = "web"
	ProfileDatabase  Profile = "database"
	ProfileDB        Profile = "db"
	ProfileSSH       Profile = "ssh"
	ProfileFull      Profile = "full"
)

// entry is one watched unit in a generated profile.
type entry struct {
	Name   string
	Action string
	Alarm  bool
}

// Generator produces configuration files by profile.
type Generator struct{}

// NewGenerator creates a new configuration generator.
func NewGenerator() *Generator {
	return &Generator{}
}

// GetSupportedProfiles returns the canonical profile names.
func (g *Generator) GetSupportedProfiles() []string {
	return []string{
		string(ProfileMinimal),
		string(ProfileWebserver),
		string(ProfileDatabase),
		string(ProfileSSH),
		string(ProfileFull),
	}
}

// Generate renders a TOML config for the given profile. adminEmail may be
// empty; a placeholder is emitted so the file is self-explanatory.
func (g *Generator) Generate(profile Profile, adminEmail string) ([]byte, error) {
	switch profile {
	case ProfileMinimal, ProfileBasic:
		return g.render(adminEmail, false, []entry{
			{Name: "nginx.service", Action: "restart", Alarm: true},
		}), nil
	case ProfileWebserver, ProfileWeb:
		return g.render(adminEmail, false, []entry{
			{Name: "nginx.service", Action: "restart", Alarm: true},
			{Name: "php-fpm.service", Action: "restart", Alarm: true},
			{Name: "redis.service", Action: "restart", Alarm: false},
		}), nil
	case ProfileDatabase, ProfileDB:
		return g.render(adminEmail, false, []entry{
			{Name: "postgresql.service", Action: "restart", Alarm: true},
			{Name: "pgbouncer.service", Action: "restart", Alarm: true},
		}), nil
	case ProfileSSH:
		return g.render(adminEmail, false, []entry{
			{Name: "sshd.service", Action: "restart", Alarm: true},
		}), nil
	case ProfileFull:
		return g.render(adminEmail, true, []entry{
			{Name: "nginx.service", Action: "restart", Alarm: true},
			{Name: "postgresql.service", Action: "restart", Alarm: true},
			{Name: "sshd.service", Action: "restart", Alarm: true},
			{Name: "cron.service", Action: "start", Alarm: false},
			{Name: "node-exporter.service", Action: "none", Alarm: false},
		}), nil
	default:
		return nil, fmt.Errorf("unknown profile: %s (supported: %s)",
			profile, strings.Join(g.GetSupportedProfiles(), ", "))
	}
}

func (g *Generator) render(adminEmail string, full bool, services []entry) []byte {
	if adminEmail == "" {
		adminEmail = "admin@example.com"
	}

	var b strings.Builder
	b.WriteString("# unitmon configuration\n")
	fmt.Fprintf(&b, "admin_email = %q\n", adminEmail)
	b.WriteString("alert_threshold = 10\n")
	b.WriteString("alert_rate_limit = \"1h\"\n")
	b.WriteString("retry_count = 3\n")
	b.WriteString("retry_delay = \"5s\"\n")
	b.WriteString("check_interval = \"60s\"\n")
	b.WriteString("state_file = \"/var/lib/unitmon/state.json\"\n")
	b.WriteString("lock_file = \"/tmp/unitmon.lock\"\n")

	for _, s := range services {
		b.WriteString("\n[[services]]\n")
		fmt.Fprintf(&b, "name = %q\n", s.Name)
		fmt.Fprintf(&b, "action = %q\n", s.Action)
		fmt.Fprintf(&b, "alarm = %t\n", s.Alarm)
	}

	b.WriteString("\n[email]\n")
	b.WriteString("method = \"sendmail\"\n")
	b.WriteString("sendmail_path = \"/usr/sbin/sendmail\"\n")

	b.WriteString("\n[log]\n")
	b.WriteString("file = \"/var/log/unitmon.log\"\n")
	b.WriteString("level = \"info\"\n")

	if full {
		b.WriteString("\n[init]\n")
		b.WriteString("backend = \"systemctl\"\n")
		b.WriteString("stabilize_delay = \"3s\"\n")

		b.WriteString("\n[metrics]\n")
		b.WriteString("enabled = true\n")
		b.WriteString("listen = \":9090\"\n")

		b.WriteString("\n[server]\n")
		b.WriteString("enabled = true\n")
		b.WriteString("listen = \":8080\"\n")
		b.WriteString("base_path = \"/api\"\n")

		b.WriteString("\n[history]\n")
		b.WriteString("# dsn = \"sqlite:///var/lib/unitmon/history.db\"\n")
	}

	return []byte(b.String())
}
