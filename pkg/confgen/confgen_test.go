package confgen

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/unitmon/unitmon/internal/config"
)

func TestGenerateUnknownProfile(t *testing.T) {
	g := NewGenerator()
	if _, err := g.Generate("bogus", ""); err == nil {
		t.Fatal("expected error for unknown profile")
	}
}

func TestGenerateProfileAliases(t *testing.T) {
	g := NewGenerator()
	a, err := g.Generate(ProfileWebserver, "ops@example.com")
	if err != nil {
		t.Fatalf("webserver: %v", err)
	}
	b, err := g.Generate(ProfileWeb, "ops@example.com")
	if err != nil {
		t.Fatalf("web: %v", err)
	}
	if string(a) != string(b) {
		t.Fatal("web alias should produce the same output as webserver")
	}
}

func TestGeneratedProfilesLoad(t *testing.T) {
	g := NewGenerator()
	for _, name := range g.GetSupportedProfiles() {
		t.Run(name, func(t *testing.T) {
			out, err := g.Generate(Profile(name), "admin@example.com")
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, out, 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			cfg, err := config.Load(path)
			if err != nil {
				t.Fatalf("generated %s config does not load: %v", name, err)
			}
			if len(cfg.Services) == 0 {
				t.Fatal("no services in generated config")
			}
			if cfg.AdminEmail != "admin@example.com" {
				t.Fatalf("admin_email = %q", cfg.AdminEmail)
			}
		})
	}
}

func TestFullProfileSections(t *testing.T) {
	g := NewGenerator()
	out, err := g.Generate(ProfileFull, "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	text := string(out)
	for _, want := range []string{"[metrics]", "[server]", "[init]", "admin@example.com"} {
		if !strings.Contains(text, want) {
			t.Fatalf("full profile missing %q", want)
		}
	}
}
