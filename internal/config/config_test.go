package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/gommon/log"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if cfg.Listen != ":8080" {
		t.Errorf("expected Listen=:8080, got %s", cfg.Listen)
	}
	if cfg.Interval() != 5*time.Second || cfg.TTL() != 5*time.Second {
		t.Errorf("expected 5s interval and ttl, got %s and %s", cfg.Interval(), cfg.TTL())
	}
	if cfg.ProcRoot != "/proc" {
		t.Errorf("expected ProcRoot=/proc, got %s", cfg.ProcRoot)
	}
	if cfg.Level() != log.INFO {
		t.Errorf("expected INFO level, got %v", cfg.Level())
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "*" {
		t.Errorf("expected CORSOrigins=[*], got %v", cfg.CORSOrigins)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.RefreshInterval != "5s" {
		t.Errorf("expected defaults, got %+v", cfg)
	}
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hostscope.yaml")
	data := `listen: "127.0.0.1:9000"
refresh_interval: 2s
log_level: debug
cors_origins:
  - http://localhost:3000
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.Listen != "127.0.0.1:9000" || cfg.Interval() != 2*time.Second {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.CacheTTL != "5s" || cfg.PasswdPath != "/etc/passwd" {
		t.Errorf("absent keys lost their defaults: %+v", cfg)
	}
	if cfg.Level() != log.DEBUG {
		t.Errorf("expected DEBUG, got %v", cfg.Level())
	}
}

func TestLoadConfigBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("listen: [unterminated\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"bad interval", func(c *Config) { c.RefreshInterval = "soon" }, "refresh_interval"},
		{"zero ttl", func(c *Config) { c.CacheTTL = "0s" }, "cache_ttl"},
		{"bad listen", func(c *Config) { c.Listen = "8080" }, "listen"},
		{"unknown level", func(c *Config) { c.LogLevel = "verbose" }, "log_level"},
		{"negative rate", func(c *Config) { c.RateLimit = -1 }, "rate_limit"},
		{"empty origin", func(c *Config) { c.CORSOrigins = []string{""} }, "cors_origins"},
		{"no proc root", func(c *Config) { c.ProcRoot = "" }, "proc_root"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not name %s", err, tt.field)
			}
		})
	}
}

func TestMustRegisterPanicsOnBadTag(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("registering an empty tag did not panic")
		}
	}()
	mustRegister(validator.New(), "", func(validator.FieldLevel) bool { return true })
}

func TestShippedConfigIsValid(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "..", "hostscope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":8080" || cfg.Interval() != 5*time.Second {
		t.Fatalf("listen = %q interval = %v", cfg.Listen, cfg.Interval())
	}
}
