// Package config loads the hostscope server configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/gommon/log"
	"gopkg.in/yaml.v3"
)

// Config is the server configuration. Durations are strings such as "5s".
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" validate:"required,hostname_port"`
	// RefreshInterval is the time between primary snapshot refreshes.
	RefreshInterval string `yaml:"refresh_interval" validate:"required,duration"`
	// CacheTTL is how long directory listings and process I/O stay fresh.
	CacheTTL string `yaml:"cache_ttl" validate:"required,duration"`
	// ProcRoot is where the process information filesystem is mounted.
	ProcRoot   string `yaml:"proc_root" validate:"required"`
	PasswdPath string `yaml:"passwd_path" validate:"required"`
	GroupPath  string `yaml:"group_path" validate:"required"`
	// LogLevel is one of debug, info, warn, error or off.
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error off"`
	// CORSOrigins lists the origins allowed to call the API.
	CORSOrigins []string `yaml:"cors_origins" validate:"dive,required"`
	// RateLimit caps requests per second per client on the on-demand
	// endpoints. Zero disables limiting.
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`
}

func DefaultConfig() *Config {
	return &Config{
		Listen:          ":8080",
		RefreshInterval: "5s",
		CacheTTL:        "5s",
		ProcRoot:        "/proc",
		PasswdPath:      "/etc/passwd",
		GroupPath:       "/etc/group",
		LogLevel:        "info",
		CORSOrigins:     []string{"*"},
		RateLimit:       20,
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	mustRegister(v, "duration", func(fl validator.FieldLevel) bool {
		d, err := time.ParseDuration(fl.Field().String())
		return err == nil && d > 0
	})
	return v
}

func mustRegister(v *validator.Validate, tag string, fn validator.Func) {
	if err := v.RegisterValidation(tag, fn); err != nil {
		panic(fmt.Sprintf("register %q validation: %v", tag, err))
	}
}

// LoadConfig reads the YAML file at path over the defaults. A missing file
// yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks every field and reports the first offending key.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("config: %s failed %q validation (value %v)", fe.Field(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func (c *Config) Interval() time.Duration {
	d, _ := time.ParseDuration(c.RefreshInterval)
	return d
}

func (c *Config) TTL() time.Duration {
	d, _ := time.ParseDuration(c.CacheTTL)
	return d
}

// Level maps LogLevel onto the logger's levels, defaulting to INFO.
func (c *Config) Level() log.Lvl {
	switch c.LogLevel {
	case "debug":
		return log.DEBUG
	case "warn":
		return log.WARN
	case "error":
		return log.ERROR
	case "off":
		return log.OFF
	}
	return log.INFO
}
