// Package config provides YAML configuration loading with validation and
// environment variable substitution for the resilience daemon, plus the
// per-command property resolution the metrics and breaker layers consume.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level daemon configuration.
type Config struct {
	Server   ServerConfig         `yaml:"server" json:"server"`
	Metrics  MetricsConfig        `yaml:"metrics" json:"metrics"`
	Logging  LoggingConfig        `yaml:"logging" json:"logging"`
	Admin    AdminConfig          `yaml:"admin" json:"admin"`
	Defaults Overrides            `yaml:"defaults" json:"defaults"`
	Commands map[string]Overrides `yaml:"commands" json:"commands"`
	Demo     DemoConfig           `yaml:"demo" json:"demo"`

	// Warnings holds non-fatal config issues detected during loading.
	// Stored on the Config itself (not a package-level var) so it is
	// safe to call Load concurrently from the hot-reload goroutine.
	Warnings []string `yaml:"-" json:"-"`
}

// ServerConfig holds HTTP server settings for the metrics/admin endpoints.
type ServerConfig struct {
	Port            int           `yaml:"port" json:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
}

// MetricsConfig holds Prometheus metrics endpoint settings.
// Enabled defaults to true; set to false to disable metrics.
type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
}

// IsEnabled returns whether metrics are enabled (defaults to true).
func (m MetricsConfig) IsEnabled() bool {
	if m.Enabled == nil {
		return true
	}
	return *m.Enabled
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	Output     string `yaml:"output" json:"output"`           // "stdout", "stderr", or file path; default: "stdout"
	Level      string `yaml:"level" json:"level"`             // debug, info, warn, error; default: "info"
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"` // max log file size before rotation; default: 100
	MaxBackups int    `yaml:"max_backups" json:"max_backups"` // number of rotated files to keep; default: 3
	MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
}

// AdminConfig holds read-only admin API settings.
type AdminConfig struct {
	Enabled     bool       `yaml:"enabled" json:"enabled"`
	IPAllowlist []string   `yaml:"ip_allowlist" json:"ip_allowlist"` // CIDR notation
	Auth        AuthConfig `yaml:"auth" json:"auth"`
}

// AuthConfig holds JWT Bearer authentication settings for the admin API.
type AuthConfig struct {
	Enabled   bool   `yaml:"enabled" json:"enabled"`
	JWTSecret string `yaml:"jwt_secret" json:"-"`
	Issuer    string `yaml:"issuer" json:"issuer"`
	Audience  string `yaml:"audience" json:"audience"`
}

// DemoConfig drives the synthetic load loops in cmd/resilienced. Each
// target is wrapped in its own command and paced by a token bucket.
type DemoConfig struct {
	Enabled           bool         `yaml:"enabled" json:"enabled"`
	RequestsPerSecond float64      `yaml:"requests_per_second" json:"requests_per_second"`
	Burst             int          `yaml:"burst" json:"burst"`
	Targets           []DemoTarget `yaml:"targets" json:"targets"`
}

// DemoTarget names one backend URL to exercise under a command key.
type DemoTarget struct {
	Command string `yaml:"command" json:"command"`
	URL     string `yaml:"url" json:"url"`
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns in s with the corresponding
// environment variable value.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(match string) string {
		key := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(key); ok {
			return val
		}
		return match
	})
}

// Load reads and parses a YAML configuration file, applies environment
// variable substitution, sets defaults, and validates the result.
// Warnings are stored on cfg.Warnings (goroutine-safe, no package-level state).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes. Useful for testing.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	cfg.Warnings = collectWarnings(&cfg)

	return &cfg, nil
}

// PropertiesFor resolves the effective properties for a command key:
// built-in defaults, then the file's defaults section, then the command's
// own overrides.
func (c *Config) PropertiesFor(key string) Properties {
	props := Resolve(DefaultProperties(), c.Defaults)
	if o, ok := c.Commands[key]; ok {
		props = Resolve(props, o)
	}
	return props
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	// Logging defaults
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = "stdout"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.MaxSizeMB == 0 {
		cfg.Logging.MaxSizeMB = 100
	}
	if cfg.Logging.MaxBackups == 0 {
		cfg.Logging.MaxBackups = 3
	}
	if cfg.Logging.MaxAgeDays == 0 {
		cfg.Logging.MaxAgeDays = 30
	}

	// Demo defaults
	if cfg.Demo.Enabled {
		if cfg.Demo.RequestsPerSecond == 0 {
			cfg.Demo.RequestsPerSecond = 10
		}
		if cfg.Demo.Burst == 0 {
			cfg.Demo.Burst = 5
		}
	}
}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Output != "stdout" && cfg.Logging.Output != "stderr" {
		if cfg.Logging.MaxSizeMB < 1 {
			return fmt.Errorf("logging.max_size_mb must be positive when output is a file path")
		}
	}

	// Every command's resolved properties must be valid, including the
	// file-level defaults on their own.
	if err := Resolve(DefaultProperties(), cfg.Defaults).Validate(); err != nil {
		return fmt.Errorf("defaults: %w", err)
	}
	for key := range cfg.Commands {
		if key == "" {
			return fmt.Errorf("commands: empty command key")
		}
		if err := cfg.PropertiesFor(key).Validate(); err != nil {
			return fmt.Errorf("commands[%s]: %w", key, err)
		}
	}

	// Admin validation
	if cfg.Admin.Enabled {
		if len(cfg.Admin.IPAllowlist) == 0 {
			return fmt.Errorf("admin.ip_allowlist is required when admin is enabled")
		}
		for i, cidr := range cfg.Admin.IPAllowlist {
			if _, _, err := net.ParseCIDR(cidr); err != nil {
				return fmt.Errorf("admin.ip_allowlist[%d]: invalid CIDR %q: %w", i, cidr, err)
			}
		}
		if cfg.Admin.Auth.Enabled {
			if cfg.Admin.Auth.JWTSecret == "" {
				return fmt.Errorf("admin.auth.jwt_secret is required when admin auth is enabled")
			}
			if cfg.Admin.Auth.Issuer == "" {
				return fmt.Errorf("admin.auth.issuer is required when admin auth is enabled")
			}
			if cfg.Admin.Auth.Audience == "" {
				return fmt.Errorf("admin.auth.audience is required when admin auth is enabled")
			}
		}
	}

	// Demo validation
	if cfg.Demo.Enabled {
		if cfg.Demo.RequestsPerSecond <= 0 {
			return fmt.Errorf("demo.requests_per_second must be positive")
		}
		if cfg.Demo.Burst <= 0 {
			return fmt.Errorf("demo.burst must be positive")
		}
		if len(cfg.Demo.Targets) == 0 {
			return fmt.Errorf("demo.targets is required when demo is enabled")
		}
		seen := make(map[string]bool)
		for i, t := range cfg.Demo.Targets {
			if t.Command == "" {
				return fmt.Errorf("demo.targets[%d].command is required", i)
			}
			if seen[t.Command] {
				return fmt.Errorf("duplicate demo command key: %s", t.Command)
			}
			seen[t.Command] = true
			u, err := url.Parse(t.URL)
			if err != nil {
				return fmt.Errorf("demo.targets[%d].url: invalid URL: %w", i, err)
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return fmt.Errorf("demo.targets[%d].url: scheme must be http or https, got %q", i, u.Scheme)
			}
			if u.Host == "" {
				return fmt.Errorf("demo.targets[%d].url: host is required", i)
			}
		}
	}

	return nil
}

func collectWarnings(cfg *Config) []string {
	var warnings []string
	if cfg.Admin.Auth.Enabled && strings.Contains(cfg.Admin.Auth.JWTSecret, "${") {
		warnings = append(warnings, "admin.auth.jwt_secret contains unresolved environment variable")
	}
	for key, o := range cfg.Commands {
		if o.ForceOpen != nil && *o.ForceOpen {
			warnings = append(warnings, fmt.Sprintf("commands[%s]: force_open is set, all requests will be rejected", key))
		}
	}
	return warnings
}
