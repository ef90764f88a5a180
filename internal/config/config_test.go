package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadFromBytes_Defaults(t *testing.T) {
	cfg, err := LoadFromBytes([]byte(`{}`))
	if err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Metrics.Path != "/metrics" {
		t.Errorf("expected default metrics path /metrics, got %q", cfg.Metrics.Path)
	}
	if !cfg.Metrics.IsEnabled() {
		t.Error("expected metrics enabled by default")
	}
	if cfg.Logging.Output != "stdout" || cfg.Logging.Level != "info" {
		t.Errorf("unexpected logging defaults: %+v", cfg.Logging)
	}
	if cfg.Admin.Enabled {
		t.Error("expected admin disabled by default")
	}
	if cfg.Demo.Enabled {
		t.Error("expected demo disabled by default")
	}
}

func TestLoadFromBytes_FullConfig(t *testing.T) {
	yaml := `
server:
  port: 9090
  read_timeout: 5s
metrics:
  enabled: true
  path: /prom
logging:
  level: debug
admin:
  enabled: true
  ip_allowlist: ["10.0.0.0/8", "127.0.0.1/32"]
  auth:
    enabled: true
    jwt_secret: "secret-key"
    issuer: "ops"
    audience: "resilienced"
defaults:
  execution_timeout_ms: 2000
commands:
  checkout:
    request_volume_threshold: 10
    error_threshold_percentage: 25
  search:
    circuit_breaker_enabled: false
demo:
  enabled: true
  requests_per_second: 50
  burst: 10
  targets:
    - command: checkout
      url: http://localhost:9001/work
`
	cfg, err := LoadFromBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Metrics.Path != "/prom" {
		t.Errorf("expected metrics path /prom, got %q", cfg.Metrics.Path)
	}
	if len(cfg.Commands) != 2 {
		t.Fatalf("expected 2 command sections, got %d", len(cfg.Commands))
	}

	checkout := cfg.PropertiesFor("checkout")
	if checkout.RequestVolumeThreshold != 10 {
		t.Errorf("expected volume threshold 10, got %d", checkout.RequestVolumeThreshold)
	}
	if checkout.ErrorThresholdPercentage != 25 {
		t.Errorf("expected error threshold 25, got %d", checkout.ErrorThresholdPercentage)
	}
	// defaults section applies to every command
	if checkout.ExecutionTimeoutMs != 2000 {
		t.Errorf("expected timeout 2000 from defaults, got %d", checkout.ExecutionTimeoutMs)
	}

	search := cfg.PropertiesFor("search")
	if search.CircuitBreakerEnabled {
		t.Error("expected breaker disabled for search")
	}
	if search.ExecutionTimeoutMs != 2000 {
		t.Errorf("expected timeout 2000 from defaults, got %d", search.ExecutionTimeoutMs)
	}

	// unknown keys fall back to defaults-over-builtin
	other := cfg.PropertiesFor("unknown")
	if other.RequestVolumeThreshold != DefaultRequestVolumeThreshold {
		t.Errorf("expected builtin volume threshold, got %d", other.RequestVolumeThreshold)
	}
	if other.ExecutionTimeoutMs != 2000 {
		t.Errorf("expected timeout 2000 from defaults, got %d", other.ExecutionTimeoutMs)
	}
}

func TestLoadFromBytes_EnvVarSubstitution(t *testing.T) {
	t.Setenv("TEST_JWT_SECRET", "resolved-secret")

	yaml := `
admin:
  enabled: true
  ip_allowlist: ["127.0.0.1/32"]
  auth:
    enabled: true
    jwt_secret: "${TEST_JWT_SECRET}"
    issuer: "ops"
    audience: "resilienced"
`
	cfg, err := LoadFromBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}

	if cfg.Admin.Auth.JWTSecret != "resolved-secret" {
		t.Errorf("expected env var substituted, got %q", cfg.Admin.Auth.JWTSecret)
	}
	if len(cfg.Warnings) != 0 {
		t.Errorf("expected no warnings, got %v", cfg.Warnings)
	}
}

func TestLoadFromBytes_UnresolvedEnvVarWarning(t *testing.T) {
	yaml := `
admin:
  enabled: true
  ip_allowlist: ["127.0.0.1/32"]
  auth:
    enabled: true
    jwt_secret: "${DOES_NOT_EXIST_XYZ}"
    issuer: "ops"
    audience: "resilienced"
`
	cfg, err := LoadFromBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}

	found := false
	for _, w := range cfg.Warnings {
		if strings.Contains(w, "unresolved environment variable") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected unresolved env var warning, got %v", cfg.Warnings)
	}
}

func TestLoadFromBytes_ForceOpenWarning(t *testing.T) {
	yaml := `
commands:
  checkout:
    force_open: true
`
	cfg, err := LoadFromBytes([]byte(yaml))
	if err != nil {
		t.Fatalf("LoadFromBytes: %v", err)
	}

	found := false
	for _, w := range cfg.Warnings {
		if strings.Contains(w, "force_open") {
			found = true
		}
	}
	if !found {
		t.Errorf("expected force_open warning, got %v", cfg.Warnings)
	}
}

func TestLoadFromBytes_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "invalid port",
			yaml:    "server:\n  port: -1\n",
			wantErr: "server.port",
		},
		{
			name:    "invalid log level",
			yaml:    "logging:\n  level: verbose\n",
			wantErr: "logging.level",
		},
		{
			name:    "window not divisible by buckets",
			yaml:    "commands:\n  a:\n    rolling_stats_window_ms: 1000\n    rolling_stats_buckets: 7\n",
			wantErr: "not divisible",
		},
		{
			name:    "error threshold out of range",
			yaml:    "defaults:\n  error_threshold_percentage: 150\n",
			wantErr: "between 0 and 100",
		},
		{
			name:    "negative sleep window",
			yaml:    "commands:\n  a:\n    sleep_window_ms: -5\n",
			wantErr: "sleep window",
		},
		{
			name:    "admin without allowlist",
			yaml:    "admin:\n  enabled: true\n",
			wantErr: "ip_allowlist",
		},
		{
			name:    "admin bad CIDR",
			yaml:    "admin:\n  enabled: true\n  ip_allowlist: [\"not-a-cidr\"]\n",
			wantErr: "invalid CIDR",
		},
		{
			name:    "admin auth without secret",
			yaml:    "admin:\n  enabled: true\n  ip_allowlist: [\"127.0.0.1/32\"]\n  auth:\n    enabled: true\n    issuer: x\n    audience: y\n",
			wantErr: "jwt_secret",
		},
		{
			name:    "demo without targets",
			yaml:    "demo:\n  enabled: true\n",
			wantErr: "demo.targets",
		},
		{
			name:    "demo bad url scheme",
			yaml:    "demo:\n  enabled: true\n  targets:\n    - command: a\n      url: ftp://host/x\n",
			wantErr: "scheme",
		},
		{
			name:    "demo duplicate command",
			yaml:    "demo:\n  enabled: true\n  targets:\n    - command: a\n      url: http://h/1\n    - command: a\n      url: http://h/2\n",
			wantErr: "duplicate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFromBytes([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err.Error())
			}
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 7070
commands:
  checkout:
    execution_timeout_ms: 750
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("expected port 7070, got %d", cfg.Server.Port)
	}
	if got := cfg.PropertiesFor("checkout").ExecutionTimeoutMs; got != 750 {
		t.Errorf("expected timeout 750, got %d", got)
	}
}
