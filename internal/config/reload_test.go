package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	return logger, &buf
}

func writeTestConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "test-config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

const validConfig = `
server:
  port: 8080
commands:
  checkout:
    execution_timeout_ms: 1000
`

const validConfigUpdated = `
server:
  port: 8080
commands:
  checkout:
    execution_timeout_ms: 2500
  search:
    circuit_breaker_enabled: false
`

const invalidConfig = `
server:
  port: -1
`

func TestReloader_Current(t *testing.T) {
	logger, _ := newTestLogger()
	dir := t.TempDir()
	path := writeTestConfig(t, dir, validConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	r := NewReloader(path, cfg, logger)
	if r.Current() != cfg {
		t.Error("Current must return the initial config before any reload")
	}
}

func TestReloader_Reload_ValidConfig(t *testing.T) {
	logger, _ := newTestLogger()
	dir := t.TempDir()
	path := writeTestConfig(t, dir, validConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	r := NewReloader(path, cfg, logger)

	if err := os.WriteFile(path, []byte(validConfigUpdated), 0644); err != nil {
		t.Fatal(err)
	}

	if !r.Reload() {
		t.Fatal("expected reload to succeed")
	}

	got := r.Current().PropertiesFor("checkout").ExecutionTimeoutMs
	if got != 2500 {
		t.Errorf("expected reloaded timeout 2500, got %d", got)
	}
	if len(r.Current().Commands) != 2 {
		t.Errorf("expected 2 command sections after reload, got %d", len(r.Current().Commands))
	}
}

func TestReloader_Reload_InvalidConfig(t *testing.T) {
	logger, buf := newTestLogger()
	dir := t.TempDir()
	path := writeTestConfig(t, dir, validConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	r := NewReloader(path, cfg, logger)

	if err := os.WriteFile(path, []byte(invalidConfig), 0644); err != nil {
		t.Fatal(err)
	}

	if r.Reload() {
		t.Fatal("expected reload to fail on invalid config")
	}

	// The previous config stays active.
	if r.Current() != cfg {
		t.Error("expected current config unchanged after failed reload")
	}
	if !strings.Contains(buf.String(), "keeping current") {
		t.Error("expected failure log entry")
	}
}

func TestReloader_OnReload_Callback(t *testing.T) {
	logger, _ := newTestLogger()
	dir := t.TempDir()
	path := writeTestConfig(t, dir, validConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	r := NewReloader(path, cfg, logger)

	var gotCfg *Config
	r.OnReload(func(c *Config) { gotCfg = c })

	if err := os.WriteFile(path, []byte(validConfigUpdated), 0644); err != nil {
		t.Fatal(err)
	}
	if !r.Reload() {
		t.Fatal("expected reload to succeed")
	}

	if gotCfg == nil {
		t.Fatal("expected callback to be invoked")
	}
	if gotCfg != r.Current() {
		t.Error("callback must receive the newly active config")
	}
}

func TestReloader_OnReload_NotCalledOnFailure(t *testing.T) {
	logger, _ := newTestLogger()
	dir := t.TempDir()
	path := writeTestConfig(t, dir, validConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	r := NewReloader(path, cfg, logger)

	called := false
	r.OnReload(func(*Config) { called = true })

	if err := os.WriteFile(path, []byte(invalidConfig), 0644); err != nil {
		t.Fatal(err)
	}
	r.Reload()

	if called {
		t.Error("callback must not run after failed reload")
	}
}

func TestReloader_FileWatch(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping file watch test in short mode")
	}

	logger, _ := newTestLogger()
	dir := t.TempDir()
	path := writeTestConfig(t, dir, validConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	r := NewReloader(path, cfg, logger)

	reloaded := make(chan *Config, 1)
	r.OnReload(func(c *Config) {
		select {
		case reloaded <- c:
		default:
		}
	})

	r.Start()
	defer r.Stop()

	if err := os.WriteFile(path, []byte(validConfigUpdated), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-reloaded:
		if got := c.PropertiesFor("checkout").ExecutionTimeoutMs; got != 2500 {
			t.Errorf("expected timeout 2500 after watch reload, got %d", got)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for file watch reload")
	}
}

func TestReloader_LogChanges(t *testing.T) {
	logger, buf := newTestLogger()
	dir := t.TempDir()
	path := writeTestConfig(t, dir, validConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	r := NewReloader(path, cfg, logger)

	if err := os.WriteFile(path, []byte(validConfigUpdated), 0644); err != nil {
		t.Fatal(err)
	}
	if !r.Reload() {
		t.Fatal("expected reload to succeed")
	}

	if !strings.Contains(buf.String(), "command override count changed") {
		t.Error("expected override count change log entry")
	}
}
