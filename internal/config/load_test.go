package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultsAreValid(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Fatalf("Default config failed validation: %v", err)
	}

	if cfg.Controller.Addr() != "127.0.0.1:7002" {
		t.Errorf("Expected controller addr 127.0.0.1:7002, got %s", cfg.Controller.Addr())
	}
	if cfg.Controller.ReconnectDelay != 5*time.Second {
		t.Errorf("Expected reconnect delay 5s, got %v", cfg.Controller.ReconnectDelay)
	}
	if cfg.Controller.BackoffPolicy != BackoffConstant {
		t.Errorf("Expected constant backoff, got %q", cfg.Controller.BackoffPolicy)
	}
	if cfg.Telemetry.QueueCapacity != 10 {
		t.Errorf("Expected queue capacity 10, got %d", cfg.Telemetry.QueueCapacity)
	}
	if cfg.Auth.Enabled {
		t.Error("Expected auth disabled by default")
	}
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	t.Setenv("EQUILIBRIA_CONFIG", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Controller.Port != 7002 {
		t.Errorf("Expected default port 7002, got %d", cfg.Controller.Port)
	}
}

func TestLoadAppliesYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	content := `
controller:
  host: 10.1.2.3
  port: 7100
  reconnectDelayMs: 1500
  backoffPolicy: exponential
  backoffMaxDelayMs: 30000
telemetry:
  queueCapacity: 4
auth:
  enabled: true
  hs256Secret: test-secret
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Controller.Host != "10.1.2.3" || cfg.Controller.Port != 7100 {
		t.Errorf("Expected controller 10.1.2.3:7100, got %s", cfg.Controller.Addr())
	}
	if cfg.Controller.ReconnectDelay != 1500*time.Millisecond {
		t.Errorf("Expected reconnect delay 1.5s, got %v", cfg.Controller.ReconnectDelay)
	}
	if cfg.Controller.BackoffPolicy != BackoffExponential {
		t.Errorf("Expected exponential backoff, got %q", cfg.Controller.BackoffPolicy)
	}
	if cfg.Telemetry.QueueCapacity != 4 {
		t.Errorf("Expected queue capacity 4, got %d", cfg.Telemetry.QueueCapacity)
	}
	if !cfg.Auth.Enabled || cfg.Auth.HS256Secret != "test-secret" {
		t.Errorf("Expected auth enabled with secret, got %+v", cfg.Auth)
	}

	// Untouched sections keep their defaults.
	if cfg.Controller.DialTimeout != 5*time.Second {
		t.Errorf("Expected default dial timeout, got %v", cfg.Controller.DialTimeout)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Errorf("Expected default HTTP addr, got %s", cfg.HTTP.Addr)
	}
}

func TestLoadFilePathFromEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "env.yaml")
	if err := os.WriteFile(path, []byte("controller:\n  port: 7200\n"), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	t.Setenv("EQUILIBRIA_CONFIG", path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Controller.Port != 7200 {
		t.Errorf("Expected port 7200 from env-selected file, got %d", cfg.Controller.Port)
	}
}

func TestEnvOverridesBeatFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	if err := os.WriteFile(path, []byte("controller:\n  reconnectDelayMs: 9000\n"), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	t.Setenv("EQUILIBRIA_CONTROLLER_RECONNECT_DELAY", "250ms")
	t.Setenv("EQUILIBRIA_TELEMETRY_QUEUE_CAPACITY", "2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Controller.ReconnectDelay != 250*time.Millisecond {
		t.Errorf("Expected env reconnect delay 250ms to win, got %v", cfg.Controller.ReconnectDelay)
	}
	if cfg.Telemetry.QueueCapacity != 2 {
		t.Errorf("Expected env queue capacity 2, got %d", cfg.Telemetry.QueueCapacity)
	}
}

func TestUnparseableEnvValuesAreIgnored(t *testing.T) {
	t.Setenv("EQUILIBRIA_CONFIG", "")
	t.Setenv("EQUILIBRIA_CONTROLLER_RECONNECT_DELAY", "soon")
	t.Setenv("EQUILIBRIA_CONTROLLER_PORT", "not-a-port")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Controller.ReconnectDelay != 5*time.Second {
		t.Errorf("Expected default reconnect delay, got %v", cfg.Controller.ReconnectDelay)
	}
	if cfg.Controller.Port != 7002 {
		t.Errorf("Expected default port, got %d", cfg.Controller.Port)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Expected error for missing config file")
	}
}

func TestLoadMalformedFileFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("controller: [not a mapping"), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Expected error for malformed YAML")
	}
}

func TestLoadInvalidConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invalid.yaml")
	if err := os.WriteFile(path, []byte("controller:\n  port: 99999\n"), 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Expected validation error for out-of-range port")
	}
}

func TestGetEnvVar(t *testing.T) {
	t.Setenv("TEST_VAR", "test_value")
	if got := GetEnvVar("TEST_VAR", "default"); got != "test_value" {
		t.Errorf("GetEnvVar() = %s, want test_value", got)
	}
	if got := GetEnvVar("NONEXISTENT_VAR", "default"); got != "default" {
		t.Errorf("GetEnvVar() = %s, want default", got)
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_DURATION", "30s")
	if got := GetEnvDuration("TEST_DURATION", 10*time.Second); got != 30*time.Second {
		t.Errorf("GetEnvDuration() = %v, want 30s", got)
	}
	if got := GetEnvDuration("NONEXISTENT_DURATION", 10*time.Second); got != 10*time.Second {
		t.Errorf("GetEnvDuration() = %v, want 10s", got)
	}
	t.Setenv("INVALID_DURATION", "shortly")
	if got := GetEnvDuration("INVALID_DURATION", 10*time.Second); got != 10*time.Second {
		t.Errorf("GetEnvDuration() = %v, want 10s", got)
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	if got := GetEnvInt("TEST_INT", 7); got != 42 {
		t.Errorf("GetEnvInt() = %d, want 42", got)
	}
	if got := GetEnvInt("NONEXISTENT_INT", 7); got != 7 {
		t.Errorf("GetEnvInt() = %d, want 7", got)
	}
	t.Setenv("INVALID_INT", "many")
	if got := GetEnvInt("INVALID_INT", 7); got != 7 {
		t.Errorf("GetEnvInt() = %d, want 7", got)
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	if got := GetEnvBool("TEST_BOOL", false); !got {
		t.Error("GetEnvBool() = false, want true")
	}
	if got := GetEnvBool("NONEXISTENT_BOOL", true); !got {
		t.Error("GetEnvBool() = false, want true")
	}
	t.Setenv("INVALID_BOOL", "yep")
	if got := GetEnvBool("INVALID_BOOL", true); !got {
		t.Error("GetEnvBool() = false, want true")
	}
}
