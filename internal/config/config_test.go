package config

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return configPath
}

func TestLoadValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
coopad:
  host:
    bind: "127.0.0.1"
    port: 9999
    mode: "single"
    liveness_timeout: "5s"
  security:
    client_rate: 60
    client_burst: 10
    block_duration: "60s"
  control:
    socket: "/tmp/coopad-test.sock"
  log:
    level: "debug"
    format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Host.Bind != "127.0.0.1" {
		t.Errorf("Expected bind 127.0.0.1, got %s", cfg.Host.Bind)
	}
	if cfg.Host.Port != 9999 {
		t.Errorf("Expected port 9999, got %d", cfg.Host.Port)
	}
	if cfg.Host.Mode != ModeSingle {
		t.Errorf("Expected mode single, got %s", cfg.Host.Mode)
	}
	if cfg.Host.LivenessTimeoutDuration() != 5*time.Second {
		t.Errorf("Expected liveness timeout 5s, got %v", cfg.Host.LivenessTimeoutDuration())
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", cfg.Log.Level)
	}
	if cfg.Control.Socket != "/tmp/coopad-test.sock" {
		t.Errorf("Expected control socket /tmp/coopad-test.sock, got %s", cfg.Control.Socket)
	}

	sec := cfg.Security.ManagerConfig()
	if sec.ClientRate != 60 {
		t.Errorf("Expected client rate 60, got %v", sec.ClientRate)
	}
	if sec.ClientBurst != 10 {
		t.Errorf("Expected client burst 10, got %d", sec.ClientBurst)
	}
	if sec.BlockDuration != 60*time.Second {
		t.Errorf("Expected block duration 60s, got %v", sec.BlockDuration)
	}
	// Untouched fields keep their defaults.
	if sec.MaxClientsPerIP != 3 {
		t.Errorf("Expected default max clients per IP 3, got %d", sec.MaxClientsPerIP)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	configPath := writeConfig(t, `
coopad:
  log:
    level: "info"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Host.Port != 7777 {
		t.Errorf("Expected default port 7777, got %d", cfg.Host.Port)
	}
	if cfg.Host.Mode != ModeMulti {
		t.Errorf("Expected default mode multi, got %s", cfg.Host.Mode)
	}
	if cfg.Host.MaxSlots != 4 {
		t.Errorf("Expected default max_slots 4, got %d", cfg.Host.MaxSlots)
	}
	if cfg.Host.ReadTimeoutDuration() != 500*time.Millisecond {
		t.Errorf("Expected default read timeout 500ms, got %v", cfg.Host.ReadTimeoutDuration())
	}
	if cfg.Sender.RateHz != 60 {
		t.Errorf("Expected default sender rate 60, got %d", cfg.Sender.RateHz)
	}
}

func TestLoadInvalidMode(t *testing.T) {
	configPath := writeConfig(t, `
coopad:
  host:
    mode: "cluster"
`)
	if _, err := Load(configPath); err == nil {
		t.Error("Expected error for invalid host mode, got nil")
	}
}

func TestLoadPortRange(t *testing.T) {
	// Port 0 asks the OS for an ephemeral port and must validate.
	configPath := writeConfig(t, `
coopad:
  host:
    port: 0
`)
	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config with port 0: %v", err)
	}
	if cfg.Host.Port != 0 {
		t.Errorf("Expected port 0, got %d", cfg.Host.Port)
	}

	for _, port := range []int{-1, 65536} {
		configPath := writeConfig(t, fmt.Sprintf(`
coopad:
  host:
    port: %d
`, port))
		if _, err := Load(configPath); err == nil {
			t.Errorf("Expected error for port %d, got nil", port)
		}
	}
}

func TestLoadInvalidLogLevel(t *testing.T) {
	configPath := writeConfig(t, `
coopad:
  log:
    level: "verbose"
`)
	if _, err := Load(configPath); err == nil {
		t.Error("Expected error for invalid log level, got nil")
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	configPath := writeConfig(t, `
coopad:
  security:
    block_duration: "five minutes"
`)
	if _, err := Load(configPath); err == nil {
		t.Error("Expected error for invalid duration, got nil")
	}
}

func TestLoadInvalidSenderRate(t *testing.T) {
	configPath := writeConfig(t, `
coopad:
  sender:
    rate_hz: 144
`)
	if _, err := Load(configPath); err == nil {
		t.Error("Expected error for unsupported sender rate, got nil")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Host.Port != 7777 {
		t.Errorf("Expected default port 7777, got %d", cfg.Host.Port)
	}
	if cfg.Security.ManagerConfig().AutoBlockThreshold != 5 {
		t.Errorf("Expected default auto block threshold 5, got %d",
			cfg.Security.ManagerConfig().AutoBlockThreshold)
	}
}
