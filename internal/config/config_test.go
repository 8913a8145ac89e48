package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadYAMLAppliesDefaults(t *testing.T) {
	path := writeFile(t, "fleetpulse.yaml", `
log_level: debug
http:
  addr: ":9090"
settings:
  signature_required: false
  advisory_throttle_minutes: 5
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":9090" || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected http/log config: %+v", cfg.HTTP)
	}
	if cfg.Settings.SignatureRequired {
		t.Fatalf("signature_required should be false")
	}
	if cfg.Settings.TimestampToleranceMinutes != 5 {
		t.Fatalf("tolerance default: %d", cfg.Settings.TimestampToleranceMinutes)
	}
	if cfg.Alerts.DedupeWindow != 10*time.Minute {
		t.Fatalf("dedupe default: %s", cfg.Alerts.DedupeWindow)
	}
	if cfg.Fanout.Alerts.Workers <= 0 || cfg.Conditioner.Shards <= 0 {
		t.Fatalf("pool defaults missing")
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeFile(t, "fleetpulse.json", `{"http":{"addr":":7000"},"storage":{"driver":"postgres","dsn":"postgres://x"}}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Driver != "postgres" || cfg.HTTP.Addr != ":7000" {
		t.Fatalf("json decode mismatch: %+v", cfg.Storage)
	}
}

func TestValidateRejectsAdvisoryWithoutEndpoint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Settings.AdvisoryEnabled = true
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Storage.Driver = "mongo"
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestManagerReload(t *testing.T) {
	path := writeFile(t, "fleetpulse.yaml", "settings:\n  advisory_throttle_minutes: 1\n")
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if m.Settings().AdvisoryThrottleMinutes != 1 {
		t.Fatalf("initial settings mismatch")
	}
	if err := os.WriteFile(path, []byte("settings:\n  advisory_throttle_minutes: 7\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if _, err := m.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if m.Settings().AdvisoryThrottleMinutes != 7 {
		t.Fatalf("reloaded settings mismatch: %d", m.Settings().AdvisoryThrottleMinutes)
	}
}
