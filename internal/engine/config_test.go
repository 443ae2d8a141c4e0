package engine

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ranged.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Catalog.Path != defaultCatalogPath {
		t.Errorf("catalog path = %s", cfg.Catalog.Path)
	}
	if cfg.Orchestrator.SessionTTL.Std() != time.Hour {
		t.Errorf("session TTL = %v", cfg.Orchestrator.SessionTTL)
	}
	if cfg.Orchestrator.StartupTimeout.Std() != 30*time.Second {
		t.Errorf("startup timeout = %v", cfg.Orchestrator.StartupTimeout)
	}
	if cfg.Session.MaxPerUser != 5 {
		t.Errorf("max per user = %d", cfg.Session.MaxPerUser)
	}
	if cfg.Session.SweepInterval.Std() != 60*time.Second {
		t.Errorf("sweep interval = %v", cfg.Session.SweepInterval)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := writeConfig(t, `
logger:
  level: debug
catalog:
  path: /etc/secrange/challenges.json
  importedPath: /etc/secrange/imported.json
flag:
  secretKey: from-file
orchestrator:
  sessionTTL: 30m
  startupTimeout: 10s
session:
  maxPerUser: 3
  sweepInterval: 15s
health:
  enabled: true
  interval: 10s
  failureThreshold: 5
  maxRecoveries: 1
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Catalog.Path != "/etc/secrange/challenges.json" {
		t.Errorf("catalog path = %s", cfg.Catalog.Path)
	}
	if cfg.Flag.SecretKey != "from-file" {
		t.Errorf("secret = %s", cfg.Flag.SecretKey)
	}
	if cfg.Orchestrator.SessionTTL.Std() != 30*time.Minute {
		t.Errorf("session TTL = %v", cfg.Orchestrator.SessionTTL)
	}
	if cfg.Session.MaxPerUser != 3 {
		t.Errorf("max per user = %d", cfg.Session.MaxPerUser)
	}
	if !cfg.Health.Enabled || cfg.Health.FailureThreshold != 5 {
		t.Errorf("health = %+v", cfg.Health)
	}
}

func TestLoadConfigNegativeCapDisables(t *testing.T) {
	path := writeConfig(t, "session:\n  maxPerUser: -1\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Session.MaxPerUser != 0 {
		t.Errorf("max per user = %d, want 0 (disabled)", cfg.Session.MaxPerUser)
	}
}

func TestLoadConfigEnvSecretWins(t *testing.T) {
	path := writeConfig(t, "flag:\n  secretKey: from-file\n")
	t.Setenv(FlagSecretEnv, "from-env")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Flag.SecretKey != "from-env" {
		t.Errorf("secret = %s, want env override", cfg.Flag.SecretKey)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("missing config file should fail")
	}
}

func TestLoadConfigBadDuration(t *testing.T) {
	path := writeConfig(t, "orchestrator:\n  sessionTTL: forever\n")
	if _, err := LoadConfig(path); err == nil {
		t.Error("unparseable duration should fail")
	}
}

func TestLoadConfigBadYAML(t *testing.T) {
	path := writeConfig(t, "::: not yaml")
	if _, err := LoadConfig(path); err == nil {
		t.Error("malformed config should fail")
	}
}
