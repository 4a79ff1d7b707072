package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ratewatch/ratewatch/internal/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadFromFile(t *testing.T) {
	t.Setenv("RATEWATCH_PORT", "9090")

	path := writeConfig(t, `
server:
  port: "${RATEWATCH_PORT}"
  allowed_origins: "*"
  log_level: "${RATEWATCH_LOG_LEVEL:-info}"
database:
  type: sqlite
  file_path: /tmp/ratewatch.db
engine:
  cooldown: 2m
  top_n: 5
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Errorf("env substitution failed, port = %q", cfg.Server.Port)
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("default substitution failed, log_level = %q", cfg.Server.LogLevel)
	}
	if cfg.Engine.Cooldown != 2*time.Minute {
		t.Errorf("cooldown = %v, want 2m", cfg.Engine.Cooldown)
	}
	if cfg.Engine.TopN != 5 {
		t.Errorf("top_n = %d, want 5", cfg.Engine.TopN)
	}
	// Unset knobs pick up defaults.
	if cfg.Engine.SealWorkers != models.DefaultSealWorkers {
		t.Errorf("seal_workers = %d, want default %d", cfg.Engine.SealWorkers, models.DefaultSealWorkers)
	}
	if cfg.DatabaseConfig().Type != models.SQLite {
		t.Errorf("database type = %s, want sqlite", cfg.DatabaseConfig().Type)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestLoadRejectsBadPaths(t *testing.T) {
	if _, err := LoadFromFile("../escape.yaml"); err == nil {
		t.Errorf("path traversal accepted")
	}
	if _, err := LoadFromFile("config.json"); err == nil {
		t.Errorf("non-yaml extension accepted")
	}
}

func TestLoadRejectsInvalidCooldown(t *testing.T) {
	path := writeConfig(t, `
engine:
  cooldown: sometimes
`)
	if _, err := LoadFromFile(path); err == nil {
		t.Errorf("invalid cooldown accepted")
	}
}

func TestValidateMissingFields(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("empty config validated")
	}
	if _, ok := err.(*ValidationError); !ok {
		t.Errorf("expected *ValidationError, got %T", err)
	}
}
