package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_FileSizeLimit(t *testing.T) {
	tmpDir := t.TempDir()

	largeFile := filepath.Join(tmpDir, "large.yaml")
	data := strings.Repeat("x: value\n", 200000) // ~1.6MB
	if err := os.WriteFile(largeFile, []byte(data), 0600); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	_, err := LoadConfig(largeFile)
	if err == nil {
		t.Error("expected error for large file")
	}
	if err != nil && !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected 'too large' error, got: %v", err)
	}
}

func TestLoadConfig_ValidFile(t *testing.T) {
	tmpDir := t.TempDir()

	validConfig := `
server:
  addr: ":9090"
store:
  backend: redis
  redis_addr: localhost:6379
engine:
  confirm_secret: test-secret
  confirm_ttl: 5m
  max_tool_calls: 20
retention:
  window: 48h
log_level: debug
`
	validFile := filepath.Join(tmpDir, "valid.yaml")
	if err := os.WriteFile(validFile, []byte(validConfig), 0600); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	cfg, err := LoadConfig(validFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %s", cfg.Server.Addr)
	}
	if cfg.Store.Backend != "redis" {
		t.Errorf("backend = %s", cfg.Store.Backend)
	}
	if cfg.Engine.ConfirmTTL != 5*time.Minute {
		t.Errorf("confirm_ttl = %s", cfg.Engine.ConfirmTTL)
	}
	if cfg.Engine.MaxToolCalls != 20 {
		t.Errorf("max_tool_calls = %d", cfg.Engine.MaxToolCalls)
	}
	if cfg.Retention.Window != 48*time.Hour {
		t.Errorf("retention window = %s", cfg.Retention.Window)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %s", cfg.Server.Addr)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("backend = %s", cfg.Store.Backend)
	}
	if cfg.Engine.MaxToolCalls != 50 || cfg.Engine.MaxModelCalls != 25 {
		t.Errorf("limits = %d/%d", cfg.Engine.MaxToolCalls, cfg.Engine.MaxModelCalls)
	}
	if cfg.Retention.Schedule != "@every 5m" {
		t.Errorf("schedule = %s", cfg.Retention.Schedule)
	}
}

func TestLoadConfig_EnvFallback(t *testing.T) {
	t.Setenv("VACAPLAN_CONFIRM_SECRET", "env-secret")
	t.Setenv("VACAPLAN_REDIS_ADDR", "redis:6379")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Engine.ConfirmSecret != "env-secret" {
		t.Errorf("secret = %s", cfg.Engine.ConfirmSecret)
	}
	if cfg.Store.RedisAddr != "redis:6379" {
		t.Errorf("redis addr = %s", cfg.Store.RedisAddr)
	}
}

func TestLoadConfig_NonexistentFile(t *testing.T) {
	if _, err := LoadConfig("/nonexistent/path/config.yaml"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	cfg, _ := LoadConfig("")
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for missing secret")
	}
	cfg.Engine.ConfirmSecret = "s"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
	cfg.Store.Backend = "redis"
	cfg.Store.RedisAddr = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for redis backend without addr")
	}
}
