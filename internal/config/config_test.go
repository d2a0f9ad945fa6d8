package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8421 {
		t.Errorf("expected port 8421, got %d", cfg.Server.Port)
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("expected logLevel info, got %s", cfg.Server.LogLevel)
	}
	if cfg.Workflow.Level != "warn" {
		t.Errorf("expected workflow level warn, got %s", cfg.Workflow.Level)
	}
	if cfg.Workflow.EntryPoint != "/implement" {
		t.Errorf("expected entry point /implement, got %s", cfg.Workflow.EntryPoint)
	}
	if cfg.Breaker.Threshold != 10 {
		t.Errorf("expected breaker threshold 10, got %d", cfg.Breaker.Threshold)
	}
	if !cfg.Layers.Resource || !cfg.Layers.Workflow {
		t.Error("resource and workflow layers should be enabled by default")
	}
	if cfg.Layers.Breaker || cfg.Layers.Batch {
		t.Error("breaker and batch layers should be disabled by default")
	}
	if cfg.Breaker.Consent {
		t.Error("auto-approval consent must default to false")
	}
	if cfg.LayerTimeout() != 5*time.Second {
		t.Errorf("expected 5s layer timeout, got %s", cfg.LayerTimeout())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	testCfg := DefaultConfig()
	testCfg.Server.Port = 9999
	testCfg.Server.LogLevel = "debug"
	testCfg.Workflow.Level = "block"
	testCfg.Breaker.TrustedCallers = []string{"implementer"}
	testCfg.Batch.Rules = []BatchRule{{Tool: "Write", MaxRepeats: 20, WindowSec: 60}}
	if err := testCfg.Save(configPath); err != nil {
		t.Fatalf("Save: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Server.Port)
	}
	if cfg.Workflow.Level != "block" {
		t.Errorf("expected block, got %s", cfg.Workflow.Level)
	}
	if len(cfg.Batch.Rules) != 1 || cfg.Batch.Rules[0].MaxRepeats != 20 {
		t.Errorf("batch rules not loaded: %+v", cfg.Batch.Rules)
	}
}

func TestLoadConfigFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.json")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadConfigEmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if cfg.Breaker.Threshold != 10 {
		t.Errorf("expected defaults, got threshold %d", cfg.Breaker.Threshold)
	}
}

func TestLoadConfigInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{invalid"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestLoadConfigMergesWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"workflow":{"level":"suggest"}}`), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workflow.Level != "suggest" {
		t.Errorf("expected suggest, got %s", cfg.Workflow.Level)
	}
	if cfg.Server.Port != 8421 {
		t.Errorf("expected default port kept, got %d", cfg.Server.Port)
	}
	if cfg.Breaker.Threshold != 10 {
		t.Errorf("expected default threshold kept, got %d", cfg.Breaker.Threshold)
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("TOOLGATE_ENFORCEMENT", "BLOCK")
	t.Setenv("TOOLGATE_BREAKER_LAYER", "true")
	t.Setenv("TOOLGATE_WORKFLOW_LAYER", "0")
	t.Setenv("TOOLGATE_BREAKER_THRESHOLD", "3")
	t.Setenv("TOOLGATE_AUTO_APPROVE_CONSENT", "1")
	t.Setenv("TOOLGATE_TRUSTED_CALLERS", "implementer, ci-bot")
	t.Setenv("TOOLGATE_CONTEXT", "production")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workflow.Level != "block" {
		t.Errorf("level = %q", cfg.Workflow.Level)
	}
	if !cfg.Layers.Breaker || cfg.Layers.Workflow {
		t.Errorf("layers = %+v", cfg.Layers)
	}
	if cfg.Breaker.Threshold != 3 || !cfg.Breaker.Consent {
		t.Errorf("breaker = %+v", cfg.Breaker)
	}
	if strings.Join(cfg.Breaker.TrustedCallers, ",") != "implementer,ci-bot" {
		t.Errorf("trusted callers = %v", cfg.Breaker.TrustedCallers)
	}
	if cfg.Profile.Context != "production" {
		t.Errorf("context = %q", cfg.Profile.Context)
	}
}

func TestApplyEnvInvalid(t *testing.T) {
	tests := []struct{ env, val string }{
		{"TOOLGATE_BATCH_LAYER", "maybe"},
		{"TOOLGATE_BREAKER_THRESHOLD", "ten"},
		{"TOOLGATE_ENFORCEMENT", "strict"},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Setenv(tt.env, tt.val)
			if _, err := Load(""); err == nil {
				t.Fatalf("expected error for %s=%s", tt.env, tt.val)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero threshold", func(c *Config) { c.Breaker.Threshold = 0 }},
		{"bad log level", func(c *Config) { c.Server.LogLevel = "verbose" }},
		{"bad batch rule", func(c *Config) { c.Batch.Rules = []BatchRule{{Tool: "Write"}} }},
		{"mqtt without broker", func(c *Config) { c.Audit.MQTT.Enabled = true }},
		{"zero layer timeout", func(c *Config) { c.Server.LayerTimeoutMs = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestSaveConfigCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "config.json")
	if err := DefaultConfig().Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.DataDir = "/var/lib/toolgate"
	if cfg.AuditPath() != "/var/lib/toolgate/audit.jsonl" {
		t.Errorf("AuditPath = %s", cfg.AuditPath())
	}
	if cfg.BreakerStatePath() != "/var/lib/toolgate/breaker.json" {
		t.Errorf("BreakerStatePath = %s", cfg.BreakerStatePath())
	}
	cfg.Breaker.ConsentFile = "/etc/toolgate/consent.json"
	if cfg.ConsentPath() != "/etc/toolgate/consent.json" {
		t.Errorf("ConsentPath = %s", cfg.ConsentPath())
	}
}

func TestReadList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trusted.txt")
	if err := os.WriteFile(path, []byte("# trusted callers\nimplementer\n\n  ci-bot  \n"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := ReadList(path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(got, ",") != "implementer,ci-bot" {
		t.Errorf("ReadList = %v", got)
	}
}
