package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"sync"
)

// ReloadResult describes what changed during a config reload.
type ReloadResult struct {
	Changed []string // list of changed fields
	Applied []string // successfully applied
	Skipped []string // require restart
	Errors  []error
}

// restartRequiredFields lists config fields that cannot be hot-reloaded and
// require a full process restart.
var restartRequiredFields = map[string]bool{
	"Server.Port":          true,
	"Server.DataDir":       true,
	"Server.WorkspaceRoot": true,
	"Profile.Path":         true,
	"Profile.PublicKey":    true,
	"Audit":                true,
}

// hotReloadableFields lists fields that can be applied at runtime.
var hotReloadableFields = []string{
	"Server.LogLevel",
	"Server.LayerTimeoutMs",
	"Profile.Context",
	"Layers",
	"Workflow",
	"Breaker",
	"Batch",
	"Network",
}

// mu protects the Config during concurrent reload operations.
var mu sync.RWMutex

// RLock acquires a read lock on the config.
func RLock() { mu.RLock() }

// RUnlock releases a read lock on the config.
func RUnlock() { mu.RUnlock() }

// Reload re-reads the config from path, diffs against the current config,
// and applies hot-reloadable changes in place. An invalid new config is
// rejected as a whole.
func (c *Config) Reload(path string) (*ReloadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config for reload: %w", err)
	}

	newCfg := DefaultConfig()
	if err := json.Unmarshal(data, newCfg); err != nil {
		return nil, fmt.Errorf("parse config for reload: %w", err)
	}
	if err := newCfg.ApplyEnv(); err != nil {
		return nil, fmt.Errorf("reload env overrides: %w", err)
	}
	if err := newCfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate reloaded config: %w", err)
	}

	result := &ReloadResult{}

	mu.Lock()
	defer mu.Unlock()

	diffAndApply(c, newCfg, result)

	return result, nil
}

// diffAndApply compares old and new configs, applying hot-reloadable changes.
func diffAndApply(old, new *Config, result *ReloadResult) {
	skip := func(field string) {
		result.Changed = append(result.Changed, field)
		result.Skipped = append(result.Skipped, field+" (requires restart)")
	}
	apply := func(field string) {
		result.Changed = append(result.Changed, field)
		result.Applied = append(result.Applied, field)
	}

	if old.Server.Port != new.Server.Port {
		skip("Server.Port")
	}
	if old.Server.DataDir != new.Server.DataDir {
		skip("Server.DataDir")
	}
	if old.Server.WorkspaceRoot != new.Server.WorkspaceRoot {
		skip("Server.WorkspaceRoot")
	}
	if old.Profile.Path != new.Profile.Path {
		skip("Profile.Path")
	}
	if old.Profile.PublicKey != new.Profile.PublicKey {
		skip("Profile.PublicKey")
	}
	if !reflect.DeepEqual(old.Audit, new.Audit) {
		skip("Audit")
	}

	if old.Server.LogLevel != new.Server.LogLevel {
		old.Server.LogLevel = new.Server.LogLevel
		apply("Server.LogLevel")
	}
	if old.Server.LayerTimeoutMs != new.Server.LayerTimeoutMs {
		old.Server.LayerTimeoutMs = new.Server.LayerTimeoutMs
		apply("Server.LayerTimeoutMs")
	}
	if old.Profile.Context != new.Profile.Context {
		old.Profile.Context = new.Profile.Context
		apply("Profile.Context")
	}
	if old.Layers != new.Layers {
		old.Layers = new.Layers
		apply("Layers")
	}
	if !reflect.DeepEqual(old.Workflow, new.Workflow) {
		old.Workflow = new.Workflow
		apply("Workflow")
	}
	if !reflect.DeepEqual(old.Breaker, new.Breaker) {
		old.Breaker = new.Breaker
		apply("Breaker")
	}
	if !reflect.DeepEqual(old.Batch, new.Batch) {
		old.Batch = new.Batch
		apply("Batch")
	}
	if old.Network != new.Network {
		old.Network = new.Network
		apply("Network")
	}
}

// LogResult logs the reload result at the appropriate levels.
func (r *ReloadResult) LogResult(logger *slog.Logger) {
	if len(r.Changed) == 0 {
		logger.Info("config reload: no changes detected")
		return
	}

	logger.Info("config reload complete",
		"changed", len(r.Changed),
		"applied", len(r.Applied),
		"skipped", len(r.Skipped),
		"errors", len(r.Errors),
	)

	for _, field := range r.Applied {
		logger.Info("config field hot-reloaded", "field", field)
	}
	for _, field := range r.Skipped {
		logger.Warn("config field requires restart", "field", field)
	}
	for _, err := range r.Errors {
		logger.Error("config reload error", "error", err)
	}
}

// IsRestartRequired returns true if the field requires a restart.
func IsRestartRequired(field string) bool {
	return restartRequiredFields[field]
}

// HotReloadableFields returns the list of hot-reloadable field names.
func HotReloadableFields() []string {
	return hotReloadableFields
}
