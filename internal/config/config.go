package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all toolgate configuration
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Security profile source
	Profile ProfileConfig `json:"profile"`

	// Layer toggles
	Layers LayersConfig `json:"layers"`

	// Workflow enforcement
	Workflow WorkflowConfig `json:"workflow"`

	// Auto-approval circuit breaker
	Breaker BreakerConfig `json:"breaker"`

	// Bulk-action confirmation
	Batch BatchConfig `json:"batch"`

	// Audit log and mirrors
	Audit AuditConfig `json:"audit"`

	// Network resolution for network/access checks
	Network NetworkConfig `json:"network"`
}

type ServerConfig struct {
	Port           int    `json:"port"`
	DataDir        string `json:"dataDir"`
	LogLevel       string `json:"logLevel"`
	WorkspaceRoot  string `json:"workspaceRoot,omitempty"`
	LayerTimeoutMs int    `json:"layerTimeoutMs"`
}

type ProfileConfig struct {
	Path             string `json:"path,omitempty"`
	Context          string `json:"context"`
	PublicKey        string `json:"publicKey,omitempty"` // hex Ed25519
	LoadTimeoutMs    int    `json:"loadTimeoutMs"`
	WatchIntervalSec int    `json:"watchIntervalSec"`
}

// LayersConfig enables or disables each decision layer independently.
type LayersConfig struct {
	Resource bool `json:"resource"`
	Workflow bool `json:"workflow"`
	Breaker  bool `json:"breaker"`
	Batch    bool `json:"batch"`
}

type WorkflowConfig struct {
	Level         string   `json:"level"` // off, suggest, warn, block
	EntryPoint    string   `json:"entryPoint"`
	PipelineRoles []string `json:"pipelineRoles"`
	ExemptPaths   []string `json:"exemptPaths,omitempty"`
	LineThreshold int      `json:"lineThreshold"`
}

type BreakerConfig struct {
	Threshold          int      `json:"threshold"`
	StateFile          string   `json:"stateFile,omitempty"`
	Consent            bool     `json:"consent"`
	ConsentFile        string   `json:"consentFile,omitempty"`
	TrustedCallers     []string `json:"trustedCallers,omitempty"`
	TrustedCallersFile string   `json:"trustedCallersFile,omitempty"`
	AutonomousEnv      string   `json:"autonomousEnv"`
}

type BatchConfig struct {
	Rules []BatchRule `json:"rules,omitempty"`
}

// BatchRule limits repeats of tools matching a glob.
type BatchRule struct {
	Tool       string `json:"tool"`
	MaxRepeats int    `json:"maxRepeats"`
	WindowSec  int    `json:"windowSec"`
}

type AuditConfig struct {
	Path              string          `json:"path"`
	SQLitePath        string          `json:"sqlitePath,omitempty"`
	MQTT              AuditMQTTConfig `json:"mqtt"`
	RetentionSchedule string          `json:"retentionSchedule,omitempty"` // cron expression
	RetentionKeep     int             `json:"retentionKeep"`
	RedactSalt        string          `json:"redactSalt,omitempty"`
}

type AuditMQTTConfig struct {
	Enabled  bool     `json:"enabled"`
	Broker   string   `json:"broker,omitempty"` // tcp://host:port
	Topic    string   `json:"topic,omitempty"`
	Username string   `json:"username,omitempty"`
	Password string   `json:"password,omitempty"`
	Events   []string `json:"events,omitempty"`
}

type NetworkConfig struct {
	LookupTimeoutMs int `json:"lookupTimeoutMs"`
}

// DefaultConfig returns the conservative default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8421,
			DataDir:        "./.toolgate",
			LogLevel:       "info",
			LayerTimeoutMs: 5000,
		},
		Profile: ProfileConfig{
			Context:          "development",
			LoadTimeoutMs:    5000,
			WatchIntervalSec: 5,
		},
		Layers: LayersConfig{
			Resource: true,
			Workflow: true,
			Breaker:  false,
			Batch:    false,
		},
		Workflow: WorkflowConfig{
			Level:         "warn",
			EntryPoint:    "/implement",
			PipelineRoles: []string{"implementer", "test-master", "doc-master", "pipeline"},
			LineThreshold: 5,
		},
		Breaker: BreakerConfig{
			Threshold:     10,
			AutonomousEnv: "TOOLGATE_AUTONOMOUS",
		},
		Audit: AuditConfig{
			RetentionKeep: 100000,
		},
		Network: NetworkConfig{
			LookupTimeoutMs: 2000,
		},
	}
}

// Load reads config from a JSON file, then applies environment overrides.
// An empty path yields the defaults with overrides applied.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to a JSON file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0640)
}

// Validate checks enumerated values and numeric ranges.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Workflow.Level) {
	case "off", "suggest", "warn", "block":
	default:
		return fmt.Errorf("invalid workflow level %q (want off|suggest|warn|block)", c.Workflow.Level)
	}
	switch strings.ToLower(c.Server.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Server.LogLevel)
	}
	if c.Breaker.Threshold < 1 {
		return fmt.Errorf("breaker threshold must be at least 1, got %d", c.Breaker.Threshold)
	}
	if c.Server.LayerTimeoutMs <= 0 {
		return fmt.Errorf("layer timeout must be positive, got %dms", c.Server.LayerTimeoutMs)
	}
	for i, r := range c.Batch.Rules {
		if r.Tool == "" {
			return fmt.Errorf("batch rule %d: empty tool pattern", i)
		}
		if r.MaxRepeats < 1 || r.WindowSec < 1 {
			return fmt.Errorf("batch rule %d (%s): maxRepeats and windowSec must be positive", i, r.Tool)
		}
	}
	if c.Audit.MQTT.Enabled && c.Audit.MQTT.Broker == "" {
		return fmt.Errorf("audit mqtt enabled without a broker")
	}
	return nil
}

// AuditPath returns the audit log path, defaulting under DataDir.
func (c *Config) AuditPath() string {
	if c.Audit.Path != "" {
		return c.Audit.Path
	}
	return filepath.Join(c.Server.DataDir, "audit.jsonl")
}

// BreakerStatePath returns the breaker state file path, defaulting under DataDir.
func (c *Config) BreakerStatePath() string {
	if c.Breaker.StateFile != "" {
		return c.Breaker.StateFile
	}
	return filepath.Join(c.Server.DataDir, "breaker.json")
}

// ConsentPath returns the durable consent file path, defaulting under DataDir.
func (c *Config) ConsentPath() string {
	if c.Breaker.ConsentFile != "" {
		return c.Breaker.ConsentFile
	}
	return filepath.Join(c.Server.DataDir, "consent.json")
}

// LayerTimeout returns the per-layer evaluation bound.
func (c *Config) LayerTimeout() time.Duration {
	return time.Duration(c.Server.LayerTimeoutMs) * time.Millisecond
}

// LookupTimeout returns the DNS resolution bound.
func (c *Config) LookupTimeout() time.Duration {
	return time.Duration(c.Network.LookupTimeoutMs) * time.Millisecond
}

// ProfileLoadTimeout returns the policy document load bound.
func (c *Config) ProfileLoadTimeout() time.Duration {
	return time.Duration(c.Profile.LoadTimeoutMs) * time.Millisecond
}

// ApplyEnv applies TOOLGATE_* environment variable overrides.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("TOOLGATE_ENFORCEMENT"); v != "" {
		c.Workflow.Level = strings.ToLower(v)
	}
	if v := os.Getenv("TOOLGATE_PROFILE"); v != "" {
		c.Profile.Path = v
	}
	if v := os.Getenv("TOOLGATE_CONTEXT"); v != "" {
		c.Profile.Context = v
	}
	if v := os.Getenv("TOOLGATE_PROFILE_PUBKEY"); v != "" {
		c.Profile.PublicKey = v
	}
	if v := os.Getenv("TOOLGATE_AUDIT_LOG"); v != "" {
		c.Audit.Path = v
	}
	if v := os.Getenv("TOOLGATE_DATA_DIR"); v != "" {
		c.Server.DataDir = v
	}
	if v := os.Getenv("TOOLGATE_LOG_LEVEL"); v != "" {
		c.Server.LogLevel = v
	}
	if v := os.Getenv("TOOLGATE_WORKSPACE"); v != "" {
		c.Server.WorkspaceRoot = v
	}
	if v := os.Getenv("TOOLGATE_TRUSTED_CALLERS"); v != "" {
		c.Breaker.TrustedCallers = splitList(v)
	}
	if v := os.Getenv("TOOLGATE_TRUSTED_CALLERS_FILE"); v != "" {
		c.Breaker.TrustedCallersFile = v
	}
	if v := os.Getenv("TOOLGATE_CONSENT_FILE"); v != "" {
		c.Breaker.ConsentFile = v
	}

	bools := []struct {
		env string
		dst *bool
	}{
		{"TOOLGATE_RESOURCE_LAYER", &c.Layers.Resource},
		{"TOOLGATE_WORKFLOW_LAYER", &c.Layers.Workflow},
		{"TOOLGATE_BREAKER_LAYER", &c.Layers.Breaker},
		{"TOOLGATE_BATCH_LAYER", &c.Layers.Batch},
		{"TOOLGATE_AUTO_APPROVE_CONSENT", &c.Breaker.Consent},
	}
	for _, b := range bools {
		v := os.Getenv(b.env)
		if v == "" {
			continue
		}
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: invalid boolean %q", b.env, v)
		}
		*b.dst = parsed
	}

	ints := []struct {
		env string
		dst *int
	}{
		{"TOOLGATE_BREAKER_THRESHOLD", &c.Breaker.Threshold},
		{"TOOLGATE_PORT", &c.Server.Port},
		{"TOOLGATE_LOOKUP_TIMEOUT_MS", &c.Network.LookupTimeoutMs},
	}
	for _, n := range ints {
		v := os.Getenv(n.env)
		if v == "" {
			continue
		}
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: invalid integer %q", n.env, v)
		}
		*n.dst = parsed
	}
	return nil
}

// ReadList reads a newline-delimited list file, ignoring blank lines and
// lines starting with '#'.
func ReadList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' || r == ' ' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
