package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/clawinfra/toolgate/internal/audit"
	"github.com/clawinfra/toolgate/internal/breaker"
	"github.com/clawinfra/toolgate/internal/config"
)

const policyJSON = `{
  "name": "cli-test",
  "filesystem": {"read": ["**"], "write": ["src/**"]},
  "shell": {"allowed_commands": ["git", "go"], "denied_patterns": ["rm -rf"]},
  "network": {"allowed_domains": ["github.com"], "denied_ips": ["127.0.0.0/8"]},
  "environment": {"allowed_vars": ["PATH"], "denied_patterns": ["*_TOKEN"]}
}`

type env struct {
	dir    string
	config string
	policy string
}

// newEnv writes a policy document and a config file using it.
func newEnv(t *testing.T, mutate func(*config.Config)) env {
	t.Helper()
	dir := t.TempDir()
	policy := filepath.Join(dir, "policy.json")
	if err := os.WriteFile(policy, []byte(policyJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := config.DefaultConfig()
	cfg.Server.DataDir = filepath.Join(dir, "data")
	cfg.Server.LogLevel = "error"
	cfg.Server.WorkspaceRoot = dir
	cfg.Profile.Path = policy
	if mutate != nil {
		mutate(cfg)
	}
	path := filepath.Join(dir, "toolgate.json")
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}
	return env{dir: dir, config: path, policy: policy}
}

func execute(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	root := NewRootCmd("test")
	var stdout, stderr bytes.Buffer
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	code := run(root, args, &stderr)
	return code, stdout.String(), stderr.String()
}

func decode(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, s)
	}
	return m
}

func TestCheckExitsZeroForEveryDecision(t *testing.T) {
	e := newEnv(t, nil)
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"denied command", `{"tool":"Bash","parameters":{"command":"rm -rf /"}}`, "deny"},
		{"missing tool", `{"parameters":{}}`, "ask"},
		{"allowed read", `{"tool":"Read","parameters":{"file_path":"src/main.go"},"caller":"implementer"}`, "allow"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout, stderr := execute(t, tt.input, "--config", e.config, "check")
			if code != 0 {
				t.Fatalf("exit code = %d, stderr = %s", code, stderr)
			}
			out := decode(t, stdout)
			if out["decision"] != tt.want {
				t.Errorf("decision = %v (%v), want %s", out["decision"], out["reason"], tt.want)
			}
			if out["approved"] != (tt.want == "allow") {
				t.Errorf("approved = %v", out["approved"])
			}
		})
	}
}

func TestCheckSurvivesUnreadableBreakerState(t *testing.T) {
	tests := []struct {
		name    string
		breaker bool
		want    string
	}{
		{"breaker layer disabled", false, "allow"},
		{"breaker layer enabled", true, "deny"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, func(c *config.Config) { c.Layers.Breaker = tt.breaker })
			statePath := filepath.Join(e.dir, "data", "breaker.json")
			if err := os.MkdirAll(filepath.Dir(statePath), 0o750); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(statePath, []byte("{not json"), 0o600); err != nil {
				t.Fatal(err)
			}

			code, stdout, stderr := execute(t, `{"tool":"Read","parameters":{"file_path":"src/main.go"},"caller":"implementer"}`,
				"--config", e.config, "check")
			if code != 0 {
				t.Fatalf("exit code = %d, stderr = %s", code, stderr)
			}
			out := decode(t, stdout)
			if out["decision"] != tt.want {
				t.Errorf("decision = %v (%v), want %s", out["decision"], out["reason"], tt.want)
			}

			entries, err := audit.Read(filepath.Join(e.dir, "data", "audit.jsonl"))
			if err != nil {
				t.Fatal(err)
			}
			if !slices.ContainsFunc(entries, func(e audit.Entry) bool {
				return e.EventType == audit.EventBreakerStateUnreadable
			}) {
				t.Error("unreadable breaker state not audited")
			}
		})
	}
}

func TestCheckMalformedInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", "{not json"},
		{"empty", ""},
		{"two requests", `{"tool":"Read"}{"tool":"Write"}`},
		{"wrong type", `{"tool": 42}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout, stderr := execute(t, tt.input, "check")
			if code != 1 {
				t.Errorf("exit code = %d, want 1", code)
			}
			if stdout != "" {
				t.Errorf("stdout = %q, want nothing", stdout)
			}
			if !strings.Contains(stderr, "malformed request") {
				t.Errorf("stderr = %q", stderr)
			}
		})
	}
}

func TestCheckIsAudited(t *testing.T) {
	e := newEnv(t, nil)
	code, stdout, _ := execute(t, `{"tool":"Bash","parameters":{"command":"git status"},"caller":"implementer"}`,
		"--config", e.config, "check")
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	id := decode(t, stdout)["request_id"]

	entries, err := audit.Read(filepath.Join(e.dir, "data", "audit.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, en := range entries {
		if en.EventType == audit.EventAuthorization && en.ID == id {
			found = true
			if en.Caller() != "implementer" {
				t.Errorf("caller = %q", en.Caller())
			}
		}
	}
	if !found {
		t.Errorf("no authorization entry with id %v in %d entries", id, len(entries))
	}
}

func TestConsentCommands(t *testing.T) {
	e := newEnv(t, nil)

	status := func() map[string]any {
		t.Helper()
		code, stdout, stderr := execute(t, "", "--config", e.config, "consent", "status")
		if code != 0 {
			t.Fatalf("status: %d %s", code, stderr)
		}
		return decode(t, stdout)
	}

	if status()["effective"] != false {
		t.Fatal("consent should start withdrawn")
	}
	if code, _, stderr := execute(t, "", "--config", e.config, "consent", "grant", "--operator", "alice"); code != 0 {
		t.Fatalf("grant: %d %s", code, stderr)
	}
	st := status()
	if st["effective"] != true {
		t.Errorf("after grant: %v", st)
	}
	if file := st["file"].(map[string]any); file["granted_by"] != "alice" {
		t.Errorf("granted_by = %v", file["granted_by"])
	}
	if code, _, stderr := execute(t, "", "--config", e.config, "consent", "revoke"); code != 0 {
		t.Fatalf("revoke: %d %s", code, stderr)
	}
	if status()["effective"] != false {
		t.Error("revoke should withdraw consent")
	}

	entries, err := audit.Read(filepath.Join(e.dir, "data", "audit.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	changes := 0
	for _, en := range entries {
		if en.EventType == audit.EventConsentChanged {
			changes++
		}
	}
	if changes != 2 {
		t.Errorf("consent_changed entries = %d, want 2", changes)
	}
}

func TestBreakerStatusAndReset(t *testing.T) {
	e := newEnv(t, nil)
	state := breaker.NewStateFile(filepath.Join(e.dir, "data", "breaker.json"))
	if err := os.MkdirAll(filepath.Dir(state.Path()), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := state.Save(breaker.State{Tripped: true, DenialCount: 10}); err != nil {
		t.Fatal(err)
	}

	code, stdout, stderr := execute(t, "", "--config", e.config, "breaker", "status")
	if code != 0 {
		t.Fatalf("status: %d %s", code, stderr)
	}
	if st := decode(t, stdout)["state"].(map[string]any); st["tripped"] != true {
		t.Fatalf("state = %v", st)
	}

	code, stdout, stderr = execute(t, "", "--config", e.config, "breaker", "reset", "--operator", "bob")
	if code != 0 {
		t.Fatalf("reset: %d %s", code, stderr)
	}
	out := decode(t, stdout)
	if prev := out["previous"].(map[string]any); prev["tripped"] != true {
		t.Errorf("previous = %v", prev)
	}

	got, err := state.Load()
	if err != nil {
		t.Fatal(err)
	}
	if got.Tripped || got.DenialCount != 0 {
		t.Errorf("persisted state after reset = %+v", got)
	}
}

func TestProfileKeygenSignValidate(t *testing.T) {
	e := newEnv(t, nil)
	keyFile := filepath.Join(e.dir, "signing.key")

	code, stdout, stderr := execute(t, "", "profile", "keygen", "--out", keyFile)
	if code != 0 {
		t.Fatalf("keygen: %d %s", code, stderr)
	}
	pub, _ := decode(t, stdout)["public_key"].(string)
	if pub == "" {
		t.Fatalf("keygen output = %s", stdout)
	}

	signed := newEnv(t, func(c *config.Config) { c.Profile.PublicKey = pub })
	code, _, stderr = execute(t, "", "--config", signed.config, "profile", "validate")
	if code == 0 {
		t.Fatal("validate should fail before the document is signed")
	}
	if !strings.Contains(stderr, "signature") {
		t.Errorf("stderr = %q", stderr)
	}

	code, _, stderr = execute(t, "", "--config", signed.config, "profile", "sign", "--key-file", keyFile)
	if code != 0 {
		t.Fatalf("sign: %d %s", code, stderr)
	}
	code, stdout, stderr = execute(t, "", "--config", signed.config, "profile", "validate")
	if code != 0 {
		t.Fatalf("validate: %d %s", code, stderr)
	}
	if out := decode(t, stdout); out["verified"] != true {
		t.Errorf("validate output = %v", out)
	}
}

func TestProfileShowFallsBackForMissingDocument(t *testing.T) {
	e := newEnv(t, func(c *config.Config) { c.Profile.Path = "/nonexistent/policy.json" })
	code, stdout, stderr := execute(t, "", "--config", e.config, "profile", "show", "--context", "production")
	if code != 0 {
		t.Fatalf("show: %d %s", code, stderr)
	}
	out := decode(t, stdout)
	if out["fallback"] != true || out["context"] != "production" {
		t.Errorf("snapshot = %v", out)
	}
}

func TestAuditSummaryAndPrune(t *testing.T) {
	e := newEnv(t, nil)
	for _, input := range []string{
		`{"tool":"Bash","parameters":{"command":"rm -rf /"}}`,
		`{"tool":"Bash","parameters":{"command":"git log"}}`,
		`{"tool":"Read","parameters":{"file_path":"README.md"}}`,
	} {
		if code, _, stderr := execute(t, input, "--config", e.config, "check"); code != 0 {
			t.Fatalf("check: %s", stderr)
		}
	}

	code, stdout, _ := execute(t, "", "--config", e.config, "audit", "summary", "--json")
	if code != 0 {
		t.Fatal("summary failed")
	}
	byEvent := decode(t, stdout)["by_event"].(map[string]any)
	if got := byEvent[audit.EventAuthorization]; got != float64(3) {
		t.Errorf("authorization entries = %v", got)
	}

	code, stdout, _ = execute(t, "", "--config", e.config, "audit", "tail", "--denied")
	if code != 0 {
		t.Fatal("tail failed")
	}
	if lines := strings.Count(strings.TrimSpace(stdout), "\n") + 1; lines != 1 || !strings.Contains(stdout, "Bash") {
		t.Errorf("denied tail = %q", stdout)
	}

	code, stdout, _ = execute(t, "", "--config", e.config, "audit", "prune", "--keep", "1")
	if code != 0 || !strings.Contains(stdout, "kept at most 1") {
		t.Errorf("prune: %d %q", code, stdout)
	}
	entries, err := audit.Read(filepath.Join(e.dir, "data", "audit.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("entries after prune = %d", len(entries))
	}
}

func TestApplyReloadedConfig(t *testing.T) {
	e := newEnv(t, nil)
	cfg, err := config.Load(e.config)
	if err != nil {
		t.Fatal(err)
	}
	a, err := build(context.Background(), cfg, newLogger(&bytes.Buffer{}, nil), buildOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	if got := a.gateway.Layers(); !slices.Equal(got, []string{"resource", "workflow", "batch"}) {
		t.Fatalf("initial layers = %v", got)
	}

	next := config.DefaultConfig()
	next.Server.DataDir = cfg.Server.DataDir
	next.Server.LogLevel = "error"
	next.Server.WorkspaceRoot = cfg.Server.WorkspaceRoot
	next.Profile.Path = cfg.Profile.Path
	next.Profile.Context = "production"
	next.Layers.Workflow = false
	next.Layers.Breaker = true
	next.Breaker.Threshold = 3
	if err := next.Save(e.config); err != nil {
		t.Fatal(err)
	}
	if _, err := cfg.Reload(e.config); err != nil {
		t.Fatal(err)
	}
	if err := a.apply(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := a.gateway.Layers(); !slices.Equal(got, []string{"resource", "breaker", "batch"}) {
		t.Errorf("reloaded layers = %v", got)
	}
	if got := (breakerControl{a}).Threshold(); got != 3 {
		t.Errorf("threshold = %d", got)
	}
	if got := a.store.Active().Context; got != "production" {
		t.Errorf("context = %q", got)
	}
}

func TestBatchControlFollowsReload(t *testing.T) {
	e := newEnv(t, func(c *config.Config) {
		c.Layers.Batch = true
		c.Batch.Rules = []config.BatchRule{{Tool: "mcp__*", MaxRepeats: 2, WindowSec: 60}}
	})
	cfg, err := config.Load(e.config)
	if err != nil {
		t.Fatal(err)
	}
	a, err := build(context.Background(), cfg, newLogger(&bytes.Buffer{}, nil), buildOptions{})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	ctl := batchControl{a}
	if ok, err := ctl.Confirm(context.Background(), "bot", "mcp__github__create_issue"); err != nil || !ok {
		t.Fatalf("confirm = %v, %v", ok, err)
	}
	if ok, _ := ctl.Confirm(context.Background(), "bot", "Read"); ok {
		t.Error("Read has no batch rule")
	}
}

func TestVersion(t *testing.T) {
	code, stdout, _ := execute(t, "", "version")
	if code != 0 || !strings.HasPrefix(stdout, "toolgate test") {
		t.Errorf("version: %d %q", code, stdout)
	}
}
