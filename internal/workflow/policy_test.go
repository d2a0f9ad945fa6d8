package workflow

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/clawinfra/toolgate/internal/decision"
	"github.com/clawinfra/toolgate/internal/request"
	"github.com/clawinfra/toolgate/internal/significance"
)

// significantAfter adds one new function and 20 new lines.
func significantAfter() string {
	var b strings.Builder
	b.WriteString("def existing():\n    return 1\n\n")
	b.WriteString("def added(x):\n")
	for i := 0; i < 19; i++ {
		b.WriteString("    x = x + 1\n")
	}
	return b.String()
}

const existingBefore = "def existing():\n    return 1\n"

func normalize(t *testing.T, req request.ToolRequest) *request.Normalized {
	t.Helper()
	n, err := request.Normalize(req)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	return n
}

func editRequest(path, caller string) request.ToolRequest {
	return request.ToolRequest{
		Tool:   "Edit",
		Caller: caller,
		Parameters: map[string]any{
			"file_path":  path,
			"old_string": existingBefore,
			"new_string": significantAfter(),
		},
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"off", Off, false},
		{"Suggest", Suggest, false},
		{" WARN ", Warn, false},
		{"block", Block, false},
		{"strict", Off, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v", tt.in, got, err)
		}
	}
	if Block.String() != "block" {
		t.Errorf("Block.String() = %q", Block.String())
	}
}

func TestLevelsOnSignificantEdit(t *testing.T) {
	tests := []struct {
		level      Level
		want       decision.Result
		wantReason string
	}{
		{Off, decision.Allow, "enforcement is off"},
		{Suggest, decision.Allow, "consider using /implement"},
		{Warn, decision.Allow, "warning: significant change"},
		{Block, decision.Deny, "must go through /implement"},
	}
	for _, tt := range tests {
		t.Run(tt.level.String(), func(t *testing.T) {
			p := New(tt.level)
			d := p.Evaluate(context.Background(), normalize(t, editRequest("src/app.py", "agent")))
			if d.Result != tt.want {
				t.Fatalf("result = %s, want %s (%s)", d.Result, tt.want, d.Reason())
			}
			if !strings.Contains(d.Reason(), tt.wantReason) {
				t.Errorf("reason = %q, want %q", d.Reason(), tt.wantReason)
			}
		})
	}
}

func TestBlockScenarioNamesEntryPoint(t *testing.T) {
	p := New(Block)
	d := p.Evaluate(context.Background(), normalize(t, editRequest("src/app.py", "")))
	if d.Result != decision.Deny {
		t.Fatalf("expected deny, got %s", d)
	}
	if !strings.Contains(d.Reason(), "new definitions: added") {
		t.Errorf("reason should carry the classifier verdict: %q", d.Reason())
	}
}

func TestPipelineRoleBypass(t *testing.T) {
	for _, caller := range []string{"implementer", "Test-Master", " PIPELINE "} {
		p := New(Block)
		d := p.Evaluate(context.Background(), normalize(t, editRequest("src/app.py", caller)))
		if d.Result != decision.Allow {
			t.Errorf("caller %q: got %s", caller, d)
		}
	}
}

func TestExemptPathShortCircuits(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 3; i++ {
		b.WriteString("def test_case_" + string(rune('a'+i)) + "():\n")
		for j := 0; j < 166; j++ {
			b.WriteString("    assert True\n")
		}
	}
	p := New(Block)
	n := normalize(t, request.ToolRequest{
		Tool:       "Write",
		Parameters: map[string]any{"file_path": "tests/test_foo.py", "content": b.String()},
	})
	p.ReadFile = func(string) ([]byte, error) { return nil, fs.ErrNotExist }
	d := p.Evaluate(context.Background(), n)
	if d.Result != decision.Allow || !strings.Contains(d.Reason(), "exempt path") {
		t.Fatalf("got %s", d)
	}
}

func TestMinorEditAllowed(t *testing.T) {
	p := New(Block)
	n := normalize(t, request.ToolRequest{
		Tool: "Edit",
		Parameters: map[string]any{
			"file_path":  "pkg/foo.go",
			"old_string": "return 1",
			"new_string": "return 2",
		},
	})
	if d := p.Evaluate(context.Background(), n); d.Result != decision.Allow {
		t.Fatalf("got %s", d)
	}
}

func TestWholeFileReadsCurrentContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.py")
	current := significantAfter()
	if err := os.WriteFile(path, []byte(current), 0o644); err != nil {
		t.Fatal(err)
	}

	p := New(Block)
	// Rewriting the file with a one-line tweak is not significant once the
	// current content is known.
	n := normalize(t, request.ToolRequest{
		Tool:       "Write",
		Parameters: map[string]any{"file_path": path, "content": strings.Replace(current, "return 1", "return 2", 1)},
	})
	if d := p.Evaluate(context.Background(), n); d.Result != decision.Allow {
		t.Fatalf("got %s", d)
	}

	p.ReadFile = func(string) ([]byte, error) { return nil, errors.New("permission denied") }
	if d := p.Evaluate(context.Background(), n); d.Result != decision.Ask {
		t.Fatalf("unreadable current content should ask, got %s", d)
	}
}

func TestShellRedirections(t *testing.T) {
	heredoc := "cat > src/gen.py <<'EOF'\n" + significantAfter() + "EOF"
	tests := []struct {
		name string
		cmd  string
		want decision.Result
	}{
		{"no redirection", "go test ./...", decision.Allow},
		{"discard sink", "make build > /dev/null 2>&1", decision.Allow},
		{"heredoc to source", heredoc, decision.Deny},
		{"heredoc to docs", "cat > docs/notes.md <<EOF\n" + significantAfter() + "EOF", decision.Allow},
		{"short echo", "echo hi > src/version.go", decision.Allow},
		{"tee to source", "cat <<EOF | tee -a src/gen.py\n" + significantAfter() + "EOF", decision.Deny},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(Block)
			p.ReadFile = func(string) ([]byte, error) { return nil, fs.ErrNotExist }
			n := normalize(t, request.ToolRequest{Tool: "Bash", Parameters: map[string]any{"command": tt.cmd}})
			d := p.Evaluate(context.Background(), n)
			if d.Result != tt.want {
				t.Fatalf("got %s, want %s", d, tt.want)
			}
		})
	}
}

func TestOtherCategoriesAllowed(t *testing.T) {
	p := New(Block)
	n := normalize(t, request.ToolRequest{Tool: "Read", Parameters: map[string]any{"file_path": "src/app.py"}})
	if d := p.Evaluate(context.Background(), n); d.Result != decision.Allow {
		t.Fatalf("got %s", d)
	}
}

func TestDecideMostSevereWins(t *testing.T) {
	p := New(Block)
	d := p.Decide([]significance.Change{
		{Path: "README.md", After: significantAfter()},
		{Path: "src/app.py", Before: existingBefore, After: significantAfter()},
	})
	if d.Result != decision.Deny {
		t.Fatalf("got %s", d)
	}
	if strings.Contains(d.Reason(), "README.md") {
		t.Errorf("allow reasons should not survive a deny: %q", d.Reason())
	}
}
