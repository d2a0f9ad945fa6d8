package shell

import (
	"reflect"
	"testing"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		cmd  string
		want []string
	}{
		{"git status; rm -rf /", []string{"git status", "rm -rf /"}},
		{"make && make test || echo fail", []string{"make", "make test", "echo fail"}},
		{"cat a | grep b |& tee c", []string{"cat a", "grep b", "tee c"}},
		{`echo "a; b && c" ; ls`, []string{`echo "a; b && c"`, "ls"}},
		{"sleep 1 & curl x", []string{"sleep 1", "curl x"}},
		{"go test ./... 2>&1 &> out.log", []string{"go test ./... 2>&1 &> out.log"}},
		{"git status\nrm -rf build", []string{"git status", "rm -rf build"}},
		{"cat > f.txt <<EOF\nrm -rf /\nEOF\nls", []string{"cat > f.txt <<EOF", "ls"}},
		{"   ", nil},
	}
	for _, tt := range tests {
		t.Run(tt.cmd, func(t *testing.T) {
			got := Split(tt.cmd)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Split(%q) = %q, want %q", tt.cmd, got, tt.want)
			}
		})
	}
}

func TestCommandName(t *testing.T) {
	tests := map[string]string{
		"git status":                 "git",
		"/usr/bin/git log":           "git",
		"FOO=bar BAZ=1 npm test":     "npm",
		"env -i PATH=/bin ls -la":    "ls",
		"nohup ./server --port 8080": "server",
		"(cd sub":                    "cd",
		`"my tool" --flag`:           "my tool",
		"A=1":                        "",
	}
	for in, want := range tests {
		if got := CommandName(in); got != want {
			t.Errorf("CommandName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestHasSubstitution(t *testing.T) {
	tests := map[string]bool{
		"echo $(whoami)":        true,
		"echo `id`":             true,
		"diff <(ls a) <(ls b)":  true,
		"echo '$(not run)'":     false,
		"echo $HOME":            false,
		`echo "$(date)"`:        true,
		`grep -E 'a(b)' file`:   false,
		"git commit -m \"fix\"": false,
	}
	for in, want := range tests {
		if got := HasSubstitution(in); got != want {
			t.Errorf("HasSubstitution(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestRedirections(t *testing.T) {
	got := Redirections("go test ./... > out.log 2>&1 && echo done >> 'notes file.md' | tee -a audit.txt")
	want := []Redirection{
		{Op: ">", Target: "out.log"},
		{Op: ">>", Target: "notes file.md", Append: true},
		{Op: "tee", Target: "audit.txt", Append: true},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Redirections = %+v, want %+v", got, want)
	}

	got = Redirections("cmd 2> err.txt &> all.txt >/dev/null")
	if len(got) != 3 || got[0].Op != "2>" || got[1].Op != "&>" || got[2].Target != "/dev/null" {
		t.Fatalf("unexpected redirections %+v", got)
	}
	if !IsDiscard(got[2].Target) {
		t.Error("expected /dev/null to be a discard sink")
	}

	if got := Redirections("echo '>' not-a-file"); len(got) != 0 {
		t.Errorf("quoted > should not redirect: %+v", got)
	}
}

func TestStripHeredocs(t *testing.T) {
	cmd, bodies := StripHeredocs("cat > src/app.py <<'EOF'\ndef f():\n    pass\nEOF\necho ok")
	if cmd != "cat > src/app.py <<'EOF'\necho ok" {
		t.Errorf("command = %q", cmd)
	}
	if len(bodies) != 1 || bodies[0] != "def f():\n    pass" {
		t.Errorf("bodies = %q", bodies)
	}

	_, bodies = StripHeredocs("grep x <<< \"$value\"")
	if len(bodies) != 0 {
		t.Errorf("here-string is not a heredoc: %q", bodies)
	}
}
