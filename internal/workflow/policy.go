// Package workflow nudges, warns about or blocks significant raw edits made
// outside the sanctioned implementation pipeline.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/clawinfra/toolgate/internal/decision"
	"github.com/clawinfra/toolgate/internal/request"
	"github.com/clawinfra/toolgate/internal/shell"
	"github.com/clawinfra/toolgate/internal/significance"
)

// DefaultEntryPoint is the workflow significant changes are routed to.
const DefaultEntryPoint = "/implement"

// DefaultPipelineRoles are caller identities that bypass enforcement.
var DefaultPipelineRoles = []string{"implementer", "test-master", "doc-master", "pipeline"}

// Policy is the workflow decision layer.
type Policy struct {
	Level         Level
	EntryPoint    string
	PipelineRoles []string
	Classifier    *significance.Classifier
	// WorkspaceRoot resolves relative paths when reading current file
	// content.
	WorkspaceRoot string
	// ReadFile reads current file content. Nil uses os.ReadFile.
	ReadFile func(path string) ([]byte, error)
}

// New returns a policy with default entry point, roles and classifier.
func New(level Level) *Policy {
	return &Policy{
		Level:         level,
		EntryPoint:    DefaultEntryPoint,
		PipelineRoles: DefaultPipelineRoles,
		Classifier:    significance.New(),
	}
}

// Name implements the gateway layer interface.
func (p *Policy) Name() string { return "workflow" }

// Evaluate decides a normalized request. Only filesystem writes and shell
// commands are subject to workflow enforcement.
func (p *Policy) Evaluate(_ context.Context, n *request.Normalized) decision.Decision {
	if p.Level == Off {
		return decision.Allowf("workflow enforcement is off")
	}
	if p.isPipelineRole(n.Access.Caller) {
		return decision.Allowf("caller %q is a pipeline role", n.Access.Caller)
	}

	var changes []significance.Change
	switch {
	case n.Access.Category == request.CategoryFilesystem && n.Access.Operation == request.OpWrite:
		ch, err := p.fileChange(n)
		if err != nil {
			return decision.Askf("cannot read current content of %s: %v", n.Access.Argument, err)
		}
		changes = append(changes, ch)
	case n.Access.Category == request.CategoryShell && n.Access.Operation == request.OpExecute:
		var err error
		changes, err = p.redirectChanges(n.Access.Argument)
		if err != nil {
			return decision.Askf("cannot read redirection target: %v", err)
		}
		if len(changes) == 0 {
			return decision.Allowf("command writes no files")
		}
	default:
		return decision.Allowf("workflow enforcement does not apply to %s/%s", n.Access.Category, n.Access.Operation)
	}

	return p.Decide(changes)
}

// Decide applies the enforcement level to a set of changes. The most severe
// per-change outcome wins.
func (p *Policy) Decide(changes []significance.Change) decision.Decision {
	if p.Level == Off {
		return decision.Allowf("workflow enforcement is off")
	}
	ds := make([]decision.Decision, 0, len(changes))
	for _, ch := range changes {
		ds = append(ds, p.decideOne(ch))
	}
	return decision.Combine(ds...)
}

func (p *Policy) decideOne(ch significance.Change) decision.Decision {
	v := p.classifier().Classify(ch)
	if v.Exempt || !v.Significant {
		return decision.Allowf("%s: %s", ch.Path, v.Reason)
	}

	entry := p.entryPoint()
	switch p.Level {
	case Suggest:
		return decision.Allowf("significant change to %s (%s); consider using %s", ch.Path, v.Reason, entry)
	case Warn:
		return decision.Allowf("warning: significant change to %s (%s) bypasses %s", ch.Path, v.Reason, entry)
	case Block:
		return decision.Denyf("significant change to %s (%s) must go through %s", ch.Path, v.Reason, entry)
	default:
		return decision.Allowf("workflow enforcement is off")
	}
}

func (p *Policy) fileChange(n *request.Normalized) (significance.Change, error) {
	if n.Change == nil {
		return significance.Change{Path: n.Access.Argument}, nil
	}
	ch := *n.Change
	if n.WholeFile {
		current, err := p.current(ch.Path)
		if err != nil {
			return ch, err
		}
		ch.Before = current
	}
	return ch, nil
}

// redirectChanges builds one change per file a shell command writes. The
// written content is the here-document body when present, otherwise the
// command text itself.
func (p *Policy) redirectChanges(cmd string) ([]significance.Change, error) {
	redirs := shell.Redirections(cmd)
	if len(redirs) == 0 {
		return nil, nil
	}
	_, bodies := shell.StripHeredocs(cmd)
	written := cmd
	if len(bodies) > 0 {
		written = strings.Join(bodies, "\n")
	}

	var changes []significance.Change
	seen := make(map[string]bool)
	for _, r := range redirs {
		if shell.IsDiscard(r.Target) || seen[r.Target] {
			continue
		}
		seen[r.Target] = true

		current, err := p.current(r.Target)
		if err != nil {
			return nil, err
		}
		after := written
		if r.Append && current != "" {
			after = strings.TrimRight(current, "\n") + "\n" + written
		}
		changes = append(changes, significance.Change{Path: r.Target, Before: current, After: after})
	}
	return changes, nil
}

// current returns the file's present content, or "" when it does not exist.
func (p *Policy) current(path string) (string, error) {
	read := p.ReadFile
	if read == nil {
		read = os.ReadFile
	}
	if !filepath.IsAbs(path) && p.WorkspaceRoot != "" {
		path = filepath.Join(p.WorkspaceRoot, path)
	}
	data, err := read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", nil
		}
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}

func (p *Policy) isPipelineRole(caller string) bool {
	caller = strings.TrimSpace(caller)
	if caller == "" {
		return false
	}
	for _, r := range p.PipelineRoles {
		if strings.EqualFold(strings.TrimSpace(r), caller) {
			return true
		}
	}
	return false
}

func (p *Policy) classifier() *significance.Classifier {
	if p.Classifier == nil {
		return significance.New()
	}
	return p.Classifier
}

func (p *Policy) entryPoint() string {
	if p.EntryPoint == "" {
		return DefaultEntryPoint
	}
	return p.EntryPoint
}
