package security

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/clawinfra/toolgate/internal/decision"
)

// checkPath matches a filesystem path against the glob list for op.
func (v *Validator) checkPath(rules []string, op, p string) decision.Decision {
	if strings.ContainsRune(p, 0) {
		return decision.Denyf("path contains null byte: blocked")
	}

	candidates := v.pathCandidates(p)

	var denyRule, allowRule string
	for _, rule := range rules {
		negated := strings.HasPrefix(rule, "!")
		pattern := v.anchorPattern(strings.TrimPrefix(rule, "!"))
		if pattern == "" {
			continue
		}
		if !matchesAny(pattern, candidates) {
			continue
		}
		if negated {
			if denyRule == "" || moreSpecific(rule, denyRule) {
				denyRule = rule
			}
		} else if allowRule == "" || moreSpecific(rule, allowRule) {
			allowRule = rule
		}
	}

	switch {
	case denyRule != "":
		return decision.Denyf("filesystem %s of %q denied by rule %q", op, p, denyRule)
	case allowRule != "":
		return decision.Allowf("filesystem %s of %q allowed by rule %q", op, p, allowRule)
	default:
		return decision.Askf("no filesystem %s rule matches %q", op, p)
	}
}

// pathCandidates returns the cleaned absolute path and, when it differs,
// the symlink-resolved path.
func (v *Validator) pathCandidates(p string) []string {
	p = expandHome(p)
	if !filepath.IsAbs(p) {
		if v.WorkspaceRoot != "" {
			p = filepath.Join(v.WorkspaceRoot, p)
		} else if abs, err := filepath.Abs(p); err == nil {
			p = abs
		}
	}
	p = filepath.Clean(p)
	out := []string{filepath.ToSlash(p)}
	if resolved, err := resolveSymlinks(p); err == nil && resolved != p {
		out = append(out, filepath.ToSlash(resolved))
	}
	return out
}

// anchorPattern turns a profile glob into an absolute slash pattern.
// Patterns starting with "**" float; other relative patterns are anchored at
// the workspace root, or float when no root is configured.
func (v *Validator) anchorPattern(pattern string) string {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return ""
	}
	pattern = filepath.ToSlash(expandHome(pattern))
	switch {
	case strings.HasPrefix(pattern, "/"), strings.HasPrefix(pattern, "**"):
		return pattern
	case v.WorkspaceRoot != "":
		return filepath.ToSlash(filepath.Join(v.WorkspaceRoot, pattern))
	default:
		return "**/" + strings.TrimPrefix(pattern, "./")
	}
}

func matchesAny(pattern string, candidates []string) bool {
	for _, c := range candidates {
		if matchTree(pattern, c) {
			return true
		}
	}
	return false
}

// resolveSymlinks resolves symlinks, falling back to resolving the parent for non-existent paths.
func resolveSymlinks(absPath string) (string, error) {
	resolved, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			parent := filepath.Dir(absPath)
			resolvedParent, err2 := filepath.EvalSymlinks(parent)
			if err2 != nil {
				return absPath, nil // best effort
			}
			return filepath.Join(resolvedParent, filepath.Base(absPath)), nil
		}
		return absPath, nil
	}
	return resolved, nil
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
