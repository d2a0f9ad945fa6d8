package security

import (
	"regexp"
	"strings"

	"github.com/clawinfra/toolgate/internal/decision"
	"github.com/clawinfra/toolgate/internal/shell"
)

// checkCommand validates a shell command: denied patterns first, then every
// simple command of a compound command must be on the allowlist.
func checkCommand(rules ShellRules, cmd string) decision.Decision {
	collapsed := strings.Join(strings.Fields(cmd), " ")

	var invalid []string
	for _, pattern := range rules.DeniedPatterns {
		matched, err := matchDenied(pattern, cmd, collapsed)
		if err != nil {
			invalid = append(invalid, pattern)
			continue
		}
		if matched {
			return decision.Denyf("shell command matches denied pattern %q", pattern)
		}
	}
	if len(invalid) > 0 {
		return decision.Askf("denied pattern %q is not a valid expression; command needs confirmation", invalid[0])
	}

	if shell.HasSubstitution(cmd) {
		return decision.Askf("command substitution in %q needs confirmation", collapsed)
	}

	segments := shell.Split(cmd)
	if len(segments) == 0 {
		return decision.Denyf("missing required argument: empty command")
	}

	var binaries, disallowed []string
	for _, seg := range segments {
		binary := shell.CommandName(seg)
		if binary == "" {
			continue
		}
		binaries = append(binaries, binary)
		if !commandAllowed(binary, rules.AllowedCommands) {
			disallowed = append(disallowed, binary)
		}
	}
	if len(binaries) == 0 {
		return decision.Askf("no command found in %q", collapsed)
	}
	if len(disallowed) > 0 {
		return decision.Askf("command %q is not in allowed_commands", strings.Join(unique(disallowed), ", "))
	}
	return decision.Allowf("command %q is in allowed_commands", strings.Join(unique(binaries), ", "))
}

// matchDenied matches a substring pattern against both the raw and the
// whitespace-collapsed command, or a "re:" pattern as a regular expression.
func matchDenied(pattern, raw, collapsed string) (bool, error) {
	if expr, ok := strings.CutPrefix(pattern, "re:"); ok {
		re, err := regexp.Compile(expr)
		if err != nil {
			return false, err
		}
		return re.MatchString(raw) || re.MatchString(collapsed), nil
	}
	if pattern == "" {
		return false, nil
	}
	return strings.Contains(raw, pattern) || strings.Contains(collapsed, pattern), nil
}

func commandAllowed(binary string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || a == binary {
			return true
		}
	}
	return false
}

func unique(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
