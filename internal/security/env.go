package security

import (
	"path"
	"strings"

	"github.com/clawinfra/toolgate/internal/decision"
)

// checkEnv validates reading an environment variable. Matching is
// case-insensitive and denied patterns win.
func checkEnv(rules EnvRules, name string) decision.Decision {
	upper := strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(name), "$"))
	if upper == "" {
		return decision.Denyf("missing required argument: empty variable name")
	}
	for _, pattern := range rules.DeniedPatterns {
		if envMatch(pattern, upper) {
			return decision.Denyf("variable %s matches denied pattern %q", upper, pattern)
		}
	}
	for _, allowed := range rules.AllowedVars {
		if envMatch(allowed, upper) {
			return decision.Allowf("variable %s allowed by allowed_vars entry %q", upper, allowed)
		}
	}
	return decision.Askf("variable %s is not in allowed_vars", upper)
}

func envMatch(pattern, upperName string) bool {
	p := strings.ToUpper(strings.TrimSpace(pattern))
	if p == "" {
		return false
	}
	if p == upperName {
		return true
	}
	ok, err := path.Match(p, upperName)
	return err == nil && ok
}
