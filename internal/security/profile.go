package security

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
)

// Profile is a declarative security profile. It is treated as immutable once
// loaded; callers that need to change one must Clone it first.
type Profile struct {
	Name        string          `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty"`
	Filesystem  FilesystemRules `json:"filesystem" yaml:"filesystem" toml:"filesystem"`
	Shell       ShellRules      `json:"shell" yaml:"shell" toml:"shell"`
	Network     NetworkRules    `json:"network" yaml:"network" toml:"network"`
	Environment EnvRules        `json:"environment" yaml:"environment" toml:"environment"`
}

// FilesystemRules are glob lists per operation. Entries prefixed with "!"
// are negations and always win over positive matches.
type FilesystemRules struct {
	Read  []string `json:"read" yaml:"read" toml:"read"`
	Write []string `json:"write" yaml:"write" toml:"write"`
}

// ShellRules govern command execution.
type ShellRules struct {
	AllowedCommands []string `json:"allowed_commands" yaml:"allowed_commands" toml:"allowed_commands"`
	// DeniedPatterns are substrings, or regular expressions when prefixed
	// with "re:".
	DeniedPatterns []string `json:"denied_patterns" yaml:"denied_patterns" toml:"denied_patterns"`
}

// NetworkRules govern outbound access.
type NetworkRules struct {
	AllowedDomains []string `json:"allowed_domains" yaml:"allowed_domains" toml:"allowed_domains"`
	// DeniedIPs holds CIDRs, literal addresses or host names.
	DeniedIPs []string `json:"denied_ips" yaml:"denied_ips" toml:"denied_ips"`
}

// EnvRules govern environment variable reads.
type EnvRules struct {
	AllowedVars    []string `json:"allowed_vars" yaml:"allowed_vars" toml:"allowed_vars"`
	DeniedPatterns []string `json:"denied_patterns" yaml:"denied_patterns" toml:"denied_patterns"`
}

// Clone returns a deep copy of p.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	return &Profile{
		Name: p.Name,
		Filesystem: FilesystemRules{
			Read:  cloneStrings(p.Filesystem.Read),
			Write: cloneStrings(p.Filesystem.Write),
		},
		Shell: ShellRules{
			AllowedCommands: cloneStrings(p.Shell.AllowedCommands),
			DeniedPatterns:  cloneStrings(p.Shell.DeniedPatterns),
		},
		Network: NetworkRules{
			AllowedDomains: cloneStrings(p.Network.AllowedDomains),
			DeniedIPs:      cloneStrings(p.Network.DeniedIPs),
		},
		Environment: EnvRules{
			AllowedVars:    cloneStrings(p.Environment.AllowedVars),
			DeniedPatterns: cloneStrings(p.Environment.DeniedPatterns),
		},
	}
}

// Check reports rules that can never match as written: bad regular
// expressions, malformed globs and unparseable CIDRs.
func (p *Profile) Check() error {
	var errs []error
	for _, pat := range p.Shell.DeniedPatterns {
		if expr, ok := strings.CutPrefix(pat, "re:"); ok {
			if _, err := regexp.Compile(expr); err != nil {
				errs = append(errs, fmt.Errorf("shell.denied_patterns %q: %w", pat, err))
			}
		}
	}
	for _, section := range []struct {
		name  string
		globs []string
	}{
		{"filesystem.read", p.Filesystem.Read},
		{"filesystem.write", p.Filesystem.Write},
		{"environment.allowed_vars", p.Environment.AllowedVars},
		{"environment.denied_patterns", p.Environment.DeniedPatterns},
	} {
		for _, g := range section.globs {
			if err := checkGlob(strings.TrimPrefix(g, "!")); err != nil {
				errs = append(errs, fmt.Errorf("%s %q: %w", section.name, g, err))
			}
		}
	}
	for _, entry := range p.Network.DeniedIPs {
		if strings.Contains(entry, "/") {
			if _, _, err := net.ParseCIDR(entry); err != nil {
				errs = append(errs, fmt.Errorf("network.denied_ips %q: %w", entry, err))
			}
		}
	}
	return errors.Join(errs...)
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s))
	copy(out, s)
	return out
}
