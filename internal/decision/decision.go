// Package decision defines the tri-state authorization outcome shared by every
// layer of the gateway and the combinator that reduces layer outcomes to one.
package decision

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Result is the outcome of an authorization layer. Results are ordered by
// severity: Allow < Ask < Deny.
type Result int

const (
	Allow Result = iota
	Ask
	Deny
)

// String returns the wire name of the result.
func (r Result) String() string {
	switch r {
	case Allow:
		return "allow"
	case Ask:
		return "ask"
	case Deny:
		return "deny"
	default:
		return "unknown"
	}
}

// Status returns the audit status word for the result.
func (r Result) Status() string {
	switch r {
	case Allow:
		return "approved"
	case Deny:
		return "denied"
	default:
		return "asked"
	}
}

// ParseResult parses a wire name back into a Result.
func ParseResult(s string) (Result, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "allow":
		return Allow, nil
	case "ask":
		return Ask, nil
	case "deny":
		return Deny, nil
	}
	return Ask, fmt.Errorf("unknown decision %q", s)
}

// ReasonSeparator joins reasons in the rendered reason string.
const ReasonSeparator = "; "

// Decision is an immutable layer outcome. Reasons are kept sorted and
// de-duplicated so that combining decisions is order independent.
type Decision struct {
	Result  Result
	Reasons []string
}

// New builds a decision with the given reasons, dropping empty ones.
func New(r Result, reasons ...string) Decision {
	return Decision{Result: r, Reasons: normalizeReasons(reasons)}
}

// Allowf returns an allow decision with a formatted reason.
func Allowf(format string, args ...any) Decision {
	return New(Allow, fmt.Sprintf(format, args...))
}

// Askf returns an ask decision with a formatted reason.
func Askf(format string, args ...any) Decision {
	return New(Ask, fmt.Sprintf(format, args...))
}

// Denyf returns a deny decision with a formatted reason.
func Denyf(format string, args ...any) Decision {
	return New(Deny, fmt.Sprintf(format, args...))
}

// Reason renders all reasons as one human-readable string.
func (d Decision) Reason() string {
	return strings.Join(d.Reasons, ReasonSeparator)
}

// Approved reports whether the decision lets the action proceed unprompted.
func (d Decision) Approved() bool {
	return d.Result == Allow
}

// WithLayer prefixes every reason with the name of the layer that produced it.
func (d Decision) WithLayer(layer string) Decision {
	if layer == "" || len(d.Reasons) == 0 {
		return d
	}
	out := make([]string, len(d.Reasons))
	for i, r := range d.Reasons {
		out[i] = layer + ": " + r
	}
	return New(d.Result, out...)
}

func (d Decision) String() string {
	if len(d.Reasons) == 0 {
		return d.Result.String()
	}
	return d.Result.String() + " (" + d.Reason() + ")"
}

type wireDecision struct {
	Decision string `json:"decision"`
	Approved bool   `json:"approved"`
	Reason   string `json:"reason"`
}

// MarshalJSON emits the tri-state wire form {decision, approved, reason}.
func (d Decision) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireDecision{
		Decision: d.Result.String(),
		Approved: d.Approved(),
		Reason:   d.Reason(),
	})
}

// UnmarshalJSON accepts the tri-state wire form. When "decision" is absent the
// boolean "approved" form is used.
func (d *Decision) UnmarshalJSON(data []byte) error {
	var w wireDecision
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	r := Deny
	switch {
	case w.Decision != "":
		parsed, err := ParseResult(w.Decision)
		if err != nil {
			return err
		}
		r = parsed
	case w.Approved:
		r = Allow
	}
	var reasons []string
	if w.Reason != "" {
		reasons = strings.Split(w.Reason, ReasonSeparator)
	}
	*d = New(r, reasons...)
	return nil
}

// Combine reduces layer decisions with deny > ask > allow precedence. The
// winning result carries the reasons of every input that has that result.
// An empty input is a vacuous allow.
func Combine(ds ...Decision) Decision {
	result := Allow
	for _, d := range ds {
		if d.Result > result {
			result = d.Result
		}
	}
	var reasons []string
	for _, d := range ds {
		if d.Result == result {
			reasons = append(reasons, d.Reasons...)
		}
	}
	return New(result, reasons...)
}

func normalizeReasons(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, r := range in {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil
	}
	sort.Strings(out)
	return out
}
