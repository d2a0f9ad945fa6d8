package audit

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// DefaultRedactedKeys are context keys whose values are replaced by digests.
var DefaultRedactedKeys = []string{
	"content", "contents", "text",
	"new_string", "old_string", "new_source",
	"token", "password", "secret", "api_key", "authorization",
}

// Redactor replaces sensitive context values with a BLAKE2b-256 digest and
// the original length. A non-empty salt keys the hash.
type Redactor struct {
	keys map[string]bool
	salt []byte
}

// NewRedactor returns a redactor for DefaultRedactedKeys plus extra. Salts
// longer than 64 bytes are truncated.
func NewRedactor(salt []byte, extra ...string) *Redactor {
	if len(salt) > blake2b.Size {
		salt = salt[:blake2b.Size]
	}
	r := &Redactor{keys: make(map[string]bool), salt: salt}
	for _, k := range DefaultRedactedKeys {
		r.keys[k] = true
	}
	for _, k := range extra {
		r.keys[strings.ToLower(k)] = true
	}
	return r
}

// Redact returns a copy of ctx with sensitive values digested. Nested maps
// and slices of maps are walked.
func (r *Redactor) Redact(ctx map[string]any) map[string]any {
	if ctx == nil {
		return nil
	}
	out := make(map[string]any, len(ctx))
	for k, v := range ctx {
		if r.keys[strings.ToLower(k)] {
			out[k] = r.digest(v)
			continue
		}
		out[k] = r.walk(v)
	}
	return out
}

func (r *Redactor) walk(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return r.Redact(t)
	case []any:
		cp := make([]any, len(t))
		for i, item := range t {
			cp[i] = r.walk(item)
		}
		return cp
	default:
		return v
	}
}

func (r *Redactor) digest(v any) any {
	s, ok := v.(string)
	if !ok {
		if v == nil {
			return nil
		}
		// Non-string payloads (e.g. MultiEdit edit lists) are walked instead.
		return r.walk(v)
	}
	return map[string]any{
		"blake2b": r.hashString(s),
		"length":  len(s),
	}
}

func (r *Redactor) hashString(s string) string {
	h, err := blake2b.New256(r.salt)
	if err != nil {
		sum := blake2b.Sum256([]byte(s))
		return hex.EncodeToString(sum[:])
	}
	h.Write([]byte(s))
	return hex.EncodeToString(h.Sum(nil))
}
