package security

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrInvalidSignature is returned when a policy signature does not verify.
	ErrInvalidSignature = errors.New("security: invalid policy signature")
	// ErrMissingSignature is returned when a policy is unsigned but verification is required.
	ErrMissingSignature = errors.New("security: missing policy signature")
	// ErrMissingPublicKey is returned when the operator public key is absent.
	ErrMissingPublicKey = errors.New("security: missing operator public key")
)

// GenerateKeyPair generates a new Ed25519 key pair for signing policies.
func GenerateKeyPair() (publicKey ed25519.PublicKey, privateKey ed25519.PrivateKey, err error) {
	publicKey, privateKey, err = ed25519.GenerateKey(rand.Reader)
	return
}

// SerializeProfiles produces a deterministic JSON representation of a set of
// profiles keyed by context, suitable for signing. Map keys are sorted by
// encoding/json and every rule list is sorted.
func SerializeProfiles(profiles map[string]*Profile) ([]byte, error) {
	m := make(map[string]interface{}, len(profiles))
	for name, p := range profiles {
		if p == nil {
			continue
		}
		m[name] = map[string]interface{}{
			"name": p.Name,
			"filesystem": map[string]interface{}{
				"read":  sortedStrings(p.Filesystem.Read),
				"write": sortedStrings(p.Filesystem.Write),
			},
			"shell": map[string]interface{}{
				"allowed_commands": sortedStrings(p.Shell.AllowedCommands),
				"denied_patterns":  sortedStrings(p.Shell.DeniedPatterns),
			},
			"network": map[string]interface{}{
				"allowed_domains": sortedStrings(p.Network.AllowedDomains),
				"denied_ips":      sortedStrings(p.Network.DeniedIPs),
			},
			"environment": map[string]interface{}{
				"allowed_vars":    sortedStrings(p.Environment.AllowedVars),
				"denied_patterns": sortedStrings(p.Environment.DeniedPatterns),
			},
		}
	}
	return json.Marshal(m)
}

// SignProfiles signs a profile set with the operator's private key.
func SignProfiles(profiles map[string]*Profile, privateKey ed25519.PrivateKey) ([]byte, error) {
	msg, err := SerializeProfiles(profiles)
	if err != nil {
		return nil, fmt.Errorf("serialize profiles for signing: %w", err)
	}
	return ed25519.Sign(privateKey, msg), nil
}

// VerifyProfiles checks signature over profiles. It returns
// ErrInvalidSignature when the signature does not match.
func VerifyProfiles(profiles map[string]*Profile, signature []byte, publicKey ed25519.PublicKey) error {
	if len(publicKey) != ed25519.PublicKeySize {
		return ErrMissingPublicKey
	}
	if len(signature) == 0 {
		return ErrMissingSignature
	}
	msg, err := SerializeProfiles(profiles)
	if err != nil {
		return fmt.Errorf("serialize profiles for verification: %w", err)
	}
	if !ed25519.Verify(publicKey, msg, signature) {
		return ErrInvalidSignature
	}
	return nil
}

// DecodePublicKey parses a hex-encoded Ed25519 public key.
func DecodePublicKey(s string) (ed25519.PublicKey, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decode public key: %w", err)
	}
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("decode public key: want %d bytes, got %d", ed25519.PublicKeySize, len(b))
	}
	return ed25519.PublicKey(b), nil
}

// DecodePrivateKey parses a hex-encoded Ed25519 private key.
func DecodePrivateKey(s string) (ed25519.PrivateKey, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("decode private key: %w", err)
	}
	if len(b) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("decode private key: want %d bytes, got %d", ed25519.PrivateKeySize, len(b))
	}
	return ed25519.PrivateKey(b), nil
}

// sortedStrings returns a sorted copy of s (nil → empty slice for consistent JSON).
func sortedStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	out := make([]string, len(s))
	copy(out, s)
	sort.Strings(out)
	return out
}
