package profile

import (
	"bytes"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/clawinfra/toolgate/internal/security"
)

// Formats
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
	FormatTOML = "toml"
)

// SingleProfileKey keys the profile of a document that holds one profile
// rather than a per-context set.
const SingleProfileKey = ""

var (
	// ErrEmptyDocument is returned for a document with no rules at all.
	ErrEmptyDocument = errors.New("profile: policy document defines no rules")
	// ErrNoProfileForContext is returned when a profile set lacks the
	// requested context.
	ErrNoProfileForContext = errors.New("profile: no profile for context")
)

// FormatOf picks the document format from the file extension. Unknown
// extensions are treated as JSON.
func FormatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	default:
		return FormatJSON
	}
}

type profileSet struct {
	Profiles map[string]*security.Profile `json:"profiles" yaml:"profiles" toml:"profiles"`
}

// Decode parses a policy document. A document with a top-level "profiles"
// table yields one profile per context; otherwise the whole document is a
// single profile stored under SingleProfileKey.
func Decode(data []byte, format string) (map[string]*security.Profile, error) {
	var set profileSet
	if err := unmarshal(data, format, &set); err != nil {
		return nil, err
	}
	if len(set.Profiles) > 0 {
		out := make(map[string]*security.Profile, len(set.Profiles))
		for name, p := range set.Profiles {
			if p == nil {
				return nil, fmt.Errorf("profile: context %q is empty", name)
			}
			out[CanonicalContext(name)] = p
		}
		return out, nil
	}

	var p security.Profile
	if err := unmarshal(data, format, &p); err != nil {
		return nil, err
	}
	if isEmpty(&p) {
		return nil, ErrEmptyDocument
	}
	return map[string]*security.Profile{SingleProfileKey: &p}, nil
}

func unmarshal(data []byte, format string, v any) error {
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, v)
	case FormatTOML:
		err = toml.Unmarshal(data, v)
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		err = dec.Decode(v)
	}
	if err != nil {
		return fmt.Errorf("profile: parse %s document: %w", format, err)
	}
	return nil
}

func isEmpty(p *security.Profile) bool {
	return len(p.Filesystem.Read) == 0 && len(p.Filesystem.Write) == 0 &&
		len(p.Shell.AllowedCommands) == 0 && len(p.Shell.DeniedPatterns) == 0 &&
		len(p.Network.AllowedDomains) == 0 && len(p.Network.DeniedIPs) == 0 &&
		len(p.Environment.AllowedVars) == 0 && len(p.Environment.DeniedPatterns) == 0
}

// LoadDocument reads and decodes the policy document at path.
func LoadDocument(path string) (map[string]*security.Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("profile: read %s: %w", path, err)
	}
	return Decode(data, FormatOf(path))
}

// Select returns the profile for context from a decoded document.
func Select(doc map[string]*security.Profile, context string) (*security.Profile, error) {
	if p, ok := doc[SingleProfileKey]; ok && len(doc) == 1 {
		return p, nil
	}
	if p, ok := doc[CanonicalContext(context)]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w %q (have %s)", ErrNoProfileForContext, context, strings.Join(contexts(doc), ", "))
}

// Check validates every profile in a document.
func Check(doc map[string]*security.Profile) error {
	var errs []error
	for _, name := range contexts(doc) {
		if err := doc[name].Check(); err != nil {
			label := name
			if label == SingleProfileKey {
				label = "profile"
			}
			errs = append(errs, fmt.Errorf("%s: %w", label, err))
		}
	}
	return errors.Join(errs...)
}

// SignaturePath returns the detached signature path for a document.
func SignaturePath(path string) string { return path + ".sig" }

// VerifyFile checks the detached signature of the document at path against
// its decoded profiles.
func VerifyFile(path string, doc map[string]*security.Profile, pub ed25519.PublicKey) error {
	raw, err := os.ReadFile(SignaturePath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return security.ErrMissingSignature
		}
		return fmt.Errorf("profile: read signature: %w", err)
	}
	sig, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return fmt.Errorf("profile: decode signature: %w", err)
	}
	return security.VerifyProfiles(doc, sig, pub)
}

// SignFile signs the document at path and writes the hex signature next to
// it. It returns the signature path.
func SignFile(path string, priv ed25519.PrivateKey) (string, error) {
	doc, err := LoadDocument(path)
	if err != nil {
		return "", err
	}
	if err := Check(doc); err != nil {
		return "", fmt.Errorf("profile: refusing to sign invalid document: %w", err)
	}
	sig, err := security.SignProfiles(doc, priv)
	if err != nil {
		return "", err
	}
	sigPath := SignaturePath(path)
	if err := os.WriteFile(sigPath, []byte(hex.EncodeToString(sig)+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("profile: write signature: %w", err)
	}
	return sigPath, nil
}

// CanonicalContext maps context aliases to their canonical names. The empty
// context is development.
func CanonicalContext(name string) string {
	switch n := strings.ToLower(strings.TrimSpace(name)); n {
	case "", "dev", security.ContextDevelopment:
		return security.ContextDevelopment
	case "test", security.ContextTesting:
		return security.ContextTesting
	case "prod", security.ContextProduction:
		return security.ContextProduction
	default:
		return n
	}
}

func contexts(doc map[string]*security.Profile) []string {
	out := make([]string, 0, len(doc))
	for k := range doc {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
