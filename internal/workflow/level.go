package workflow

import (
	"fmt"
	"strings"
)

// Level is the enforcement level for significant raw edits.
type Level int

const (
	// Off skips classification entirely.
	Off Level = iota
	// Suggest allows with a tip pointing at the entry point.
	Suggest
	// Warn allows with an explicit warning.
	Warn
	// Block denies.
	Block
)

var levelNames = [...]string{"off", "suggest", "warn", "block"}

func (l Level) String() string {
	if l < Off || l > Block {
		return fmt.Sprintf("level(%d)", int(l))
	}
	return levelNames[l]
}

// ParseLevel parses an enforcement level name, case-insensitively.
func ParseLevel(s string) (Level, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for i, n := range levelNames {
		if n == name {
			return Level(i), nil
		}
	}
	return Off, fmt.Errorf("workflow: unknown enforcement level %q (want off|suggest|warn|block)", s)
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(b []byte) error {
	parsed, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
