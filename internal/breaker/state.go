package breaker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// UnreadableReason prefixes LastReason when the persisted state could not
// be read and the breaker started tripped.
const UnreadableReason = "breaker state unreadable"

// State is the breaker state. A zero State is armed with no denials.
type State struct {
	Tripped     bool      `json:"tripped"`
	DenialCount int       `json:"denial_count"`
	TrippedAt   time.Time `json:"tripped_at,omitempty"`
	LastReason  string    `json:"last_reason,omitempty"`
}

// Unreadable is the state adopted when the state file cannot be read: tripped
// until an operator resets it.
func Unreadable(err error) State {
	return State{
		Tripped:    true,
		TrippedAt:  time.Now().UTC(),
		LastReason: fmt.Sprintf("%s: %v", UnreadableReason, err),
	}
}

// StateFile persists State between processes. Update holds an advisory
// lock on a sibling ".lock" file so concurrent processes do not lose
// increments.
type StateFile struct {
	path string
}

// NewStateFile returns a state file at path.
func NewStateFile(path string) *StateFile {
	return &StateFile{path: path}
}

// Path returns the file path.
func (f *StateFile) Path() string { return f.path }

// Load reads the persisted state. A missing file is the zero State.
func (f *StateFile) Load() (State, error) {
	var st State
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return st, nil
		}
		return st, fmt.Errorf("breaker: read state: %w", err)
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, fmt.Errorf("breaker: parse state: %w", err)
	}
	return st, nil
}

// Save writes st atomically.
func (f *StateFile) Save(st State) error {
	return writeJSONAtomic(f.path, st)
}

// Update applies fn to the persisted state under the file lock and writes
// the result. An unreadable file is replaced by Unreadable before fn runs.
// On a lock error fn is not called.
func (f *StateFile) Update(fn func(*State)) (State, error) {
	unlock, err := lockFile(f.path + ".lock")
	if err != nil {
		return State{}, fmt.Errorf("breaker: lock state: %w", err)
	}
	defer unlock()

	st, err := f.Load()
	if err != nil {
		st = Unreadable(err)
	}
	fn(&st)
	if err := f.Save(st); err != nil {
		return st, err
	}
	return st, nil
}

func writeJSONAtomic(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
