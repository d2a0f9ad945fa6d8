// Package audit records every authorization decision and breaker transition
// as one JSON object per line in an append-only log.
package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	EventAuthorization          = "authorization"
	EventBreakerTripped         = "circuit_breaker_tripped"
	EventBreakerReset           = "circuit_breaker_reset"
	EventBreakerStateUnreadable = "circuit_breaker_state_unreadable"
	EventProfileFallback        = "profile_fallback"
	EventProfileReloaded        = "profile_reloaded"
	EventBatchConfirmed         = "batch_confirmed"
	EventConsentChanged         = "consent_changed"
)

// Statuses.
const (
	StatusApproved = "approved"
	StatusDenied   = "denied"
	StatusAsked    = "asked"
	StatusWarning  = "warning"
	StatusInfo     = "info"
)

// Entry is a single audit record.
type Entry struct {
	ID        string         `json:"id"`
	EventType string         `json:"event_type"`
	Status    string         `json:"status"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// Time parses the entry timestamp. The zero time is returned when it is unset
// or malformed.
func (e Entry) Time() time.Time {
	t, err := time.Parse(time.RFC3339Nano, e.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Caller returns the caller recorded in the entry context, if any.
func (e Entry) Caller() string {
	if s, ok := e.Context["caller"].(string); ok {
		return s
	}
	return ""
}

// Recorder accepts audit entries. Implementations must not fail the caller:
// recording problems are handled internally.
type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// Nop is a Recorder that drops every entry.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(context.Context, Entry) {}

// Mirror receives a copy of each entry after it has been written to the log.
type Mirror interface {
	Name() string
	Mirror(ctx context.Context, e Entry) error
	Close() error
}

// Sink is the JSONL-backed Recorder.
type Sink struct {
	path     string
	logger   *slog.Logger
	redactor *Redactor
	mirrors  []Mirror
	now      func() time.Time

	mu sync.Mutex
}

// Option configures a Sink.
type Option func(*Sink)

// WithRedactor replaces the default redactor.
func WithRedactor(r *Redactor) Option {
	return func(s *Sink) { s.redactor = r }
}

// WithMirror adds a best-effort mirror.
func WithMirror(m Mirror) Option {
	return func(s *Sink) {
		if m != nil {
			s.mirrors = append(s.mirrors, m)
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) { s.now = now }
}

// NewSink creates a sink writing to path. The parent directory is created if
// needed.
func NewSink(path string, logger *slog.Logger, opts ...Option) (*Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if path == "" {
		return nil, fmt.Errorf("audit: empty log path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("audit: create log dir: %w", err)
	}
	s := &Sink{
		path:     path,
		logger:   logger.With("component", "audit"),
		redactor: NewRedactor(nil),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the log file path.
func (s *Sink) Path() string { return s.path }

// Record assigns an ID and timestamp when missing, redacts sensitive context
// values and appends the entry. Errors are logged, never returned.
func (s *Sink) Record(ctx context.Context, e Entry) {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp == "" {
		e.Timestamp = s.now().UTC().Format(time.RFC3339Nano)
	}
	if s.redactor != nil {
		e.Context = s.redactor.Redact(e.Context)
	}

	if err := s.append(e); err != nil {
		s.logger.Error("failed to write audit entry", "id", e.ID, "event", e.EventType, "error", err)
	}

	for _, m := range s.mirrors {
		if err := m.Mirror(ctx, e); err != nil {
			s.logger.Warn("audit mirror failed", "mirror", m.Name(), "id", e.ID, "error", err)
		}
	}
}

func (s *Sink) append(e Entry) error {
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write entry: %w", err)
	}
	return nil
}

// Prune keeps only the newest keep entries, rewriting the log atomically.
// Malformed lines are dropped. It returns the number of entries removed.
func (s *Sink) Prune(keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := Read(s.path)
	if err != nil {
		return 0, err
	}
	if len(entries) <= keep {
		return 0, nil
	}
	removed := len(entries) - keep
	if err := writeAll(s.path, entries[removed:]); err != nil {
		return 0, err
	}
	s.logger.Info("audit log pruned", "removed", removed, "kept", keep)
	return removed, nil
}

// Close closes every mirror.
func (s *Sink) Close() error {
	var firstErr error
	for _, m := range s.mirrors {
		if err := m.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s mirror: %w", m.Name(), err)
		}
	}
	return firstErr
}

// Read returns every well-formed entry in the log, oldest first. A missing
// file yields no entries.
func Read(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("audit: open log: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("audit: scan log: %w", err)
	}
	return entries, nil
}

// Tail returns the newest n entries.
func Tail(path string, n int) ([]Entry, error) {
	entries, err := Read(path)
	if err != nil {
		return nil, err
	}
	if n > 0 && len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return entries, nil
}

func writeAll(path string, entries []Entry) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("audit: create temp log: %w", err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("audit: encode entry: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("audit: flush temp log: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("audit: close temp log: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("audit: replace log: %w", err)
	}
	return nil
}
