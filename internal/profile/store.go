// Package profile loads the active security profile from a policy document
// and keeps an immutable snapshot of it for concurrent readers.
package profile

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clawinfra/toolgate/internal/audit"
	"github.com/clawinfra/toolgate/internal/config"
	"github.com/clawinfra/toolgate/internal/security"
)

// DefaultLoadTimeout bounds a single policy document load.
const DefaultLoadTimeout = 5 * time.Second

// SourceBuiltin is the Source of a snapshot taken from the built-in profiles.
const SourceBuiltin = "builtin"

// Snapshot is the active profile with its provenance. Snapshots are never
// mutated after publication.
type Snapshot struct {
	Profile        *security.Profile `json:"profile"`
	Context        string            `json:"context"`
	Source         string            `json:"source"`
	Fallback       bool              `json:"fallback"`
	FallbackReason string            `json:"fallback_reason,omitempty"`
	LoadedAt       time.Time         `json:"loaded_at"`
}

// Options configures a Store.
type Options struct {
	// Path is the policy document. Empty selects the built-in profiles.
	Path        string
	Context     string
	PublicKey   ed25519.PublicKey
	LoadTimeout time.Duration
	Audit       audit.Recorder
	Logger      *slog.Logger
}

// Store publishes the active profile through an atomic pointer. Reloads
// build a complete snapshot before swapping it in.
type Store struct {
	path        string
	publicKey   ed25519.PublicKey
	loadTimeout time.Duration
	audit       audit.Recorder
	logger      *slog.Logger

	reloadMu sync.Mutex
	context  string
	current  atomic.Pointer[Snapshot]
}

// NewStore creates a store. Call Reload to load the document; until then
// Active returns the built-in profile for the context.
func NewStore(opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Audit == nil {
		opts.Audit = audit.Nop{}
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = DefaultLoadTimeout
	}
	return &Store{
		path:        opts.Path,
		publicKey:   opts.PublicKey,
		loadTimeout: opts.LoadTimeout,
		audit:       opts.Audit,
		logger:      opts.Logger.With("component", "profile"),
		context:     CanonicalContext(opts.Context),
	}
}

// Active returns the current snapshot.
func (s *Store) Active() *Snapshot {
	if snap := s.current.Load(); snap != nil {
		return snap
	}
	s.reloadMu.Lock()
	ctxName := s.context
	s.reloadMu.Unlock()
	return builtin(ctxName, "")
}

// Profile returns the active profile.
func (s *Store) Profile() *security.Profile {
	return s.Active().Profile
}

// Path returns the configured policy document path.
func (s *Store) Path() string { return s.path }

// SwitchContext changes the deployment context and reloads.
func (s *Store) SwitchContext(ctx context.Context, name string) *Snapshot {
	s.reloadMu.Lock()
	s.context = CanonicalContext(name)
	s.reloadMu.Unlock()
	return s.Reload(ctx)
}

// Reload loads the policy document and atomically publishes the result. It
// never fails: a missing, corrupt or unverifiable document yields the
// built-in profile with Fallback set and a profile_fallback audit event.
func (s *Store) Reload(ctx context.Context) *Snapshot {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	snap := s.load(ctx)
	s.current.Store(snap)

	if snap.Fallback {
		s.logger.Warn("using built-in security profile", "context", snap.Context, "reason", snap.FallbackReason)
		s.audit.Record(ctx, audit.Entry{
			EventType: audit.EventProfileFallback,
			Status:    audit.StatusWarning,
			Context: map[string]any{
				"context": snap.Context,
				"source":  s.path,
				"reason":  snap.FallbackReason,
			},
		})
		return snap
	}

	s.logger.Info("security profile loaded", "context", snap.Context, "source", snap.Source)
	if snap.Source != SourceBuiltin {
		s.audit.Record(ctx, audit.Entry{
			EventType: audit.EventProfileReloaded,
			Status:    audit.StatusInfo,
			Context: map[string]any{
				"context": snap.Context,
				"source":  snap.Source,
			},
		})
	}
	return snap
}

func (s *Store) load(ctx context.Context) *Snapshot {
	if s.path == "" {
		return builtin(s.context, "")
	}

	ctx, cancel := context.WithTimeout(ctx, s.loadTimeout)
	defer cancel()

	type result struct {
		p   *security.Profile
		err error
	}
	ch := make(chan result, 1)
	go func() {
		p, err := s.loadFile()
		ch <- result{p, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return builtin(s.context, r.err.Error())
		}
		return &Snapshot{
			Profile:  r.p,
			Context:  s.context,
			Source:   s.path,
			LoadedAt: time.Now(),
		}
	case <-ctx.Done():
		return builtin(s.context, fmt.Sprintf("loading %s timed out after %s", s.path, s.loadTimeout))
	}
}

func (s *Store) loadFile() (*security.Profile, error) {
	doc, err := LoadDocument(s.path)
	if err != nil {
		return nil, err
	}
	if s.publicKey != nil {
		if err := VerifyFile(s.path, doc, s.publicKey); err != nil {
			switch {
			case errors.Is(err, security.ErrMissingSignature):
				return nil, fmt.Errorf("policy document %s is unsigned", s.path)
			case errors.Is(err, security.ErrInvalidSignature):
				return nil, fmt.Errorf("policy document %s has an invalid signature", s.path)
			default:
				return nil, err
			}
		}
	}
	if err := Check(doc); err != nil {
		return nil, fmt.Errorf("invalid policy document: %w", err)
	}
	p, err := Select(doc, s.context)
	if err != nil {
		return nil, err
	}
	return p.Clone(), nil
}

// Watch polls the policy document and reloads it when it changes. Stop the
// returned watcher to end polling.
func (s *Store) Watch(ctx context.Context, interval time.Duration) *config.Watcher {
	w := config.NewWatcher(s.path, interval, s.logger, func(ctx context.Context) {
		s.Reload(ctx)
	})
	w.Start(ctx)
	return w
}

// builtin returns a snapshot of the built-in profile. A non-empty reason
// marks the snapshot as a fallback.
func builtin(ctxName, reason string) *Snapshot {
	p, known := security.DefaultProfile(ctxName)
	snap := &Snapshot{
		Profile:  p,
		Context:  ctxName,
		Source:   SourceBuiltin,
		LoadedAt: time.Now(),
	}
	if !known {
		snap.Context = security.ContextDevelopment
		if reason == "" {
			reason = fmt.Sprintf("unknown context %q", ctxName)
		} else {
			reason = fmt.Sprintf("%s; unknown context %q", reason, ctxName)
		}
	}
	if reason != "" {
		snap.Fallback = true
		snap.FallbackReason = reason
	}
	return snap
}
