// Package breaker implements circuit-breaker guarded auto-approval. After a
// run of consecutive denials the breaker trips and refuses every request
// until an operator resets it.
package breaker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/clawinfra/toolgate/internal/audit"
	"github.com/clawinfra/toolgate/internal/decision"
	"github.com/clawinfra/toolgate/internal/request"
)

const (
	// DefaultThreshold is the number of consecutive denials that trips the
	// breaker.
	DefaultThreshold = 10
	// DefaultAutonomousEnv marks an autonomous run when set to a true value.
	DefaultAutonomousEnv = "TOOLGATE_AUTONOMOUS"
	// TrippedReason prefixes every denial issued by a tripped breaker.
	TrippedReason = "circuit breaker tripped"
	// AutonomousKey is the request context flag marking an autonomous run.
	AutonomousKey = "autonomous"
)

// Validator decides whether a request may be approved automatically.
type Validator interface {
	Evaluate(ctx context.Context, n *request.Normalized) decision.Decision
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(ctx context.Context, n *request.Normalized) decision.Decision

// Evaluate implements Validator.
func (f ValidatorFunc) Evaluate(ctx context.Context, n *request.Normalized) decision.Decision {
	return f(ctx, n)
}

// Options configures an AutoApprover.
type Options struct {
	Threshold int
	// Validator is optional. Without one every eligible request is asked.
	Validator      Validator
	Consent        Consent
	TrustedCallers []string
	AutonomousEnv  string
	// StateFile persists state across processes when set.
	StateFile *StateFile
	Audit     audit.Recorder
	Logger    *slog.Logger
	// Getenv overrides os.Getenv.
	Getenv func(string) string
}

// AutoApprover is the circuit-breaker decision layer.
type AutoApprover struct {
	threshold     int
	validator     Validator
	consent       Consent
	trusted       map[string]bool
	autonomousEnv string
	stateFile     *StateFile
	audit         audit.Recorder
	logger        *slog.Logger
	getenv        func(string) string

	mu    sync.Mutex
	state State
}

// New creates an AutoApprover, restoring persisted state when a state file
// is configured. An unreadable state file starts the breaker tripped.
func New(opts Options) *AutoApprover {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.AutonomousEnv == "" {
		opts.AutonomousEnv = DefaultAutonomousEnv
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Audit == nil {
		opts.Audit = audit.Nop{}
	}
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	if opts.Consent == nil {
		opts.Consent = StaticConsent(false)
	}

	a := &AutoApprover{
		threshold:     opts.Threshold,
		validator:     opts.Validator,
		consent:       opts.Consent,
		trusted:       make(map[string]bool),
		autonomousEnv: opts.AutonomousEnv,
		stateFile:     opts.StateFile,
		audit:         opts.Audit,
		logger:        opts.Logger.With("component", "breaker"),
		getenv:        opts.Getenv,
	}
	for _, c := range opts.TrustedCallers {
		if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
			a.trusted[c] = true
		}
	}

	if a.stateFile != nil {
		st, err := a.stateFile.Load()
		if err != nil {
			st = Unreadable(err)
			a.logger.Error("breaker state unreadable, starting tripped", "path", a.stateFile.Path(), "error", err)
			a.audit.Record(context.Background(), audit.Entry{
				EventType: audit.EventBreakerStateUnreadable,
				Status:    audit.StatusWarning,
				Context: map[string]any{
					"path":  a.stateFile.Path(),
					"error": err.Error(),
				},
			})
		}
		a.state = st
	}
	return a
}

// Name implements the gateway layer interface.
func (a *AutoApprover) Name() string { return "breaker" }

// State returns a copy of the current state.
func (a *AutoApprover) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Threshold returns the configured trip threshold.
func (a *AutoApprover) Threshold() int { return a.threshold }

// Evaluate runs the preconditions in order, then the underlying validator.
// A tripped breaker denies without evaluating anything else.
func (a *AutoApprover) Evaluate(ctx context.Context, n *request.Normalized) decision.Decision {
	a.mu.Lock()
	tripped := a.state.Tripped
	a.mu.Unlock()
	if tripped {
		return decision.Denyf("%s; reset required", TrippedReason)
	}

	caller := strings.TrimSpace(n.Access.Caller)
	if !a.autonomous(n) {
		return decision.Denyf("auto-approval requires an autonomous execution context")
	}
	if !a.consent.Granted() {
		return decision.Denyf("operator has not consented to auto-approval")
	}
	if caller == "" {
		return decision.Denyf("auto-approval requires a caller identity")
	}
	if !a.trusted[strings.ToLower(caller)] {
		return decision.Denyf("caller %q is not in the trusted-caller list", caller)
	}
	if a.validator == nil {
		return decision.Askf("auto-approval validator unavailable")
	}

	d := a.validator.Evaluate(ctx, n)

	switch d.Result {
	case decision.Allow:
		var tripped bool
		a.mu.Lock()
		a.updateLocked(func(st *State) {
			if tripped = st.Tripped; tripped {
				return
			}
			st.DenialCount = 0
			st.LastReason = ""
		})
		a.mu.Unlock()
		if tripped {
			return decision.Denyf("%s; reset required", TrippedReason)
		}
		return decision.New(decision.Allow, prefix("auto-approved", d.Reasons)...)

	case decision.Deny:
		return a.recordDenial(ctx, caller, d)

	default:
		return decision.New(decision.Ask, prefix("auto-approval needs review", d.Reasons)...)
	}
}

func (a *AutoApprover) recordDenial(ctx context.Context, caller string, d decision.Decision) decision.Decision {
	var (
		count                int
		tripped, justTripped bool
	)
	a.mu.Lock()
	a.updateLocked(func(st *State) {
		count, justTripped = 0, false
		if tripped = st.Tripped; tripped {
			return
		}
		st.DenialCount++
		st.LastReason = d.Reason()
		count = st.DenialCount
		if count >= a.threshold {
			st.Tripped = true
			st.TrippedAt = time.Now().UTC()
			justTripped = true
		}
	})
	a.mu.Unlock()

	if tripped {
		return decision.Denyf("%s; reset required", TrippedReason)
	}
	if !justTripped {
		return decision.New(decision.Deny, prefix(fmt.Sprintf("auto-approval denied (%d/%d)", count, a.threshold), d.Reasons)...)
	}

	a.logger.Warn("circuit breaker tripped", "caller", caller, "denials", count, "threshold", a.threshold)
	a.audit.Record(ctx, audit.Entry{
		EventType: audit.EventBreakerTripped,
		Status:    audit.StatusDenied,
		Context: map[string]any{
			"caller":       caller,
			"denial_count": count,
			"threshold":    a.threshold,
			"last_reason":  d.Reason(),
		},
	})
	return decision.New(decision.Deny,
		prefix(fmt.Sprintf("%s after %d consecutive denials", TrippedReason, count), d.Reasons)...)
}

// Reset clears the tripped flag and the denial count. It is an
// administrative operation; operator names who asked for it.
func (a *AutoApprover) Reset(ctx context.Context, operator string) State {
	var prev State
	a.mu.Lock()
	a.updateLocked(func(st *State) {
		prev = *st
		*st = State{}
	})
	a.mu.Unlock()

	a.logger.Info("circuit breaker reset", "operator", operator, "was_tripped", prev.Tripped)
	a.audit.Record(ctx, audit.Entry{
		EventType: audit.EventBreakerReset,
		Status:    audit.StatusInfo,
		Context: map[string]any{
			"operator":     operator,
			"was_tripped":  prev.Tripped,
			"denial_count": prev.DenialCount,
		},
	})
	return prev
}

func (a *AutoApprover) autonomous(n *request.Normalized) bool {
	if n.ContextBool(AutonomousKey) {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(a.getenv(a.autonomousEnv))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

// updateLocked applies fn to the state. With a state file the persisted
// state is the source of truth, so increments from other processes are
// kept. If the file cannot be locked or written fn is applied in memory.
func (a *AutoApprover) updateLocked(fn func(*State)) {
	if a.stateFile == nil {
		fn(&a.state)
		return
	}
	st, err := a.stateFile.Update(fn)
	if err != nil {
		a.logger.Error("failed to persist breaker state", "path", a.stateFile.Path(), "error", err)
		fn(&a.state)
		return
	}
	a.state = st
}

func prefix(head string, reasons []string) []string {
	if len(reasons) == 0 {
		return []string{head}
	}
	out := make([]string, len(reasons))
	for i, r := range reasons {
		out[i] = head + ": " + r
	}
	return out
}
