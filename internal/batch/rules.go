package batch

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/clawinfra/toolgate/internal/audit"
	"github.com/clawinfra/toolgate/internal/decision"
	"github.com/clawinfra/toolgate/internal/request"
)

// DefaultWindow applies to rules that do not name one.
const DefaultWindow = 10 * time.Minute

// ConfirmedKey is the request context flag that confirms bulk use inline.
const ConfirmedKey = "batch_confirmed"

// Rule marks a tool as a bulk action. Tool is a case-insensitive glob.
type Rule struct {
	Tool       string
	MaxRepeats int
	Window     time.Duration
}

type ruleState struct {
	Rule
	limiter *WindowLimiter
}

// RuleClassifier asks once per caller and rule, then admits MaxRepeats
// invocations per window before asking again.
type RuleClassifier struct {
	rules  []*ruleState
	audit  audit.Recorder
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	grants map[string]time.Time
}

// NewRuleClassifier validates rules and builds the classifier. rec and
// logger may be nil.
func NewRuleClassifier(rules []Rule, rec audit.Recorder, logger *slog.Logger) (*RuleClassifier, error) {
	if rec == nil {
		rec = audit.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &RuleClassifier{
		audit:  rec,
		logger: logger.With("component", "batch"),
		now:    time.Now,
		grants: make(map[string]time.Time),
	}
	for _, r := range rules {
		r.Tool = strings.ToLower(strings.TrimSpace(r.Tool))
		if r.Tool == "" {
			return nil, fmt.Errorf("batch: rule without tool")
		}
		if _, err := path.Match(r.Tool, ""); err != nil {
			return nil, fmt.Errorf("batch: rule %q: %w", r.Tool, err)
		}
		if r.MaxRepeats <= 0 {
			return nil, fmt.Errorf("batch: rule %q: max_repeats must be positive", r.Tool)
		}
		if r.Window <= 0 {
			r.Window = DefaultWindow
		}
		c.rules = append(c.rules, &ruleState{Rule: r, limiter: NewWindowLimiter(r.MaxRepeats, r.Window)})
	}
	return c, nil
}

// Rules returns the normalized rules.
func (c *RuleClassifier) Rules() []Rule {
	out := make([]Rule, len(c.rules))
	for i, r := range c.rules {
		out[i] = r.Rule
	}
	return out
}

// Classify implements Classifier.
func (c *RuleClassifier) Classify(ctx context.Context, n *request.Normalized) (decision.Decision, error) {
	if n == nil {
		return decision.Decision{}, errNilRequest
	}
	rs, err := c.match(n.Tool)
	if err != nil {
		return decision.Decision{}, err
	}
	if rs == nil {
		return decision.Allowf("%s is not a bulk action", n.Tool), nil
	}

	caller := strings.ToLower(strings.TrimSpace(n.Access.Caller))
	key := grantKey(caller, rs.Tool)

	if n.ContextBool(ConfirmedKey) && !c.granted(key) {
		c.grant(ctx, caller, rs, "request")
	}
	if !c.granted(key) {
		return decision.Askf("bulk use of %s needs one-time confirmation (up to %d per %s)",
			n.Tool, rs.MaxRepeats, rs.Window), nil
	}

	if !rs.limiter.Allow(key) {
		c.revoke(key)
		return decision.Askf("%s repeated more than %d times within %s; confirm again",
			n.Tool, rs.MaxRepeats, rs.Window), nil
	}
	return decision.Allowf("%s confirmed for bulk use (%d left in window)",
		n.Tool, rs.limiter.Remaining(key)), nil
}

// Confirm grants caller bulk use of tool for one window. It reports whether
// a rule matched.
func (c *RuleClassifier) Confirm(ctx context.Context, caller, tool string) (bool, error) {
	rs, err := c.match(tool)
	if err != nil || rs == nil {
		return false, err
	}
	c.grant(ctx, strings.ToLower(strings.TrimSpace(caller)), rs, "operator")
	return true, nil
}

func (c *RuleClassifier) match(tool string) (*ruleState, error) {
	name := strings.ToLower(strings.TrimSpace(tool))
	for _, rs := range c.rules {
		ok, err := path.Match(rs.Tool, name)
		if err != nil {
			return nil, fmt.Errorf("batch: rule %q: %w", rs.Tool, err)
		}
		if ok {
			return rs, nil
		}
	}
	return nil, nil
}

func (c *RuleClassifier) grant(ctx context.Context, caller string, rs *ruleState, source string) {
	key := grantKey(caller, rs.Tool)
	c.mu.Lock()
	c.grants[key] = c.now().Add(rs.Window)
	c.mu.Unlock()
	rs.limiter.Reset(key)

	c.logger.Info("bulk use confirmed", "caller", caller, "rule", rs.Tool, "source", source)
	c.audit.Record(ctx, audit.Entry{
		EventType: audit.EventBatchConfirmed,
		Status:    audit.StatusInfo,
		Context: map[string]any{
			"caller":      caller,
			"rule":        rs.Tool,
			"max_repeats": rs.MaxRepeats,
			"window":      rs.Window.String(),
			"source":      source,
		},
	})
}

func (c *RuleClassifier) granted(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	exp, ok := c.grants[key]
	if !ok {
		return false
	}
	if !c.now().Before(exp) {
		delete(c.grants, key)
		return false
	}
	return true
}

func (c *RuleClassifier) revoke(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.grants, key)
}

func grantKey(caller, rule string) string {
	return caller + "\x00" + rule
}
