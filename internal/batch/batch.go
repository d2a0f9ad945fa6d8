// Package batch governs bulk repetition of one tool. Bulk use needs a
// one-time confirmation, after which repeats are admitted up to a limit
// within a sliding window.
package batch

import (
	"context"
	"errors"

	"github.com/clawinfra/toolgate/internal/decision"
	"github.com/clawinfra/toolgate/internal/request"
)

// Classifier decides whether a bulk action needs confirmation.
type Classifier interface {
	Classify(ctx context.Context, n *request.Normalized) (decision.Decision, error)
}

// Layer is the batch-permission decision layer.
type Layer struct {
	Enabled    bool
	Classifier Classifier
}

// Name implements the gateway layer interface.
func (l *Layer) Name() string { return "batch" }

// Evaluate allows everything when disabled or unconfigured. Classifier
// errors ask.
func (l *Layer) Evaluate(ctx context.Context, n *request.Normalized) decision.Decision {
	if l == nil || !l.Enabled {
		return decision.Allowf("batch classification disabled")
	}
	if l.Classifier == nil {
		return decision.Allowf("batch classifier not configured")
	}
	d, err := l.Classifier.Classify(ctx, n)
	if err != nil {
		return decision.Askf("batch classifier failed: %v", err)
	}
	return d
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, n *request.Normalized) (decision.Decision, error)

// Classify implements Classifier.
func (f ClassifierFunc) Classify(ctx context.Context, n *request.Normalized) (decision.Decision, error) {
	return f(ctx, n)
}

var errNilRequest = errors.New("batch: nil request")
