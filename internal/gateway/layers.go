package gateway

import (
	"context"

	"github.com/clawinfra/toolgate/internal/decision"
	"github.com/clawinfra/toolgate/internal/request"
	"github.com/clawinfra/toolgate/internal/security"
)

// Layer is one independent decision layer. Layers must not depend on each
// other's outcome and must honour ctx for any blocking work.
type Layer interface {
	Name() string
	Evaluate(ctx context.Context, n *request.Normalized) decision.Decision
}

// LayerFunc adapts a function to Layer.
type LayerFunc struct {
	LayerName string
	Fn        func(ctx context.Context, n *request.Normalized) decision.Decision
}

// Name implements Layer.
func (f LayerFunc) Name() string { return f.LayerName }

// Evaluate implements Layer.
func (f LayerFunc) Evaluate(ctx context.Context, n *request.Normalized) decision.Decision {
	return f.Fn(ctx, n)
}

// ProfileSource returns the active security profile.
type ProfileSource interface {
	Profile() *security.Profile
}

// ResourceLayer checks the request against the active security profile.
type ResourceLayer struct {
	Validator *security.Validator
	Profiles  ProfileSource
}

// NewResourceLayer creates a resource layer.
func NewResourceLayer(v *security.Validator, profiles ProfileSource) *ResourceLayer {
	return &ResourceLayer{Validator: v, Profiles: profiles}
}

// Name implements Layer.
func (r *ResourceLayer) Name() string { return "resource" }

// Evaluate implements Layer. Capability invocations carry no resource
// argument and are left to the batch and breaker layers.
func (r *ResourceLayer) Evaluate(ctx context.Context, n *request.Normalized) decision.Decision {
	if n.Access.Category == request.CategoryCapability {
		return decision.Allowf("capability %s has no resource rules", n.Tool)
	}
	var p *security.Profile
	if r.Profiles != nil {
		p = r.Profiles.Profile()
	}
	v := r.Validator
	if v == nil {
		v = &security.Validator{}
	}
	return v.Validate(ctx, p, n.Access)
}
