// Package security matches access requests against declarative security
// profiles and provides the signing and API authentication primitives the
// gateway relies on.
package security

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/clawinfra/toolgate/internal/decision"
	"github.com/clawinfra/toolgate/internal/request"
)

// Validator matches access requests against a profile. The zero value is
// usable: relative paths resolve against the process working directory and
// DNS goes through net.DefaultResolver.
type Validator struct {
	// WorkspaceRoot anchors relative paths and relative profile globs.
	WorkspaceRoot string
	Resolver      Resolver
	LookupTimeout time.Duration
}

// NewValidator creates a validator rooted at workspaceRoot.
func NewValidator(workspaceRoot string, lookupTimeout time.Duration) *Validator {
	return &Validator{
		WorkspaceRoot: workspaceRoot,
		Resolver:      net.DefaultResolver,
		LookupTimeout: lookupTimeout,
	}
}

// Validate matches a against p with a zero-value Validator.
func Validate(p *Profile, a request.Access) decision.Decision {
	var v Validator
	return v.Validate(context.Background(), p, a)
}

// Validate returns the decision for a under p. Every request yields a
// decision: unmatched requests are "ask".
func (v *Validator) Validate(ctx context.Context, p *Profile, a request.Access) decision.Decision {
	if p == nil {
		return decision.Askf("no active security profile")
	}
	arg := a.Argument
	if a.Category != request.CategoryShell {
		arg = strings.TrimSpace(arg)
	}
	if strings.TrimSpace(arg) == "" {
		return decision.Denyf("missing required argument")
	}

	switch a.Category {
	case request.CategoryFilesystem:
		switch a.Operation {
		case request.OpRead:
			return v.checkPath(p.Filesystem.Read, "read", arg)
		case request.OpWrite:
			return v.checkPath(p.Filesystem.Write, "write", arg)
		}
	case request.CategoryShell:
		if a.Operation == request.OpExecute {
			return checkCommand(p.Shell, arg)
		}
	case request.CategoryNetwork:
		if a.Operation == request.OpAccess {
			return v.checkNetwork(ctx, p.Network, arg)
		}
	case request.CategoryEnv:
		if a.Operation == request.OpAccess {
			return checkEnv(p.Environment, arg)
		}
	default:
		return decision.Askf("no profile rules cover %s requests", a.Category)
	}
	return decision.Askf("unsupported operation %s for %s", a.Operation, a.Category)
}
