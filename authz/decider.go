package authz

import (
	"context"

	core "github.com/open-rails/planauth/core"
)

// RequestAttrs describes the request being authorized.
type RequestAttrs struct {
	Path   string
	Method string
	// Extra is merged into the policy context.
	Extra map[string]any
}

// Decider turns a validated identity and a route requirement into a decision.
// Implementations must fail closed: any doubt is a deny.
type Decider interface {
	Decide(ctx context.Context, id core.Identity, req core.Requirement, attrs RequestAttrs) core.Decision
}
