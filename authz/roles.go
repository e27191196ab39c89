package authz

import (
	"context"
	"fmt"
	"strings"

	core "github.com/open-rails/planauth/core"
)

// RoleDecider permits when the token carries at least one of the required roles.
type RoleDecider struct{}

func NewRoleDecider() RoleDecider { return RoleDecider{} }

func (RoleDecider) Decide(_ context.Context, id core.Identity, req core.Requirement, _ RequestAttrs) core.Decision {
	if len(req.Roles) == 0 {
		return core.Permit()
	}
	if HasAnyRole(id.Roles, req.Roles) {
		return core.Permit()
	}
	return core.Deny(core.ErrInsufficientRole,
		fmt.Sprintf("Insufficient permissions. Required: %s, Found: %s", listString(req.Roles), listString(id.Roles)))
}

// HasAnyRole reports whether have and want intersect. Matching is exact and case-sensitive.
func HasAnyRole(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if h == w {
				return true
			}
		}
	}
	return false
}

func listString(xs []string) string { return "[" + strings.Join(xs, ", ") + "]" }
