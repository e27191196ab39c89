package authz

import (
	"context"
	"errors"
	"testing"

	core "github.com/open-rails/planauth/core"
	"github.com/stretchr/testify/require"
)

func TestHasAnyRole(t *testing.T) {
	cases := []struct {
		name string
		have []string
		want []string
		ok   bool
	}{
		{"intersect", []string{"accountviewer"}, []string{"planadmin", "accountviewer"}, true},
		{"disjoint", []string{"accountviewer"}, []string{"planadmin"}, false},
		{"nil have", nil, []string{"planadmin"}, false},
		{"empty have", []string{}, []string{"planadmin"}, false},
		{"case sensitive", []string{"PlanAdmin"}, []string{"planadmin"}, false},
		{"no substring match", []string{"planadmin2"}, []string{"planadmin"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.ok, HasAnyRole(tc.have, tc.want))
		})
	}
}

func TestRoleDecider(t *testing.T) {
	d := NewRoleDecider()
	ctx := context.Background()

	dec := d.Decide(ctx, core.Identity{Subject: "u", Roles: []string{"planadmin"}}, core.AnyRole("planadmin", "accountviewer"), RequestAttrs{})
	require.True(t, dec.Permit)

	dec = d.Decide(ctx, core.Identity{Subject: "u", Roles: []string{"accountviewer"}}, core.AnyRole("accountadmin"), RequestAttrs{})
	require.False(t, dec.Permit)
	require.True(t, errors.Is(dec.Err, core.ErrInsufficientRole))
	require.Equal(t, "Insufficient permissions. Required: [accountadmin], Found: [accountviewer]", dec.Reason)

	dec = d.Decide(ctx, core.Identity{Subject: "u"}, core.AnyRole("planadmin"), RequestAttrs{})
	require.False(t, dec.Permit)
	require.Equal(t, "Insufficient permissions. Required: [planadmin], Found: []", dec.Reason)
}

func TestRoleDecider_NoConstraintPermits(t *testing.T) {
	dec := NewRoleDecider().Decide(context.Background(), core.Identity{Subject: "u"}, core.Requirement{}, RequestAttrs{})
	require.True(t, dec.Permit)
}
