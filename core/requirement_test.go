package core

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadRoutes_DefaultsWithoutFile(t *testing.T) {
	routes, err := LoadRoutes("")
	require.NoError(t, err)
	require.Equal(t, DefaultRoutes(), routes)
	require.Equal(t, []string{"accountadmin"}, routes.Get(RouteAccountsSettings).Roles)
	require.Equal(t, Permission("accounts", "update").Action, routes.Get(RouteAccountsSettings).Action)
}

func TestLoadRoutes_Overrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
routes:
  plans.create:
    roles: [planadmin, planwriter]
  accounts.list:
    resource: ledger
    action: view
`), 0o600))

	routes, err := LoadRoutes(path)
	require.NoError(t, err)
	require.Equal(t, Requirement{Roles: []string{"planadmin", "planwriter"}, Resource: "plans", Action: "create"}, routes.Get(RoutePlansCreate))
	require.Equal(t, Requirement{Roles: []string{"accountviewer", "accountadmin"}, Resource: "ledger", Action: "view"}, routes.Get(RouteAccountsList))
	require.Equal(t, DefaultRoutes().Get(RoutePlansList), routes.Get(RoutePlansList))
}

func TestLoadRoutes_Errors(t *testing.T) {
	dir := t.TempDir()
	unknown := filepath.Join(dir, "unknown.yaml")
	require.NoError(t, os.WriteFile(unknown, []byte("routes:\n  plans.delete:\n    roles: [x]\n"), 0o600))
	_, err := LoadRoutes(unknown)
	require.ErrorContains(t, err, "plans.delete")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("routes: [nope"), 0o600))
	_, err = LoadRoutes(bad)
	require.Error(t, err)

	_, err = LoadRoutes(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
}

func TestDeny_DefaultsReasonToError(t *testing.T) {
	d := Deny(ErrPolicyDenied, "")
	require.False(t, d.Permit)
	require.Equal(t, "policy_denied", d.Reason)
	require.True(t, Permit().Permit)
}

func TestReasonCode(t *testing.T) {
	require.Equal(t, "", ReasonCode(nil))
	require.Equal(t, "token_expired", ReasonCode(fmt.Errorf("parse: %w", ErrExpiredToken)))
	require.Equal(t, "unauthorized", ReasonCode(errors.New("boom")))
	require.True(t, IsValidationError(fmt.Errorf("x: %w", ErrKeyNotFound)))
	require.False(t, IsValidationError(ErrPolicyDenied))
}

func TestIdentityFromClaims(t *testing.T) {
	id := IdentityFromClaims(map[string]any{
		"sub":   "s",
		"oid":   "o",
		"azp":   "client",
		"tid":   "t",
		"idtyp": "MI",
		"roles": []any{"a", "b"},
	})
	require.Equal(t, "client", id.AppID)
	require.True(t, id.IsManagedIdentity())
	require.True(t, id.HasRole("b"))
	require.False(t, id.HasRole("B"))
	require.Equal(t, "s", id.UserID())

	require.Equal(t, "o", IdentityFromClaims(map[string]any{"oid": "o"}).UserID())
	require.Empty(t, IdentityFromClaims(map[string]any{"roles": "planadmin"}).Roles)

	ctx := WithIdentity(context.Background(), id)
	got, ok := IdentityFromContext(ctx)
	require.True(t, ok)
	require.Equal(t, id.Subject, got.Subject)
	_, ok = IdentityFromContext(context.Background())
	require.False(t, ok)
}
