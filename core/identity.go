package core

import (
	"context"
	"strings"
)

// IdentityTypeManagedIdentity is the idtyp value carried by managed identity tokens.
const IdentityTypeManagedIdentity = "MI"

// Identity is the caller derived from a validated token. It is attached to the
// request context by the guard and is read-only afterwards.
type Identity struct {
	Subject      string
	ObjectID     string
	AppID        string
	TenantID     string
	IdentityType string
	Roles        []string
	Claims       map[string]any
}

// IdentityFromClaims extracts the typed identity from a validated claims set.
func IdentityFromClaims(claims map[string]any) Identity {
	id := Identity{
		Subject:      stringVal(claims["sub"]),
		ObjectID:     stringVal(claims["oid"]),
		AppID:        stringVal(claims["appid"]),
		TenantID:     stringVal(claims["tid"]),
		IdentityType: stringVal(claims["idtyp"]),
		Roles:        toStringSlice(claims["roles"]),
		Claims:       claims,
	}
	if id.AppID == "" {
		// v2 tokens carry the client id as azp.
		id.AppID = stringVal(claims["azp"])
	}
	return id
}

// UserID returns the most specific stable identifier: the subject, else the object id.
func (id Identity) UserID() string {
	if id.Subject != "" {
		return id.Subject
	}
	return id.ObjectID
}

// IsManagedIdentity reports whether the token was issued to a workload's own identity.
func (id Identity) IsManagedIdentity() bool {
	return id.IdentityType == IdentityTypeManagedIdentity
}

func (id Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

type identityCtxKey struct{}

// WithIdentity returns a child context carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityCtxKey{}, id)
}

// IdentityFromContext returns the identity attached by the guard, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	if ctx == nil {
		return Identity{}, false
	}
	id, ok := ctx.Value(identityCtxKey{}).(Identity)
	return id, ok
}

func stringVal(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func toStringSlice(v any) []string {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
