// Package authhttp guards plain net/http handlers with the same token validation and
// access decisions the gin adapter applies.
package authhttp

import (
	"context"
	"net/http"
	"strings"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/open-rails/planauth/authz"
	core "github.com/open-rails/planauth/core"
	"github.com/sirupsen/logrus"
)

type TokenValidator interface {
	Validate(ctx context.Context, token string) (jwt.MapClaims, error)
}

type Guard struct {
	validator TokenValidator
	decider   authz.Decider
}

func NewGuard(v TokenValidator, d authz.Decider) *Guard {
	return &Guard{validator: v, decider: d}
}

// Required validates the bearer token, asks the decider about req and, on permit, stores the
// identity in the request context (see core.IdentityFromContext).
func (g *Guard) Required(req core.Requirement) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := bearerToken(r.Header.Get("Authorization"))
			if tokenStr == "" {
				unauthorized(w, core.ErrAuthHeaderMissing.Error())
				return
			}
			id, err := g.identity(r.Context(), tokenStr)
			if err != nil {
				logrus.WithError(err).WithField("path", r.URL.Path).Info("token_rejected")
				unauthorized(w, core.ReasonCode(err))
				return
			}

			dec := g.decider.Decide(r.Context(), id, req, authz.RequestAttrs{Path: r.URL.Path, Method: r.Method})
			if !dec.Permit {
				logrus.WithFields(logrus.Fields{
					"path":    r.URL.Path,
					"user_id": id.UserID(),
					"reason":  core.ReasonCode(dec.Err),
				}).Info("access_denied")
				forbidden(w, dec.Reason)
				return
			}
			next.ServeHTTP(w, r.WithContext(core.WithIdentity(r.Context(), id)))
		})
	}
}

// Optional attaches the identity when a valid token is present and never rejects.
// No access decision is made.
func (g *Guard) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tokenStr := bearerToken(r.Header.Get("Authorization")); tokenStr != "" {
			if id, err := g.identity(r.Context(), tokenStr); err == nil {
				r = r.WithContext(core.WithIdentity(r.Context(), id))
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (g *Guard) identity(ctx context.Context, tokenStr string) (core.Identity, error) {
	claims, err := g.validator.Validate(ctx, tokenStr)
	if err != nil {
		return core.Identity{}, err
	}
	id := core.IdentityFromClaims(claims)
	if id.UserID() == "" {
		return core.Identity{}, core.ErrMissingSubject
	}
	return id, nil
}

func bearerToken(h string) string {
	h = strings.TrimSpace(h)
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}
