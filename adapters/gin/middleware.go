package authgin

import (
	"context"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/open-rails/planauth/adapters/ginutil"
	"github.com/open-rails/planauth/authz"
	core "github.com/open-rails/planauth/core"
	"github.com/sirupsen/logrus"
)

// TokenValidator verifies a bearer token and returns its claims. *jwtkit.Validator satisfies it.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (jwt.MapClaims, error)
}

// Guard authenticates the bearer token and enforces a per-route access decision.
// A request reaches the handler only with a validated token and a permit decision.
type Guard struct {
	validator TokenValidator
	decider   authz.Decider
}

func NewGuard(v TokenValidator, d authz.Decider) *Guard {
	return &Guard{validator: v, decider: d}
}

// Require returns middleware enforcing req. Validation failures answer 401, denies 403.
func (g *Guard) Require(req core.Requirement) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := g.authenticate(c)
		if !ok {
			return
		}

		dec := g.decider.Decide(c.Request.Context(), id, req, authz.RequestAttrs{
			Path:   c.Request.URL.Path,
			Method: c.Request.Method,
		})
		if !dec.Permit {
			ginutil.Entry(c).WithFields(logrus.Fields{
				"user_id": id.UserID(),
				"reason":  core.ReasonCode(dec.Err),
			}).Info("access_denied")
			ginutil.Forbidden(c, dec.Reason)
			return
		}

		SetIdentity(c, id)
		c.Next()
	}
}

func (g *Guard) authenticate(c *gin.Context) (core.Identity, bool) {
	tokenStr := ginutil.BearerToken(c.GetHeader("Authorization"))
	if tokenStr == "" {
		ginutil.Unauthorized(c, core.ErrAuthHeaderMissing.Error())
		return core.Identity{}, false
	}
	claims, err := g.validator.Validate(c.Request.Context(), tokenStr)
	if err != nil {
		ginutil.Entry(c).WithError(err).Info("token_rejected")
		ginutil.Unauthorized(c, core.ReasonCode(err))
		return core.Identity{}, false
	}
	id := core.IdentityFromClaims(claims)
	if id.UserID() == "" {
		ginutil.Unauthorized(c, core.ErrMissingSubject.Error())
		return core.Identity{}, false
	}
	return id, true
}
