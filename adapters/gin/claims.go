package authgin

import (
	"github.com/gin-gonic/gin"
	core "github.com/open-rails/planauth/core"
)

const identityKey = "planauth.identity"

// SetIdentity attaches id to both the gin context and the request context.
func SetIdentity(c *gin.Context, id core.Identity) {
	c.Set(identityKey, id)
	c.Request = c.Request.WithContext(core.WithIdentity(c.Request.Context(), id))
}

// IdentityFromGin returns the identity attached by the guard, if present.
func IdentityFromGin(c *gin.Context) (core.Identity, bool) {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(core.Identity); ok {
			return id, true
		}
	}
	return core.IdentityFromContext(c.Request.Context())
}

// UserID is a typed accessor for the caller's subject (or object id).
func UserID(c *gin.Context) (string, bool) {
	if id, ok := IdentityFromGin(c); ok && id.UserID() != "" {
		return id.UserID(), true
	}
	return "", false
}

// Roles returns the roles claim (may be empty).
func Roles(c *gin.Context) []string {
	if id, ok := IdentityFromGin(c); ok {
		return id.Roles
	}
	return nil
}
