package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/open-rails/planauth/authz"
	core "github.com/open-rails/planauth/core"
)

// HandlePlansGET lists plans. In policy mode the caller's PDP permissions are included.
func HandlePlansGET(mode core.AuthMode, pdp authz.PolicyChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := callerIdentity(c)
		if !ok {
			return
		}
		var user gin.H
		if mode == core.ModePolicy {
			perms := map[string]any{}
			if pdp != nil {
				perms = pdp.Permissions(c.Request.Context(), id.ObjectID)
			}
			user = gin.H{
				"managed_identity_id": id.ObjectID,
				"client_id":           id.AppID,
				"permissions":         perms,
			}
		} else {
			user = gin.H{"sub": id.Subject, "roles": rolesOrEmpty(id.Roles)}
		}
		statusOK(c, gin.H{"plans": demoPlans(mode), "user": user})
	}
}
