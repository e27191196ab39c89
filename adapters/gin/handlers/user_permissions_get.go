package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/open-rails/planauth/authz"
)

// HandleUserPermissionsGET returns the caller's permissions as reported by the PDP.
func HandleUserPermissionsGET(pdp authz.PolicyChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := callerIdentity(c)
		if !ok {
			return
		}
		perms := map[string]any{}
		if pdp != nil {
			perms = pdp.Permissions(c.Request.Context(), id.ObjectID)
		}
		statusOK(c, gin.H{"user_id": id.ObjectID, "permissions": perms})
	}
}
