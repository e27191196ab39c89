package handlers

import (
	"github.com/gin-gonic/gin"
	core "github.com/open-rails/planauth/core"
)

func HandleAccountsGET(mode core.AuthMode) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := callerIdentity(c)
		if !ok {
			return
		}
		user := gin.H{"sub": id.Subject, "roles": rolesOrEmpty(id.Roles)}
		if mode == core.ModePolicy {
			user = gin.H{"managed_identity_id": id.ObjectID, "client_id": id.AppID}
		}
		statusOK(c, gin.H{"accounts": demoAccounts(), "user": user})
	}
}
