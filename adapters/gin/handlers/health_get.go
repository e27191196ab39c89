package handlers

import (
	"github.com/gin-gonic/gin"
	core "github.com/open-rails/planauth/core"
)

// HandleHealthGET answers liveness probes. No authentication.
func HandleHealthGET(mode core.AuthMode) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{"status": "healthy"}
		if mode == core.ModePolicy {
			body["auth_mode"] = "managed_identity_plainid"
		}
		statusOK(c, body)
	}
}
