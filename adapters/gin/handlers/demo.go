package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/open-rails/planauth/adapters/ginutil"
	core "github.com/open-rails/planauth/core"
)

type plan struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status,omitempty"`
	CreatedBy string `json:"created_by,omitempty"`
}

type account struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
}

// nextPlanID is the id every created plan gets; nothing is persisted.
const nextPlanID = 3

func demoPlans(mode core.AuthMode) []plan {
	if mode == core.ModePolicy {
		return []plan{
			{ID: 1, Name: "Strategic Plan 2024", Status: "active"},
			{ID: 2, Name: "Operational Plan Q1", Status: "draft"},
		}
	}
	return []plan{
		{ID: 1, Name: "Strategic Plan 2024"},
		{ID: 2, Name: "Operational Plan Q1"},
	}
}

func demoAccounts() []account {
	return []account{
		{ID: 1, Name: "Account A", Status: "active"},
		{ID: 2, Name: "Account B", Status: "inactive"},
	}
}

// callerIdentity reads the identity the guard attached. Its absence means the route
// was mounted without a guard, which is answered as unauthenticated.
func callerIdentity(c *gin.Context) (core.Identity, bool) {
	id, ok := core.IdentityFromContext(c.Request.Context())
	if !ok {
		ginutil.Unauthorized(c, "unauthorized")
		return core.Identity{}, false
	}
	return id, true
}

// principal is the caller id handlers report: the managed identity object id in
// policy mode, the token subject otherwise.
func principal(mode core.AuthMode, id core.Identity) string {
	if mode == core.ModePolicy && id.ObjectID != "" {
		return id.ObjectID
	}
	return id.UserID()
}

func rolesOrEmpty(roles []string) []string {
	if roles == nil {
		return []string{}
	}
	return roles
}

func statusOK(c *gin.Context, body gin.H) { c.JSON(http.StatusOK, body) }
