package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/open-rails/planauth/adapters/ginutil"
	core "github.com/open-rails/planauth/core"
)

const defaultPlanName = "New Plan"

type createPlanRequest struct {
	Name *string `json:"name"`
}

// HandlePlansPOST echoes a draft plan attributed to the caller. Nothing is stored.
func HandlePlansPOST(mode core.AuthMode) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := callerIdentity(c)
		if !ok {
			return
		}
		var req createPlanRequest
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
		if err != nil {
			ginutil.BadRequest(c, "invalid_request")
			return
		}
		if strings.TrimSpace(string(body)) != "" {
			if err := json.Unmarshal(body, &req); err != nil {
				ginutil.BadRequest(c, "invalid_request")
				return
			}
		}
		name := defaultPlanName
		if req.Name != nil {
			name = *req.Name
		}
		c.JSON(http.StatusCreated, gin.H{
			"message": "Plan created successfully",
			"plan": plan{
				ID:        nextPlanID,
				Name:      name,
				CreatedBy: principal(mode, id),
				Status:    "draft",
			},
		})
	}
}
