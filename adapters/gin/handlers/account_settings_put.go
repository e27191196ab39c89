package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/open-rails/planauth/adapters/ginutil"
	"github.com/open-rails/planauth/authz"
	core "github.com/open-rails/planauth/core"
	"github.com/sirupsen/logrus"
)

// HandleAccountSettingsPUT echoes the submitted settings. In policy mode the caller must
// additionally hold update on accounts/{id}.
func HandleAccountSettingsPUT(mode core.AuthMode, pdp authz.PolicyChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID, err := strconv.ParseUint(c.Param("id"), 10, 64)
		if err != nil {
			ginutil.NotFound(c, "not_found")
			return
		}
		id, ok := callerIdentity(c)
		if !ok {
			return
		}

		var settings any
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
		if err != nil {
			ginutil.BadRequest(c, "invalid_request")
			return
		}
		if strings.TrimSpace(string(body)) != "" {
			if err := json.Unmarshal(body, &settings); err != nil {
				ginutil.BadRequest(c, "invalid_request")
				return
			}
		}

		if mode == core.ModePolicy {
			denied := fmt.Sprintf("Access denied for account %d", accountID)
			if pdp == nil {
				ginutil.Forbidden(c, denied)
				return
			}
			permit, err := pdp.Check(c.Request.Context(), id.ObjectID, fmt.Sprintf("accounts/%d", accountID), "update",
				map[string]any{"account_id": accountID})
			if err != nil {
				ginutil.Entry(c).WithError(err).WithFields(logrus.Fields{
					"principal":  id.ObjectID,
					"account_id": accountID,
				}).Error("pdp_authorize_failed")
			}
			if !permit {
				ginutil.Forbidden(c, denied)
				return
			}
		}

		statusOK(c, gin.H{
			"message":    fmt.Sprintf("Account %d settings updated", accountID),
			"settings":   settings,
			"updated_by": principal(mode, id),
		})
	}
}
