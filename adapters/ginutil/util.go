package ginutil

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// RequestIDKey is the gin context key holding the request id.
const RequestIDKey = "planauth.request_id"

// Error helpers. Every error body is {"error": "<message>"}.
func SendErr(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
func BadRequest(c *gin.Context, msg string)   { SendErr(c, http.StatusBadRequest, msg) }
func Unauthorized(c *gin.Context, msg string) { SendErr(c, http.StatusUnauthorized, msg) }
func Forbidden(c *gin.Context, msg string)    { SendErr(c, http.StatusForbidden, msg) }
func NotFound(c *gin.Context, msg string)     { SendErr(c, http.StatusNotFound, msg) }

// Entry returns a log entry carrying the request's method, path and request id.
func Entry(c *gin.Context) *log.Entry {
	return log.WithContext(c.Request.Context()).WithFields(log.Fields{
		"method":     c.Request.Method,
		"path":       c.Request.URL.Path,
		"request_id": c.GetString(RequestIDKey),
	})
}

// BearerToken extracts a Bearer token from an Authorization header value.
func BearerToken(authorization string) string {
	if authorization == "" {
		return ""
	}
	parts := strings.SplitN(authorization, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// RequireUintParam answers 404 unless the named path parameter is a non-negative integer.
// Mount it ahead of auth so malformed paths never reach the guard.
func RequireUintParam(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, err := strconv.ParseUint(c.Param(name), 10, 64); err != nil {
			NotFound(c, "not_found")
			return
		}
		c.Next()
	}
}
