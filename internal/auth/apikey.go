package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	headerName = "X-API-Key"
	// ContextKeyAdmin is set to true on requests authenticated with an admin key.
	ContextKeyAdmin = "auth.admin"
)

// APIKeyMiddleware validates the API key from the X-API-Key header against
// the client key and, if set, the admin key. Admin keys are accepted
// everywhere. If both keys are empty, authentication is disabled.
func APIKeyMiddleware(apiKey, adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" && adminKey == "" {
			c.Next()
			return
		}

		provided := c.GetHeader(headerName)
		if provided == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing API key",
			})
			return
		}

		switch {
		case matches(provided, adminKey):
			c.Set(ContextKeyAdmin, true)
		case matches(provided, apiKey):
		default:
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "invalid API key",
			})
			return
		}

		c.Next()
	}
}

// RequireAdmin rejects requests not authenticated with the admin key. With
// no admin key configured, admin endpoints are disabled.
func RequireAdmin(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "admin endpoints are disabled",
			})
			return
		}
		if !c.GetBool(ContextKeyAdmin) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error": "admin API key required",
			})
			return
		}
		c.Next()
	}
}

func matches(provided, key string) bool {
	return key != "" && subtle.ConstantTimeCompare([]byte(provided), []byte(key)) == 1
}
