package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ventra-system/internal/utils"
)

// JWTAuth validates the bearer token and resolves the caller's user and tenant
// identifiers into the request context. The core trusts these scoping
// identifiers; no further authorization happens downstream.
func JWTAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "missing or malformed Authorization header",
			})
			return
		}

		claims, err := utils.ParseToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "invalid token",
			})
			return
		}

		c.Set("user_id", claims.UserId)
		c.Set("tenant_id", claims.TenantId)
		c.Next()
	}
}
