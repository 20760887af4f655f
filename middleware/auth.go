package middleware

import (
	"strings"

	"splitledger/utils"

	"github.com/gin-gonic/gin"
)

// AuthRequired accepts "Authorization: Bearer <jwt>" and stores the caller's
// id under utils.ContextUserID.
func AuthRequired(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		scheme, raw, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(raw) == "" {
			utils.Unauthorized(c, "Missing or malformed authorization header")
			c.Abort()
			return
		}

		claims, err := utils.ParseToken(secret, strings.TrimSpace(raw))
		if err != nil {
			utils.Unauthorized(c, "Invalid or expired token")
			c.Abort()
			return
		}

		c.Set(utils.ContextUserID, claims.UserID)
		c.Next()
	}
}
