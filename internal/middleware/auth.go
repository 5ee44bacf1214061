package middleware

import (
	"net/http"
	"strings"

	"Lee_Social/internal/pkg"

	"github.com/gin-gonic/gin"
)

const (
	ContextUserIDKey = "user_id"
	ContextClaimsKey = "claims"
)

// TokenParser verifies an access token's signature, issuer and expiry.
type TokenParser interface {
	ParseAccess(token string) (*pkg.Claims, error)
}

func AuthMiddleware(parser TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "msg": "missing authorization header"})
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "msg": "invalid authorization format"})
			return
		}

		claims, err := parser.ParseAccess(strings.TrimSpace(parts[1]))
		if err != nil || claims.UserID() == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": "UNAUTHORIZED", "msg": "invalid or expired token"})
			return
		}

		// 身份只认 sub
		c.Set(ContextUserIDKey, claims.UserID())
		c.Set(ContextClaimsKey, claims)
		c.Next()
	}
}
