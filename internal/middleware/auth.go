package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cloud-guardrail/cloud-guardrail/internal/auth"
)

// Context keys populated by AuthMiddleware.
const (
	UserIDKey    = "user_id"
	UserEmailKey = "user_email"
	UserRoleKey  = "user_role"
)

// AuthMiddleware validates the bearer token and stores the caller's identity
// in the request context. Tokens are issued by the external identity
// provider; this service only verifies them.
func AuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing authorization header",
			})
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header must start with 'Bearer '",
			})
			return
		}

		token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization token is empty",
			})
			return
		}

		claims, err := auth.ValidateJWT(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or expired token",
			})
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(UserEmailKey, claims.Email)
		c.Set(UserRoleKey, claims.Role)

		c.Next()
	}
}

// RequireRole rejects requests whose authenticated role does not match.
// Must run after AuthMiddleware.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if CallerRole(c) != role {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":      "insufficient role",
				"error_code": "insufficient_role",
			})
			return
		}
		c.Next()
	}
}

// CallerEmail returns the authenticated caller's email, or "" for
// unauthenticated contexts.
func CallerEmail(c *gin.Context) string {
	if v, ok := c.Get(UserEmailKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// CallerRole returns the authenticated caller's role, or "" for
// unauthenticated contexts.
func CallerRole(c *gin.Context) string {
	if v, ok := c.Get(UserRoleKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
