package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aura-rewards/backend/internal/auth"
)

// OptionalJWT validates the Authorization header when present and sets user
// claims in context, but lets anonymous requests through. Watch sessions can
// be opened without an account; settlement distinguishes later.
func OptionalJWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.Next()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			c.Next()
			return
		}
		claims, err := jwtService.Validate(parts[1])
		if err != nil {
			// invalid token on an optional route: treat as anonymous
			c.Next()
			return
		}
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserRole, claims.Role)
		c.Set(ContextUserEmail, claims.Email)
		c.Next()
	}
}
