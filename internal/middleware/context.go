package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// UserIDFrom returns the authenticated user id from the gin context.
func UserIDFrom(c *gin.Context) (uuid.UUID, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return uuid.Nil, false
	}
	id, ok := v.(uuid.UUID)
	return id, ok
}

// OptionalUserIDFrom returns the user id or nil for anonymous requests.
func OptionalUserIDFrom(c *gin.Context) *uuid.UUID {
	if id, ok := UserIDFrom(c); ok {
		return &id
	}
	return nil
}
