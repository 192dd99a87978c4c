package middleware

import (
	"github.com/gin-gonic/gin"
)

const userHeader = "X-USER-ID"

// Identity copies the authenticated user ID from the request header into the
// gin context. Authentication itself happens upstream; the services only
// need the identity string.
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := c.GetHeader(userHeader); id != "" {
			c.Set("user_id", id)
		}
		c.Next()
	}
}

// UserID returns the caller identity for the request, or "" when the request
// is anonymous.
func UserID(c *gin.Context) string {
	return c.GetString("user_id")
}
