package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/aura-webinar/recordings/internal/auth"
	"github.com/aura-webinar/recordings/pkg/response"
)

const (
	// ContextClientID is the key for the credential client id in gin context.
	ContextClientID = "client_id"
	// ContextUserRole is the key for the credential role in gin context.
	ContextUserRole = "user_role"
	// ContextRoomID is the key for the room a credential is restricted to; empty when unrestricted.
	ContextRoomID = "room_id"
)

// JWT returns a middleware that validates JWT and sets credential claims in context.
func JWT(jwtService *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := jwtService.Validate(parts[1])
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextClientID, claims.ClientID)
		c.Set(ContextUserRole, claims.Role)
		c.Set(ContextRoomID, claims.RoomID)
		c.Next()
	}
}

// RoomScope returns the room the request's credential is restricted to, or "".
func RoomScope(c *gin.Context) string {
	return c.GetString(ContextRoomID)
}
