package middleware

import (
	"errors"
	"net/http"
	"strings"

	"meshcall/internal/core/services"

	"github.com/gin-gonic/gin"
)

// joinToken extracts the join token from the request: the `token` query
// parameter first (browser WebSocket clients cannot set headers), then the
// Authorization Bearer header.
func joinToken(c *gin.Context) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	parts := strings.Split(c.GetHeader("Authorization"), " ")
	if len(parts) == 2 && parts[0] == "Bearer" {
		return parts[1]
	}
	return ""
}

// JoinAuthMiddleware rejects socket upgrades whose join token does not match
// the userId/roomId the client claims in the query string.
func JoinAuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := joinToken(c)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "join token required"})
			c.Abort()
			return
		}

		userID := c.Query("userId")
		roomID := c.Query("roomId")
		if err := authService.CheckRoomAccess(token, userID, roomID); err != nil {
			status := http.StatusUnauthorized
			if errors.Is(err, services.ErrWrongRoom) {
				status = http.StatusForbidden
			}
			c.JSON(status, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Set("user_id", userID)
		c.Set("room_id", roomID)
		c.Next()
	}
}

// OptionalJoinAuthMiddleware validates the token when present but lets
// anonymous requests through. Used when auth is disabled in configuration.
func OptionalJoinAuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := joinToken(c); token != "" {
			if claims, err := authService.ValidateJoinToken(token); err == nil {
				c.Set("user_id", claims.UserID)
				c.Set("room_id", claims.RoomID)
			}
		}
		c.Next()
	}
}
