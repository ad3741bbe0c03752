package middleware

import (
	"meshcall/pkg/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// TracingMiddleware opens one span per relay HTTP request so token minting
// and WebSocket upgrades show up in the same trace as the signaling spans.
func TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, span := tracing.TraceHTTPRequest(c.Request.Context(), c.Request.Method, c.FullPath())
		defer span.End()

		span.SetAttributes(
			attribute.String("http.host", c.Request.Host),
			attribute.String("http.remote_addr", c.ClientIP()),
		)
		// Identity is carried in the query on the upgrade path; handlers
		// fill room_id/user_id for the rest.
		if roomID := c.Query("roomId"); roomID != "" {
			span.SetAttributes(attribute.String("room.id", roomID))
		}
		if userID := c.Query("userId"); userID != "" {
			span.SetAttributes(attribute.String("user.id", userID))
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		span.SetAttributes(attribute.Int("http.status_code", c.Writer.Status()))
		if c.Writer.Status() >= 400 {
			span.SetStatus(codes.Error, c.Errors.String())
		} else {
			span.SetStatus(codes.Ok, "")
		}
	}
}
