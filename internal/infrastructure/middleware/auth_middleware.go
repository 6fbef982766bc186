package middleware

import (
	"context"
	"net/http"
	"strings"

	"huddle/internal/core/services"
	"huddle/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ParticipantKey is the gin context key for the authenticated identity.
const ParticipantKey = "participant"

func AuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization header required"})
			c.Abort()
			return
		}

		claims, err := authService.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		c.Set(ParticipantKey, claims.Participant)
		ctx := context.WithValue(c.Request.Context(), services.ParticipantContextKey, claims.Participant)
		ctx = logger.WithParticipant(ctx, string(claims.Participant))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// OptionalAuthMiddleware resolves the identity when a token is present but
// lets anonymous requests through.
func OptionalAuthMiddleware(authService services.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token, ok := bearerToken(c); ok {
			if claims, err := authService.ValidateToken(token); err == nil {
				c.Set(ParticipantKey, claims.Participant)
			}
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	if header == "" {
		// WebSocket upgrades cannot set headers from the browser; accept
		// the token as a query parameter there.
		if token := c.Query("token"); token != "" {
			return token, true
		}
		return "", false
	}
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}
	return parts[1], true
}
