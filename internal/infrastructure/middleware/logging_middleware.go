package middleware

import (
	"time"

	"huddle/pkg/logger"

	"github.com/gin-gonic/gin"
)

// LoggingMiddleware writes one access-log line per request, carrying the
// correlation fields the earlier middleware stashed on the request context.
func LoggingMiddleware(cl *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		cl.LogRequest(c.Request.Context(), c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
