package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"claims-backend/internal/shared/telemetry"
)

// Context keys handlers set so the access log can correlate requests.
const (
	BatchIDKey          = "batchId"
	AnalysisIDKey       = "analysisId"
	StatusTransitionKey = "statusTransition"
)

// Logging emits a structured log per request.
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		fields := map[string]any{
			"request_id":  RequestIDFromContext(c),
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"route":       c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": float64(time.Since(start).Microseconds()) / 1000.0,
			"owner_id":    OwnerIDFromContext(c),
			"client_ip":   c.ClientIP(),
		}
		for key, field := range map[string]string{
			BatchIDKey:          "batch_id",
			AnalysisIDKey:       "analysis_id",
			StatusTransitionKey: "status_transition",
		} {
			if v := c.GetString(key); v != "" {
				fields[field] = v
			}
		}
		telemetry.Info("request.complete", fields)
	}
}
