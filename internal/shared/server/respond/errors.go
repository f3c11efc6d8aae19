package respond

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"claims-backend/internal/shared/telemetry"
)

// ErrorBody is the error envelope payload.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorResponse wraps the error body.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Error logs and aborts with the error envelope.
func Error(c *gin.Context, status int, code, message string, details any) {
	fields := map[string]any{
		"status":     status,
		"code":       code,
		"message":    message,
		"path":       c.Request.URL.Path,
		"method":     c.Request.Method,
		"request_id": c.GetString("requestId"),
	}
	if owner := c.GetString("ownerId"); owner != "" {
		fields["owner_id"] = owner
	}
	if status >= http.StatusInternalServerError {
		telemetry.Error("http.error", fields)
	} else {
		telemetry.Warn("http.error", fields)
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorBody{Code: code, Message: message, Details: details},
	})
}

// FieldIssue is one entry of a validation_error details list.
type FieldIssue struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

// Validation aborts with 400 validation_error.
func Validation(c *gin.Context, message string, issues ...FieldIssue) {
	var details any
	if len(issues) > 0 {
		details = issues
	}
	Error(c, http.StatusBadRequest, "validation_error", message, details)
}
