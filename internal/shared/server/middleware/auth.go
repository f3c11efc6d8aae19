package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"claims-backend/internal/shared/auth"
	"claims-backend/internal/shared/server/respond"
)

const (
	ownerIDKey = "ownerId"
	// OwnerHeader names the owner directly when header identity is allowed.
	OwnerHeader = "X-Owner-Id"
)

// Auth resolves the owner from a bearer token, or from OwnerHeader when
// allowOwnerHeader is set. Requests without an owner are rejected.
func Auth(signer *auth.Signer, allowOwnerHeader bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Status(http.StatusNoContent)
			return
		}

		if header := strings.TrimSpace(c.GetHeader("Authorization")); header != "" {
			token, ok := strings.CutPrefix(header, "Bearer ")
			token = strings.TrimSpace(token)
			if !ok || token == "" || signer == nil {
				respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
				return
			}
			claims, err := signer.Verify(token)
			if err != nil {
				respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing or invalid token", nil)
				return
			}
			c.Set(ownerIDKey, claims.Sub)
			c.Next()
			return
		}

		if allowOwnerHeader {
			if owner := strings.TrimSpace(c.GetHeader(OwnerHeader)); owner != "" {
				c.Set(ownerIDKey, owner)
				c.Next()
				return
			}
		}
		respond.Error(c, http.StatusUnauthorized, "unauthorized", "missing identity", nil)
	}
}

// OwnerIDFromContext returns the owner set by Auth.
func OwnerIDFromContext(c *gin.Context) string {
	if c == nil {
		return ""
	}
	return c.GetString(ownerIDKey)
}
