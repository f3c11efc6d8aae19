package middleware

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"claims-backend/internal/shared/auth"
	"claims-backend/internal/shared/telemetry"
)

func TestLoggingIncludesRequiredFields(t *testing.T) {
	gin.SetMode(gin.TestMode)
	signer, _ := auth.NewSigner("s", false)

	router := gin.New()
	router.Use(RequestID(), Logging(), Auth(signer, true))
	router.POST("/api/v1/batches/:id/cancel", func(c *gin.Context) {
		c.Set(BatchIDKey, c.Param("id"))
		c.Set(StatusTransitionKey, "PROCESSING->FAILED")
		if telemetry.RequestID(c.Request.Context()) == "" {
			t.Errorf("request context should carry the request id")
		}
		c.JSON(http.StatusAccepted, gin.H{"ok": true})
	})

	var buf bytes.Buffer
	prev := telemetry.SetOutput(&buf)
	defer telemetry.SetOutput(prev)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/batches/b-1/cancel", nil)
	req.Header.Set(OwnerHeader, "owner-1")
	req.Header.Set("X-Request-Id", "req-42")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	var payload map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &payload); err != nil {
		t.Fatalf("decode log json: %v", err)
	}
	want := map[string]any{
		"request_id":        "req-42",
		"owner_id":          "owner-1",
		"batch_id":          "b-1",
		"status_transition": "PROCESSING->FAILED",
		"status":            float64(http.StatusAccepted),
		"route":             "/api/v1/batches/:id/cancel",
	}
	for key, value := range want {
		if payload[key] != value {
			t.Fatalf("log field %s = %v, want %v", key, payload[key], value)
		}
	}
	if _, ok := payload["duration_ms"]; !ok {
		t.Fatalf("missing duration_ms")
	}
	if resp.Header().Get("X-Request-Id") != "req-42" {
		t.Fatalf("request id should be echoed")
	}
}

func TestRecoveryReturnsEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	prev := telemetry.SetOutput(&buf)
	defer telemetry.SetOutput(prev)

	router := gin.New()
	router.Use(RequestID(), Recovery())
	router.GET("/boom", func(c *gin.Context) { panic("boom") })

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/boom", nil))
	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"code":"internal"`) {
		t.Fatalf("unexpected body %s", resp.Body.String())
	}
}
