package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"claims-backend/internal/claims"
	"claims-backend/internal/services/health"
	"claims-backend/internal/shared/config"
	"claims-backend/internal/shared/server/middleware"
	"claims-backend/internal/templates"
)

func templateHandler() *templates.Handler {
	return templates.NewHandler(&templates.Synthesizer{Repo: claims.NewMemoryRepo()})
}

func TestHealthAndMetricsAreUnauthenticated(t *testing.T) {
	r := NewRouter(RouterDeps{
		Config: config.Config{Env: "production"},
		Health: health.NewService(map[string]health.Check{
			"database": func(context.Context) error { return errors.New("down") },
		}),
	})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))
	if resp.Code != http.StatusServiceUnavailable || !strings.Contains(resp.Body.String(), `"database":"down"`) {
		t.Fatalf("unexpected health response %d %s", resp.Code, resp.Body.String())
	}

	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "claim_batches_started_total") {
		t.Fatalf("unexpected metrics response %d", resp.Code)
	}
}

func TestAPIRequiresIdentity(t *testing.T) {
	r := NewRouter(RouterDeps{Config: config.Config{Env: "production"}, TemplateHandler: templateHandler()})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/templates", nil)
	req.Header.Set(middleware.OwnerHeader, "owner-1")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("owner header must be ignored outside dev, got %d", resp.Code)
	}
}

func TestRateLimitGroups(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	r := NewRouter(RouterDeps{
		Config:          config.Config{Env: "dev"},
		TemplateHandler: templateHandler(),
		RateLimits:      map[string]middleware.RateLimitRule{middleware.GroupDefault: {Rate: 1, Burst: 1}},
		RateLimiter:     middleware.NewRateLimiter(func() time.Time { return now }),
	})
	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/templates", nil)
		req.Header.Set(middleware.OwnerHeader, "owner-1")
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		codes = append(codes, resp.Code)
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusTooManyRequests {
		t.Fatalf("expected second request limited, got %v", codes)
	}
}

func TestAddr(t *testing.T) {
	cases := map[string]string{"": ":8080", "9000": ":9000", ":7000": ":7000"}
	for in, want := range cases {
		if got := Addr(in); got != want {
			t.Fatalf("Addr(%q) = %q, want %q", in, got, want)
		}
	}
}
