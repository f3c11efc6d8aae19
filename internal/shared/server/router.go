package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"claims-backend/internal/analyses"
	"claims-backend/internal/batches"
	"claims-backend/internal/services/health"
	"claims-backend/internal/shared/auth"
	"claims-backend/internal/shared/config"
	"claims-backend/internal/shared/metrics"
	"claims-backend/internal/shared/server/middleware"
	"claims-backend/internal/shared/server/respond"
	"claims-backend/internal/templates"
)

// RouterDeps lists the handlers mounted on the router.
type RouterDeps struct {
	Config          config.Config
	Signer          *auth.Signer
	Health          *health.Service
	BatchHandler    *batches.Handler
	AnalysisHandler *analyses.Handler
	TemplateHandler *templates.Handler
	RateLimits      map[string]middleware.RateLimitRule
	RateLimiter     *middleware.RateLimiter
}

// DefaultRateLimits returns per-owner limits for each route group.
func DefaultRateLimits() map[string]middleware.RateLimitRule {
	return map[string]middleware.RateLimitRule{
		middleware.GroupDefault:     {Rate: 5, Burst: 20},
		middleware.GroupBatchCreate: {Rate: 0.2, Burst: 3},
		middleware.GroupPolling:     {Rate: 10, Burst: 30},
	}
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
	)

	r.GET("/health", func(c *gin.Context) {
		report := deps.Health.Status(c.Request.Context())
		status := http.StatusOK
		if !report.OK {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, report)
	})
	r.GET("/metrics", metrics.Handler())

	limits := deps.RateLimits
	if limits == nil {
		limits = DefaultRateLimits()
	}

	api := r.Group("/api/v1")
	api.Use(
		middleware.Auth(deps.Signer, deps.Config.IsDevLike()),
		middleware.RateLimit(middleware.RateLimitConfig{
			Rules:    limits,
			GroupFor: rateLimitGroup,
			Limiter:  deps.RateLimiter,
		}),
	)
	if deps.BatchHandler != nil {
		deps.BatchHandler.RegisterRoutes(api)
	}
	if deps.AnalysisHandler != nil {
		deps.AnalysisHandler.RegisterRoutes(api)
	}
	if deps.TemplateHandler != nil {
		deps.TemplateHandler.RegisterRoutes(api)
	}

	return r
}

func rateLimitGroup(c *gin.Context) string {
	route := c.FullPath()
	switch {
	case c.Request.Method == http.MethodPost && route == "/api/v1/batches":
		return middleware.GroupBatchCreate
	case c.Request.Method == http.MethodGet && strings.HasPrefix(route, "/api/v1/batches"):
		return middleware.GroupPolling
	case c.Request.Method == http.MethodGet && strings.HasPrefix(route, "/api/v1/analyses"):
		return middleware.GroupPolling
	default:
		return middleware.GroupDefault
	}
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
