package api

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	apperrors "github.com/dokterku/presensi/internal/common/errors"
	"github.com/dokterku/presensi/internal/common/health"
	"github.com/dokterku/presensi/internal/common/logger"
	"github.com/dokterku/presensi/internal/common/middleware"
	"github.com/dokterku/presensi/internal/metrics"
)

// RouterConfig controls the middleware chain
type RouterConfig struct {
	ServiceName string
	JWTSecret   []byte
	CORSOrigins []string
	Production  bool
	RateLimit   middleware.RateLimitConfig
	// Redis backs the rate limiter; nil disables rate limiting
	Redis *redis.Client
}

// NewRouter builds the gin engine: ops routes are public, everything under
// /api/v1 needs a bearer token
func NewRouter(cfg RouterConfig, h *Handler, hs *health.HealthService, log *zap.Logger) *gin.Engine {
	router := gin.New()
	router.Use(
		otelgin.Middleware(cfg.ServiceName),
		apperrors.ErrorHandler(),
		middleware.RequestID(),
		logger.GinMiddleware(log),
		metrics.Middleware(cfg.ServiceName),
		middleware.CORS(cfg.CORSOrigins),
		middleware.SecurityHeaders(cfg.Production),
		VersionMiddleware(DefaultAPIVersion, []string{DefaultAPIVersion}),
	)

	if hs != nil {
		hs.RegisterStandardRoutes(router)
	}
	router.GET("/metrics", metrics.Handler())

	v1 := router.Group("/api/v1", middleware.Auth(cfg.JWTSecret))
	if cfg.Redis != nil && cfg.RateLimit.Requests > 0 {
		v1.Use(middleware.RateLimit(cfg.Redis, cfg.RateLimit, log))
	}
	h.RegisterRoutes(v1)

	router.NoRoute(func(c *gin.Context) {
		apperrors.HandleError(c, apperrors.NotFound("Route"))
	})
	return router
}
