package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	apperrors "github.com/dokterku/presensi/internal/common/errors"
)

var (
	rlHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "presensi",
			Name:      "rate_limit_hits_total",
			Help:      "Total number of requests rejected by rate limiting",
		},
		[]string{"scope"},
	)

	rlFailOpenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "presensi",
			Name:      "rate_limit_fail_open_total",
			Help:      "Total number of requests allowed due to Redis unavailability (fail-open)",
		},
		[]string{"scope"},
	)
)

// RateLimitConfig configures the distributed rate limiter
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// RateLimit implements Redis-backed fixed window rate limiting per
// authenticated subject, so it must run after Auth. Requests without a subject
// are passed through. If Redis is unavailable, it fails open.
func RateLimit(redisClient *redis.Client, cfg RateLimitConfig, logger *zap.Logger) gin.HandlerFunc {
	windowSeconds := int64(cfg.Window.Seconds())
	if windowSeconds < 1 {
		windowSeconds = 1
	}

	return func(c *gin.Context) {
		const scope = "subject"
		identifier := SubjectID(c)
		if identifier == "" || redisClient == nil || cfg.Requests <= 0 {
			c.Next()
			return
		}

		windowEpoch := time.Now().Unix() / windowSeconds
		key := fmt.Sprintf("presensi:ratelimit:%s:%s:%d", scope, identifier, windowEpoch)

		ctx, cancel := context.WithTimeout(c.Request.Context(), 200*time.Millisecond)
		defer cancel()

		count, err := redisClient.Incr(ctx, key).Result()
		if err != nil {
			rlFailOpenTotal.WithLabelValues(scope).Inc()
			logger.Warn("Rate limit Redis error, failing open",
				zap.Error(err),
				zap.String("key", key))
			c.Next()
			return
		}

		if count == 1 {
			redisClient.Expire(ctx, key, time.Duration(windowSeconds+1)*time.Second)
		}

		remaining := int64(cfg.Requests) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", fmt.Sprintf("%d", cfg.Requests))
		c.Header("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if count > int64(cfg.Requests) {
			retryAfter := windowSeconds - (time.Now().Unix() % windowSeconds)
			c.Header("Retry-After", fmt.Sprintf("%d", retryAfter))
			rlHitsTotal.WithLabelValues(scope).Inc()
			apperrors.HandleError(c, apperrors.RateLimited())
			c.Abort()
			return
		}

		c.Next()
	}
}
