package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const lockKeyPrefix = "presensi:lock:"

// releaseScript deletes the lock only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SubmissionLock is a short-lived Redis lock (SET NX PX) keyed by verdict key
type SubmissionLock struct {
	redis  *redis.Client
	logger *zap.Logger
}

// NewSubmissionLock creates a lock backed by client
func NewSubmissionLock(client *redis.Client, logger *zap.Logger) *SubmissionLock {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubmissionLock{
		redis:  client,
		logger: logger.With(zap.String("component", "submission_lock")),
	}
}

// Acquire tries once to take the lock for key. The lock expires after ttl even
// if release is never called.
func (l *SubmissionLock) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	redisKey := lockKeyPrefix + key
	ok, err := l.redis.SetNX(ctx, redisKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// the request context may already be cancelled
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.redis, []string{redisKey}, token).Err(); err != nil {
			l.logger.Warn("Failed to release submission lock", zap.String("key", redisKey), zap.Error(err))
		}
	}
	return release, true, nil
}
