package zone

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/dokterku/presensi/internal/metrics"
)

const (
	zoneKeyPrefix = "presensi:zone:"
	zoneListKey   = "presensi:zones:active"
)

// CachedStore is a Redis read-through cache in front of another Store.
// Cache failures fall back to the underlying store. Zones are edited outside
// this service, so an edit becomes visible once its entry expires after ttl.
type CachedStore struct {
	next   Store
	redis  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedStore wraps next with a Redis cache that keeps entries for ttl
func NewCachedStore(next Store, client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedStore{
		next:   next,
		redis:  client,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "zone_cache")),
	}
}

// GetZone returns a zone from cache, loading it from the underlying store on a miss
func (s *CachedStore) GetZone(ctx context.Context, id string) (*WorkZone, error) {
	var cached WorkZone
	if s.get(ctx, zoneKeyPrefix+id, &cached) {
		return &cached, nil
	}

	z, err := s.next.GetZone(ctx, id)
	if err != nil {
		return nil, err
	}
	s.set(ctx, zoneKeyPrefix+id, z)
	return z, nil
}

// ListActiveZones returns the active zone list from cache, loading it on a miss
func (s *CachedStore) ListActiveZones(ctx context.Context) ([]WorkZone, error) {
	var cached []WorkZone
	if s.get(ctx, zoneListKey, &cached) {
		return cached, nil
	}

	zones, err := s.next.ListActiveZones(ctx)
	if err != nil {
		return nil, err
	}
	s.set(ctx, zoneListKey, zones)
	return zones, nil
}

func (s *CachedStore) get(ctx context.Context, key string, dest interface{}) bool {
	raw, err := s.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.RecordCacheOperation("zone", "get", "miss")
		return false
	}
	if err != nil {
		metrics.RecordCacheOperation("zone", "get", "error")
		s.logger.Warn("Zone cache read failed, using store", zap.String("key", key), zap.Error(err))
		return false
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		metrics.RecordCacheOperation("zone", "get", "error")
		s.logger.Warn("Discarding undecodable zone cache entry", zap.String("key", key), zap.Error(err))
		_ = s.redis.Del(ctx, key).Err()
		return false
	}
	metrics.RecordCacheOperation("zone", "get", "hit")
	return true
}

func (s *CachedStore) set(ctx context.Context, key string, value interface{}) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, key, raw, s.ttl).Err(); err != nil {
		metrics.RecordCacheOperation("zone", "set", "error")
		s.logger.Warn("Zone cache write failed", zap.String("key", key), zap.Error(err))
		return
	}
	metrics.RecordCacheOperation("zone", "set", "hit")
}
