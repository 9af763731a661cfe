// Package testutil provides testing utilities shared by the presensi packages
package testutil

import (
	"fmt"
	"sync"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/dokterku/presensi/internal/common/database"
)

// MockRedis manages a miniredis instance for testing
type MockRedis struct {
	mini    *miniredis.Miniredis
	client  *redis.Client
	mu      sync.RWMutex
	running bool
}

func (m *MockRedis) shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	if m.client != nil {
		_ = m.client.Close()
	}
	if m.mini != nil {
		m.mini.Close()
	}

	m.running = false
}

// Client returns the Redis client
func (m *MockRedis) Client() *redis.Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client
}

// RedisClient wraps the client the way production code receives it
func (m *MockRedis) RedisClient() *database.RedisClient {
	return &database.RedisClient{Client: m.Client()}
}

// Mini returns the underlying miniredis instance for direct manipulation
func (m *MockRedis) Mini() *miniredis.Miniredis {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.mini
}

// FastForward advances the mock Redis time by the given duration
// This is useful for testing TTL expiration
func (m *MockRedis) FastForward(d time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.mini == nil {
		return fmt.Errorf("mock redis not running")
	}

	m.mini.FastForward(d)
	return nil
}

// Keys returns every key currently stored
func (m *MockRedis) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.mini == nil {
		return nil
	}
	return m.mini.Keys()
}

// Start is the usual test entry point: it starts miniredis and registers cleanup
func Start(t interface {
	Helper()
	Fatalf(format string, args ...interface{})
	Cleanup(func())
}) *MockRedis {
	t.Helper()
	mini, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start mock redis: %v", err)
	}
	m := &MockRedis{
		mini:    mini,
		client:  redis.NewClient(&redis.Options{Addr: mini.Addr()}),
		running: true,
	}
	t.Cleanup(m.shutdown)
	return m
}
