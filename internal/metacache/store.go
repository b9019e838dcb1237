// Package metacache caches the column config and filter options a viewer
// fetches from the backend. A new fetch replaces the cached value; values are
// never merged.
package metacache

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/tableview/internal/config"
)

// Store holds raw cache values by key.
type Store interface {
	// Load returns the value stored under key. A missing or expired key
	// reports found=false with no error.
	Load(ctx context.Context, key string) (value []byte, found bool, err error)

	// Save replaces the value under key. A ttl <= 0 keeps it until deleted.
	Save(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes the given keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error

	// Close releases resources owned by the store.
	Close() error
}

// NewStore builds the store selected by cfg.Driver.
func NewStore(cfg config.CacheConfig) (Store, error) {
	switch cfg.Driver {
	case config.CacheMemory, "":
		return NewMemoryStore(), nil
	case config.CacheRedis:
		client := redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
			DB:   cfg.RedisDB,
		})
		return &RedisStore{client: client, closer: client}, nil
	}
	return nil, fmt.Errorf("metacache: unknown driver %q", cfg.Driver)
}

// --- MemoryStore ---

// MemoryStore is an in-memory Store with TTL support.
// Suitable for testing and single-instance deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memEntry
}

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memEntry)}
}

// Load returns a copy of the stored value.
func (s *MemoryStore) Load(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, false, nil
	}

	return append([]byte(nil), entry.value...), true, nil
}

// Save stores a copy of value.
func (s *MemoryStore) Save(_ context.Context, key string, value []byte, ttl time.Duration) error {
	entry := memEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = time.Now().Add(ttl)
	}
	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
	return nil
}

// Delete removes keys.
func (s *MemoryStore) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	for _, k := range keys {
		delete(s.entries, k)
	}
	s.mu.Unlock()
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

// HealthCheck always succeeds.
func (s *MemoryStore) HealthCheck(context.Context) error { return nil }

// Len returns the number of entries (including expired ones). For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// --- RedisStore ---

// RedisStore is a Redis-backed Store.
type RedisStore struct {
	client redis.Cmdable
	closer io.Closer
}

// NewRedisStore wraps an existing client. Close does not close it.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// Load reads key from Redis.
func (s *RedisStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}
	return raw, true, nil
}

// Save writes key to Redis.
func (s *RedisStore) Save(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Delete removes keys from Redis.
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close closes the client if the store created it.
func (s *RedisStore) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// HealthCheck pings Redis.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
