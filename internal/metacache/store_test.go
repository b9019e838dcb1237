package metacache

import (
	"context"
	"testing"
	"time"

	"github.com/pitabwire/tableview/internal/config"
)

// --- MemoryStore ---

func TestMemoryStore_LoadMissing(t *testing.T) {
	s := NewMemoryStore()
	v, found, err := s.Load(context.Background(), "k")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if found || v != nil {
		t.Errorf("Load = %q, %v; want nil, false", v, found)
	}
}

func TestMemoryStore_SaveLoad(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	value := []byte(`{"columns":[]}`)

	if err := s.Save(ctx, "k", value, time.Minute); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	value[0] = 'X'

	got, found, err := s.Load(ctx, "k")
	if err != nil || !found {
		t.Fatalf("Load = %v, %v", found, err)
	}
	if string(got) != `{"columns":[]}` {
		t.Errorf("Load = %q, stored value must not alias the caller's slice", got)
	}
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Save(ctx, "k", []byte("v"), time.Millisecond); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, found, _ := s.Load(ctx, "k"); found {
		t.Error("found = true after TTL expiry")
	}
	if s.Len() != 0 {
		t.Errorf("Len = %d, expired entry should be removed on load", s.Len())
	}
}

func TestMemoryStore_NoTTLKeeps(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.Save(ctx, "k", []byte("v"), 0)
	if _, found, _ := s.Load(ctx, "k"); !found {
		t.Error("value saved without TTL should be found")
	}
}

// --- RedisStore ---

func TestRedisStore_SaveLoadDelete(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	if err := s.Save(ctx, "tableview:default:columns", []byte(`{"a":1}`), time.Minute); err != nil {
		t.Fatalf("Save error: %v", err)
	}
	if ttl := mr.TTL("tableview:default:columns"); ttl != time.Minute {
		t.Errorf("TTL = %v, want 1m", ttl)
	}

	got, found, err := s.Load(ctx, "tableview:default:columns")
	if err != nil || !found || string(got) != `{"a":1}` {
		t.Fatalf("Load = %q, %v, %v", got, found, err)
	}

	if err := s.Delete(ctx, "tableview:default:columns", "missing"); err != nil {
		t.Fatalf("Delete error: %v", err)
	}
	if _, found, _ := s.Load(ctx, "tableview:default:columns"); found {
		t.Error("found = true after Delete")
	}
}

func TestRedisStore_TTLExpiry(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	_ = s.Save(ctx, "k", []byte("v"), 10*time.Second)
	mr.FastForward(11 * time.Second)

	if _, found, _ := s.Load(ctx, "k"); found {
		t.Error("found = true after TTL expiry")
	}
}

func TestRedisStore_HealthCheck(t *testing.T) {
	s, _ := newRedisStore(t)
	if err := s.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck error: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close on wrapped client should be a no-op, got %v", err)
	}
}

func TestNewStore(t *testing.T) {
	s, err := NewStore(config.CacheConfig{Driver: config.CacheMemory})
	if err != nil {
		t.Fatalf("NewStore(memory) error: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("NewStore(memory) = %T, want *MemoryStore", s)
	}

	s, err = NewStore(config.CacheConfig{Driver: config.CacheRedis, RedisAddr: "localhost:0"})
	if err != nil {
		t.Fatalf("NewStore(redis) error: %v", err)
	}
	if _, ok := s.(*RedisStore); !ok {
		t.Errorf("NewStore(redis) = %T, want *RedisStore", s)
	}
	_ = s.Close()

	if _, err := NewStore(config.CacheConfig{Driver: "memcached"}); err == nil {
		t.Error("NewStore(memcached) should fail")
	}
}
