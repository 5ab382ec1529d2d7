package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisDedup claims ids with SETNX. A zero TTL keeps markers forever.
type RedisDedup struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
}

func NewRedisDedup(rdb redis.Cmdable, prefix string, ttl time.Duration) *RedisDedup {
	return &RedisDedup{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (r *RedisDedup) Claim(ctx context.Context, eventID string) (bool, error) {
	return r.rdb.SetNX(ctx, r.prefix+eventID, eventID, r.ttl).Result()
}

// MemoryDedup is a process-local Dedup, used in tests.
type MemoryDedup struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryDedup() *MemoryDedup { return &MemoryDedup{seen: map[string]struct{}{}} }

func (m *MemoryDedup) Claim(_ context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.seen[eventID]; ok {
		return false, nil
	}
	m.seen[eventID] = struct{}{}
	return true, nil
}
