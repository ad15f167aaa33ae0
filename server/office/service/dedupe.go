package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const DedupeTTL = 24 * time.Hour

// Deduper reserves client message ids so a retried send is recognized.
type Deduper interface {
	Reserve(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string)
}

func chatIdempotencyKey(organizationID, threadID, senderID, clientMsgID string) string {
	return fmt.Sprintf("office:chat:idempotency:%s:%s:%s:%s", organizationID, threadID, senderID, clientMsgID)
}

type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = DedupeTTL
	}
	return &RedisDeduper{client: client, ttl: ttl}
}

func (d *RedisDeduper) Reserve(ctx context.Context, key string) (bool, error) {
	return d.client.SetNX(ctx, key, "1", d.ttl).Result()
}

func (d *RedisDeduper) Release(ctx context.Context, key string) {
	_, _ = d.client.Del(ctx, key).Result()
}

// MemoryDeduper is the single-process fallback when Redis is not configured.
type MemoryDeduper struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]time.Time
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	if ttl <= 0 {
		ttl = DedupeTTL
	}
	return &MemoryDeduper{ttl: ttl, now: time.Now, entries: map[string]time.Time{}}
}

func (d *MemoryDeduper) Reserve(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if expires, ok := d.entries[key]; ok && now.Before(expires) {
		return false, nil
	}
	if len(d.entries) > 4096 {
		for k, expires := range d.entries {
			if !now.Before(expires) {
				delete(d.entries, k)
			}
		}
	}
	d.entries[key] = now.Add(d.ttl)
	return true, nil
}

func (d *MemoryDeduper) Release(_ context.Context, key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, key)
}
