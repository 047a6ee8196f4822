package visit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultCacheTTL = 15 * time.Second

// RedisStatsCache caches computed Stats in Redis with a short TTL. It is
// strictly advisory: every failure reads as a miss and writes are
// fire-and-forget, so an unreachable Redis only costs recomputation.
type RedisStatsCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ StatsCache = (*RedisStatsCache)(nil)

// NewRedisStatsCache wraps a Redis client. ttl <= 0 selects the default.
func NewRedisStatsCache(client *redis.Client, ttl time.Duration) *RedisStatsCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &RedisStatsCache{client: client, ttl: ttl}
}

func (c *RedisStatsCache) key(kind, id string) string {
	return "kartoteka:visit_stats:" + kind + ":" + id
}

func (c *RedisStatsCache) Get(ctx context.Context, kind, id string) (Stats, bool) {
	raw, err := c.client.Get(ctx, c.key(kind, id)).Bytes()
	if err != nil {
		return Stats{}, false
	}
	var s Stats
	if err := json.Unmarshal(raw, &s); err != nil {
		return Stats{}, false
	}
	return s, true
}

func (c *RedisStatsCache) Set(ctx context.Context, kind, id string, s Stats) {
	raw, err := json.Marshal(s)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, c.key(kind, id), raw, c.ttl).Err()
}
