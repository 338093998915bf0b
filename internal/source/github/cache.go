package github

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const cachePrefix = "ghtrail:gh:"

// RedisCache caches GitHub API responses in Redis. Responses for forensic
// coordinates are immutable enough (a commit at a SHA does not change) that
// a generous TTL is safe, and every hit is a request that does not come out
// of the hourly budget.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache connects a response cache to the given Redis instance.
func NewRedisCache(addr, password string, db int, ttl time.Duration) *RedisCache {
	if ttl == 0 {
		ttl = 6 * time.Hour
	}
	return &RedisCache{
		rdb: redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db}),
		ttl: ttl,
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := c.rdb.Get(ctx, cachePrefix+key).Bytes()
	if err != nil {
		return nil, false
	}
	return val, true
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte) {
	// A failed write only costs budget on the next fetch.
	c.rdb.Set(ctx, cachePrefix+key, value, c.ttl)
}

// Close releases the underlying Redis connection.
func (c *RedisCache) Close() error {
	return c.rdb.Close()
}
