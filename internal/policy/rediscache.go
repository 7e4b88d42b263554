package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is an optional distributed decision cache for deployments that
// run multiple Engine processes behind a shared Redis instance, so a policy
// write on one process invalidates the cache everyone else reads from.
// Single-process deployments should stick with Engine's built-in map.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache builds a RedisCache. addr follows config.PolicyConfig.RedisAddr.
func NewRedisCache(addr, prefix string, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisCache{client: redis.NewClient(&redis.Options{Addr: addr}), prefix: prefix, ttl: ttl}
}

func (c *RedisCache) key(k cacheKey) string {
	return fmt.Sprintf("%s:%s:%s:%s", c.prefix, k.principal, k.action, k.resource)
}

func (c *RedisCache) Get(ctx context.Context, k cacheKey) (Decision, bool) {
	raw, err := c.client.Get(ctx, c.key(k)).Bytes()
	if err != nil {
		return Decision{}, false
	}
	var d Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		return Decision{}, false
	}
	return d, true
}

func (c *RedisCache) Set(ctx context.Context, k cacheKey, d Decision) {
	raw, err := json.Marshal(d)
	if err != nil {
		return
	}
	c.client.Set(ctx, c.key(k), raw, c.ttl)
}

// InvalidateAll drops every cached decision under this cache's prefix.
func (c *RedisCache) InvalidateAll(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+":*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
