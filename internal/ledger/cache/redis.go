package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/tair/stock-ledger/internal/ledger/domain"
)

var _ domain.QuantityCache = (*RedisQuantityCache)(nil)

// RedisQuantityCache stores current quantities under the stable keys derived
// from (product, variant, scope). Entries carry no TTL: they live until a
// mutation invalidates them, and the cache is never the source of truth.
type RedisQuantityCache struct {
	client *redis.Client
}

func NewRedisQuantityCache(client *redis.Client) *RedisQuantityCache {
	return &RedisQuantityCache{client: client}
}

func (c *RedisQuantityCache) Get(ctx context.Context, key string) (int32, bool, error) {
	val, err := c.client.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("cache get %s: %w", key, err)
	}
	return int32(val), true, nil
}

func (c *RedisQuantityCache) Set(ctx context.Context, key string, quantity int32) error {
	if err := c.client.Set(ctx, key, int64(quantity), 0).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

func (c *RedisQuantityCache) Invalidate(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("cache invalidate %s: %w", key, err)
	}
	return nil
}
