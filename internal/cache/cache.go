// Package cache provides the Redis-backed resource inventory cache. Inventory
// discovery itself belongs to an external collaborator; this service only
// invalidates the relevant entries after a successful state change so that
// consumers do not read a stale view of a resource that was just stopped or
// deleted.
package cache

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/cloud-guardrail/cloud-guardrail/internal/config"
)

const keyPrefix = "inventory:"

// Cache wraps the Redis client for inventory entries.
type Cache struct {
	rdb *redis.Client
}

// New connects to Redis. Returns nil (no cache) when no address is
// configured; callers must treat a nil *Cache as "caching disabled".
func New(ctx context.Context, cfg *config.RedisConfig) (*Cache, error) {
	if cfg.Addr == "" {
		return nil, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Cache{rdb: rdb}, nil
}

// Client exposes the underlying Redis client for components that share the
// connection, such as the distributed rate limiter.
func (c *Cache) Client() *redis.Client {
	return c.rdb
}

// Invalidate drops every cached entry for a resource type. Called after a
// successful mutation so the next inventory read reflects the new state.
func (c *Cache) Invalidate(ctx context.Context, resourceType string) error {
	pattern := keyPrefix + resourceType + "*"

	iter := c.rdb.Scan(ctx, 0, pattern, 100).Iterator()
	keys := make([]string, 0)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

// Close releases the Redis connection.
func (c *Cache) Close() error {
	return c.rdb.Close()
}
