// Package redis implements the cache boundary on Redis.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// scanPageSize bounds one SCAN round during pattern deletes.
const scanPageSize = 100

// Config holds the Redis connection settings.
type Config struct {
	Addr       string
	Password   string
	DB         int
	DefaultTTL time.Duration
}

// Cache implements cache.Cache on a Redis connection.
type Cache struct {
	client     *redis.Client
	defaultTTL time.Duration
}

// New connects to Redis and verifies the connection with a ping.
func New(cfg Config) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Cache{client: client, defaultTTL: cfg.DefaultTTL}, nil
}

// NewFromClient wraps an existing Redis client. Intended for tests running
// against an in-process server.
func NewFromClient(client *redis.Client, defaultTTL time.Duration) *Cache {
	return &Cache{client: client, defaultTTL: defaultTTL}
}

// Get returns the value for key, or nil when the key does not exist.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}
	return val, nil
}

// Set stores value under key, falling back to the default TTL when ttl is
// zero.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

// Delete removes key and reports whether it existed.
func (c *Cache) Delete(ctx context.Context, key string) (bool, error) {
	removed, err := c.client.Del(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return removed > 0, nil
}

// DeletePattern removes every key matching the glob pattern via SCAN.
func (c *Cache) DeletePattern(ctx context.Context, pattern string) (int64, error) {
	var cursor uint64
	var deleted int64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, scanPageSize).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to scan keys with pattern %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			removed, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, fmt.Errorf("failed to delete keys: %w", err)
			}
			deleted += removed
		}
		cursor = next
		if cursor == 0 {
			return deleted, nil
		}
	}
}

// Ping checks that Redis is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis connection: %w", err)
	}
	return nil
}
