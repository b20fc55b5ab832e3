package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// Redis key prefix for cached entries: pcache:<category>:<key>
	keyPrefix = "pcache:"

	scanBatch = 256
)

// RedisCache is a Redis-backed Cache shared by every process on a machine.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisCacheOption configures a RedisCache instance.
type RedisCacheOption func(*RedisCache)

// WithTTL bounds how long an entry survives without an eviction.
func WithTTL(ttl time.Duration) RedisCacheOption {
	return func(c *RedisCache) { c.ttl = ttl }
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client *redis.Client, opts ...RedisCacheOption) *RedisCache {
	c := &RedisCache{client: client}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// DialRedis parses url, pings the server and returns a ready cache.
func DialRedis(ctx context.Context, url string, opts ...RedisCacheOption) (*RedisCache, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisCache(client, opts...), nil
}

func redisKey(category Category, key string) string {
	return keyPrefix + string(category) + ":" + key
}

func (c *RedisCache) Get(ctx context.Context, category Category, key string) ([]byte, bool, error) {
	v, err := c.client.Get(ctx, redisKey(category, key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (c *RedisCache) Put(ctx context.Context, category Category, key string, value []byte) error {
	return c.client.Set(ctx, redisKey(category, key), value, c.ttl).Err()
}

// EvictCategory walks the category with SCAN and deletes in batches so large
// categories never block the server.
func (c *RedisCache) EvictCategory(ctx context.Context, category Category) (int, error) {
	pattern := keyPrefix + string(category) + ":*"
	removed := 0

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return removed, fmt.Errorf("scan %s: %w", pattern, err)
		}
		if len(keys) > 0 {
			n, err := c.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("delete %s: %w", pattern, err)
			}
			removed += int(n)
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}

// Health checks if the Redis connection is healthy.
func (c *RedisCache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}
