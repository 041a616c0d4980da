package matchcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const redisKeyPrefix = "taskora:match:"

// RedisCache is a Cache backed by redis, for deployments running more than
// one instance behind a balancer. Redis handles expiry, so there is no sweep.
type RedisCache struct {
	logger *zap.Logger
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache creates a redis-backed cache and verifies connectivity
func NewRedisCache(logger *zap.Logger, addr, password string, db int, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisCache{logger: logger, client: client, ttl: ttl}, nil
}

// Put stores an entry under the token with the cache TTL
func (c *RedisCache) Put(ctx context.Context, token string, entry *Entry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal match entry: %w", err)
	}
	if err := c.client.Set(ctx, redisKeyPrefix+token, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store match entry: %w", err)
	}
	return nil
}

// Get returns the entry for the token, or nil if absent or expired
func (c *RedisCache) Get(ctx context.Context, token string) (*Entry, error) {
	payload, err := c.client.Get(ctx, redisKeyPrefix+token).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load match entry: %w", err)
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal match entry: %w", err)
	}
	return &entry, nil
}

// Delete removes the token
func (c *RedisCache) Delete(ctx context.Context, token string) error {
	if err := c.client.Del(ctx, redisKeyPrefix+token).Err(); err != nil {
		return fmt.Errorf("failed to delete match entry: %w", err)
	}
	return nil
}

// Close closes the redis client
func (c *RedisCache) Close() error {
	return c.client.Close()
}
