// Package cache provides a tiny Redis client wrapper for per-instance result caching
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/SyedDaiam9101/inference-envelope/internal/envelope"
)

// Cache wraps a Redis client for result storage
type Cache struct {
	client *redis.Client
}

// New creates a new Cache instance connected to the specified Redis address
// If addr is empty, defaults to localhost:6379
func New(addr string) (*Cache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	return &Cache{client: client}, nil
}

// Key returns the cache key of one instance. Map keys are sorted by
// encoding/json, so equal instances share a key.
func Key(model string, mode envelope.Mode, instance any) (string, error) {
	b, err := json.Marshal(instance)
	if err != nil {
		return "", fmt.Errorf("failed to encode instance: %w", err)
	}
	return fmt.Sprintf("envelope:%s:%s:%x", model, mode, sha256.Sum256(b)), nil
}

// GetMany fetches all keys in one round trip. Missing keys yield nil entries.
func (c *Cache) GetMany(ctx context.Context, keys []string) ([][]byte, error) {
	if c.client == nil {
		return nil, fmt.Errorf("cache client is nil")
	}
	if len(keys) == 0 {
		return nil, nil
	}

	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get %d results: %w", len(keys), err)
	}

	out := make([][]byte, len(vals))
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[i] = []byte(s)
		}
	}
	return out, nil
}

// SetMany stores entries with the given TTL in one pipeline
func (c *Cache) SetMany(ctx context.Context, entries map[string][]byte, ttl time.Duration) error {
	if c.client == nil {
		return fmt.Errorf("cache client is nil")
	}
	if len(entries) == 0 {
		return nil
	}

	pipe := c.client.Pipeline()
	for key, val := range entries {
		pipe.Set(ctx, key, val, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set %d results: %w", len(entries), err)
	}
	return nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
