// Package cache is the Redis-backed short-lived KV used for OAuth sessions,
// routing cursors, model catalogs and refresh locks. Nothing in here is a
// durable store; every write carries a TTL or is an unbounded counter the
// callers treat as best-effort.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss reports a key that is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Cache wraps a Redis client with a key prefix.
type Cache struct {
	client *redis.Client
	prefix string
}

// New parses a redis:// URL and returns a connected client wrapper. The
// connection is verified lazily; call Ping for an eager check.
func New(redisURL, prefix string) (*Cache, error) {
	if prefix == "" {
		prefix = "omni2api:"
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	opt.PoolSize = 10
	opt.MinIdleConns = 2

	return &Cache{client: redis.NewClient(opt), prefix: prefix}, nil
}

// NewFromClient wraps an existing client. Tests use this with miniredis.
func NewFromClient(client *redis.Client, prefix string) *Cache {
	if prefix == "" {
		prefix = "omni2api:"
	}
	return &Cache{client: client, prefix: prefix}
}

// Ping verifies connectivity.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Get returns the raw string at key, or ErrMiss.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, c.prefix+key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrMiss
		}
		return "", fmt.Errorf("cache: get %s: %w", key, err)
	}
	return val, nil
}

// Set writes key with an explicit TTL. ttl <= 0 means no expiry, which only
// the routing cursors use.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("cache: delete %s: %w", key, err)
	}
	return nil
}

// SetIfAbsent writes key only when it does not exist and reports whether the
// write happened. This is the cross-process lock primitive.
func (c *Cache) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.prefix+key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("cache: setnx %s: %w", key, err)
	}
	return ok, nil
}

// Incr atomically increments the counter at key and returns the new value.
// Missing keys start at zero.
func (c *Cache) Incr(ctx context.Context, key string) (int64, error) {
	n, err := c.client.Incr(ctx, c.prefix+key).Result()
	if err != nil {
		return 0, fmt.Errorf("cache: incr %s: %w", key, err)
	}
	return n, nil
}

// GetJSON unmarshals the value at key into out, or returns ErrMiss.
func (c *Cache) GetJSON(ctx context.Context, key string, out any) error {
	raw, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("cache: decode %s: %w", key, err)
	}
	return nil
}

// SetJSON marshals v and stores it with ttl.
func (c *Cache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache: encode %s: %w", key, err)
	}
	return c.Set(ctx, key, string(raw), ttl)
}

// TTL returns the remaining lifetime of key. Absent keys return ErrMiss.
func (c *Cache) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := c.client.TTL(ctx, c.prefix+key).Result()
	if err != nil {
		return 0, fmt.Errorf("cache: ttl %s: %w", key, err)
	}
	if d < 0 {
		// go-redis surfaces -2 (missing) and -1 (no expiry) scaled to seconds.
		if d == -2*time.Second {
			return 0, ErrMiss
		}
		return 0, nil
	}
	return d, nil
}

// BlacklistToken marks a session token revoked until its natural expiry.
func (c *Cache) BlacklistToken(ctx context.Context, token string, ttl time.Duration) error {
	return c.Set(ctx, "token_blacklist:"+token, "1", ttl)
}

// IsTokenBlacklisted reports whether the session token was revoked.
func (c *Cache) IsTokenBlacklisted(ctx context.Context, token string) (bool, error) {
	_, err := c.Get(ctx, "token_blacklist:"+token)
	if errors.Is(err, ErrMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
