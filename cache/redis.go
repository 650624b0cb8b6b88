package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Redis is a Cache backed by a go-redis client. A nil *Redis or nil client
// behaves as an always-empty cache.
type Redis struct {
	client  *redis.Client
	prefix  string
	name    string
	metrics Recorder
}

// NewRedis creates a Redis cache. Keys are stored as prefix+key.
func NewRedis(client *redis.Client, prefix string, metrics Recorder) *Redis {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &Redis{client: client, prefix: prefix, name: "redis", metrics: metrics}
}

func (c *Redis) Get(ctx context.Context, key string, dest any) (bool, error) {
	if c == nil || c.client == nil {
		return false, nil
	}

	data, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.metrics.CacheRequest(c.name, resultMiss)
			return false, nil
		}
		c.metrics.CacheRequest(c.name, resultError)
		return false, fmt.Errorf("get cached %s: %w", key, err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		c.metrics.CacheRequest(c.name, resultError)
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	c.metrics.CacheRequest(c.name, resultHit)
	return true, nil
}

func (c *Redis) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if c == nil || c.client == nil {
		return nil
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s for cache: %w", key, err)
	}
	if err := c.client.Set(ctx, c.prefix+key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("set cached %s: %w", key, err)
	}
	return nil
}

func (c *Redis) Invalidate(ctx context.Context, keys ...string) error {
	if c == nil || c.client == nil || len(keys) == 0 {
		return nil
	}

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.prefix + k
	}
	if err := c.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("delete cached keys: %w", err)
	}
	return nil
}
