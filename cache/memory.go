package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// Memory is an in-process Cache backed by ttlcache. Values are JSON-encoded
// so callers get a copy, matching the Redis behavior.
type Memory struct {
	items   *ttlcache.Cache[string, []byte]
	metrics Recorder
}

// NewMemory creates an empty in-process cache and starts its expiry loop.
// Close stops the loop.
func NewMemory(metrics Recorder) *Memory {
	if metrics == nil {
		metrics = nopRecorder{}
	}
	items := ttlcache.New[string, []byte](
		ttlcache.WithDisableTouchOnHit[string, []byte](),
	)
	go items.Start()
	return &Memory{items: items, metrics: metrics}
}

func (m *Memory) Get(_ context.Context, key string, dest any) (bool, error) {
	it := m.items.Get(key)
	if it == nil {
		m.metrics.CacheRequest("memory", resultMiss)
		return false, nil
	}
	if err := json.Unmarshal(it.Value(), dest); err != nil {
		m.metrics.CacheRequest("memory", resultError)
		return false, fmt.Errorf("decode cached %s: %w", key, err)
	}
	m.metrics.CacheRequest("memory", resultHit)
	return true, nil
}

func (m *Memory) Set(_ context.Context, key string, value any, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s for cache: %w", key, err)
	}
	m.items.Set(key, payload, ttl)
	return nil
}

func (m *Memory) Invalidate(_ context.Context, keys ...string) error {
	for _, k := range keys {
		m.items.Delete(k)
	}
	return nil
}

// Close stops the expiry loop.
func (m *Memory) Close() { m.items.Stop() }
