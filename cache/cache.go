// Package cache holds short-lived copies of read-mostly data.
//
// Nothing financial is cached here. Balances and records are always read
// from the ledger store.
package cache

import (
	"context"
	"time"
)

// Cache stores JSON-encodable values under string keys for a bounded time.
type Cache interface {
	// Get decodes the value under key into dest. It reports false on a miss.
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

// Recorder counts hits and misses. The metrics package implements it.
type Recorder interface {
	CacheRequest(cache, result string)
}

type nopRecorder struct{}

func (nopRecorder) CacheRequest(string, string) {}

const (
	resultHit   = "hit"
	resultMiss  = "miss"
	resultError = "error"
)
