// Package cache holds the query cache backends and the invalidation
// registry that tracks which keys are live in them.
package cache

import (
	"context"
	"time"
)

// Store is a byte cache with per-entry TTL. OnEvict registers the function
// called when an entry leaves the cache on its own (expiry or capacity);
// explicit Delete calls do not trigger it.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)
	OnEvict(fn func(key string))
}

// Lister is implemented by stores that can enumerate their live keys.
type Lister interface {
	Keys(ctx context.Context) ([]string, error)
}
