package cache

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

var _ Store = (*Memory)(nil)

// Memory is an in-process Store backed by ttlcache.
type Memory struct {
	c *ttlcache.Cache[string, []byte]

	mu      sync.RWMutex
	onEvict func(string)
}

// NewMemory starts the expiry loop; call Close to stop it. capacity 0 means
// unbounded.
func NewMemory(capacity uint64) *Memory {
	opts := []ttlcache.Option[string, []byte]{ttlcache.WithDisableTouchOnHit[string, []byte]()}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[string, []byte](capacity))
	}

	m := &Memory{c: ttlcache.New(opts...)}
	m.c.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, []byte]) {
		if reason == ttlcache.EvictionReasonDeleted {
			return
		}
		m.mu.RLock()
		fn := m.onEvict
		m.mu.RUnlock()
		if fn != nil {
			fn(item.Key())
		}
	})
	go m.c.Start()
	return m
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	item := m.c.Get(key)
	if item == nil || item.IsExpired() {
		return nil, false, nil
	}
	return item.Value(), true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.c.Set(key, value, ttl)
	return nil
}

func (m *Memory) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		m.c.Delete(k)
	}
	return nil
}

func (m *Memory) Exists(_ context.Context, key string) (bool, error) {
	return m.c.Has(key), nil
}

func (m *Memory) OnEvict(fn func(key string)) {
	m.mu.Lock()
	m.onEvict = fn
	m.mu.Unlock()
}

func (m *Memory) Keys(_ context.Context) ([]string, error) {
	return m.c.Keys(), nil
}

// Close stops the expiry loop.
func (m *Memory) Close() {
	m.c.Stop()
}
