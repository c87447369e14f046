package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Registry tracks the keys currently populated in a Store so that a scope
// can be evicted without scanning the backend, and records when each scope
// was last refreshed.
type Registry struct {
	store Store

	mu        sync.Mutex
	keys      map[string]struct{}
	refreshed map[string]time.Time

	now func() time.Time
}

// NewRegistry wires itself to store's eviction hook so entries that expire
// on their own are untracked.
func NewRegistry(store Store) *Registry {
	r := &Registry{
		store:     store,
		keys:      make(map[string]struct{}),
		refreshed: make(map[string]time.Time),
		now:       time.Now,
	}
	store.OnEvict(r.evicted)
	return r
}

// SetClock replaces the clock used by ShouldRefresh and Touch.
func (r *Registry) SetClock(now func() time.Time) {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
}

// Track records key as populated.
func (r *Registry) Track(key string) {
	r.mu.Lock()
	r.keys[key] = struct{}{}
	r.mu.Unlock()
}

// Untrack forgets key.
func (r *Registry) Untrack(key string) {
	r.mu.Lock()
	delete(r.keys, key)
	r.mu.Unlock()
}

// Sync tracks every query key already live in the store, so entries
// written before a restart can still be invalidated. Stores that cannot
// list their keys are left alone.
func (r *Registry) Sync(ctx context.Context) (int, error) {
	lister, ok := r.store.(Lister)
	if !ok {
		return 0, nil
	}
	keys, err := lister.Keys(ctx)
	if err != nil {
		return 0, fmt.Errorf("list cache keys: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, k := range keys {
		if !IsQueryKey(k) {
			continue
		}
		r.keys[k] = struct{}{}
		n++
	}
	return n, nil
}

// evicted runs asynchronously after the backend dropped key. The key may
// have been written again since, in which case it stays tracked.
func (r *Registry) evicted(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r.mu.Lock()
	defer r.mu.Unlock()
	if live, err := r.store.Exists(ctx, key); err == nil && live {
		return
	}
	delete(r.keys, key)
}

// Tracked returns the tracked keys in sorted order.
func (r *Registry) Tracked() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.keys))
	for k := range r.keys {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Len is the number of tracked keys.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keys)
}

// InvalidateScope evicts every tracked key in country's scope ("" selects
// the global "ALL" scope) from the store and the registry. Concurrent
// Track calls wait until the eviction is done.
func (r *Registry) InvalidateScope(ctx context.Context, country string) (int, error) {
	scope := Scope(country)
	return r.invalidate(ctx, func(key string) bool {
		s, ok := ScopeOf(key)
		return ok && s == scope
	})
}

// InvalidateAll evicts every tracked key.
func (r *Registry) InvalidateAll(ctx context.Context) (int, error) {
	return r.invalidate(ctx, func(string) bool { return true })
}

func (r *Registry) invalidate(ctx context.Context, match func(string) bool) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var victims []string
	for k := range r.keys {
		if match(k) {
			victims = append(victims, k)
		}
	}
	if len(victims) == 0 {
		return 0, nil
	}

	if err := r.store.Delete(ctx, victims...); err != nil {
		return 0, fmt.Errorf("invalidate %d key(s): %w", len(victims), err)
	}
	for _, k := range victims {
		delete(r.keys, k)
	}

	slog.Debug("cache keys invalidated", "count", len(victims))
	return len(victims), nil
}

// ShouldRefresh reports whether scopeKey was never touched or was touched
// more than maxAge ago.
func (r *Registry) ShouldRefresh(scopeKey string, maxAge time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	last, ok := r.refreshed[scopeKey]
	return !ok || r.now().Sub(last) > maxAge
}

// Touch stamps scopeKey as refreshed now.
func (r *Registry) Touch(scopeKey string) {
	r.mu.Lock()
	r.refreshed[scopeKey] = r.now()
	r.mu.Unlock()
}

// LastRefresh returns when scopeKey was last touched.
func (r *Registry) LastRefresh(scopeKey string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.refreshed[scopeKey]
	return t, ok
}
