// Package query executes the listing aggregates through the cache. It is
// the collaborator the warmup worker replays to repopulate invalidated
// scopes.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"jobmate/ingestion-service/internal/cache"
	"jobmate/ingestion-service/internal/model"
	"jobmate/ingestion-service/internal/store"
)

// Warm replays page 1 with a single item: enough to cache the total count.
const (
	warmPage     = 1
	warmPageSize = 1
)

// Executor serves cached reads and repopulates the cache on miss.
type Executor struct {
	reader      store.Reader
	cache       cache.Store
	registry    *cache.Registry
	ttl         time.Duration
	concurrency int
	now         func() time.Time
}

// NewExecutor builds an Executor. Every key it writes is tracked in registry.
func NewExecutor(reader store.Reader, c cache.Store, registry *cache.Registry, ttl time.Duration, concurrency int) *Executor {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Executor{
		reader:      reader,
		cache:       c,
		registry:    registry,
		ttl:         ttl,
		concurrency: concurrency,
		now:         time.Now,
	}
}

// SetClock replaces the clock used to build timeframes.
func (e *Executor) SetClock(now func() time.Time) { e.now = now }

// FilterOptions returns the facet aggregates for country ("" for all).
func (e *Executor) FilterOptions(ctx context.Context, country string, tf model.Timeframe) (*model.FilterOptions, error) {
	key := cache.FilterOptionsKey(country, tf)
	return cached(ctx, e, key, func(ctx context.Context) (*model.FilterOptions, error) {
		return e.reader.FilterOptions(ctx, cacheCountry(country), tf.From, tf.To)
	})
}

// Listings returns one listings page for country ("" for all).
func (e *Executor) Listings(ctx context.Context, country string, tf model.Timeframe, page, size int) (*model.ListingsPage, error) {
	key := cache.ListingsKey(country, tf, page, size)
	return cached(ctx, e, key, func(ctx context.Context) (*model.ListingsPage, error) {
		return e.reader.Listings(ctx, cacheCountry(country), tf.From, tf.To, page, size)
	})
}

// Warm populates filter options and the first listings page for every
// timeframe of country, at most e.concurrency timeframes at a time.
func (e *Executor) Warm(ctx context.Context, country string) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for _, tf := range Timeframes(e.now()) {
		tf := tf
		g.Go(func() error {
			if _, err := e.FilterOptions(ctx, country, tf); err != nil {
				return fmt.Errorf("warm filter options %s/%dw: %w", cache.Scope(country), tf.Weeks, err)
			}
			if _, err := e.Listings(ctx, country, tf, warmPage, warmPageSize); err != nil {
				return fmt.Errorf("warm listings %s/%dw: %w", cache.Scope(country), tf.Weeks, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func cached[T any](ctx context.Context, e *Executor, key string, load func(context.Context) (*T, error)) (*T, error) {
	raw, ok, err := e.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("cache get failed, reading through", "key", key, "err", err)
	}
	if ok {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			e.registry.Track(key)
			return &v, nil
		}
		slog.Warn("discarding undecodable cache entry", "key", key)
	}

	v, err := load(ctx)
	if err != nil {
		return nil, err
	}

	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", key, err)
	}
	if err := e.cache.Set(ctx, key, b, e.ttl); err != nil {
		slog.Warn("cache set failed", "key", key, "err", err)
		return v, nil
	}
	e.registry.Track(key)
	return v, nil
}

// cacheCountry turns a scope-style country ("" or a code) into the store's
// filter value.
func cacheCountry(country string) string {
	scope := cache.Scope(country)
	if scope == cache.GlobalScope {
		return ""
	}
	return scope
}
