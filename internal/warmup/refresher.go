package warmup

import (
	"context"
	"fmt"

	"jobmate/ingestion-service/internal/cache"
)

// Warmer repopulates the cache for one country ("" for all countries).
type Warmer interface {
	Warm(ctx context.Context, country string) error
}

// CacheRefresher invalidates a scope, warms it again and stamps its
// staleness timestamp.
type CacheRefresher struct {
	registry *cache.Registry
	warmer   Warmer
}

// NewCacheRefresher builds a CacheRefresher.
func NewCacheRefresher(registry *cache.Registry, warmer Warmer) *CacheRefresher {
	return &CacheRefresher{registry: registry, warmer: warmer}
}

// Refresh rebuilds the cache entries of country's scope.
func (r *CacheRefresher) Refresh(ctx context.Context, country string) error {
	if _, err := r.registry.InvalidateScope(ctx, country); err != nil {
		return fmt.Errorf("invalidate %s: %w", cache.Scope(country), err)
	}
	if err := r.warmer.Warm(ctx, country); err != nil {
		return err
	}
	r.registry.Touch(cache.StalenessKey(country))
	return nil
}
