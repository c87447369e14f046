// Package retention removes postings that have aged out of the listing
// window and rebuilds the caches that may still reference them.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"jobmate/ingestion-service/internal/store"
)

// Invalidator drops every tracked cache key.
type Invalidator interface {
	InvalidateAll(ctx context.Context) (int, error)
}

// Enqueuer queues a warmup; "" is the global scope.
type Enqueuer interface {
	Enqueue(ctx context.Context, country string) error
}

// Options tunes the cleaner.
type Options struct {
	MaxAge time.Duration // postings created earlier than now-MaxAge are removed
	Batch  int           // rows per DELETE
	Pause  time.Duration // pause between two batches
}

// DefaultOptions keeps thirty days of postings.
func DefaultOptions() Options {
	return Options{MaxAge: 30 * 24 * time.Hour, Batch: 1000, Pause: 100 * time.Millisecond}
}

// Cleaner deletes old postings in bounded batches.
type Cleaner struct {
	pruner   store.Pruner
	registry Invalidator
	warmup   Enqueuer
	opts     Options
	now      func() time.Time
}

// NewCleaner builds a Cleaner. registry and warmup may be nil.
func NewCleaner(p store.Pruner, registry Invalidator, warmup Enqueuer, opts Options) *Cleaner {
	def := DefaultOptions()
	if opts.MaxAge <= 0 {
		opts.MaxAge = def.MaxAge
	}
	if opts.Batch <= 0 {
		opts.Batch = def.Batch
	}
	return &Cleaner{pruner: p, registry: registry, warmup: warmup, opts: opts, now: time.Now}
}

// SetClock replaces the clock used to compute the cutoff.
func (c *Cleaner) SetClock(now func() time.Time) { c.now = now }

// Run deletes batches until one comes back short, then, if anything was
// removed, clears the cache and queues a global warmup. It returns the
// number of postings deleted.
func (c *Cleaner) Run(ctx context.Context) (int, error) {
	cutoff := c.now().UTC().Add(-c.opts.MaxAge)
	slog.Info("retention cleanup started", "cutoff", cutoff.Format(time.RFC3339))

	total := 0
	for batch := 1; ; batch++ {
		n, err := c.pruner.DeleteCreatedBefore(ctx, cutoff, c.opts.Batch)
		total += n
		if err != nil {
			return total, fmt.Errorf("retention batch %d: %w", batch, err)
		}
		slog.Debug("retention batch deleted", "batch", batch, "rows", n)
		if n < c.opts.Batch {
			break
		}
		if !sleep(ctx, c.opts.Pause) {
			return total, ctx.Err()
		}
	}

	slog.Info("retention cleanup complete", "deleted", total)
	if total == 0 {
		return 0, nil
	}

	if c.registry != nil {
		if n, err := c.registry.InvalidateAll(ctx); err != nil {
			slog.Warn("cache invalidation after retention failed", "err", err)
		} else {
			slog.Debug("cache cleared after retention", "keys", n)
		}
	}
	if c.warmup != nil {
		if err := c.warmup.Enqueue(ctx, ""); err != nil {
			slog.Warn("global warmup not queued", "err", err)
		}
	}
	return total, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
