// Package runner sequences fetches across countries and sources and decides
// which cache scopes need to be rebuilt afterwards.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"jobmate/ingestion-service/internal/cache"
	"jobmate/ingestion-service/internal/model"
)

// ErrAlreadyRunning is returned when a run for the same runner is in flight.
var ErrAlreadyRunning = errors.New("run already in progress")

// Source fetches one country from one upstream.
type Source interface {
	DataSource() model.DataSource
	Fetch(ctx context.Context, country string) (*model.FetchResult, error)
}

// Invalidator is the part of the cache registry a runner needs.
type Invalidator interface {
	InvalidateScope(ctx context.Context, country string) (int, error)
	ShouldRefresh(scopeKey string, maxAge time.Duration) bool
}

// Enqueuer hands a country to the warmup worker. "" means the global scope.
type Enqueuer interface {
	Enqueue(ctx context.Context, country string) error
}

// Notifier is told about every finished run.
type Notifier interface {
	RunFinished(ctx context.Context, sum *model.RunSummary)
}

// Options tunes a Runner.
type Options struct {
	CountryPause time.Duration // pause between two countries
	MaxAge       time.Duration // global scope age that forces a warmup
	Notify       Notifier      // optional
}

// Runner visits a fixed list of countries for one source.
type Runner struct {
	source    Source
	countries []string
	registry  Invalidator
	warmup    Enqueuer
	opts      Options

	mu      sync.Mutex
	running bool
}

// New builds a Runner. Countries are uppercased.
func New(src Source, countries []string, registry Invalidator, warmup Enqueuer, opts Options) *Runner {
	cc := make([]string, 0, len(countries))
	for _, c := range countries {
		if c = strings.ToUpper(strings.TrimSpace(c)); c != "" {
			cc = append(cc, c)
		}
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 8 * time.Hour
	}
	return &Runner{source: src, countries: cc, registry: registry, warmup: warmup, opts: opts}
}

// DataSource is the source this runner drives.
func (r *Runner) DataSource() model.DataSource { return r.source.DataSource() }

// Countries returns the countries visited, in order.
func (r *Runner) Countries() []string { return append([]string(nil), r.countries...) }

// Run fetches every country once with a fresh run id. See RunWithID.
func (r *Runner) Run(ctx context.Context) (*model.RunSummary, error) {
	return r.RunWithID(ctx, uuid.NewString())
}

// RunWithID fetches every country in order. A failing country is logged
// and recorded in the summary; it never aborts the run. Only cancellation
// of ctx ends the run early, in which case the partial summary is
// returned together with ctx.Err().
func (r *Runner) RunWithID(ctx context.Context, runID string) (*model.RunSummary, error) {
	if !r.begin() {
		return nil, ErrAlreadyRunning
	}
	defer r.end()

	ds := r.source.DataSource()
	log := slog.With("run_id", runID, "source", string(ds))
	sum := &model.RunSummary{RunID: runID, Source: ds, StartedAt: time.Now().UTC()}
	log.Info("run started", "countries", len(r.countries))

	for i, country := range r.countries {
		if i > 0 && !sleep(ctx, r.opts.CountryPause) {
			break
		}

		outcome := model.CountryOutcome{Country: country}
		res, err := r.source.Fetch(ctx, country)
		outcome.Result = res
		if err != nil {
			outcome.Error = err.Error()
			log.Error("country fetch failed", "country", country, "err", err)
		}
		if res != nil && res.Saved > 0 {
			sum.Saved += res.Saved
			sum.Updated = append(sum.Updated, country)
		}
		sum.Countries = append(sum.Countries, outcome)

		if ctx.Err() != nil {
			break
		}
	}

	r.refreshCaches(ctx, log, sum.Updated)

	sum.FinishedAt = time.Now().UTC()
	log.Info("run complete", "saved", sum.Saved, "updated", strings.Join(sum.Updated, ","),
		"took", sum.FinishedAt.Sub(sum.StartedAt).Round(time.Millisecond))
	if r.opts.Notify != nil {
		r.opts.Notify.RunFinished(context.WithoutCancel(ctx), sum)
	}
	return sum, ctx.Err()
}

// refreshCaches invalidates and queues a rebuild for every updated country
// and, once, for the global scope. Without updates the global scope is
// only queued when it has gone stale.
func (r *Runner) refreshCaches(ctx context.Context, log *slog.Logger, updated []string) {
	if r.registry == nil || r.warmup == nil {
		return
	}
	// Rows saved before a cancellation still invalidate their scopes.
	ctx = context.WithoutCancel(ctx)

	if len(updated) == 0 {
		if r.registry.ShouldRefresh(cache.StalenessKey(""), r.opts.MaxAge) {
			log.Info("no new postings, global cache is stale; queueing warmup")
			r.enqueue(ctx, log, "")
		}
		return
	}

	scopes := make([]string, 0, len(updated)+1)
	scopes = append(scopes, updated...)
	for _, country := range append(scopes, "") {
		n, err := r.registry.InvalidateScope(ctx, country)
		if err != nil {
			log.Warn("cache invalidation failed", "scope", cache.Scope(country), "err", err)
		} else {
			log.Debug("cache scope invalidated", "scope", cache.Scope(country), "keys", n)
		}
		r.enqueue(ctx, log, country)
	}
}

func (r *Runner) enqueue(ctx context.Context, log *slog.Logger, country string) {
	if err := r.warmup.Enqueue(ctx, country); err != nil {
		log.Warn("warmup not queued", "scope", cache.Scope(country), "err", err)
	}
}

// Busy reports whether a run is in flight.
func (r *Runner) Busy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *Runner) begin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}
	r.running = true
	return true
}

func (r *Runner) end() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()
}

// Combined runs several runners one after another, never in parallel.
type Combined struct {
	runners []*Runner
	pause   time.Duration

	mu      sync.Mutex
	running bool
}

// NewCombined builds a Combined with sourcePause between two runners.
func NewCombined(sourcePause time.Duration, runners ...*Runner) *Combined {
	return &Combined{runners: runners, pause: sourcePause}
}

// Run executes every runner in order under a shared run id. A runner that
// is already busy is skipped.
func (c *Combined) Run(ctx context.Context) ([]*model.RunSummary, error) {
	return c.RunWithID(ctx, uuid.NewString())
}

// RunWithID is Run with a caller-chosen run id. It returns
// ErrAlreadyRunning while another combined run is in flight.
func (c *Combined) RunWithID(ctx context.Context, runID string) ([]*model.RunSummary, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	var out []*model.RunSummary
	for i, r := range c.runners {
		if i > 0 && !sleep(ctx, c.pause) {
			return out, ctx.Err()
		}
		sum, err := r.RunWithID(ctx, runID)
		if errors.Is(err, ErrAlreadyRunning) {
			slog.Warn("runner busy, skipped", "run_id", runID, "source", string(r.DataSource()))
			continue
		}
		if sum != nil {
			out = append(out, sum)
		}
		if err != nil {
			return out, fmt.Errorf("%s: %w", r.DataSource(), err)
		}
	}
	return out, nil
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

// Busy reports whether a combined run is in flight or every runner is.
func (c *Combined) Busy() bool {
	c.mu.Lock()
	running := c.running
	c.mu.Unlock()
	if running {
		return true
	}
	for _, r := range c.runners {
		if !r.Busy() {
			return false
		}
	}
	return len(c.runners) > 0
}
