// Package warmup runs the background loop that repopulates cache scopes
// after ingestion invalidated them.
package warmup

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"jobmate/ingestion-service/internal/cache"
)

// ErrWorkerStopped is returned by Enqueue once Stop has been called.
var ErrWorkerStopped = errors.New("warmup worker stopped")

// Refresher does the actual work for one country.
type Refresher interface {
	Refresh(ctx context.Context, country string) error
}

// Options tunes the worker. See DefaultOptions.
type Options struct {
	QueueSize int
	Timeout   time.Duration // per attempt
	Retries   int           // additional attempts after the first
	Backoff   time.Duration // doubled after every failed retry
	Pacing    time.Duration // pause between two warmups
	Drain     time.Duration // grace period granted by Stop
}

// DefaultOptions mirrors the production settings.
func DefaultOptions() Options {
	return Options{
		QueueSize: 100,
		Timeout:   10 * time.Minute,
		Retries:   2,
		Backoff:   2 * time.Minute,
		Pacing:    2 * time.Second,
		Drain:     5 * time.Second,
	}
}

// Stats are cumulative counters since Start.
type Stats struct {
	Completed int64 `json:"completed"`
	Abandoned int64 `json:"abandoned"`
	Pending   int   `json:"pending"`
}

// Worker is a single consumer draining a bounded queue of countries.
// Producers block while the queue is full.
type Worker struct {
	refresher Refresher
	opts      Options

	queue    chan string
	stopping chan struct{}
	done     chan struct{}

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc

	startOnce sync.Once
	stopOnce  sync.Once

	completed atomic.Int64
	abandoned atomic.Int64
}

// NewWorker builds a stopped worker; call Start.
func NewWorker(refresher Refresher, opts Options) *Worker {
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	return &Worker{
		refresher: refresher,
		opts:      opts,
		queue:     make(chan string, opts.QueueSize),
		stopping:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the consumer loop. Cancelling ctx has the same effect on
// in-flight work as Stop.
func (w *Worker) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		select {
		case <-w.stopping:
			return
		default:
		}
		w.ctx, w.cancel = context.WithCancel(ctx)
		go w.loop()
		slog.Info("warmup worker started", "queue", w.opts.QueueSize)
	})
}

// Enqueue schedules a warmup of country ("" for the global scope). It
// blocks while the queue is full and gives up when ctx ends or the worker
// stops.
func (w *Worker) Enqueue(ctx context.Context, country string) error {
	select {
	case <-w.stopping:
		return ErrWorkerStopped
	default:
	}

	select {
	case w.queue <- country:
		slog.Debug("warmup enqueued", "scope", cache.Scope(country), "pending", len(w.queue))
		return nil
	case <-w.stopping:
		return ErrWorkerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop refuses new work, cancels the in-flight warmup and waits up to the
// drain period for the loop to exit. It reports whether the loop exited in
// time. Queued requests that were not started are dropped.
func (w *Worker) Stop() bool {
	exited := true
	w.stopOnce.Do(func() {
		w.mu.Lock()
		close(w.stopping)
		cancel := w.cancel
		w.mu.Unlock()

		if cancel == nil {
			close(w.done)
			return
		}
		cancel()

		select {
		case <-w.done:
		case <-time.After(w.opts.Drain):
			exited = false
		}
		slog.Info("warmup worker stopped", "dropped", len(w.queue), "clean", exited)
	})
	return exited
}

// Stats returns the worker's counters.
func (w *Worker) Stats() Stats {
	return Stats{
		Completed: w.completed.Load(),
		Abandoned: w.abandoned.Load(),
		Pending:   len(w.queue),
	}
}

func (w *Worker) loop() {
	defer close(w.done)

	for {
		select {
		case <-w.ctx.Done():
			return
		case country := <-w.queue:
			w.process(country)
			if !sleep(w.ctx, w.opts.Pacing) {
				return
			}
		}
	}
}

// process runs one warmup with retries. A failing country never stops the
// loop.
func (w *Worker) process(country string) {
	scope := cache.Scope(country)
	backoff := w.opts.Backoff
	attempts := 1 + max(w.opts.Retries, 0)

	for attempt := 1; attempt <= attempts; attempt++ {
		start := time.Now()
		err := w.attempt(country)
		if err == nil {
			w.completed.Add(1)
			slog.Info("cache warmup complete", "scope", scope, "attempt", attempt, "took", time.Since(start))
			return
		}
		if w.ctx.Err() != nil {
			slog.Warn("cache warmup cancelled", "scope", scope)
			return
		}

		slog.Warn("cache warmup failed", "scope", scope, "attempt", attempt, "err", err)
		if attempt < attempts {
			if !sleep(w.ctx, backoff) {
				return
			}
			backoff *= 2
		}
	}

	w.abandoned.Add(1)
	slog.Error("cache warmup abandoned", "scope", scope, "attempts", attempts)
}

func (w *Worker) attempt(country string) error {
	ctx := w.ctx
	if w.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(w.ctx, w.opts.Timeout)
		defer cancel()
	}
	return w.refresher.Refresh(ctx, country)
}

// sleep waits d or until ctx ends; it reports false in the latter case.
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
