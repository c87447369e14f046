package warmup_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/ingestion-service/internal/cache"
	"jobmate/ingestion-service/internal/warmup"
)

func fastOptions() warmup.Options {
	return warmup.Options{
		QueueSize: 100,
		Timeout:   time.Second,
		Retries:   2,
		Backoff:   time.Millisecond,
		Pacing:    time.Millisecond,
		Drain:     time.Second,
	}
}

// fakeRefresher records calls and fails the first failN attempts per country.
type fakeRefresher struct {
	mu      sync.Mutex
	calls   []string
	failN   map[string]int
	block   chan struct{}
	started chan string
}

func (f *fakeRefresher) Refresh(ctx context.Context, country string) error {
	f.mu.Lock()
	f.calls = append(f.calls, country)
	fail := f.failN[country] > 0
	if fail {
		f.failN[country]--
	}
	f.mu.Unlock()

	if f.started != nil {
		f.started <- country
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail {
		return errors.New("query timeout")
	}
	return nil
}

func (f *fakeRefresher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// ── Processing ─────────────────────────────────────────────────────────────

func TestWorker_ProcessesInFIFOOrder(t *testing.T) {
	f := &fakeRefresher{}
	w := warmup.NewWorker(f, fastOptions())
	w.Start(context.Background())
	defer w.Stop()

	ctx := context.Background()
	for _, c := range []string{"DE", "GB", ""} {
		require.NoError(t, w.Enqueue(ctx, c))
	}

	require.Eventually(t, func() bool { return w.Stats().Completed == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"DE", "GB", ""}, f.Calls())
}

func TestWorker_RetriesThenSucceeds(t *testing.T) {
	f := &fakeRefresher{failN: map[string]int{"NL": 2}}
	w := warmup.NewWorker(f, fastOptions())
	w.Start(context.Background())
	defer w.Stop()

	require.NoError(t, w.Enqueue(context.Background(), "NL"))

	require.Eventually(t, func() bool { return w.Stats().Completed == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"NL", "NL", "NL"}, f.Calls())
	assert.Zero(t, w.Stats().Abandoned)
}

func TestWorker_PersistentFailureDoesNotHaltLoop(t *testing.T) {
	f := &fakeRefresher{failN: map[string]int{"AT": 10}}
	w := warmup.NewWorker(f, fastOptions())
	w.Start(context.Background())
	defer w.Stop()

	ctx := context.Background()
	require.NoError(t, w.Enqueue(ctx, "AT"))
	require.NoError(t, w.Enqueue(ctx, "CH"))

	require.Eventually(t, func() bool { return w.Stats().Completed == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), w.Stats().Abandoned)
	assert.Equal(t, []string{"AT", "AT", "AT", "CH"}, f.Calls())
}

// ── Backpressure ───────────────────────────────────────────────────────────

func TestEnqueue_BlocksWhenQueueFull(t *testing.T) {
	f := &fakeRefresher{block: make(chan struct{}), started: make(chan string, 10)}
	opts := fastOptions()
	opts.QueueSize = 1
	w := warmup.NewWorker(f, opts)
	w.Start(context.Background())
	defer w.Stop()

	ctx := context.Background()
	require.NoError(t, w.Enqueue(ctx, "DE")) // picked up, then blocks in Refresh
	<-f.started
	require.NoError(t, w.Enqueue(ctx, "GB")) // fills the queue

	blocked, cancel := context.WithTimeout(ctx, 80*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := w.Enqueue(blocked, "US")

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)

	unblocked := make(chan error, 1)
	go func() { unblocked <- w.Enqueue(ctx, "US") }()
	select {
	case <-unblocked:
		t.Fatal("Enqueue returned while the queue was still full")
	case <-time.After(30 * time.Millisecond):
	}

	close(f.block)
	require.NoError(t, <-unblocked)
	require.Eventually(t, func() bool { return w.Stats().Completed == 3 }, 2*time.Second, 5*time.Millisecond)
}

// ── Shutdown ───────────────────────────────────────────────────────────────

func TestStop_CancelsInFlightAndRejectsEnqueue(t *testing.T) {
	f := &fakeRefresher{block: make(chan struct{}), started: make(chan string, 1)}
	w := warmup.NewWorker(f, fastOptions())
	w.Start(context.Background())

	require.NoError(t, w.Enqueue(context.Background(), "BE"))
	<-f.started

	assert.True(t, w.Stop(), "loop should exit within the drain period")
	assert.ErrorIs(t, w.Enqueue(context.Background(), "BE"), warmup.ErrWorkerStopped)
	assert.Zero(t, w.Stats().Completed)
	assert.True(t, w.Stop(), "second Stop is a no-op")
}

func TestStop_UnblocksWaitingProducer(t *testing.T) {
	f := &fakeRefresher{block: make(chan struct{}), started: make(chan string, 1)}
	opts := fastOptions()
	opts.QueueSize = 1
	w := warmup.NewWorker(f, opts)
	w.Start(context.Background())

	ctx := context.Background()
	require.NoError(t, w.Enqueue(ctx, "DE"))
	<-f.started
	require.NoError(t, w.Enqueue(ctx, "GB"))

	errCh := make(chan error, 1)
	go func() { errCh <- w.Enqueue(ctx, "US") }()
	time.Sleep(20 * time.Millisecond)

	w.Stop()
	assert.ErrorIs(t, <-errCh, warmup.ErrWorkerStopped)
}

func TestStop_BeforeStart(t *testing.T) {
	w := warmup.NewWorker(&fakeRefresher{}, fastOptions())
	assert.True(t, w.Stop())
	assert.ErrorIs(t, w.Enqueue(context.Background(), "DE"), warmup.ErrWorkerStopped)
}

// ── CacheRefresher ─────────────────────────────────────────────────────────

type warmFunc func(ctx context.Context, country string) error

func (f warmFunc) Warm(ctx context.Context, country string) error { return f(ctx, country) }

func TestCacheRefresher_InvalidatesWarmsAndTouches(t *testing.T) {
	ctx := context.Background()
	mem := cache.NewMemory(0)
	defer mem.Close()
	reg := cache.NewRegistry(mem)

	stale := "filter_options:DE:1:2024010100:2024010800"
	require.NoError(t, mem.Set(ctx, stale, []byte("{}"), time.Hour))
	reg.Track(stale)

	var trackedDuringWarm int
	r := warmup.NewCacheRefresher(reg, warmFunc(func(ctx context.Context, country string) error {
		trackedDuringWarm = reg.Len()
		return nil
	}))

	require.NoError(t, r.Refresh(ctx, "de"))
	assert.Zero(t, trackedDuringWarm, "scope is invalidated before warming")
	_, ok := reg.LastRefresh(cache.StalenessKey("DE"))
	assert.True(t, ok)
}

func TestCacheRefresher_WarmFailureSkipsTouch(t *testing.T) {
	mem := cache.NewMemory(0)
	defer mem.Close()
	reg := cache.NewRegistry(mem)

	r := warmup.NewCacheRefresher(reg, warmFunc(func(context.Context, string) error {
		return errors.New("db down")
	}))

	require.Error(t, r.Refresh(context.Background(), ""))
	_, ok := reg.LastRefresh(cache.StalenessKey(""))
	assert.False(t, ok)
}
