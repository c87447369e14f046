package scheduler_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/ingestion-service/internal/model"
	"jobmate/ingestion-service/internal/scheduler"
)

type fakeIngester struct {
	calls   atomic.Int32
	hold    time.Duration
	stopped atomic.Bool
}

func (f *fakeIngester) Run(ctx context.Context) ([]*model.RunSummary, error) {
	f.calls.Add(1)
	select {
	case <-time.After(f.hold):
	case <-ctx.Done():
		f.stopped.Store(true)
		return nil, ctx.Err()
	}
	return []*model.RunSummary{{Saved: 1}}, nil
}

type fakeCleaner struct{}

func (fakeCleaner) Run(context.Context) (int, error) { return 0, nil }

func TestStart_RejectsInvalidSpec(t *testing.T) {
	s := scheduler.New(&fakeIngester{}, fakeCleaner{}, scheduler.Options{IngestSpecs: []string{"not a spec"}})
	assert.Error(t, s.Start(context.Background()))

	s = scheduler.New(&fakeIngester{}, fakeCleaner{}, scheduler.Options{RetentionSpec: "61 * * * *"})
	assert.Error(t, s.Start(context.Background()))
}

func TestStart_RunOnStartup(t *testing.T) {
	ing := &fakeIngester{}
	s := scheduler.New(ing, nil, scheduler.Options{
		IngestSpecs:  []string{"0 22 * * *"},
		RunOnStartup: true,
	})
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool { return ing.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestStop_CancelsRunningIngestion(t *testing.T) {
	ing := &fakeIngester{hold: time.Hour}
	s := scheduler.New(ing, nil, scheduler.Options{RunOnStartup: true})
	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return ing.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.True(t, ing.stopped.Load())
}

func TestTicks_SkippedWhileStartupRunInFlight(t *testing.T) {
	ing := &fakeIngester{hold: 1500 * time.Millisecond}
	s := scheduler.New(ing, nil, scheduler.Options{
		IngestSpecs:  []string{"@every 1s"},
		RunOnStartup: true,
	})
	require.NoError(t, s.Start(context.Background()))

	time.Sleep(1200 * time.Millisecond)
	s.Stop()

	assert.Equal(t, int32(1), ing.calls.Load())
}

type panickingIngester struct {
	calls atomic.Int32
}

func (p *panickingIngester) Run(context.Context) ([]*model.RunSummary, error) {
	p.calls.Add(1)
	panic("boom")
}

func TestStartupRunPanicIsRecovered(t *testing.T) {
	ing := &panickingIngester{}
	s := scheduler.New(ing, nil, scheduler.Options{
		IngestSpecs:  []string{"@every 1s"},
		RunOnStartup: true,
	})
	require.NoError(t, s.Start(context.Background()))

	// The guard is released after the panic, so the next tick runs again.
	require.Eventually(t, func() bool { return ing.calls.Load() >= 2 }, 3*time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}
