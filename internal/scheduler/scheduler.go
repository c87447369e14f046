// Package scheduler wires up the cron jobs that periodically trigger the
// combined ingestion run and the retention cleanup.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"jobmate/ingestion-service/internal/model"
	"jobmate/ingestion-service/internal/runner"
)

// Ingester runs every source once.
type Ingester interface {
	Run(ctx context.Context) ([]*model.RunSummary, error)
}

// Cleaner deletes expired postings.
type Cleaner interface {
	Run(ctx context.Context) (int, error)
}

// Options holds the cron specs.
type Options struct {
	IngestSpecs   []string // e.g. "0 22 * * *"
	RetentionSpec string   // empty disables retention
	RunOnStartup  bool     // fire one ingestion right after Start
}

// Scheduler wraps robfig/cron. Overlapping runs of the same job are
// skipped, not queued.
type Scheduler struct {
	cron      *cron.Cron
	logger    cron.Logger
	ingester  Ingester
	cleaner   Cleaner
	opts      Options
	wg        sync.WaitGroup
	cancelRun context.CancelFunc
}

// New creates a Scheduler. cleaner may be nil.
func New(ingester Ingester, cleaner Cleaner, opts Options) *Scheduler {
	logger := cron.PrintfLogger(slog.NewLogLogger(slog.Default().Handler(), slog.LevelDebug))
	return &Scheduler{
		cron:     cron.New(cron.WithLogger(logger)),
		logger:   logger,
		ingester: ingester,
		cleaner:  cleaner,
		opts:     opts,
	}
}

// Start registers the jobs and starts the scheduler. Jobs run with a
// context derived from ctx that Stop cancels.
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	// Every ingest spec and the startup run share one skip-if-running guard.
	ingest := cron.NewChain(cron.Recover(s.logger), cron.SkipIfStillRunning(s.logger)).
		Then(cron.FuncJob(func() { s.runIngest(ctx) }))
	for _, spec := range s.opts.IngestSpecs {
		if _, err := s.cron.AddJob(spec, ingest); err != nil {
			cancel()
			return fmt.Errorf("cron.AddJob %q: %w", spec, err)
		}
	}

	if s.cleaner != nil && s.opts.RetentionSpec != "" {
		retain := cron.NewChain(cron.Recover(s.logger), cron.SkipIfStillRunning(s.logger)).
			Then(cron.FuncJob(func() { s.runRetention(ctx) }))
		if _, err := s.cron.AddJob(s.opts.RetentionSpec, retain); err != nil {
			cancel()
			return fmt.Errorf("cron.AddJob %q: %w", s.opts.RetentionSpec, err)
		}
	}

	s.cancelRun = cancel
	s.cron.Start()
	slog.Info("scheduler started", "ingest", s.opts.IngestSpecs, "retention", s.opts.RetentionSpec)

	if s.opts.RunOnStartup {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			ingest.Run()
		}()
	}
	return nil
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	if s.cancelRun != nil {
		s.cancelRun()
	}
	<-s.cron.Stop().Done()
	s.wg.Wait()
	slog.Info("scheduler stopped")
}

func (s *Scheduler) runIngest(ctx context.Context) {
	slog.Info("scheduled ingestion started")
	sums, err := s.ingester.Run(ctx)
	saved := 0
	for _, sum := range sums {
		saved += sum.Saved
	}
	if errors.Is(err, runner.ErrAlreadyRunning) {
		slog.Info("scheduled ingestion skipped, a run is already in progress")
		return
	}
	if err != nil {
		slog.Error("scheduled ingestion failed", "saved", saved, "err", err)
		return
	}
	slog.Info("scheduled ingestion complete", "runs", len(sums), "saved", saved)
}

func (s *Scheduler) runRetention(ctx context.Context) {
	n, err := s.cleaner.Run(ctx)
	if err != nil {
		slog.Error("scheduled retention failed", "deleted", n, "err", err)
	}
}
