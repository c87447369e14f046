// jobmate-ingestion-service
//
// Pulls IT job postings from Adzuna and Careerjet on a schedule, dedupes
// them against job_posts and keeps the listing caches warm.
//
//   - cron: combined ingestion (Adzuna, then Careerjet) and retention cleanup
//   - HTTP: manual ingestion, runs and cache warmups
//   - gRPC: grpc.health.v1 for orchestrators
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"jobmate/ingestion-service/internal/cache"
	"jobmate/ingestion-service/internal/config"
	"jobmate/ingestion-service/internal/credentials"
	"jobmate/ingestion-service/internal/db"
	"jobmate/ingestion-service/internal/events"
	"jobmate/ingestion-service/internal/grpcserver"
	"jobmate/ingestion-service/internal/logging"
	"jobmate/ingestion-service/internal/model"
	"jobmate/ingestion-service/internal/query"
	"jobmate/ingestion-service/internal/resolver"
	"jobmate/ingestion-service/internal/retention"
	"jobmate/ingestion-service/internal/runner"
	"jobmate/ingestion-service/internal/scheduler"
	"jobmate/ingestion-service/internal/scraper"
	"jobmate/ingestion-service/internal/server"
	"jobmate/ingestion-service/internal/store"
	"jobmate/ingestion-service/internal/warmup"
)

const version = "1.0.0"

func main() {
	// ── Config ──────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[ingestion-service] Config error: %v", err)
	}
	logging.Setup(os.Stdout, cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── PostgreSQL ───────────────────────────────────────────────────────────
	log.Println("[ingestion-service] Connecting to PostgreSQL…")
	pool, err := db.NewPostgresPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		log.Fatalf("[ingestion-service] PostgreSQL: %v", err)
	}
	defer pool.Close()
	log.Println("[ingestion-service] PostgreSQL connected ✓")

	posts := store.NewPostgres(pool)
	if err := posts.EnsureSchema(ctx); err != nil {
		log.Fatalf("[ingestion-service] Schema: %v", err)
	}
	log.Println("[ingestion-service] Schema ready ✓")

	// ── Cache ────────────────────────────────────────────────────────────────
	var (
		queryCache cache.Store
		notifier   runner.Notifier
	)
	switch cfg.Cache.Backend {
	case config.CacheMemory:
		mem := cache.NewMemory(0)
		defer mem.Close()
		queryCache = mem
		log.Println("[ingestion-service] In-memory cache ready ✓")
	default:
		log.Println("[ingestion-service] Connecting to Redis…")
		rdb, err := db.NewRedisClient(ctx, cfg.Cache.RedisURL)
		if err != nil {
			log.Fatalf("[ingestion-service] Redis: %v", err)
		}
		defer rdb.Close()
		log.Println("[ingestion-service] Redis connected ✓")

		rc := cache.NewRedis(rdb, cache.DefaultRedisPrefix)
		if err := rc.EnableExpiryEvents(ctx); err != nil {
			slog.Warn("expired-key events unavailable, relying on registry invalidation", "err", err)
		}
		go func() {
			if err := rc.Watch(ctx); err != nil {
				slog.Error("cache expiry watch stopped", "err", err)
			}
		}()
		queryCache = rc
		notifier = events.NewPublisher(rdb)
	}
	registry := cache.NewRegistry(queryCache)
	if n, err := registry.Sync(ctx); err != nil {
		slog.Warn("could not load existing cache keys", "err", err)
	} else if n > 0 {
		slog.Info("tracking existing cache keys", "count", n)
	}

	// ── Query execution + warmup worker ──────────────────────────────────────
	executor := query.NewExecutor(posts, queryCache, registry, cfg.Cache.TTL, cfg.Warmup.Concurrency)
	warmer := warmup.NewWorker(warmup.NewCacheRefresher(registry, executor), warmup.Options{
		QueueSize: cfg.Warmup.QueueSize,
		Timeout:   cfg.Warmup.Timeout,
		Retries:   cfg.Warmup.Retries,
		Backoff:   cfg.Warmup.Backoff,
		Pacing:    cfg.Warmup.Pacing,
		Drain:     cfg.Warmup.Drain,
	})
	warmer.Start(ctx)

	// ── Fetchers + runners ───────────────────────────────────────────────────
	fetcher := scraper.NewFetcher(posts, scraper.Options{
		PageDelay:      cfg.Fetch.PageDelay,
		RetryAttempts:  cfg.Fetch.RetryAttempts,
		RetryDelay:     cfg.Fetch.RetryDelay,
		EarlyStopPages: cfg.Fetch.EarlyStopPages,
	})
	urls := resolver.New(resolver.Options{
		Concurrency: cfg.Resolver.Concurrency,
		Timeout:     cfg.Resolver.Timeout,
		MaxHops:     cfg.Resolver.MaxHops,
		UserAgent:   cfg.Careerjet.UserAgent,
	})

	adzuna := scraper.NewAdzunaFetcher(fetcher, cfg.Adzuna.BaseURL, credentials.NewRotator(cfg.Adzuna.Credentials))
	careerjet := scraper.NewCareerjetFetcher(fetcher, cfg.Careerjet.BaseURL, scraper.CareerjetAffiliate{
		AffID:     cfg.Careerjet.AffID,
		UserIP:    cfg.Careerjet.UserIP,
		UserAgent: cfg.Careerjet.UserAgent,
	}, urls, cfg.Careerjet.MaxAge)

	runOpts := runner.Options{
		CountryPause: cfg.Runner.CountryPause,
		MaxAge:       cfg.Runner.StalenessMaxAge,
		Notify:       notifier,
	}
	adzunaRunner := runner.New(adzuna, cfg.Adzuna.Countries, registry, warmer, runOpts)
	careerjetRunner := runner.New(careerjet, cfg.Careerjet.Countries, registry, warmer, runOpts)
	combined := runner.NewCombined(cfg.Runner.SourcePause, adzunaRunner, careerjetRunner)
	log.Printf("[ingestion-service] Runners ready ✓ (adzuna=%v careerjet=%v)",
		adzunaRunner.Countries(), careerjetRunner.Countries())

	// ── Scheduler ────────────────────────────────────────────────────────────
	cleaner := retention.NewCleaner(posts, registry, warmer, retention.Options{
		MaxAge: time.Duration(cfg.Retention.Days) * 24 * time.Hour,
		Batch:  cfg.Retention.Batch,
		Pause:  cfg.Retention.Pause,
	})
	sched := scheduler.New(combined, cleaner, scheduler.Options{
		IngestSpecs:   cfg.Schedule.Ingest,
		RetentionSpec: cfg.Schedule.Retention,
		RunOnStartup:  cfg.Schedule.RunOnStartup,
	})
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("[ingestion-service] Scheduler: %v", err)
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	h := server.NewHandler(ctx, registry, warmer, version)
	h.AddFetcher(model.SourceAdzuna, adzuna)
	h.AddFetcher(model.SourceCareerjet, careerjet)
	h.AddRun("adzuna", summaryRun(adzunaRunner), adzunaRunner.Busy)
	h.AddRun("careerjet", summaryRun(careerjetRunner), careerjetRunner.Busy)
	h.AddRun("all", func(ctx context.Context, runID string) error {
		_, err := combined.RunWithID(ctx, runID)
		return err
	}, combined.Busy)

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	// Manual ingestion runs synchronously, so no write timeout.
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Server.Port),
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("[ingestion-service] v%s listening on :%s", version, cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[ingestion-service] HTTP server error: %v", err)
		}
	}()

	// ── gRPC health ──────────────────────────────────────────────────────────
	gs := grpcserver.New()
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.Server.GRPCPort))
	if err != nil {
		log.Fatalf("[ingestion-service] gRPC listen: %v", err)
	}
	go func() {
		log.Printf("[ingestion-service] gRPC health listening on :%s", cfg.Server.GRPCPort)
		if err := gs.Serve(lis); err != nil {
			log.Fatalf("[ingestion-service] gRPC server error: %v", err)
		}
	}()
	gs.SetServing()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("[ingestion-service] Shutting down…")
	gs.SetNotServing()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("[ingestion-service] Shutdown error: %v", err)
	}

	// Stop the worker first: runners finishing up get ErrWorkerStopped
	// instead of blocking on a full queue.
	cancel()
	if !warmer.Stop() {
		log.Println("[ingestion-service] Warmup worker did not drain in time")
	}
	sched.Stop()
	h.Wait()
	gs.Stop(shutdownCtx)
	log.Println("[ingestion-service] Stopped.")
}

func summaryRun(r *runner.Runner) server.RunFunc {
	return func(ctx context.Context, runID string) error {
		_, err := r.RunWithID(ctx, runID)
		return err
	}
}
