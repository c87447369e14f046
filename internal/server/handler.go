// Package server implements the HTTP trigger surface of the ingestion
// service.
//
// Routes:
//
//	GET  /health                    → liveness
//	POST /ingest/{source}/{country} → run one fetch synchronously
//	POST /runs/{source}             → start a full run (adzuna|careerjet|all)
//	POST /cache/warmup/{country}    → queue a cache warmup ("all" = global)
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"jobmate/ingestion-service/internal/model"
	"jobmate/ingestion-service/internal/scraper"
	"jobmate/ingestion-service/internal/warmup"
)

// Fetcher runs one source for one country.
type Fetcher interface {
	Fetch(ctx context.Context, country string) (*model.FetchResult, error)
}

// Enqueuer queues a cache warmup.
type Enqueuer interface {
	Enqueue(ctx context.Context, country string) error
}

// Invalidator evicts one cache scope. "" means the global scope.
type Invalidator interface {
	InvalidateScope(ctx context.Context, country string) (int, error)
}

// RunFunc starts a full run under runID and blocks until it finishes.
type RunFunc func(ctx context.Context, runID string) error

type run struct {
	fn   RunFunc
	busy func() bool
}

// ─── Response types ───────────────────────────────────────────────────────────

// RunAccepted is returned by POST /runs/{source}.
type RunAccepted struct {
	RunID  string `json:"runId"`
	Source string `json:"source"`
}

// WarmupQueued is returned by POST /cache/warmup/{country}.
type WarmupQueued struct {
	Scope string `json:"scope"`
}

// ─── Handler ─────────────────────────────────────────────────────────────────

// Handler holds shared dependencies.
type Handler struct {
	baseCtx  context.Context
	fetchers map[model.DataSource]Fetcher
	runs     map[string]run
	registry Invalidator
	warmup   Enqueuer
	version  string
	wg       sync.WaitGroup
}

// NewHandler returns a Handler. Background runs use baseCtx, so cancelling
// it stops them; Wait blocks until they have returned. registry may be nil,
// in which case manual ingestion leaves the caches alone.
func NewHandler(baseCtx context.Context, registry Invalidator, warmup Enqueuer, version string) *Handler {
	return &Handler{
		baseCtx:  baseCtx,
		fetchers: make(map[model.DataSource]Fetcher),
		runs:     make(map[string]run),
		registry: registry,
		warmup:   warmup,
		version:  version,
	}
}

// AddFetcher exposes f under POST /ingest/{source}/{country}.
func (h *Handler) AddFetcher(ds model.DataSource, f Fetcher) { h.fetchers[ds] = f }

// AddRun exposes fn under POST /runs/{name}. While busy reports true the
// route answers 409 instead of starting fn; busy may be nil.
func (h *Handler) AddRun(name string, fn RunFunc, busy func() bool) {
	h.runs[strings.ToLower(name)] = run{fn: fn, busy: busy}
}

// RegisterRoutes mounts all ingestion-service routes on mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/ingest/", h.handleIngest)
	mux.HandleFunc("/runs/", h.handleRun)
	mux.HandleFunc("/cache/warmup/", h.handleWarmup)
}

// Wait blocks until every background run has returned.
func (h *Handler) Wait() { h.wg.Wait() }

// ─── Route dispatch ───────────────────────────────────────────────────────────

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	jsonOK(w, map[string]string{
		"status":  "ok",
		"service": "ingestion-service",
		"version": h.version,
	})
}

// handleIngest handles POST /ingest/{source}/{country}. The fetch runs on
// the request context; a client that disconnects cancels it.
func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	parts := pathParts(r, "/ingest/")
	if len(parts) != 2 {
		jsonError(w, "expected /ingest/{source}/{country}", http.StatusNotFound)
		return
	}

	ds, ok := model.ParseDataSource(parts[0])
	f := h.fetchers[ds]
	if !ok || f == nil {
		jsonError(w, "unknown source: "+parts[0], http.StatusNotFound)
		return
	}
	country := strings.ToUpper(parts[1])
	if !validCountry(country) {
		jsonError(w, "country must be a two-letter ISO code", http.StatusBadRequest)
		return
	}

	res, err := f.Fetch(r.Context(), country)
	if res != nil && res.Saved > 0 {
		h.refreshCaches(context.WithoutCancel(r.Context()), ds, country)
	}
	switch {
	case err == nil:
		jsonOK(w, res)
	case errors.Is(err, scraper.ErrUnsupportedCountry):
		jsonError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, scraper.ErrNoCredentials):
		jsonError(w, err.Error(), http.StatusServiceUnavailable)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		slog.Info("manual ingestion cancelled", "source", string(ds), "country", country)
		jsonError(w, "request cancelled", http.StatusServiceUnavailable)
	default:
		slog.Error("manual ingestion failed", "source", string(ds), "country", country, "err", err)
		jsonError(w, "ingestion failed", http.StatusBadGateway)
	}
}

// refreshCaches evicts and requeues the country scope, then the global one.
func (h *Handler) refreshCaches(ctx context.Context, ds model.DataSource, country string) {
	if h.registry == nil {
		return
	}
	for _, scope := range []string{country, ""} {
		if _, err := h.registry.InvalidateScope(ctx, scope); err != nil {
			slog.Warn("cache invalidation failed", "source", string(ds), "scope", scope, "err", err)
		}
		if err := h.warmup.Enqueue(ctx, scope); err != nil {
			slog.Warn("warmup not queued", "source", string(ds), "scope", scope, "err", err)
		}
	}
}

// handleRun handles POST /runs/{source}. The run continues after the
// response is written.
func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	parts := pathParts(r, "/runs/")
	if len(parts) != 1 {
		jsonError(w, "expected /runs/{source}", http.StatusNotFound)
		return
	}
	name := strings.ToLower(parts[0])
	rn, ok := h.runs[name]
	if !ok {
		jsonError(w, "unknown run: "+parts[0], http.StatusNotFound)
		return
	}
	if rn.busy != nil && rn.busy() {
		jsonError(w, "run already in progress: "+name, http.StatusConflict)
		return
	}

	runID := uuid.NewString()
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		if err := rn.fn(h.baseCtx, runID); err != nil {
			slog.Error("manual run failed", "run_id", runID, "source", name, "err", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, RunAccepted{RunID: runID, Source: name})
}

// handleWarmup handles POST /cache/warmup/{country}.
func (h *Handler) handleWarmup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	parts := pathParts(r, "/cache/warmup/")
	if len(parts) != 1 {
		jsonError(w, "expected /cache/warmup/{country}", http.StatusNotFound)
		return
	}

	country := strings.ToUpper(parts[0])
	scope := country
	switch {
	case country == "ALL":
		country, scope = "", "ALL"
	case !validCountry(country):
		jsonError(w, "country must be a two-letter ISO code or 'all'", http.StatusBadRequest)
		return
	}

	if err := h.warmup.Enqueue(r.Context(), country); err != nil {
		if !errors.Is(err, warmup.ErrWorkerStopped) {
			slog.Warn("warmup not queued", "scope", scope, "err", err)
		}
		jsonError(w, "warmup not queued: "+err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, WarmupQueued{Scope: scope})
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func pathParts(r *http.Request, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}

func validCountry(cc string) bool {
	if len(cc) != 2 {
		return false
	}
	for _, c := range cc {
		if c < 'A' || c > 'Z' {
			return false
		}
	}
	return true
}

func jsonOK(w http.ResponseWriter, v any) {
	writeJSON(w, http.StatusOK, v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
