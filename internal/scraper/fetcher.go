// Package scraper fetches job postings from the upstream listing APIs,
// deduplicates them and persists the new ones.
package scraper

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"jobmate/ingestion-service/internal/credentials"
	"jobmate/ingestion-service/internal/model"
	"jobmate/ingestion-service/internal/store"
)

const (
	pageSize    = 50
	httpTimeout = 15 * time.Second
)

// Stop reasons reported in model.FetchResult.
const (
	StopLastPage      = "last page reached"
	StopEmptyPage     = "empty page"
	StopNoNewPostings = "no new postings"
	StopNoRecent      = "no recent postings"
	StopNoCredentials = "credentials exhausted"
	StopPageLimit     = "page limit reached"
)

// Options tunes the paging loop shared by every source.
type Options struct {
	PageDelay      time.Duration // pause between two page requests
	RetryAttempts  int           // attempts per page on transient failures
	RetryDelay     time.Duration // fixed delay between attempts
	EarlyStopPages int           // consecutive pages without new postings before giving up
	MaxPages       int           // hard cap per country, 0 = none
	HTTPTimeout    time.Duration
}

// DefaultOptions mirrors the production settings.
func DefaultOptions() Options {
	return Options{
		PageDelay:      500 * time.Millisecond,
		RetryAttempts:  3,
		RetryDelay:     5 * time.Second,
		EarlyStopPages: 3,
		HTTPTimeout:    httpTimeout,
	}
}

// URLResolver rewrites tracking URLs to their final destination. Entries it
// cannot resolve come back unchanged.
type URLResolver interface {
	ResolveAll(ctx context.Context, urls []string) ([]string, error)
}

// Fetcher holds what every source shares: the HTTP client, the posting
// store and the paging policy.
type Fetcher struct {
	client *http.Client
	store  store.PostingStore
	opts   Options
	now    func() time.Time
}

// NewFetcher builds a Fetcher with its own HTTP client.
func NewFetcher(st store.PostingStore, opts Options) *Fetcher {
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = httpTimeout
	}
	return &Fetcher{
		client: &http.Client{Timeout: opts.HTTPTimeout},
		store:  st,
		opts:   opts,
		now:    time.Now,
	}
}

// SetClock replaces the clock used for age filtering.
func (f *Fetcher) SetClock(now func() time.Time) { f.now = now }

// source is one upstream listing API.
type source interface {
	dataSource() model.DataSource
	pageRequest(ctx context.Context, country string, page int, cred model.Credential) (*http.Request, error)
	parsePage(body []byte, country string, now time.Time) (pageResult, error)
}

// pageResult is one parsed page.
type pageResult struct {
	postings       []model.Posting
	totalAvailable int
	totalPages     int
	raw            int  // records on the page before any filtering
	malformed      int  // records skipped for missing required fields
	stale          bool // records were present but all were too old
}

// run pages through src for country until a stop condition is met. creds
// is nil for sources that need no credentials; resolver is nil for sources
// whose URLs are already final.
func (f *Fetcher) run(ctx context.Context, src source, country string, creds *credentials.Rotator, resolver URLResolver) (*model.FetchResult, error) {
	ds := src.dataSource()
	res := &model.FetchResult{Source: ds, Country: country}
	log := slog.With("source", string(ds), "country", country)

	emptyStreak := 0
	for page := 1; ; page++ {
		if f.opts.MaxPages > 0 && page > f.opts.MaxPages {
			res.StopReason = StopPageLimit
			break
		}
		if page > 1 && !sleep(ctx, f.opts.PageDelay) {
			return res, ctx.Err()
		}

		var cred model.Credential
		if creds != nil {
			var ok bool
			if cred, ok = creds.Next(); !ok {
				log.Warn("all credentials exhausted, ending fetch early", "page", page, "saved", res.Saved)
				res.StopReason = StopNoCredentials
				break
			}
		}

		att := f.withRetry(ctx, log.With("page", page), func(ctx context.Context) (*http.Request, error) {
			return src.pageRequest(ctx, country, page, cred)
		})

		switch att.kind {
		case attemptOK:
		case attemptTransient, attemptRejected:
			if creds == nil {
				return res, fmt.Errorf("page %d: %w", page, att.err)
			}
			creds.MarkExhausted(cred)
			log.Warn("credential exhausted, rotating", "page", page, "app_id", cred.AppID,
				"outcome", att.kind.String(), "err", att.err)
			page--
			continue
		default:
			return res, fmt.Errorf("page %d: %w", page, att.err)
		}

		pr, err := src.parsePage(att.body, country, f.now())
		if err != nil {
			return res, fmt.Errorf("page %d: %w", page, err)
		}
		res.PagesFetched++
		if pr.totalAvailable > 0 {
			res.TotalAvailable = pr.totalAvailable
		}
		if pr.totalPages > 0 {
			res.TotalPages = pr.totalPages
		}
		if pr.malformed > 0 {
			log.Debug("skipped malformed records", "page", page, "count", pr.malformed)
		}

		if pr.raw == 0 {
			res.StopReason = StopEmptyPage
			break
		}

		saved, err := f.ingest(ctx, ds, country, pr.postings, resolver)
		res.Fetched += len(pr.postings)
		res.Saved += saved
		if err != nil {
			return res, fmt.Errorf("page %d: %w", page, err)
		}
		log.Debug("page ingested", "page", page, "fetched", len(pr.postings), "saved", saved)

		if saved == 0 {
			emptyStreak++
		} else {
			emptyStreak = 0
		}

		switch {
		case pr.stale:
			res.StopReason = StopNoRecent
		case f.opts.EarlyStopPages > 0 && emptyStreak >= f.opts.EarlyStopPages:
			res.StopReason = StopNoNewPostings
		case res.TotalPages > 0 && page >= res.TotalPages:
			res.StopReason = StopLastPage
		}
		if res.StopReason != "" {
			break
		}
	}

	log.Info("fetch complete", "pages", res.PagesFetched, "fetched", res.Fetched,
		"saved", res.Saved, "stop", res.StopReason)
	return res, nil
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

// IsRateLimitStop reports whether r ended because no credential was left.
func IsRateLimitStop(r *model.FetchResult) bool {
	return r != nil && r.StopReason == StopNoCredentials
}
