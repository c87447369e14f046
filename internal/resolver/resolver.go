// Package resolver follows tracking and redirect URLs to their final
// destination with HEAD requests, one hop at a time.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

const (
	DefaultConcurrency = 3
	DefaultTimeout     = 15 * time.Second
	DefaultMaxHops     = 15
)

// Options tunes a Resolver. Zero values fall back to the defaults.
type Options struct {
	Concurrency int
	Timeout     time.Duration
	MaxHops     int
	UserAgent   string
}

// Resolver chases redirects without letting net/http follow them, so every
// hop can be inspected for cycles and status.
type Resolver struct {
	client  *http.Client
	sem     *semaphore.Weighted
	maxHops int
	ua      string
}

// New builds a Resolver. The concurrency bound is shared by every caller of
// ResolveAll on the same Resolver.
func New(opts Options) *Resolver {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxHops <= 0 {
		opts.MaxHops = DefaultMaxHops
	}
	return &Resolver{
		client: &http.Client{
			Timeout: opts.Timeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		sem:     semaphore.NewWeighted(int64(opts.Concurrency)),
		maxHops: opts.MaxHops,
		ua:      opts.UserAgent,
	}
}

// ResolveFinal follows rawURL's redirect chain.
//
//   - 2xx, 4xx, a 3xx without Location, a revisited URL or the hop cap stop
//     the chase and return the URL reached so far.
//   - 5xx abandons the chain and returns rawURL itself.
//   - A network error, timeout or cancelled ctx returns ok == false; the
//     caller keeps its original URL.
func (r *Resolver) ResolveFinal(ctx context.Context, rawURL string) (resolved string, ok bool) {
	current, err := url.Parse(rawURL)
	if err != nil || current.Host == "" {
		return "", false
	}

	visited := map[string]struct{}{strings.ToLower(current.String()): {}}

	for hop := 0; hop < r.maxHops; hop++ {
		status, location, err := r.head(ctx, current.String())
		if err != nil {
			slog.Debug("resolve aborted", "url", rawURL, "hop", hop, "err", err)
			return "", false
		}

		switch {
		case status >= 500:
			return rawURL, true
		case status >= 300 && status < 400:
			if location == "" {
				return current.String(), true
			}
			next, err := current.Parse(location)
			if err != nil {
				return current.String(), true
			}
			key := strings.ToLower(next.String())
			if _, seen := visited[key]; seen {
				slog.Debug("redirect cycle", "url", rawURL, "at", next.String())
				return current.String(), true
			}
			visited[key] = struct{}{}
			current = next
		default:
			return current.String(), true
		}
	}

	return current.String(), true
}

func (r *Resolver) head(ctx context.Context, target string) (status int, location string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return 0, "", err
	}
	if r.ua != "" {
		req.Header.Set("User-Agent", r.ua)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("http HEAD: %w", err)
	}
	resp.Body.Close()

	return resp.StatusCode, resp.Header.Get("Location"), nil
}

// ResolveAll resolves every URL concurrently, bounded by the resolver's
// semaphore. The result is index-aligned with urls; entries that could not
// be resolved keep their original value. An error is returned only when ctx
// ends before every URL was scheduled.
func (r *Resolver) ResolveAll(ctx context.Context, urls []string) ([]string, error) {
	out := make([]string, len(urls))
	copy(out, urls)

	var (
		wg  sync.WaitGroup
		err error
	)
	for i, u := range urls {
		if err = r.sem.Acquire(ctx, 1); err != nil {
			break
		}
		i, u := i, u
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer r.sem.Release(1)
			if final, ok := r.ResolveFinal(ctx, u); ok {
				out[i] = final
			}
		}()
	}
	wg.Wait()

	if err != nil {
		return out, fmt.Errorf("resolve all: %w", err)
	}
	return out, nil
}
