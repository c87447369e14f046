package scraper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"unicode/utf8"
)

// ErrNoCredentials ends a credentialed fetch once every credential in the
// pool is exhausted.
var ErrNoCredentials = errors.New("no upstream credentials available")

// StatusError is a non-2xx upstream response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("upstream returned %d: %s", e.Code, e.Body)
}

type attemptKind int

const (
	attemptOK        attemptKind = iota
	attemptTransient             // 502/503/504, network error, client timeout
	attemptRejected              // credential refused or throttled: 401/403/429
	attemptFatal                 // anything else, including cancellation
)

func (k attemptKind) String() string {
	switch k {
	case attemptOK:
		return "ok"
	case attemptTransient:
		return "transient"
	case attemptRejected:
		return "rejected"
	default:
		return "fatal"
	}
}

// attemptResult is the outcome of one page request, or of a page request
// after its retries were used up.
type attemptResult struct {
	kind     attemptKind
	body     []byte
	err      error
	attempts int
}

func classify(code int) attemptKind {
	switch {
	case code >= 200 && code < 300:
		return attemptOK
	case code == http.StatusBadGateway, code == http.StatusServiceUnavailable, code == http.StatusGatewayTimeout:
		return attemptTransient
	case code == http.StatusUnauthorized, code == http.StatusForbidden, code == http.StatusTooManyRequests:
		return attemptRejected
	default:
		return attemptFatal
	}
}

// do executes req once.
func (f *Fetcher) do(ctx context.Context, req *http.Request) attemptResult {
	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return attemptResult{kind: attemptFatal, err: ctx.Err()}
		}
		return attemptResult{kind: attemptTransient, err: fmt.Errorf("http GET: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return attemptResult{kind: attemptFatal, err: ctx.Err()}
		}
		return attemptResult{kind: attemptTransient, err: fmt.Errorf("read body: %w", err)}
	}

	kind := classify(resp.StatusCode)
	if kind != attemptOK {
		return attemptResult{kind: kind, err: &StatusError{Code: resp.StatusCode, Body: truncate(string(body), 256)}}
	}
	return attemptResult{kind: attemptOK, body: body}
}

// withRetry repeats transient failures up to f.opts.RetryAttempts times,
// f.opts.RetryDelay apart. build is called for every attempt.
func (f *Fetcher) withRetry(ctx context.Context, log *slog.Logger, build func(context.Context) (*http.Request, error)) attemptResult {
	attempts := max(f.opts.RetryAttempts, 1)

	var res attemptResult
	for attempt := 1; attempt <= attempts; attempt++ {
		req, err := build(ctx)
		if err != nil {
			return attemptResult{kind: attemptFatal, err: fmt.Errorf("build request: %w", err), attempts: attempt}
		}

		res = f.do(ctx, req)
		res.attempts = attempt
		if res.kind != attemptTransient {
			return res
		}

		log.Warn("page request failed", "attempt", attempt, "of", attempts, "err", res.err)
		if attempt < attempts && !sleep(ctx, f.opts.RetryDelay) {
			return attemptResult{kind: attemptFatal, err: ctx.Err(), attempts: attempt}
		}
	}
	return res
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}
