package resolver_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jobmate/ingestion-service/internal/resolver"
)

// chain serves /hop/{n} → /hop/{n+1} until n == last, which answers final.
func chain(t *testing.T, last, final int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		n, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/hop/"))
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if n >= last {
			w.WriteHeader(final)
			return
		}
		w.Header().Set("Location", fmt.Sprintf("/hop/%d", n+1))
		w.WriteHeader(http.StatusFound)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// ── ResolveFinal ───────────────────────────────────────────────────────────

func TestResolveFinal_ThreeHopsToOK(t *testing.T) {
	srv := chain(t, 3, http.StatusOK)
	r := resolver.New(resolver.Options{})

	got, ok := r.ResolveFinal(context.Background(), srv.URL+"/hop/0")

	require.True(t, ok)
	assert.Equal(t, srv.URL+"/hop/3", got)
}

func TestResolveFinal_StopsAtHopCap(t *testing.T) {
	srv := chain(t, 20, http.StatusOK)
	r := resolver.New(resolver.Options{})

	got, ok := r.ResolveFinal(context.Background(), srv.URL+"/hop/0")

	require.True(t, ok)
	assert.Equal(t, srv.URL+"/hop/15", got)
}

func TestResolveFinal_DetectsCycle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a":
			w.Header().Set("Location", "/b")
		case "/b":
			w.Header().Set("Location", "/a")
		}
		w.WriteHeader(http.StatusMovedPermanently)
	}))
	defer srv.Close()

	r := resolver.New(resolver.Options{})
	done := make(chan string, 1)
	go func() {
		got, _ := r.ResolveFinal(context.Background(), srv.URL+"/a")
		done <- got
	}()

	select {
	case got := <-done:
		assert.Equal(t, srv.URL+"/b", got)
	case <-time.After(5 * time.Second):
		t.Fatal("ResolveFinal did not return on a redirect cycle")
	}
}

func TestResolveFinal_ClientErrorKeepsCurrent(t *testing.T) {
	srv := chain(t, 2, http.StatusNotFound)
	r := resolver.New(resolver.Options{})

	got, ok := r.ResolveFinal(context.Background(), srv.URL+"/hop/0")

	require.True(t, ok)
	assert.Equal(t, srv.URL+"/hop/2", got)
}

func TestResolveFinal_ServerErrorFallsBackToOriginal(t *testing.T) {
	srv := chain(t, 2, http.StatusBadGateway)
	r := resolver.New(resolver.Options{})

	got, ok := r.ResolveFinal(context.Background(), srv.URL+"/hop/0")

	require.True(t, ok)
	assert.Equal(t, srv.URL+"/hop/0", got)
}

func TestResolveFinal_RedirectWithoutLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()

	r := resolver.New(resolver.Options{})
	got, ok := r.ResolveFinal(context.Background(), srv.URL+"/x")

	require.True(t, ok)
	assert.Equal(t, srv.URL+"/x", got)
}

func TestResolveFinal_AbsoluteLocationOnOtherHost(t *testing.T) {
	target := chain(t, 0, http.StatusOK)
	tracker := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, target.URL+"/hop/0?ref=cj", http.StatusFound)
	}))
	defer tracker.Close()

	r := resolver.New(resolver.Options{})
	got, ok := r.ResolveFinal(context.Background(), tracker.URL+"/jobclick?id=1")

	require.True(t, ok)
	assert.Equal(t, target.URL+"/hop/0?ref=cj", got)
}

func TestResolveFinal_NetworkErrorReturnsNone(t *testing.T) {
	srv := chain(t, 0, http.StatusOK)
	dead := srv.URL
	srv.Close()

	r := resolver.New(resolver.Options{Timeout: time.Second})
	got, ok := r.ResolveFinal(context.Background(), dead+"/hop/0")

	assert.False(t, ok)
	assert.Empty(t, got)
}

func TestResolveFinal_TimeoutReturnsNone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := resolver.New(resolver.Options{Timeout: 50 * time.Millisecond})
	_, ok := r.ResolveFinal(context.Background(), srv.URL)

	assert.False(t, ok)
}

func TestResolveFinal_InvalidURL(t *testing.T) {
	r := resolver.New(resolver.Options{})
	_, ok := r.ResolveFinal(context.Background(), "not a url")
	assert.False(t, ok)
}

// ── ResolveAll ─────────────────────────────────────────────────────────────

func TestResolveAll_BoundsConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		inFlight.Add(-1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	urls := make([]string, 12)
	for i := range urls {
		urls[i] = fmt.Sprintf("%s/job/%d", srv.URL, i)
	}

	r := resolver.New(resolver.Options{Concurrency: 3})
	got, err := r.ResolveAll(context.Background(), urls)

	require.NoError(t, err)
	assert.Equal(t, urls, got)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestResolveAll_KeepsOriginalOnFailure(t *testing.T) {
	srv := chain(t, 1, http.StatusOK)
	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL + "/gone"
	dead.Close()

	r := resolver.New(resolver.Options{Timeout: time.Second})
	got, err := r.ResolveAll(context.Background(), []string{srv.URL + "/hop/0", deadURL})

	require.NoError(t, err)
	assert.Equal(t, []string{srv.URL + "/hop/1", deadURL}, got)
}

func TestResolveAll_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := resolver.New(resolver.Options{Concurrency: 1})
	got, err := r.ResolveAll(ctx, []string{"http://example.invalid/a"})

	require.Error(t, err)
	assert.Equal(t, []string{"http://example.invalid/a"}, got)
}

// ── IsTrackingURL ──────────────────────────────────────────────────────────

func TestIsTrackingURL(t *testing.T) {
	assert.True(t, resolver.IsTrackingURL("https://jobviewtrack.com/en-gb/job-123"))
	assert.True(t, resolver.IsTrackingURL("http://www.Careerjet.no/jobad/no123"))
	assert.True(t, resolver.IsTrackingURL("https://www.adzuna.de/land/ad/42?se=x"))
	assert.False(t, resolver.IsTrackingURL("https://careers.acme.com/jobs/42"))
	assert.False(t, resolver.IsTrackingURL(""))
}
