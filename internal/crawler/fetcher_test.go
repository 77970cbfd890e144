package crawler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFetchRetriesUntilSuccess(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(watchlistHTML("", testFilm{id: "42", name: "Heat", slug: "heat"})))
	}))
	defer server.Close()

	var delays []time.Duration
	retry := RetryPolicy{
		MaxAttempts: 3,
		Backoff:     ConstantBackoff(time.Second),
		Sleep: func(_ context.Context, delay time.Duration) error {
			delays = append(delays, delay)
			return nil
		},
	}
	fetcher := NewFetcher(FetcherConfig{Retry: retry})

	page, ok := fetcher.Fetch(context.Background(), server.URL+"/evilnik/watchlist/")
	if !ok || page == nil {
		t.Fatalf("expected page after retries")
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", got)
	}
	if len(delays) != 2 || delays[0] != time.Second || delays[1] != time.Second {
		t.Fatalf("expected two one-second delays between attempts, got %v", delays)
	}
	entries := NewExtractor(ExtractorConfig{}).Extract(page)
	if len(entries) != 1 || entries[0].ID != "42" {
		t.Fatalf("unexpected entries from fetched page: %#v", entries)
	}
}

func TestFetchReturnsAbsentAfterExhaustingAttempts(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	core, logs := observer.New(zapcore.WarnLevel)
	fetcher := NewFetcher(FetcherConfig{Retry: instantRetry(4), Logger: zap.New(core)})

	page, ok := fetcher.Fetch(context.Background(), server.URL+"/evilnik/watchlist/")
	if ok || page != nil {
		t.Fatalf("expected absent page")
	}
	if got := atomic.LoadInt32(&attempts); got != 4 {
		t.Fatalf("expected 4 attempts, got %d", got)
	}
	if failures := logs.FilterMessage("page request failed").Len(); failures != 4 {
		t.Fatalf("expected every attempt to be logged, got %d", failures)
	}
	if logs.FilterMessage("page fetch gave up").Len() != 1 {
		t.Fatalf("expected a final give-up log entry")
	}
}

func TestFetchRetriesMissingPagesByDefault(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		http.NotFound(w, r)
	}))
	defer server.Close()

	fetcher := NewFetcher(FetcherConfig{Retry: instantRetry(3)})
	if _, ok := fetcher.Fetch(context.Background(), server.URL+"/ghost/watchlist/"); ok {
		t.Fatalf("expected absent page for 404")
	}
	if got := atomic.LoadInt32(&attempts); got != 3 {
		t.Fatalf("expected every attempt to be used, got %d", got)
	}
}

func TestFetchStopsOnMissingPageWhenEnabled(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusGone)
	}))
	defer server.Close()

	retry := instantRetry(3)
	retry.StopOnMissing = true
	fetcher := NewFetcher(FetcherConfig{Retry: retry})
	if _, ok := fetcher.Fetch(context.Background(), server.URL+"/ghost/watchlist/"); ok {
		t.Fatalf("expected absent page for 410")
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Fatalf("expected a single attempt for a missing page, got %d", got)
	}
}

func TestFetchTreatsTransportErrorsAsAbsent(t *testing.T) {
	client := &http.Client{Transport: roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})}
	fetcher := NewFetcher(FetcherConfig{HTTPClient: client, Retry: instantRetry(2)})

	if _, ok := fetcher.Fetch(context.Background(), "https://letterboxd.example/evilnik/watchlist/"); ok {
		t.Fatalf("expected absent page on transport failure")
	}
}

func TestFetchRejectsRelativeURL(t *testing.T) {
	fetcher := NewFetcher(FetcherConfig{Retry: instantRetry(3)})
	if _, ok := fetcher.Fetch(context.Background(), "/evilnik/watchlist/"); ok {
		t.Fatalf("expected relative url to be rejected")
	}
}

func TestFetchStopsWhenContextEnds(t *testing.T) {
	var attempts int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	retry := RetryPolicy{
		MaxAttempts: 5,
		Backoff:     ConstantBackoff(time.Hour),
		Sleep: func(ctx context.Context, delay time.Duration) error {
			cancel()
			return SleepContext(ctx, delay)
		},
	}
	fetcher := NewFetcher(FetcherConfig{Retry: retry})

	if _, ok := fetcher.Fetch(ctx, server.URL+"/evilnik/watchlist/"); ok {
		t.Fatalf("expected absent page after cancellation")
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Fatalf("expected cancellation to stop retries, got %d attempts", got)
	}
}

func TestFetchSendsUserAgent(t *testing.T) {
	var userAgent atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userAgent.Store(r.Header.Get("User-Agent"))
		_, _ = w.Write([]byte(watchlistHTML("")))
	}))
	defer server.Close()

	fetcher := NewFetcher(FetcherConfig{UserAgent: "reelview-test"})
	if _, ok := fetcher.Fetch(context.Background(), server.URL+"/evilnik/watchlist/"); !ok {
		t.Fatalf("expected page")
	}
	if userAgent.Load() != "reelview-test" {
		t.Fatalf("expected configured user agent, got %v", userAgent.Load())
	}
}

func TestExponentialBackoffCapsDelay(t *testing.T) {
	backoff := ExponentialBackoff(time.Second, 5*time.Second)
	expected := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for index, want := range expected {
		if got := backoff(index + 1); got != want {
			t.Fatalf("attempt %d: expected %v, got %v", index+1, want, got)
		}
	}
}

func TestSleepContextReturnsContextError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := SleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (fn roundTripFunc) RoundTrip(request *http.Request) (*http.Response, error) {
	return fn(request)
}
