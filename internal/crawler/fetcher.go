package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultUserAgent   = "reelview-crawler/1.0"
	defaultHTTPTimeout = 30 * time.Second
)

var noOpLogger = zap.NewNop()

// StatusError reports a non-success HTTP status from the external site.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}

// permanent statuses mean the page does not exist; retrying cannot help.
func (e *StatusError) permanent() bool {
	return e.StatusCode == http.StatusNotFound || e.StatusCode == http.StatusGone
}

// FetcherConfig describes how external pages are requested.
type FetcherConfig struct {
	HTTPClient *http.Client
	Retry      RetryPolicy
	// Limiter throttles every attempt when set.
	Limiter   *rate.Limiter
	UserAgent string
	Logger    *zap.Logger
}

// Fetcher issues page requests against the external site with bounded retry.
type Fetcher struct {
	client    *http.Client
	retry     RetryPolicy
	limiter   *rate.Limiter
	userAgent string
	logger    *zap.Logger
}

// NewFetcher returns a Fetcher, filling unset fields with defaults.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultHTTPTimeout}
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Fetcher{
		client:    client,
		retry:     cfg.Retry.withDefaults(),
		limiter:   cfg.Limiter,
		userAgent: userAgent,
		logger:    logger,
	}
}

// Fetch requests rawURL and parses the response. Failures are logged and retried
// per the retry policy; once attempts run out the page is reported absent instead
// of returning an error.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, bool) {
	target, err := url.Parse(rawURL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		f.logger.Error("invalid page url", zap.String("url", rawURL), zap.Error(err))
		return nil, false
	}

	maxAttempts := f.retry.MaxAttempts
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				f.logger.Warn("page request abandoned", zap.String("url", rawURL), zap.Error(err))
				return nil, false
			}
		}

		page, err := f.fetchOnce(ctx, target)
		if err == nil {
			return page, true
		}
		f.logger.Warn("page request failed",
			zap.String("url", rawURL),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Error(err))

		var statusErr *StatusError
		if f.retry.StopOnMissing && errors.As(err, &statusErr) && statusErr.permanent() {
			break
		}
		if ctx.Err() != nil {
			break
		}
		if attempt < maxAttempts {
			if err := f.retry.Sleep(ctx, f.retry.Backoff(attempt)); err != nil {
				break
			}
		}
	}

	f.logger.Error("page fetch gave up", zap.String("url", rawURL), zap.Int("max_attempts", maxAttempts))
	return nil, false
}

func (f *Fetcher) fetchOnce(ctx context.Context, target *url.URL) (*Page, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	request.Header.Set("User-Agent", f.userAgent)
	request.Header.Set("Accept", "text/html")

	response, err := f.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		return nil, &StatusError{StatusCode: response.StatusCode}
	}

	// Redirects land on a different page; relative links resolve against it.
	pageURL := target
	if response.Request != nil && response.Request.URL != nil {
		pageURL = response.Request.URL
	}
	return NewPage(pageURL, response.Body)
}
