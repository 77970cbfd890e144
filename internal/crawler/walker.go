package crawler

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

const (
	defaultPageCap = 10
	defaultBaseURL = "https://letterboxd.com"
	watchlistPath  = "watchlist"
)

var (
	errMissingFetcher   = errors.New("crawler: page fetcher is required")
	errMissingExtractor = errors.New("crawler: extractor is required")
	errInvalidBaseURL   = errors.New("crawler: base url must be absolute")
)

// PageFetcher retrieves a single page, reporting absence rather than failing.
type PageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*Page, bool)
}

// WalkerConfig wires the walker to its fetcher and extractor.
type WalkerConfig struct {
	Fetcher   PageFetcher
	Extractor *Extractor
	BaseURL   string
	// PageCap limits the pages followed per watchlist. Zero selects 10.
	PageCap int
	Logger  *zap.Logger
}

// Walker follows a user's paginated watchlist on the external site.
type Walker struct {
	fetcher   PageFetcher
	extractor *Extractor
	baseURL   string
	pageCap   int
	logger    *zap.Logger
}

// WalkResult is everything collected from one walk.
type WalkResult struct {
	Entries []MovieEntry
	Pages   int
	// Truncated is set when the page cap stopped the walk before the last page.
	Truncated bool
	// Partial is set when a page could not be fetched and the walk stopped early.
	Partial bool
}

// NewWalker validates the configuration and returns a Walker.
func NewWalker(cfg WalkerConfig) (*Walker, error) {
	if cfg.Fetcher == nil {
		return nil, errMissingFetcher
	}
	if cfg.Extractor == nil {
		return nil, errMissingExtractor
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, errInvalidBaseURL
	}
	pageCap := cfg.PageCap
	if pageCap <= 0 {
		pageCap = defaultPageCap
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Walker{
		fetcher:   cfg.Fetcher,
		extractor: cfg.Extractor,
		baseURL:   baseURL,
		pageCap:   pageCap,
		logger:    logger,
	}, nil
}

// WatchlistURL is the first page of the user's watchlist.
func (w *Walker) WatchlistURL(username string) string {
	return w.baseURL + "/" + url.PathEscape(username) + "/" + watchlistPath + "/"
}

// Verify reports whether the user's watchlist page can be fetched, which is taken
// as proof that the account exists on the external site.
func (w *Walker) Verify(ctx context.Context, username string) bool {
	_, ok := w.fetcher.Fetch(ctx, w.WatchlistURL(username))
	if ok {
		w.logger.Info("user found on external source", zap.String("username", username))
	} else {
		w.logger.Info("user not found on external source", zap.String("username", username))
	}
	return ok
}

// Walk collects movie entries page by page. An unreachable page ends the walk with
// whatever was gathered so far.
func (w *Walker) Walk(ctx context.Context, username string) WalkResult {
	result := WalkResult{Entries: make([]MovieEntry, 0)}
	next := w.WatchlistURL(username)
	for next != "" {
		if result.Pages >= w.pageCap {
			result.Truncated = true
			w.logger.Info("watchlist page cap reached",
				zap.String("username", username),
				zap.Int("page_cap", w.pageCap))
			break
		}
		w.logger.Debug("fetching watchlist page", zap.String("username", username), zap.Int("page", result.Pages+1))
		page, ok := w.fetcher.Fetch(ctx, next)
		if !ok {
			result.Partial = true
			break
		}
		result.Pages++
		result.Entries = append(result.Entries, w.extractor.Extract(page)...)

		link, ok := page.NextURL()
		if !ok {
			break
		}
		next = link
	}

	w.logger.Info("watchlist walked",
		zap.String("username", username),
		zap.Int("pages", result.Pages),
		zap.Int("movies", len(result.Entries)),
		zap.Bool("truncated", result.Truncated),
		zap.Bool("partial", result.Partial))
	return result
}
