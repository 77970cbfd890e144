package watchlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/reelview/internal/catalog"
	"github.com/MarcoPoloResearchLab/reelview/internal/crawler"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	errMissingCatalog = errors.New("watchlist: catalog is required")
	errMissingCrawler = errors.New("watchlist: crawler is required")
	// ErrSyncInterrupted is returned when the caller's context, or the shared sync's
	// own timeout, ended before the sync finished.
	ErrSyncInterrupted = errors.New("watchlist: sync interrupted")
)

// Crawler walks a user's external watchlist.
type Crawler interface {
	Walk(ctx context.Context, username string) crawler.WalkResult
}

// Catalog runs watchlist writes as one unit of work.
type Catalog interface {
	Transaction(ctx context.Context, fn func(tx *catalog.Tx) error) error
}

const defaultSyncTimeout = 2 * time.Minute

// ReconcilerConfig wires the reconciler.
type ReconcilerConfig struct {
	Catalog Catalog
	Crawler Crawler
	// SyncTimeout bounds one shared crawl and write. Zero selects two minutes.
	SyncTimeout time.Duration
	Logger      *zap.Logger
}

// Reconciler replaces a user's cached watchlist with the current external one.
type Reconciler struct {
	catalog     Catalog
	crawler     Crawler
	syncTimeout time.Duration
	logger      *zap.Logger
	flights     singleflight.Group
}

// NewReconciler validates the configuration and returns a Reconciler.
func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.Catalog == nil {
		return nil, errMissingCatalog
	}
	if cfg.Crawler == nil {
		return nil, errMissingCrawler
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	syncTimeout := cfg.SyncTimeout
	if syncTimeout <= 0 {
		syncTimeout = defaultSyncTimeout
	}
	return &Reconciler{catalog: cfg.Catalog, crawler: cfg.Crawler, syncTimeout: syncTimeout, logger: logger}, nil
}

// Sync crawls the user's watchlist and swaps it in atomically: on failure the
// previous associations are left exactly as they were. Concurrent syncs of the same
// username share one crawl and one write. The shared work runs detached from any
// single caller, so a caller whose ctx ends gets ErrSyncInterrupted while the others
// keep waiting for the result.
func (r *Reconciler) Sync(ctx context.Context, user catalog.User) (catalog.User, error) {
	if err := ctx.Err(); err != nil {
		return catalog.User{}, fmt.Errorf("%w: %w", ErrSyncInterrupted, err)
	}
	flight := r.flights.DoChan(user.Username, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.syncTimeout)
		defer cancel()
		return r.reconcile(flightCtx, user)
	})
	select {
	case <-ctx.Done():
		r.logger.Info("stopped waiting for sync", zap.String("username", user.Username), zap.Error(ctx.Err()))
		return catalog.User{}, fmt.Errorf("%w: %w", ErrSyncInterrupted, ctx.Err())
	case result := <-flight:
		if result.Shared {
			r.logger.Debug("sync coalesced with in-flight sync", zap.String("username", user.Username))
		}
		if result.Err != nil {
			return catalog.User{}, result.Err
		}
		return result.Val.(catalog.User), nil
	}
}

func (r *Reconciler) reconcile(ctx context.Context, user catalog.User) (catalog.User, error) {
	r.logger.Info("syncing user", zap.String("username", user.Username))
	walk := r.crawler.Walk(ctx, user.Username)
	if err := ctx.Err(); err != nil {
		return catalog.User{}, fmt.Errorf("%w: %w", ErrSyncInterrupted, err)
	}

	movies, movieIDs := materialize(walk.Entries)
	var syncedAt time.Time
	err := r.catalog.Transaction(ctx, func(tx *catalog.Tx) error {
		cleared, err := tx.ClearWatchlist(user.ID)
		if err != nil {
			return err
		}
		created, err := tx.EnsureMovies(movies)
		if err != nil {
			return err
		}
		linked, err := tx.LinkMovies(user.ID, movieIDs)
		if err != nil {
			return err
		}
		syncedAt, err = tx.StampSynced(user.ID)
		if err != nil {
			return err
		}
		r.logger.Info("user synced",
			zap.String("username", user.Username),
			zap.Int64("cleared", cleared),
			zap.Int64("new_movies", created),
			zap.Int64("linked", linked),
			zap.Int("pages", walk.Pages),
			zap.Bool("partial", walk.Partial),
			zap.Bool("truncated", walk.Truncated))
		return nil
	})
	if err != nil {
		r.logger.Error("sync rolled back", zap.String("username", user.Username), zap.Error(err))
		return catalog.User{}, err
	}

	user.SyncedAt = &syncedAt
	return user, nil
}

// materialize converts crawl entries into catalog rows. When a film appears twice
// the first occurrence wins.
func materialize(entries []crawler.MovieEntry) ([]catalog.Movie, []string) {
	seen := make(map[string]struct{}, len(entries))
	movies := make([]catalog.Movie, 0, len(entries))
	movieIDs := make([]string, 0, len(entries))
	for _, entry := range entries {
		if _, duplicate := seen[entry.ID]; duplicate {
			continue
		}
		seen[entry.ID] = struct{}{}
		movies = append(movies, catalog.Movie{ID: entry.ID, Title: entry.Title, Slug: entry.Slug})
		movieIDs = append(movieIDs, entry.ID)
	}
	return movies, movieIDs
}
