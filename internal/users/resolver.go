package users

import (
	"context"
	"errors"
	"strings"

	"github.com/MarcoPoloResearchLab/reelview/internal/catalog"
	"go.uber.org/zap"
)

const (
	defaultSuggestLimit = 20

	softErrorInvalidUsername = "invalid username"
	softErrorDatabase        = "database_error"
)

var (
	errMissingCatalog  = errors.New("users: catalog is required")
	errMissingVerifier = errors.New("users: verifier is required")
	errMissingSyncer   = errors.New("users: syncer is required")
	errMissingResolver = errors.New("users: resolver is required")
)

// Flags selects the operations applied to each username. Any combination is valid.
type Flags struct {
	Suggest bool
	Find    bool
	Add     bool
	Sync    bool
}

// Catalog is the subset of the catalog store used for lookups and creation.
type Catalog interface {
	FindUser(ctx context.Context, username string) (catalog.User, bool, error)
	SuggestUsernames(ctx context.Context, prefix string, limit int) ([]string, error)
	CreateUser(ctx context.Context, username string) (catalog.User, bool, error)
	CountMovies(ctx context.Context, userID uint) (int64, error)
}

// Verifier confirms that a username exists on the external site.
type Verifier interface {
	Verify(ctx context.Context, username string) bool
}

// Syncer refreshes a user's cached watchlist.
type Syncer interface {
	Sync(ctx context.Context, user catalog.User) (catalog.User, error)
}

// Resolution is the outcome of resolving one username. A nil User means the
// username is not known locally; that is a normal outcome, not a failure.
type Resolution struct {
	User        *catalog.User
	Suggestions []string
	Searched    bool
	Added       bool
	Synced      bool
	// Error carries a soft, per-username problem for the response body.
	Error string
}

// ResolverConfig wires the resolver.
type ResolverConfig struct {
	Catalog  Catalog
	Verifier Verifier
	Syncer   Syncer
	// SuggestLimit bounds suggestion lists. Zero selects 20; negative is unbounded.
	SuggestLimit int
	Logger       *zap.Logger
}

// Resolver runs the lookup, suggest, find, add and sync steps for a username.
type Resolver struct {
	catalog      Catalog
	verifier     Verifier
	syncer       Syncer
	suggestLimit int
	logger       *zap.Logger
}

// NewResolver validates the configuration and returns a Resolver.
func NewResolver(cfg ResolverConfig) (*Resolver, error) {
	if cfg.Catalog == nil {
		return nil, errMissingCatalog
	}
	if cfg.Verifier == nil {
		return nil, errMissingVerifier
	}
	if cfg.Syncer == nil {
		return nil, errMissingSyncer
	}
	suggestLimit := cfg.SuggestLimit
	if suggestLimit == 0 {
		suggestLimit = defaultSuggestLimit
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		catalog:      cfg.Catalog,
		verifier:     cfg.Verifier,
		syncer:       cfg.Syncer,
		suggestLimit: suggestLimit,
		logger:       logger,
	}, nil
}

// Resolve applies the requested operations to username. Store faults are returned
// as errors together with the partial resolution gathered before the fault. When ctx
// ends during verification its error is returned rather than an unverified result.
func (r *Resolver) Resolve(ctx context.Context, username string, flags Flags) (Resolution, error) {
	resolution := Resolution{Suggestions: []string{}}
	if strings.TrimSpace(username) == "" {
		// a blank prefix still suggests, it just cannot be looked up or added
		if flags.Suggest {
			suggestions, err := r.catalog.SuggestUsernames(ctx, "", r.suggestLimit)
			if err != nil {
				return resolution, err
			}
			resolution.Suggestions = suggestions
		}
		resolution.Error = softErrorInvalidUsername
		return resolution, nil
	}
	r.logger.Debug("resolving user", zap.String("username", username))

	user, found, err := r.catalog.FindUser(ctx, username)
	if err != nil {
		return resolution, err
	}
	if found {
		resolution.User = &user
	}

	if flags.Suggest {
		suggestions, err := r.catalog.SuggestUsernames(ctx, username, r.suggestLimit)
		if err != nil {
			return resolution, err
		}
		resolution.Suggestions = suggestions
	}

	verified := false
	if flags.Find {
		verified = r.verifier.Verify(ctx, username)
		// an unreachable page after the deadline says nothing about the account
		if err := ctx.Err(); err != nil {
			return resolution, err
		}
		resolution.Searched = true
	}

	if !found && verified && flags.Add {
		created, isNew, err := r.catalog.CreateUser(ctx, username)
		if errors.Is(err, catalog.ErrInvalidUsername) {
			resolution.Error = softErrorInvalidUsername
			return resolution, nil
		}
		if err != nil {
			return resolution, err
		}
		resolution.User = &created
		resolution.Added = isNew
	}

	if resolution.User != nil && flags.Sync {
		synced, err := r.syncer.Sync(ctx, *resolution.User)
		if err != nil {
			return resolution, err
		}
		resolution.User = &synced
		resolution.Synced = true
	}

	return resolution, nil
}
