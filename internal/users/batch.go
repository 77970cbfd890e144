package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/reelview/internal/catalog"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 4

// StoreFaultPolicy decides how far a persistence failure for one username reaches.
type StoreFaultPolicy string

const (
	// StoreFaultIsolate reports the fault in that username's result only.
	StoreFaultIsolate StoreFaultPolicy = "isolate"
	// StoreFaultAbort fails the whole batch on the first fault.
	StoreFaultAbort StoreFaultPolicy = "abort"
)

// ParseStoreFaultPolicy accepts "isolate" or "abort"; empty selects isolate.
func ParseStoreFaultPolicy(value string) (StoreFaultPolicy, error) {
	switch StoreFaultPolicy(strings.ToLower(strings.TrimSpace(value))) {
	case "", StoreFaultIsolate:
		return StoreFaultIsolate, nil
	case StoreFaultAbort:
		return StoreFaultAbort, nil
	default:
		return "", fmt.Errorf("users: unknown store fault policy %q", value)
	}
}

// UserDetail summarizes a resolved user.
type UserDetail struct {
	Username   string
	AddedAt    time.Time
	SyncedAt   *time.Time
	MovieCount int64
}

// ResultData holds the per-username flags and details.
type ResultData struct {
	Added       bool
	Synced      bool
	Searched    bool
	Suggestions []string
	User        *UserDetail
}

// Result is the per-username entry of a batch response.
type Result struct {
	Error *string
	Data  ResultData
}

// UsernameResolver resolves a single username.
type UsernameResolver interface {
	Resolve(ctx context.Context, username string, flags Flags) (Resolution, error)
}

// MovieCounter reports how many movies a user's watchlist holds.
type MovieCounter interface {
	CountMovies(ctx context.Context, userID uint) (int64, error)
}

// BatchConfig wires the batch processor.
type BatchConfig struct {
	Resolver UsernameResolver
	Counter  MovieCounter
	// Concurrency bounds the usernames resolved at once. Zero selects 4.
	Concurrency      int
	StoreFaultPolicy StoreFaultPolicy
	Logger           *zap.Logger
}

// BatchProcessor resolves every username of a request.
type BatchProcessor struct {
	resolver    UsernameResolver
	counter     MovieCounter
	concurrency int
	policy      StoreFaultPolicy
	logger      *zap.Logger
}

// NewBatchProcessor validates the configuration and returns a BatchProcessor.
func NewBatchProcessor(cfg BatchConfig) (*BatchProcessor, error) {
	if cfg.Resolver == nil {
		return nil, errMissingResolver
	}
	if cfg.Counter == nil {
		return nil, errMissingCatalog
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	policy, err := ParseStoreFaultPolicy(string(cfg.StoreFaultPolicy))
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchProcessor{
		resolver:    cfg.Resolver,
		counter:     cfg.Counter,
		concurrency: concurrency,
		policy:      policy,
		logger:      logger,
	}, nil
}

// Process resolves each distinct username and returns results keyed by username.
// Soft outcomes never affect sibling usernames. Store faults follow the configured
// policy; any other error, including context expiry, fails the batch.
func (b *BatchProcessor) Process(ctx context.Context, usernames []string, flags Flags) (map[string]Result, error) {
	distinct := distinctUsernames(usernames)
	b.logger.Info("processing usernames",
		zap.Strings("usernames", distinct),
		zap.Bool("suggest", flags.Suggest),
		zap.Bool("find", flags.Find),
		zap.Bool("add", flags.Add),
		zap.Bool("sync", flags.Sync))

	results := make([]Result, len(distinct))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(b.concurrency)
	for index, username := range distinct {
		index, username := index, username
		group.Go(func() error {
			result, err := b.processOne(groupCtx, username, flags)
			if err != nil {
				return err
			}
			results[index] = result
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		b.logger.Error("batch aborted", zap.Error(err))
		return nil, err
	}

	byUsername := make(map[string]Result, len(distinct))
	for index, username := range distinct {
		byUsername[username] = results[index]
	}
	b.logger.Info("processed usernames", zap.Int("usernames", len(byUsername)))
	return byUsername, nil
}

func (b *BatchProcessor) processOne(ctx context.Context, username string, flags Flags) (Result, error) {
	resolution, err := b.resolver.Resolve(ctx, username, flags)
	if err != nil {
		return b.storeFault(ctx, username, resolution, err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("users: resolve %q: %w", username, err)
	}

	result := Result{Data: resultData(resolution)}
	if resolution.Error != "" {
		message := resolution.Error
		result.Error = &message
	}
	if resolution.User != nil {
		count, err := b.counter.CountMovies(ctx, resolution.User.ID)
		if err != nil {
			return b.storeFault(ctx, username, resolution, err)
		}
		result.Data.User = &UserDetail{
			Username:   resolution.User.Username,
			AddedAt:    resolution.User.AddedAt,
			SyncedAt:   resolution.User.SyncedAt,
			MovieCount: count,
		}
	}
	return result, nil
}

// storeFault applies the policy to err. A failure seen after ctx ended is reported
// as the context error even when the driver did not wrap it.
func (b *BatchProcessor) storeFault(ctx context.Context, username string, resolution Resolution, err error) (Result, error) {
	if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
		err = fmt.Errorf("%w: %w", ctxErr, err)
	}
	if !catalog.IsStoreFault(err) || b.policy == StoreFaultAbort {
		return Result{}, fmt.Errorf("users: resolve %q: %w", username, err)
	}
	b.logger.Error("database error processing user", zap.String("username", username), zap.Error(err))
	message := softErrorDatabase
	return Result{Error: &message, Data: resultData(resolution)}, nil
}

func resultData(resolution Resolution) ResultData {
	suggestions := resolution.Suggestions
	if suggestions == nil {
		suggestions = []string{}
	}
	return ResultData{
		Added:       resolution.Added,
		Synced:      resolution.Synced,
		Searched:    resolution.Searched,
		Suggestions: suggestions,
	}
}

func distinctUsernames(usernames []string) []string {
	seen := make(map[string]struct{}, len(usernames))
	distinct := make([]string, 0, len(usernames))
	for _, username := range usernames {
		if _, ok := seen[username]; ok {
			continue
		}
		seen[username] = struct{}{}
		distinct = append(distinct, username)
	}
	return distinct
}
