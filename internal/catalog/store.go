package catalog

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	columnUsername    = "username"
	queryUsername     = columnUsername + " = ?"
	queryUserID       = "user_id = ?"
	queryUsernameLike = "LOWER(" + columnUsername + ") LIKE ? ESCAPE '\\'"
	orderUsernameAsc  = columnUsername + " ASC"
	insertBatchSize   = 100
	dialectSQLite     = "sqlite"
)

var noOpLogger = zap.NewNop()

// StoreConfig describes the dependencies of the catalog store.
type StoreConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	Logger   *zap.Logger
}

// Store reads and writes users, movies and watchlist associations.
type Store struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// NewStore validates the configuration and returns a Store.
func NewStore(cfg StoreConfig) (*Store, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opStoreNew, "missing_database", errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Store{db: cfg.Database, clock: clock, logger: logger}, nil
}

// FindUser looks up a username exactly. A miss is reported as found == false.
func (s *Store) FindUser(ctx context.Context, username string) (User, bool, error) {
	if s.db == nil {
		return User{}, false, newServiceError(opFindUser, "missing_database", errMissingDatabase)
	}
	var user User
	err := s.db.WithContext(ctx).Where(queryUsername, username).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, false, nil
	}
	if err != nil {
		s.logError(opFindUser, "query_failed", err, zap.String("username", username))
		return User{}, false, newServiceError(opFindUser, "query_failed", err)
	}
	return user, true, nil
}

// SuggestUsernames returns stored usernames starting with prefix, ignoring case as
// far as the database's LOWER does. A limit of zero or less returns every match.
func (s *Store) SuggestUsernames(ctx context.Context, prefix string, limit int) ([]string, error) {
	if s.db == nil {
		return nil, newServiceError(opSuggestUsernames, "missing_database", errMissingDatabase)
	}
	query := s.db.WithContext(ctx).
		Model(&User{}).
		Where(queryUsernameLike, escapeLike(s.foldCase(prefix))+"%").
		Order(orderUsernameAsc)
	if limit > 0 {
		query = query.Limit(limit)
	}
	names := make([]string, 0)
	if err := query.Pluck(columnUsername, &names).Error; err != nil {
		s.logError(opSuggestUsernames, "query_failed", err, zap.String("prefix", prefix))
		return nil, newServiceError(opSuggestUsernames, "query_failed", err)
	}
	return names, nil
}

// CreateUser inserts a user. When a concurrent request created the same username
// first, the existing row is returned with created == false.
func (s *Store) CreateUser(ctx context.Context, username string) (User, bool, error) {
	if s.db == nil {
		return User{}, false, newServiceError(opCreateUser, "missing_database", errMissingDatabase)
	}
	if err := validateUsername(username); err != nil {
		return User{}, false, err
	}
	user := User{Username: username, AddedAt: s.clock().UTC()}
	result := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: columnUsername}}, DoNothing: true}).
		Create(&user)
	if result.Error != nil {
		s.logError(opCreateUser, "insert_failed", result.Error, zap.String("username", username))
		return User{}, false, newServiceError(opCreateUser, "insert_failed", result.Error)
	}
	if result.RowsAffected == 1 {
		s.logger.Info("user added", zap.String("username", username), zap.Uint("user_id", user.ID))
		return user, true, nil
	}

	existing, found, err := s.FindUser(ctx, username)
	if err != nil {
		return User{}, false, err
	}
	if !found {
		return User{}, false, newServiceError(opCreateUser, "conflict_reload_failed", gorm.ErrRecordNotFound)
	}
	return existing, false, nil
}

// CountMovies returns the number of watchlist associations held by the user.
func (s *Store) CountMovies(ctx context.Context, userID uint) (int64, error) {
	if s.db == nil {
		return 0, newServiceError(opCountMovies, "missing_database", errMissingDatabase)
	}
	var count int64
	if err := s.db.WithContext(ctx).Model(&UserMovie{}).Where(queryUserID, userID).Count(&count).Error; err != nil {
		s.logError(opCountMovies, "query_failed", err, zap.Uint("user_id", userID))
		return 0, newServiceError(opCountMovies, "query_failed", err)
	}
	return count, nil
}

// Ping verifies the underlying connection is usable.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return newServiceError(opPing, "missing_database", errMissingDatabase)
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return newServiceError(opPing, "handle_unavailable", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return newServiceError(opPing, "ping_failed", err)
	}
	return nil
}

// Transaction runs fn as a single unit of work. Returning an error from fn, or any
// store failure inside it, rolls back every write made through the Tx.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Tx) error) error {
	if s.db == nil {
		return newServiceError(opTransaction, "missing_database", errMissingDatabase)
	}
	err := s.db.WithContext(ctx).Transaction(func(gormTx *gorm.DB) error {
		return fn(&Tx{db: gormTx, clock: s.clock, logger: s.logger})
	})
	if err == nil {
		return nil
	}
	var serviceErr *ServiceError
	if errors.As(err, &serviceErr) {
		return err
	}
	s.logError(opTransaction, "aborted", err)
	return newServiceError(opTransaction, "aborted", err)
}

func (s *Store) logError(operation, reason string, err error, fields ...zap.Field) {
	logStoreError(s.logger, operation, reason, err, fields...)
}

func logStoreError(logger *zap.Logger, operation, reason string, err error, fields ...zap.Field) {
	if logger == nil {
		logger = noOpLogger
	}
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	logger.Error("catalog store error", attrs...)
}

// foldCase lowers value the way the dialect's LOWER lowers the column. SQLite only
// folds ASCII letters, so "Émile" matches "ÉMI" there but never "émi".
func (s *Store) foldCase(value string) string {
	if s.db.Dialector != nil && s.db.Dialector.Name() == dialectSQLite {
		return asciiLower(value)
	}
	return strings.ToLower(value)
}

func asciiLower(value string) string {
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' {
			return r + ('a' - 'A')
		}
		return r
	}, value)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(value string) string {
	return likeEscaper.Replace(value)
}
