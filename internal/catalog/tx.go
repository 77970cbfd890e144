package catalog

import (
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Tx exposes the watchlist writes available inside Store.Transaction.
type Tx struct {
	db     *gorm.DB
	clock  func() time.Time
	logger *zap.Logger
}

// ClearWatchlist deletes every association held by the user.
func (tx *Tx) ClearWatchlist(userID uint) (int64, error) {
	result := tx.db.Where(queryUserID, userID).Delete(&UserMovie{})
	if result.Error != nil {
		logStoreError(tx.logger, opClearWatchlist, "delete_failed", result.Error, zap.Uint("user_id", userID))
		return 0, newServiceError(opClearWatchlist, "delete_failed", result.Error)
	}
	return result.RowsAffected, nil
}

// EnsureMovies inserts movies whose ids are not yet known. Existing rows keep their
// original title and slug. It returns how many rows were newly created.
func (tx *Tx) EnsureMovies(movies []Movie) (int64, error) {
	if len(movies) == 0 {
		return 0, nil
	}
	result := tx.db.
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		CreateInBatches(movies, insertBatchSize)
	if result.Error != nil {
		logStoreError(tx.logger, opEnsureMovies, "insert_failed", result.Error, zap.Int("movies", len(movies)))
		return 0, newServiceError(opEnsureMovies, "insert_failed", result.Error)
	}
	return result.RowsAffected, nil
}

// LinkMovies associates the movies with the user. Pairs that already exist are left
// untouched, so replaying a link never produces duplicates.
func (tx *Tx) LinkMovies(userID uint, movieIDs []string) (int64, error) {
	if len(movieIDs) == 0 {
		return 0, nil
	}
	addedAt := tx.clock().UTC()
	links := make([]UserMovie, 0, len(movieIDs))
	for _, movieID := range movieIDs {
		links = append(links, UserMovie{UserID: userID, MovieID: movieID, AddedAt: addedAt})
	}
	result := tx.db.
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}, {Name: "movie_id"}}, DoNothing: true}).
		CreateInBatches(links, insertBatchSize)
	if result.Error != nil {
		logStoreError(tx.logger, opLinkMovies, "insert_failed", result.Error, zap.Uint("user_id", userID))
		return 0, newServiceError(opLinkMovies, "insert_failed", result.Error)
	}
	return result.RowsAffected, nil
}

// StampSynced records the completion time of a reconcile and returns it.
func (tx *Tx) StampSynced(userID uint) (time.Time, error) {
	syncedAt := tx.clock().UTC()
	result := tx.db.Model(&User{}).Where("id = ?", userID).Update("synced_at", syncedAt)
	if result.Error != nil {
		logStoreError(tx.logger, opStampSynced, "update_failed", result.Error, zap.Uint("user_id", userID))
		return time.Time{}, newServiceError(opStampSynced, "update_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		logStoreError(tx.logger, opStampSynced, "user_missing", gorm.ErrRecordNotFound, zap.Uint("user_id", userID))
		return time.Time{}, newServiceError(opStampSynced, "user_missing", gorm.ErrRecordNotFound)
	}
	return syncedAt, nil
}
