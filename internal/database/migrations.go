package database

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationIndexUsernameLower    = "2024-05-01_index_username_lower"
	migrationPruneOrphanUserMovies = "2024-05-02_prune_orphan_user_movies"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationIndexUsernameLower, apply: indexUsernameLower},
		{name: migrationPruneOrphanUserMovies, apply: pruneOrphanUserMovies},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

// indexUsernameLower backs the case-insensitive prefix search on usernames.
func indexUsernameLower(db *gorm.DB) error {
	return db.Exec("CREATE INDEX IF NOT EXISTS idx_users_username_lower ON users (LOWER(username))").Error
}

func pruneOrphanUserMovies(db *gorm.DB) error {
	return db.Exec(`DELETE FROM user_movies
		WHERE NOT EXISTS (SELECT 1 FROM users WHERE users.id = user_movies.user_id)
		OR NOT EXISTS (SELECT 1 FROM movies WHERE movies.id = user_movies.movie_id)`).Error
}
