package catalog

import (
	"time"
)

const maxUsernameLength = 80

// User is a locally cached account on the external movie-tracking site.
type User struct {
	ID       uint       `gorm:"column:id;primaryKey;autoIncrement"`
	Username string     `gorm:"column:username;size:80;not null;uniqueIndex:idx_users_username"`
	AddedAt  time.Time  `gorm:"column:added_at;not null"`
	SyncedAt *time.Time `gorm:"column:synced_at"`
}

// TableName provides the explicit table binding for GORM.
func (User) TableName() string {
	return "users"
}

// Synced reports whether at least one reconcile has completed for the user.
func (u User) Synced() bool {
	return u.SyncedAt != nil
}

// Movie is keyed by the external film identifier and shared across users.
// Rows are written once and never updated.
type Movie struct {
	ID    string `gorm:"column:id;primaryKey;size:255;not null"`
	Title string `gorm:"column:title;size:255;not null"`
	Slug  string `gorm:"column:slug;size:255;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Movie) TableName() string {
	return "movies"
}

// UserMovie records that a user's watchlist contains a movie.
type UserMovie struct {
	UserID  uint      `gorm:"column:user_id;primaryKey;autoIncrement:false;index:idx_user_movies_user"`
	MovieID string    `gorm:"column:movie_id;primaryKey;size:255;not null;index:idx_user_movies_movie"`
	AddedAt time.Time `gorm:"column:added_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (UserMovie) TableName() string {
	return "user_movies"
}

// Models lists every record type owned by the catalog, in migration order.
func Models() []any {
	return []any{&User{}, &Movie{}, &UserMovie{}}
}
