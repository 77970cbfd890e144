package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	// ErrInvalidUsername indicates an empty or oversized username.
	ErrInvalidUsername = errors.New("catalog: invalid username")
)

// ServiceError is raised for every persistence-layer failure. Callers treat it as a
// store fault rather than a soft outcome.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation.reason identifier.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opStoreNew         = "catalog.store.new"
	opFindUser         = "catalog.find_user"
	opSuggestUsernames = "catalog.suggest_usernames"
	opCreateUser       = "catalog.create_user"
	opCountMovies      = "catalog.count_movies"
	opPing             = "catalog.ping"
	opTransaction      = "catalog.transaction"
	opClearWatchlist   = "catalog.clear_watchlist"
	opEnsureMovies     = "catalog.ensure_movies"
	opLinkMovies       = "catalog.link_movies"
	opStampSynced      = "catalog.stamp_synced"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// IsStoreFault reports whether err originated in the persistence layer. A call cut
// short by its context is not a store fault: the caller's deadline or cancellation
// decides the outcome instead.
func IsStoreFault(err error) bool {
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func validateUsername(username string) error {
	if strings.TrimSpace(username) == "" {
		return fmt.Errorf("%w: empty", ErrInvalidUsername)
	}
	if len(username) > maxUsernameLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidUsername, maxUsernameLength)
	}
	return nil
}
