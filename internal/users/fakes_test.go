package users

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/reelview/internal/catalog"
)

// newStoreFault builds an error the way the catalog store reports persistence failures.
func newStoreFault(t interface{ Fatalf(string, ...any) }) error {
	store, err := catalog.NewStore(catalog.StoreConfig{})
	if store != nil || err == nil || !catalog.IsStoreFault(err) {
		t.Fatalf("expected catalog to report a store fault, got %v", err)
	}
	return err
}

type fakeCatalog struct {
	mu          sync.Mutex
	users       map[string]catalog.User
	movieCounts map[uint]int64
	nextID      uint
	creates     int
	failFind    error
	failSuggest error
	failCreate  error
	failCount   error
}

func newFakeCatalog(usernames ...string) *fakeCatalog {
	fake := &fakeCatalog{users: make(map[string]catalog.User), movieCounts: make(map[uint]int64)}
	for _, username := range usernames {
		fake.nextID++
		fake.users[username] = catalog.User{
			ID:       fake.nextID,
			Username: username,
			AddedAt:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		}
	}
	return fake
}

func (f *fakeCatalog) FindUser(_ context.Context, username string) (catalog.User, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFind != nil {
		return catalog.User{}, false, f.failFind
	}
	user, ok := f.users[username]
	return user, ok, nil
}

func (f *fakeCatalog) SuggestUsernames(_ context.Context, prefix string, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSuggest != nil {
		return nil, f.failSuggest
	}
	names := make([]string, 0)
	for username := range f.users {
		if strings.HasPrefix(strings.ToLower(username), strings.ToLower(prefix)) {
			names = append(names, username)
		}
	}
	sort.Strings(names)
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}
	return names, nil
}

func (f *fakeCatalog) CreateUser(_ context.Context, username string) (catalog.User, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate != nil {
		return catalog.User{}, false, f.failCreate
	}
	if len(username) > 80 {
		return catalog.User{}, false, catalog.ErrInvalidUsername
	}
	if existing, ok := f.users[username]; ok {
		return existing, false, nil
	}
	f.creates++
	f.nextID++
	user := catalog.User{ID: f.nextID, Username: username, AddedAt: time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)}
	f.users[username] = user
	return user, true, nil
}

func (f *fakeCatalog) CountMovies(_ context.Context, userID uint) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCount != nil {
		return 0, f.failCount
	}
	return f.movieCounts[userID], nil
}

type fakeVerifier struct {
	mu       sync.Mutex
	existing map[string]bool
	calls    []string
}

func newFakeVerifier(usernames ...string) *fakeVerifier {
	existing := make(map[string]bool, len(usernames))
	for _, username := range usernames {
		existing[username] = true
	}
	return &fakeVerifier{existing: existing}
}

func (v *fakeVerifier) Verify(_ context.Context, username string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.calls = append(v.calls, username)
	return v.existing[username]
}

type fakeSyncer struct {
	mu      sync.Mutex
	catalog *fakeCatalog
	movies  map[string]int64
	fail    map[string]error
	calls   []string
}

func newFakeSyncer(fakeCatalog *fakeCatalog) *fakeSyncer {
	return &fakeSyncer{catalog: fakeCatalog, movies: make(map[string]int64), fail: make(map[string]error)}
}

func (s *fakeSyncer) Sync(_ context.Context, user catalog.User) (catalog.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, user.Username)
	if err := s.fail[user.Username]; err != nil {
		return catalog.User{}, err
	}
	syncedAt := time.Date(2024, 7, 1, 8, 0, 0, 0, time.UTC)
	user.SyncedAt = &syncedAt
	s.catalog.mu.Lock()
	s.catalog.movieCounts[user.ID] = s.movies[user.Username]
	s.catalog.users[user.Username] = user
	s.catalog.mu.Unlock()
	return user, nil
}

var errNotAStoreFault = errors.New("unexpected failure")

type verifierFunc func(ctx context.Context, username string) bool

func (f verifierFunc) Verify(ctx context.Context, username string) bool {
	return f(ctx, username)
}
