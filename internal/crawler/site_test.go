package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type testFilm struct {
	id   string
	name string
	slug string
}

func watchlistHTML(nextHref string, films ...testFilm) string {
	var builder strings.Builder
	builder.WriteString("<html><body><ul class=\"poster-list\">")
	for _, film := range films {
		builder.WriteString("<li class=\"poster-container\"><div class=\"film-poster\"")
		if film.id != "" {
			fmt.Fprintf(&builder, " data-film-id=%q", film.id)
		}
		if film.name != "" {
			fmt.Fprintf(&builder, " data-film-name=%q", film.name)
		}
		fmt.Fprintf(&builder, " data-film-slug=%q></div></li>", film.slug)
	}
	builder.WriteString("</ul>")
	if nextHref != "" {
		fmt.Fprintf(&builder, "<div class=\"pagination\"><a class=\"next\" href=%q>Older</a></div>", nextHref)
	}
	builder.WriteString("</body></html>")
	return builder.String()
}

// pagedSite serves a watchlist of the given page count with perPage films each.
type pagedSite struct {
	mu       sync.Mutex
	requests map[string]int
	server   *httptest.Server
}

func newPagedSite(t *testing.T, username string, pages, perPage int) *pagedSite {
	t.Helper()
	site := &pagedSite{requests: make(map[string]int)}
	site.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		site.mu.Lock()
		site.requests[r.URL.Path]++
		site.mu.Unlock()

		prefix := "/" + username + "/watchlist/"
		if !strings.HasPrefix(r.URL.Path, prefix) {
			http.NotFound(w, r)
			return
		}
		pageNumber := 1
		rest := strings.TrimPrefix(r.URL.Path, prefix)
		if rest != "" {
			if _, err := fmt.Sscanf(rest, "page/%d/", &pageNumber); err != nil {
				http.NotFound(w, r)
				return
			}
		}
		if pageNumber < 1 || pageNumber > pages {
			http.NotFound(w, r)
			return
		}
		films := make([]testFilm, 0, perPage)
		for index := 0; index < perPage; index++ {
			id := fmt.Sprintf("%d-%d", pageNumber, index)
			films = append(films, testFilm{id: id, name: "Film " + id, slug: "film-" + id})
		}
		next := ""
		if pageNumber < pages {
			next = fmt.Sprintf("%spage/%d/", prefix, pageNumber+1)
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(watchlistHTML(next, films...)))
	}))
	t.Cleanup(site.server.Close)
	return site
}

func (s *pagedSite) totalRequests() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, count := range s.requests {
		total += count
	}
	return total
}

func instantRetry(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		Backoff:     ConstantBackoff(time.Millisecond),
		Sleep: func(context.Context, time.Duration) error {
			return nil
		},
	}
}
