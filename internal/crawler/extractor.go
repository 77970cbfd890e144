package crawler

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

const (
	defaultItemCap = 50

	itemSelector   = "li.poster-container"
	posterSelector = "div.film-poster"
	attrFilmID     = "data-film-id"
	attrFilmName   = "data-film-name"
	attrFilmSlug   = "data-film-slug"

	placeholderTitle = "N/A"
)

// MovieEntry describes one film found on a watchlist page.
type MovieEntry struct {
	ID    string
	Title string
	Slug  string
}

// ExtractorConfig bounds how much of a page is read.
type ExtractorConfig struct {
	// ItemCap limits the items read per page. Zero selects the default of 50.
	ItemCap int
	Logger  *zap.Logger
}

// Extractor turns watchlist markup into movie entries.
type Extractor struct {
	itemCap int
	logger  *zap.Logger
}

// NewExtractor returns an Extractor with defaults applied.
func NewExtractor(cfg ExtractorConfig) *Extractor {
	itemCap := cfg.ItemCap
	if itemCap <= 0 {
		itemCap = defaultItemCap
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Extractor{itemCap: itemCap, logger: logger}
}

// Extract reads up to the item cap of poster items, in page order. Items without a
// film id are logged and dropped.
func (e *Extractor) Extract(page *Page) []MovieEntry {
	if page == nil {
		return nil
	}
	items := page.find(itemSelector)
	if items.Length() > e.itemCap {
		e.logger.Warn("page item cap reached",
			zap.String("url", page.url.String()),
			zap.Int("items", items.Length()),
			zap.Int("item_cap", e.itemCap))
		items = items.Slice(0, e.itemCap)
	}

	entries := make([]MovieEntry, 0, items.Length())
	items.Each(func(index int, item *goquery.Selection) {
		poster := item.Find(posterSelector).First()
		if poster.Length() == 0 {
			e.logger.Warn("movie poster not found", zap.String("url", page.url.String()), zap.Int("item", index))
			return
		}
		filmID := strings.TrimSpace(poster.AttrOr(attrFilmID, ""))
		if filmID == "" {
			e.logger.Warn("movie id not found", zap.String("url", page.url.String()), zap.Int("item", index))
			return
		}
		title := strings.TrimSpace(poster.AttrOr(attrFilmName, ""))
		if title == "" {
			title = placeholderTitle
		}
		entries = append(entries, MovieEntry{
			ID:    filmID,
			Title: title,
			Slug:  DisplaySlug(poster.AttrOr(attrFilmSlug, "")),
		})
	})
	return entries
}

// DisplaySlug converts a hyphenated slug into words: every segment gets an upper
// case first letter and a lower case remainder, joined by single spaces.
func DisplaySlug(slug string) string {
	segments := strings.Split(slug, "-")
	for index, segment := range segments {
		segments[index] = capitalize(segment)
	}
	return strings.Join(segments, " ")
}

func capitalize(word string) string {
	first, size := utf8.DecodeRuneInString(word)
	if size == 0 {
		return ""
	}
	return string(unicode.ToUpper(first)) + strings.ToLower(word[size:])
}
