package crawler

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const nextPageSelector = "a.next"

// Page is a fetched and parsed watchlist page. It is never modified after parsing.
type Page struct {
	url      *url.URL
	document *goquery.Document
}

// NewPage parses markup read from body. pageURL anchors relative links.
func NewPage(pageURL *url.URL, body io.Reader) (*Page, error) {
	if pageURL == nil {
		return nil, fmt.Errorf("crawler: page url is required")
	}
	document, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("crawler: parse page: %w", err)
	}
	copied := *pageURL
	return &Page{url: &copied, document: document}, nil
}

// URL returns a copy of the address the page was fetched from.
func (p *Page) URL() *url.URL {
	copied := *p.url
	return &copied
}

// NextURL returns the absolute address of the following page, when the page links
// to one.
func (p *Page) NextURL() (string, bool) {
	href, ok := p.document.Find(nextPageSelector).First().Attr("href")
	if !ok {
		return "", false
	}
	href = strings.TrimSpace(href)
	if href == "" {
		return "", false
	}
	reference, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	return p.url.ResolveReference(reference).String(), true
}

func (p *Page) find(selector string) *goquery.Selection {
	return p.document.Find(selector)
}
