package linkreader

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/samvad-hq/samvad-digest-feeds/internal/logger"
	"github.com/samvad-hq/samvad-digest-feeds/pkg/feedparser"
)

const (
	maxHTMLBodyBytes = 1 << 20 // 1 MiB
	// MaxTextRunes is how much page text a summarizer receives.
	MaxTextRunes = 10000
)

// TextFetcher retrieves raw page text.
type TextFetcher interface {
	FetchText(ctx context.Context, url string) (string, bool)
}

// Page is the readable content of an arbitrary link.
type Page struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
	Text        string `json:"text"`
}

// Reader fetches pages through the resilient fetcher and extracts their text.
type Reader struct {
	fetcher TextFetcher
	log     logger.Logger
}

// New constructs a Reader.
func New(fetcher TextFetcher, log logger.Logger) *Reader {
	return &Reader{fetcher: fetcher, log: logger.Ensure(log)}
}

// Read returns the page behind link; ok is false when it could not be fetched
// or holds no readable text.
func (r *Reader) Read(ctx context.Context, link string) (Page, bool) {
	raw, ok := r.fetcher.FetchText(ctx, link)
	if !ok {
		return Page{}, false
	}
	if len(raw) > maxHTMLBodyBytes {
		raw = raw[:maxHTMLBodyBytes]
	}

	page, err := parsePage(link, raw)
	if err != nil {
		r.log.WarnObj("link parse failed", "link_error", map[string]any{
			"url":   link,
			"error": err.Error(),
		})
		return Page{}, false
	}
	if page.Text == "" && page.Title == "" {
		return Page{}, false
	}
	return page, true
}

func parsePage(link, raw string) (Page, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return Page{}, fmt.Errorf("parse html: %w", err)
	}

	extract := func(sel string) string {
		if node := doc.Find(sel).First(); node.Length() > 0 {
			if val, ok := node.Attr("content"); ok {
				return strings.TrimSpace(val)
			}
		}
		return ""
	}

	page := Page{URL: link}
	page.Title = firstNonEmpty(
		extract(`meta[property="og:title"]`),
		strings.TrimSpace(doc.Find("title").First().Text()),
	)
	page.Description = firstNonEmpty(
		extract(`meta[property="og:description"]`),
		extract(`meta[name="description"]`),
	)
	page.ImageURL = resolve(link, extract(`meta[property="og:image"]`))

	doc.Find("script, style, noscript, template, svg, iframe, head").Remove()
	body := doc.Find("article").First()
	if body.Length() == 0 {
		body = doc.Find("body")
	}
	text := feedparser.CollapseSpace(body.Text())
	page.Text = strings.TrimSpace(feedparser.Truncate(text, MaxTextRunes))

	return page, nil
}

func resolve(base, ref string) string {
	if ref == "" {
		return ""
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
