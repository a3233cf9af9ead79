// Package feedparser turns RSS and Atom documents into normalized articles.
package feedparser

import (
	"maps"
	"net/url"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"

	"github.com/samvad-hq/samvad-digest-feeds/internal/domain"
)

const (
	// MaxSummaryRunes caps the cleaned summary length.
	MaxSummaryRunes = 500
	// DefaultFreshness is how far back an item may be published and still count.
	DefaultFreshness = 120 * time.Hour
	// StaleFallbackCount is how many items are kept when none are fresh.
	StaleFallbackCount = 5
)

// Parser is safe for concurrent use.
type Parser struct {
	now       func() time.Time
	freshness time.Duration
}

// Option customizes a Parser.
type Option func(*Parser)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Parser) {
		if now != nil {
			p.now = now
		}
	}
}

// WithFreshness overrides DefaultFreshness. Non-positive values are ignored.
func WithFreshness(d time.Duration) Option {
	return func(p *Parser) {
		if d > 0 {
			p.freshness = d
		}
	}
}

// New returns a Parser with default settings.
func New(opts ...Option) *Parser {
	p := &Parser{now: time.Now, freshness: DefaultFreshness}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// itemLookup extracts one candidate value from a parsed item.
type itemLookup func(*gofeed.Item) string

var (
	// gofeed maps content:encoded and atom:content to Content,
	// description and atom:summary to Description.
	rssSummaryLookups  = []itemLookup{itemContent, itemDescription}
	atomSummaryLookups = []itemLookup{itemDescription, itemContent}

	linkLookups  = []itemLookup{itemLink, itemFirstLink, itemExtensionLink, itemGUIDURL}
	imageLookups = []itemLookup{itemMediaContent, itemEnclosure}
)

func itemContent(it *gofeed.Item) string     { return it.Content }
func itemDescription(it *gofeed.Item) string { return it.Description }
func itemLink(it *gofeed.Item) string        { return it.Link }

func itemFirstLink(it *gofeed.Item) string {
	for _, l := range it.Links {
		if strings.TrimSpace(l) != "" {
			return l
		}
	}
	return ""
}

// itemExtensionLink resolves namespaced <atom:link href> elements, checking
// the atom prefix before any other.
func itemExtensionLink(it *gofeed.Item) string {
	prefixes := slices.Sorted(maps.Keys(it.Extensions))
	if i := slices.Index(prefixes, "atom"); i > 0 {
		prefixes = append([]string{"atom"}, slices.Delete(prefixes, i, i+1)...)
	}
	for _, prefix := range prefixes {
		var links []rawLink
		for _, e := range it.Extensions[prefix]["link"] {
			links = append(links, rawLink{href: e.Attrs["href"], rel: e.Attrs["rel"]})
		}
		if l := pickLink(links); l != "" {
			return l
		}
	}
	return ""
}

func itemGUIDURL(it *gofeed.Item) string {
	if IsHTTPURL(it.GUID) {
		return it.GUID
	}
	return ""
}

func itemMediaContent(it *gofeed.Item) string {
	for _, ext := range it.Extensions["media"]["content"] {
		if u := ext.Attrs["url"]; u != "" {
			return u
		}
	}
	return ""
}

// itemEnclosure prefers image enclosures, then untyped ones. Other media
// types are never used as images.
func itemEnclosure(it *gofeed.Item) string {
	untyped := ""
	for _, enc := range it.Enclosures {
		if enc == nil || strings.TrimSpace(enc.URL) == "" {
			continue
		}
		typ := strings.ToLower(strings.TrimSpace(enc.Type))
		switch {
		case strings.HasPrefix(typ, "image/"):
			return enc.URL
		case typ == "" && untyped == "":
			untyped = enc.URL
		}
	}
	return untyped
}

func firstNonEmpty(it *gofeed.Item, lookups []itemLookup) string {
	for _, lookup := range lookups {
		if v := strings.TrimSpace(lookup(it)); v != "" {
			return v
		}
	}
	return ""
}

// Parse converts raw feed text into articles labelled with sourceName.
// Malformed input yields an empty result.
func (p *Parser) Parse(raw, sourceName string) []domain.Article {
	items, isAtom := parseItems(raw)
	if len(items) == 0 {
		return nil
	}

	summaryLookups := rssSummaryLookups
	if isAtom {
		summaryLookups = atomSummaryLookups
	}

	now := p.now()
	parsed := make([]domain.Article, 0, len(items))
	dates := make([]time.Time, 0, len(items))
	for _, it := range items {
		if it == nil {
			continue
		}
		title := CollapseSpace(it.Title)
		if title == "" {
			continue
		}

		rawSummary := firstNonEmpty(it, summaryLookups)
		image := firstNonEmpty(it, imageLookups)
		if image == "" {
			image = FirstImage(rawSummary)
		}
		if image == "" && it.Image != nil {
			image = strings.TrimSpace(it.Image.URL)
		}

		published := now
		switch {
		case it.PublishedParsed != nil:
			published = *it.PublishedParsed
		case it.UpdatedParsed != nil:
			published = *it.UpdatedParsed
		}

		parsed = append(parsed, domain.Article{
			Title:     title,
			Summary:   CleanSummary(rawSummary, title),
			Link:      firstNonEmpty(it, linkLookups),
			Published: domain.FormatPublished(published),
			Source:    sourceName,
			ImageURL:  image,
		})
		dates = append(dates, published)
	}

	cutoff := now.Add(-p.freshness)
	fresh := make([]domain.Article, 0, len(parsed))
	for i, a := range parsed {
		if dates[i].After(cutoff) {
			fresh = append(fresh, a)
		}
	}
	if len(fresh) == 0 && len(parsed) > 0 {
		n := min(StaleFallbackCount, len(parsed))
		return parsed[:n]
	}
	return fresh
}

// CleanSummary strips markup from raw, collapses whitespace and truncates to
// MaxSummaryRunes. An empty result falls back to fallback.
func CleanSummary(raw, fallback string) string {
	text := StripTags(unwrapCDATA(raw))
	text = strings.TrimSpace(Truncate(CollapseSpace(text), MaxSummaryRunes))
	if text == "" {
		return fallback
	}
	return text
}

// StripTags returns the text content of an HTML fragment.
func StripTags(fragment string) string {
	if !strings.ContainsAny(fragment, "<&") {
		return fragment
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	doc.Find("script, style").Remove()
	return doc.Text()
}

// FirstImage returns the src of the first <img> in an HTML fragment.
func FirstImage(fragment string) string {
	if !strings.Contains(fragment, "<img") {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return ""
	}
	src, _ := doc.Find("img[src]").First().Attr("src")
	return strings.TrimSpace(src)
}

// CollapseSpace trims s and folds whitespace runs into single spaces.
func CollapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// IsHTTPURL reports whether s is an absolute http or https URL.
func IsHTTPURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func unwrapCDATA(s string) string {
	s = strings.ReplaceAll(s, "<![CDATA[", "")
	return strings.ReplaceAll(s, "]]>", "")
}
