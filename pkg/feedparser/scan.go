package feedparser

import (
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/mmcdole/gofeed/atom"
	ext "github.com/mmcdole/gofeed/extensions"
	xpp "github.com/mmcdole/goxpp"
	"golang.org/x/net/html/charset"
)

// parseItems decodes raw with gofeed. When gofeed finds no items, for example
// because item or entry elements carry a namespace prefix, the document is
// scanned again matching elements by local name only.
func parseItems(raw string) (items []*gofeed.Item, isAtom bool) {
	feed, err := gofeed.NewParser().ParseString(raw)
	if err == nil && feed != nil && len(feed.Items) > 0 {
		isAtom = feed.FeedType == "atom"
		if isAtom {
			resolveAtomLinks(raw, feed.Items)
		}
		return feed.Items, isAtom
	}
	return scanItems(raw)
}

// resolveAtomLinks fills empty item links from the entry's first link of any
// rel. gofeed only keeps alternate and self links.
func resolveAtomLinks(raw string, items []*gofeed.Item) {
	doc, err := (&atom.Parser{}).Parse(strings.NewReader(raw))
	if err != nil || len(doc.Entries) != len(items) {
		return
	}
	for i, it := range items {
		if it == nil || strings.TrimSpace(it.Link) != "" {
			continue
		}
		links := make([]rawLink, 0, len(doc.Entries[i].Links))
		for _, l := range doc.Entries[i].Links {
			if l != nil {
				links = append(links, rawLink{href: l.Href, rel: l.Rel})
			}
		}
		it.Link = pickLink(links)
	}
}

type rawLink struct {
	href string
	rel  string
}

// pickLink returns the alternate link, else the first one with an href.
func pickLink(links []rawLink) string {
	first := ""
	for _, l := range links {
		href := strings.TrimSpace(l.href)
		if href == "" {
			continue
		}
		if l.rel == "" || strings.EqualFold(l.rel, "alternate") {
			return href
		}
		if first == "" {
			first = href
		}
	}
	return first
}

func scanItems(raw string) ([]*gofeed.Item, bool) {
	p := xpp.NewXMLPullParser(strings.NewReader(raw), false, charset.NewReaderLabel)

	var items []*gofeed.Item
	isAtom := false
	for {
		ev, err := p.Next()
		if err != nil || ev == xpp.EndDocument {
			return items, isAtom
		}
		if ev != xpp.StartTag {
			continue
		}
		switch strings.ToLower(p.Name) {
		case "feed":
			isAtom = true
		case "item", "entry":
			items = append(items, scanItem(p))
		}
	}
}

// scanItem reads the children of the current item or entry element.
func scanItem(p *xpp.XMLPullParser) *gofeed.Item {
	it := &gofeed.Item{Extensions: ext.Extensions{}}
	depth := p.Depth

	var links []rawLink
	var published, updated string
	for {
		ev, err := p.Next()
		if err != nil || ev == xpp.EndDocument {
			break
		}
		if ev == xpp.EndTag && p.Depth < depth {
			break
		}
		if ev != xpp.StartTag {
			continue
		}

		name := strings.ToLower(p.Name)
		href, rel, mediaURL := p.Attribute("href"), p.Attribute("rel"), p.Attribute("url")
		typ := p.Attribute("type")
		text := strings.TrimSpace(elementText(p))

		switch name {
		case "title":
			setOnce(&it.Title, text)
		case "link":
			if href != "" {
				links = append(links, rawLink{href: href, rel: rel})
				if strings.EqualFold(rel, "enclosure") {
					it.Enclosures = append(it.Enclosures, &gofeed.Enclosure{URL: href, Type: typ})
				}
			} else {
				links = append(links, rawLink{href: text})
			}
		case "description", "summary":
			setOnce(&it.Description, text)
		case "encoded":
			setOnce(&it.Content, text)
		case "content":
			if mediaURL != "" {
				addExtension(it, "media", "content", map[string]string{"url": mediaURL, "type": typ})
			} else {
				setOnce(&it.Content, text)
			}
		case "enclosure":
			if mediaURL != "" {
				it.Enclosures = append(it.Enclosures, &gofeed.Enclosure{URL: mediaURL, Type: typ})
			}
		case "guid", "id":
			setOnce(&it.GUID, text)
		case "pubdate", "published", "issued":
			setOnce(&published, text)
		case "updated", "modified", "date":
			setOnce(&updated, text)
		}
	}

	it.Link = pickLink(links)
	it.PublishedParsed = parseDate(published)
	it.UpdatedParsed = parseDate(updated)
	return it
}

// elementText consumes the current element and returns its concatenated
// character data, nested markup included as text only.
func elementText(p *xpp.XMLPullParser) string {
	depth := p.Depth
	var b strings.Builder
	for {
		ev, err := p.Next()
		if err != nil || ev == xpp.EndDocument {
			return b.String()
		}
		switch ev {
		case xpp.Text:
			b.WriteString(p.Text)
		case xpp.EndTag:
			if p.Depth < depth {
				return b.String()
			}
		}
	}
}

func setOnce(dst *string, v string) {
	if *dst == "" {
		*dst = v
	}
}

func addExtension(it *gofeed.Item, prefix, name string, attrs map[string]string) {
	if it.Extensions[prefix] == nil {
		it.Extensions[prefix] = map[string][]ext.Extension{}
	}
	it.Extensions[prefix][name] = append(it.Extensions[prefix][name], ext.Extension{Name: name, Attrs: attrs})
}

var dateLayouts = []string{
	time.RFC1123Z,
	time.RFC1123,
	time.RFC3339Nano,
	time.RFC3339,
	time.RFC822Z,
	time.RFC822,
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04:05 MST",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}
