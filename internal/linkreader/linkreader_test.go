package linkreader

import (
	"context"
	"strings"
	"testing"
)

// stubFetcher returns a single body.
type stubFetcher struct {
	body string
	ok   bool
}

func (s stubFetcher) FetchText(context.Context, string) (string, bool) { return s.body, s.ok }

func TestReadPrefersOGTags(t *testing.T) {
	html := `
<html>
  <head>
    <title>Fallback</title>
    <meta property="og:title" content="OG Title">
    <meta property="og:description" content="OG Desc">
    <meta property="og:image" content="/img/og.png">
    <script>var tracking = 1;</script>
  </head>
  <body>
    <nav>Menu</nav>
    <article><h1>Headline</h1><p>First   paragraph.</p><script>alert(1)</script><p>Second.</p></article>
  </body>
</html>`

	page, ok := New(stubFetcher{body: html, ok: true}, nil).Read(context.Background(), "https://news.test/story/1")
	if !ok {
		t.Fatalf("expected page")
	}
	if page.Title != "OG Title" || page.Description != "OG Desc" {
		t.Fatalf("unexpected meta %#v", page)
	}
	if page.ImageURL != "https://news.test/img/og.png" {
		t.Fatalf("image not resolved: %q", page.ImageURL)
	}
	if page.Text != "HeadlineFirst paragraph.Second." {
		t.Fatalf("text = %q", page.Text)
	}
}

func TestReadFallsBackToTitleAndBody(t *testing.T) {
	html := `<html><head><title> Plain </title><meta name="description" content="Desc"></head><body><p>Body text</p></body></html>`

	page, ok := New(stubFetcher{body: html, ok: true}, nil).Read(context.Background(), "https://news.test/x")
	if !ok {
		t.Fatalf("expected page")
	}
	if page.Title != "Plain" || page.Description != "Desc" || page.Text != "Body text" {
		t.Fatalf("unexpected page %#v", page)
	}
}

func TestReadTruncatesText(t *testing.T) {
	html := "<html><body><p>" + strings.Repeat("ab ", 6000) + "</p></body></html>"

	page, ok := New(stubFetcher{body: html, ok: true}, nil).Read(context.Background(), "https://news.test/long")
	if !ok {
		t.Fatalf("expected page")
	}
	if n := len([]rune(page.Text)); n > MaxTextRunes {
		t.Fatalf("text has %d runes", n)
	}
}

func TestReadReportsFetchFailure(t *testing.T) {
	if _, ok := New(stubFetcher{}, nil).Read(context.Background(), "https://news.test/x"); ok {
		t.Fatalf("expected absent page")
	}
}

func TestReadRejectsEmptyDocument(t *testing.T) {
	if _, ok := New(stubFetcher{body: "<html><body>   </body></html>", ok: true}, nil).Read(context.Background(), "https://news.test/x"); ok {
		t.Fatalf("expected absent page for empty document")
	}
}
