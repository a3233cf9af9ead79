package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/samvad-hq/samvad-digest-feeds/internal/config"
	"github.com/samvad-hq/samvad-digest-feeds/pkg/proxies"
)

func rssFeed(n int) string {
	now := time.Now()
	var items strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&items, `<item><title>Story %d</title><link>https://news.test/%d</link><pubDate>%s</pubDate><description>Body %d</description></item>`,
			i, i, now.Add(-time.Duration(i+1)*time.Hour).Format(time.RFC1123Z), i)
	}
	return `<?xml version="1.0"?><rss version="2.0"><channel><title>F</title>` + items.String() + `</channel></rss>`
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

type harness struct {
	cfg     *config.Config
	proxy   *httptest.Server
	jsonAPI *httptest.Server
	hook    *httptest.Server
	hits    chan string
}

func newHarness(t *testing.T, feedBody string) *harness {
	t.Helper()
	dir := t.TempDir()

	h := &harness{hits: make(chan string, 16)}
	h.proxy = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(feedBody))
	}))
	t.Cleanup(h.proxy.Close)
	h.jsonAPI = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"error"}`))
	}))
	t.Cleanup(h.jsonAPI.Close)
	h.hook = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.hits <- r.Header.Get("X-Run-ID")
		w.WriteHeader(http.StatusAccepted)
	}))
	t.Cleanup(h.hook.Close)

	topicsFile := writeFile(t, dir, "topics.yaml", `
topics:
  - id: news
    name: News
    category: general
    rss_urls:
      - https://origin.test/rss
  - id: tech
    name: Tech
    category: technology
    rss_urls:
      - https://origin.test/tech
`)
	publishersFile := writeFile(t, dir, "publishers.yaml", fmt.Sprintf(`
publishers:
  - id: hook
    type: http
    http:
      url: %s
`, h.hook.URL))

	h.cfg = &config.Config{
		TopicsFile:      topicsFile,
		PublishersFile:  publishersFile,
		DefaultTopics:   []string{"news"},
		CollectInterval: time.Hour,
		StorageType:     "memory",
		CacheTTL:        15 * time.Minute,
		ProxyTimeout:    time.Second,
		MaxFeeds:        40,
		BatchSize:       3,
		BatchDelay:      time.Millisecond,
		FreshnessWindow: 120 * time.Hour,
		JSONAPIEndpoint: h.jsonAPI.URL,
	}
	return h
}

func (h *harness) collector(t *testing.T) *Collector {
	t.Helper()
	c, err := NewCollector(context.Background(), h.cfg, nil,
		WithProxies([]proxies.Strategy{proxies.CodeTabs(h.proxy.URL + "/v1/proxy")}),
		WithRunID(func() string { return "run-fixed" }),
	)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestCollectorCollectAndPublish(t *testing.T) {
	h := newHarness(t, rssFeed(2))
	c := h.collector(t)

	if got := len(c.Topics()); got != 2 {
		t.Fatalf("Topics() = %d entries", got)
	}
	if c.PublisherCount() != 1 {
		t.Fatalf("PublisherCount() = %d", c.PublisherCount())
	}

	articles, err := c.Collect(context.Background(), []string{"news", "missing"})
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(articles) != 2 || articles[0].Source != "News" {
		t.Fatalf("unexpected articles %+v", articles)
	}

	delivered, err := c.Publish(context.Background(), []string{"news"}, articles)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if delivered != 2 {
		t.Fatalf("delivered = %d", delivered)
	}
	for i := 0; i < 2; i++ {
		if id := <-h.hits; id != "run-fixed" {
			t.Fatalf("X-Run-ID = %q", id)
		}
	}
}

func TestCollectorCollectEmptyReturnsErrNoArticles(t *testing.T) {
	h := newHarness(t, "not a feed")
	c := h.collector(t)

	articles, err := c.Collect(context.Background(), []string{"news"})
	if !errors.Is(err, ErrNoArticles) {
		t.Fatalf("expected ErrNoArticles, got %v", err)
	}
	if articles == nil || len(articles) != 0 {
		t.Fatalf("expected non-nil empty slice, got %#v", articles)
	}
}

func TestCollectorPurgeCache(t *testing.T) {
	h := newHarness(t, rssFeed(1))
	c := h.collector(t)

	if _, err := c.Collect(context.Background(), []string{"news", "tech"}); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	n, err := c.PurgeCache()
	if err != nil {
		t.Fatalf("PurgeCache: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 cached feeds purged, got %d", n)
	}
}

func TestCollectorFetchTextAndReadLink(t *testing.T) {
	page := `<html><head><title>Page</title><meta property="og:title" content="OG Title"></head><body><article>Hello reader</article></body></html>`
	h := newHarness(t, page)
	c := h.collector(t)

	raw, ok := c.FetchText(context.Background(), "https://news.test/page")
	if !ok || !strings.Contains(raw, "Hello reader") {
		t.Fatalf("FetchText = %q, %v", raw, ok)
	}

	p, ok := c.ReadLink(context.Background(), "https://news.test/page")
	if !ok {
		t.Fatalf("ReadLink failed")
	}
	if p.Title != "OG Title" || p.Text != "Hello reader" {
		t.Fatalf("unexpected page %+v", p)
	}
}

func TestCollectorRunPublishesUntilCancelled(t *testing.T) {
	h := newHarness(t, rssFeed(1))
	c := h.collector(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case <-h.hits:
	case <-time.After(5 * time.Second):
		t.Fatalf("watch loop did not publish")
	}
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not exit after cancel")
	}
}

func TestNewCollectorWithoutPublishers(t *testing.T) {
	h := newHarness(t, rssFeed(1))
	h.cfg.PublishersFile = ""
	c := h.collector(t)

	n, err := c.Publish(context.Background(), nil, nil)
	if err != nil || n != 0 {
		t.Fatalf("Publish without publishers = %d, %v", n, err)
	}
}

func TestNewCollectorRejectsBadConfig(t *testing.T) {
	if _, err := NewCollector(context.Background(), nil, nil); err == nil {
		t.Fatalf("expected error for nil config")
	}

	h := newHarness(t, rssFeed(1))
	h.cfg.TopicsFile = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := NewCollector(context.Background(), h.cfg, nil); err == nil {
		t.Fatalf("expected error for missing topics file")
	}
}
