package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samvad-hq/samvad-digest-feeds/internal/cache"
	"github.com/samvad-hq/samvad-digest-feeds/internal/storage"
	"github.com/samvad-hq/samvad-digest-feeds/pkg/httpclient"
	"github.com/samvad-hq/samvad-digest-feeds/pkg/proxies"
)

const sampleRSS = `<?xml version="1.0"?><rss version="2.0"><channel><title>t</title></channel></rss>`

type fixedRotator struct{ list []proxies.Strategy }

func (f fixedRotator) Rotated() []proxies.Strategy { return f.list }

type relay struct {
	srv  *httptest.Server
	hits atomic.Int32
}

func newRelay(t *testing.T, h func(w http.ResponseWriter, r *http.Request)) *relay {
	t.Helper()
	rl := &relay{}
	rl.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rl.hits.Add(1)
		h(w, r)
	}))
	t.Cleanup(rl.srv.Close)
	return rl
}

func status(code int) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(code) }
}

func body(text string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(text)) }
}

func newCache() *cache.Cache {
	return cache.New(storage.NewMemoryStore(storage.Options{}))
}

func TestFetchTextFallsBackToNextProxyAndCaches(t *testing.T) {
	broken := newRelay(t, status(http.StatusBadGateway))
	healthy := newRelay(t, body(sampleRSS))

	c := newCache()
	f := New(httpclient.NewRestyClient(0), c, fixedRotator{[]proxies.Strategy{
		proxies.CorsProxy(broken.srv.URL + "/"),
		proxies.CodeTabs(healthy.srv.URL + "/v1/proxy"),
	}}, nil, Options{Timeout: time.Second})

	text, ok := f.FetchText(context.Background(), "https://example.com/rss")
	if !ok || text != sampleRSS {
		t.Fatalf("FetchText = %q ok=%v", text, ok)
	}
	if broken.hits.Load() != 1 || healthy.hits.Load() != 1 {
		t.Fatalf("unexpected hits broken=%d healthy=%d", broken.hits.Load(), healthy.hits.Load())
	}
	if cached, ok := c.Get("https://example.com/rss"); !ok || cached != sampleRSS {
		t.Fatalf("successful fetch should populate the cache")
	}
}

func TestFetchTextExhaustionLeavesCacheEmpty(t *testing.T) {
	a := newRelay(t, status(http.StatusInternalServerError))
	b := newRelay(t, body(`{"contents":""}`))
	d := newRelay(t, body("plain text, no markup"))

	c := newCache()
	f := New(httpclient.NewRestyClient(0), c, fixedRotator{[]proxies.Strategy{
		proxies.CorsProxy(a.srv.URL + "/"),
		proxies.AllOrigins(b.srv.URL + "/get"),
		proxies.CodeTabs(d.srv.URL + "/v1/proxy"),
	}}, nil, Options{Timeout: time.Second})

	if text, ok := f.FetchText(context.Background(), "https://example.com/rss"); ok {
		t.Fatalf("expected exhaustion, got %q", text)
	}
	if _, ok := c.Get("https://example.com/rss"); ok {
		t.Fatalf("exhaustion must not write a cache entry")
	}
	if a.hits.Load() != 1 || b.hits.Load() != 1 || d.hits.Load() != 1 {
		t.Fatalf("every relay should be tried once")
	}
}

func TestFetchTextServesFromCache(t *testing.T) {
	relay := newRelay(t, body(sampleRSS))
	c := newCache()
	c.Set("https://example.com/rss", "<feed>cached</feed>")

	f := New(httpclient.NewRestyClient(0), c, fixedRotator{[]proxies.Strategy{
		proxies.CorsProxy(relay.srv.URL + "/"),
	}}, nil, Options{})

	text, ok := f.FetchText(context.Background(), "https://example.com/rss")
	if !ok || text != "<feed>cached</feed>" {
		t.Fatalf("FetchText = %q ok=%v", text, ok)
	}
	if relay.hits.Load() != 0 {
		t.Fatalf("cache hit must not touch the network")
	}
}

func TestFetchTextAttemptTimeoutMovesOn(t *testing.T) {
	slow := newRelay(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	fast := newRelay(t, body(sampleRSS))

	f := New(httpclient.NewRestyClient(0), nil, fixedRotator{[]proxies.Strategy{
		proxies.CorsProxy(slow.srv.URL + "/"),
		proxies.CodeTabs(fast.srv.URL + "/v1/proxy"),
	}}, nil, Options{Timeout: 50 * time.Millisecond})

	start := time.Now()
	text, ok := f.FetchText(context.Background(), "https://example.com/rss")
	if !ok || text != sampleRSS {
		t.Fatalf("FetchText = %q ok=%v", text, ok)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("attempt timeout not enforced, took %s", elapsed)
	}
}

func TestFetchTextAllOriginsEnvelope(t *testing.T) {
	gotQuery := make(chan string, 1)
	relay := newRelay(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery <- r.URL.Query().Get("url")
		_, _ = w.Write([]byte(`{"contents":"<rss version=\"2.0\"></rss>"}`))
	})

	f := New(httpclient.NewRestyClient(0), nil, fixedRotator{[]proxies.Strategy{
		proxies.AllOrigins(relay.srv.URL + "/get"),
	}}, nil, Options{})

	text, ok := f.FetchText(context.Background(), "https://example.com/rss?x=1")
	if !ok || text != `<rss version="2.0"></rss>` {
		t.Fatalf("FetchText = %q ok=%v", text, ok)
	}
	if got := <-gotQuery; got != "https://example.com/rss?x=1" {
		t.Fatalf("relay received target %q", got)
	}
}

func TestBreakerSkipsUnhealthyRelay(t *testing.T) {
	broken := newRelay(t, status(http.StatusServiceUnavailable))
	healthy := newRelay(t, body(sampleRSS))

	f := New(httpclient.NewRestyClient(0), nil, fixedRotator{[]proxies.Strategy{
		proxies.CorsProxy(broken.srv.URL + "/"),
		proxies.CodeTabs(healthy.srv.URL + "/v1/proxy"),
	}}, nil, Options{Timeout: time.Second, BreakerFailures: 2, BreakerCooldown: time.Hour})

	for i := 0; i < 4; i++ {
		if _, ok := f.FetchText(context.Background(), "https://example.com/rss"); !ok {
			t.Fatalf("fetch %d should succeed through the healthy relay", i)
		}
	}
	if got := broken.hits.Load(); got != 2 {
		t.Fatalf("open breaker should stop calls after 2 failures, relay saw %d", got)
	}
	if got := f.BreakerStates()["corsproxy"]; got != "open" {
		t.Fatalf("breaker state = %q, want open", got)
	}
}

func TestBreakerIgnoresPayloadRejections(t *testing.T) {
	notFound := newRelay(t, status(http.StatusNotFound))
	healthy := newRelay(t, body(sampleRSS))

	f := New(httpclient.NewRestyClient(0), nil, fixedRotator{[]proxies.Strategy{
		proxies.CorsProxy(notFound.srv.URL + "/"),
		proxies.CodeTabs(healthy.srv.URL + "/v1/proxy"),
	}}, nil, Options{Timeout: time.Second, BreakerFailures: 1, BreakerCooldown: time.Hour})

	for i := 0; i < 3; i++ {
		f.FetchText(context.Background(), "https://example.com/rss")
	}
	if got := notFound.hits.Load(); got != 3 {
		t.Fatalf("4xx must not trip the breaker, relay saw %d calls", got)
	}
}

func TestFetchTextStopsOnCancelledContext(t *testing.T) {
	relay := newRelay(t, body(sampleRSS))
	f := New(httpclient.NewRestyClient(0), nil, fixedRotator{[]proxies.Strategy{
		proxies.CorsProxy(relay.srv.URL + "/"),
	}}, nil, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := f.FetchText(ctx, "https://example.com/rss"); ok {
		t.Fatalf("cancelled fetch should report absent")
	}
	if relay.hits.Load() != 0 {
		t.Fatalf("cancelled fetch should not contact relays")
	}
}

func TestLooksLikeFeed(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{`<?xml version="1.0"?>`, true},
		{`<rss version="2.0">`, true},
		{`<feed xmlns="http://www.w3.org/2005/Atom">`, true},
		{`<html><body>`, true},
		{`{"error":"blocked"}`, false},
		{``, false},
	}
	for _, tc := range cases {
		if got := LooksLikeFeed(tc.text); got != tc.want {
			t.Fatalf("LooksLikeFeed(%q) = %v", tc.text, got)
		}
	}
}
