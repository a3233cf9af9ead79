package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRestyClientSendsDefaultAndRequestHeaders(t *testing.T) {
	headers := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("body"))
	}))
	defer srv.Close()

	c := NewRestyClient(time.Second, WithUserAgent("digest-test/1.0"), WithHeader("X-Client", "feeds"))
	resp, err := c.Get(context.Background(), srv.URL, map[string]string{"Cache-Control": "no-cache"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if resp.StatusCode() != http.StatusTeapot || string(resp.Body()) != "body" {
		t.Fatalf("unexpected response %d %q", resp.StatusCode(), resp.Body())
	}
	h := <-headers
	gotUA, gotCache, gotExtra := h.Get("User-Agent"), h.Get("Cache-Control"), h.Get("X-Client")
	if gotUA != "digest-test/1.0" || gotCache != "no-cache" || gotExtra != "feeds" {
		t.Fatalf("headers not forwarded: ua=%q cache=%q extra=%q", gotUA, gotCache, gotExtra)
	}
}

func TestRestyClientHonoursContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := NewRestyClient(0).Get(ctx, srv.URL, nil); err == nil {
		t.Fatalf("expected context deadline error")
	}
}

func TestIsSuccess(t *testing.T) {
	for code, want := range map[int]bool{199: false, 200: true, 204: true, 299: true, 301: false, 500: false} {
		if IsSuccess(code) != want {
			t.Fatalf("IsSuccess(%d) != %v", code, want)
		}
	}
}
