package httpclient

import "context"

// Response is the subset of an HTTP response the feed pipeline reads.
type Response interface {
	Body() []byte
	StatusCode() int
}

// Client issues GET requests. Tests swap in fakes; production uses RestyClient.
type Client interface {
	Get(ctx context.Context, url string, headers map[string]string) (Response, error)
}

// IsSuccess reports whether code is a 2xx status.
func IsSuccess(code int) bool { return code >= 200 && code < 300 }
