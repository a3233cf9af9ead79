// Package fetcher retrieves raw feed text through the rotating proxy relays,
// consulting the cache first and populating it on success.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/samvad-hq/samvad-digest-feeds/internal/logger"
	"github.com/samvad-hq/samvad-digest-feeds/pkg/httpclient"
	"github.com/samvad-hq/samvad-digest-feeds/pkg/proxies"
)

// DefaultTimeout bounds a single proxy attempt.
const DefaultTimeout = 15 * time.Second

// feedMarkers are substrings one of which must appear in accepted text.
var feedMarkers = []string{"<rss", "<feed", "<?xml", "<html"}

// errRejected marks failures caused by the payload rather than the relay's health.
var errRejected = errors.New("response rejected")

var errNotFeed = errors.New("payload does not look like a feed or page")

// StatusError reports a non-2xx relay response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string { return fmt.Sprintf("unexpected status %d", e.Code) }

// Cache is the subset of cache.Cache the fetcher needs.
type Cache interface {
	Get(url string) (string, bool)
	Set(url, content string)
}

// Rotator yields the proxy order for one fetch.
type Rotator interface {
	Rotated() []proxies.Strategy
}

// Options tunes attempts and circuit breaking.
type Options struct {
	// Timeout bounds each proxy attempt. Zero means DefaultTimeout.
	Timeout time.Duration
	// BreakerFailures opens a relay's breaker after this many consecutive
	// failures. Zero disables breakers.
	BreakerFailures uint32
	// BreakerCooldown is how long an open breaker rejects calls before probing.
	BreakerCooldown time.Duration
	// Now overrides time.Now for cache-busting URL parameters.
	Now func() time.Time
}

// Fetcher is safe for concurrent use.
type Fetcher struct {
	client  httpclient.Client
	cache   Cache
	proxies Rotator
	opts    Options
	log     logger.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// New wires a Fetcher. cache may be nil to disable caching.
func New(client httpclient.Client, cache Cache, rotator Rotator, log logger.Logger, opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if cache == nil {
		cache = noCache{}
	}
	return &Fetcher{
		client:   client,
		cache:    cache,
		proxies:  rotator,
		opts:     opts,
		log:      logger.Ensure(log),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// FetchText returns the text behind target, trying each relay in rotated
// order until one yields a plausible feed or page. It never returns an error:
// exhaustion and cancellation both report ok=false.
func (f *Fetcher) FetchText(ctx context.Context, target string) (string, bool) {
	if text, ok := f.cache.Get(target); ok {
		f.log.DebugObj("cache hit", "fetch_meta", map[string]any{"url": target})
		return text, true
	}

	order := f.proxies.Rotated()
	for _, strategy := range order {
		if ctx.Err() != nil {
			return "", false
		}

		text, err := f.attempt(ctx, strategy, target)
		if err != nil {
			f.log.DebugObj("proxy attempt failed", "fetch_attempt", map[string]any{
				"url":   target,
				"proxy": strategy.Name,
				"error": err.Error(),
			})
			continue
		}

		f.cache.Set(target, text)
		return text, true
	}

	f.log.DebugObj("all proxies exhausted", "fetch_meta", map[string]any{
		"url":     target,
		"proxies": proxies.Names(order),
	})
	return "", false
}

func (f *Fetcher) attempt(ctx context.Context, strategy proxies.Strategy, target string) (string, error) {
	cb := f.breaker(strategy.Name)
	if cb == nil {
		return f.try(ctx, strategy, target)
	}

	out, err := cb.Execute(func() (interface{}, error) {
		return f.try(ctx, strategy, target)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

func (f *Fetcher) try(ctx context.Context, strategy proxies.Strategy, target string) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	resp, err := f.client.Get(attemptCtx, strategy.BuildURL(target, f.opts.Now()), map[string]string{
		"Cache-Control": "no-cache",
	})
	if err != nil {
		return "", fmt.Errorf("request: %w", err)
	}

	if code := resp.StatusCode(); !httpclient.IsSuccess(code) {
		statusErr := &StatusError{Code: code}
		if code == http.StatusTooManyRequests || code >= 500 {
			return "", statusErr
		}
		return "", fmt.Errorf("%w: %w", errRejected, statusErr)
	}

	text, err := strategy.Extract(resp.Body())
	if err != nil {
		return "", fmt.Errorf("%w: %w", errRejected, err)
	}
	if !LooksLikeFeed(text) {
		return "", fmt.Errorf("%w: %w", errRejected, errNotFeed)
	}
	return text, nil
}

// LooksLikeFeed reports whether text carries one of the accepted markup markers.
func LooksLikeFeed(text string) bool {
	for _, marker := range feedMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

func (f *Fetcher) breaker(name string) *gobreaker.CircuitBreaker {
	if f.opts.BreakerFailures == 0 {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if cb, ok := f.breakers[name]; ok {
		return cb
	}

	threshold := f.opts.BreakerFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     f.opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: countsAsHealthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			f.log.InfoObj("proxy breaker state changed", "breaker", map[string]any{
				"proxy": name,
				"from":  from.String(),
				"to":    to.String(),
			})
		},
	})
	f.breakers[name] = cb
	return cb
}

// countsAsHealthy decides whether an attempt outcome says the relay itself is fine.
func countsAsHealthy(err error) bool {
	return err == nil || errors.Is(err, errRejected) || errors.Is(err, context.Canceled)
}

// BreakerStates reports each known relay's breaker state.
func (f *Fetcher) BreakerStates() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.breakers))
	for name, cb := range f.breakers {
		out[name] = cb.State().String()
	}
	return out
}

type noCache struct{}

func (noCache) Get(string) (string, bool) { return "", false }
func (noCache) Set(string, string)        {}
