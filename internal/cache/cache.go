// Package cache keeps recently fetched feed text so repeated requests for the
// same URL skip the network for a short while.
package cache

import (
	"encoding/json"
	"time"

	"github.com/samvad-hq/samvad-digest-feeds/internal/logger"
	"github.com/samvad-hq/samvad-digest-feeds/internal/storage"
)

const (
	// KeyPrefix namespaces cache entries inside the shared store.
	KeyPrefix = "rss_cache_"
	// DefaultTTL is how long an entry stays fresh.
	DefaultTTL = 15 * time.Minute
)

type entry struct {
	Timestamp int64  `json:"timestamp"`
	Content   string `json:"content"`
}

// Cache is a TTL cache of raw feed text keyed by URL.
type Cache struct {
	store storage.Store
	ttl   time.Duration
	now   func() time.Time
	log   logger.Logger
}

// Option customizes a Cache.
type Option func(*Cache)

// WithTTL overrides DefaultTTL. Non-positive values are ignored.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger attaches a logger for swallowed backend errors.
func WithLogger(log logger.Logger) Option {
	return func(c *Cache) { c.log = logger.Ensure(log) }
}

// New builds a Cache over store.
func New(store storage.Store, opts ...Option) *Cache {
	c := &Cache{
		store: store,
		ttl:   DefaultTTL,
		now:   time.Now,
		log:   logger.NopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Key returns the storage key used for url.
func Key(url string) string { return KeyPrefix + url }

// Get returns the cached content for url while it is younger than the TTL.
// Expired or undecodable entries are removed and reported as a miss.
func (c *Cache) Get(url string) (string, bool) {
	key := Key(url)
	raw, ok, err := c.store.Get(key)
	if err != nil {
		c.log.DebugObj("cache read failed", "cache_error", map[string]any{"url": url, "error": err.Error()})
		return "", false
	}
	if !ok {
		return "", false
	}

	var e entry
	if err := json.Unmarshal(raw, &e); err != nil {
		c.drop(key)
		return "", false
	}

	age := c.now().UnixMilli() - e.Timestamp
	if age >= c.ttl.Milliseconds() {
		c.drop(key)
		return "", false
	}
	return e.Content, true
}

// Set stores content for url. Failures are logged and otherwise ignored.
func (c *Cache) Set(url, content string) {
	raw, err := json.Marshal(entry{Timestamp: c.now().UnixMilli(), Content: content})
	if err != nil {
		return
	}
	if err := c.store.Put(Key(url), raw); err != nil {
		c.log.DebugObj("cache write skipped", "cache_error", map[string]any{"url": url, "error": err.Error()})
	}
}

// Purge removes every cache entry and reports how many were dropped.
func (c *Cache) Purge() (int, error) {
	return c.store.DeletePrefix(KeyPrefix)
}

func (c *Cache) drop(key string) {
	if err := c.store.Delete(key); err != nil {
		c.log.DebugObj("cache delete failed", "cache_error", map[string]any{"key": key, "error": err.Error()})
	}
}
