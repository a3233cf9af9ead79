// Package proxies describes the public CORS relays feeds are fetched through
// and the order they are tried in.
package proxies

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrEmptyPayload is returned by Extract when a relay answered without content.
var ErrEmptyPayload = errors.New("proxy returned empty payload")

// Strategy knows how to route one target URL through a relay and how to read
// the relayed text back out of the response body.
type Strategy struct {
	Name     string
	BuildURL func(target string, now time.Time) string
	Extract  func(body []byte) (string, error)
}

const (
	CorsProxyBase  = "https://corsproxy.io/"
	AllOriginsBase = "https://api.allorigins.win/get"
	CodeTabsBase   = "https://api.codetabs.com/v1/proxy"
)

// CorsProxy relays via corsproxy.io style endpoints: base?<encoded target>.
func CorsProxy(base string) Strategy {
	return Strategy{
		Name: "corsproxy",
		BuildURL: func(target string, _ time.Time) string {
			return base + "?" + url.QueryEscape(target)
		},
		Extract: rawText,
	}
}

// AllOrigins relays via allorigins, which wraps the text in a JSON envelope.
// The t parameter defeats intermediate caches.
func AllOrigins(base string) Strategy {
	return Strategy{
		Name: "allorigins",
		BuildURL: func(target string, now time.Time) string {
			return base + "?url=" + url.QueryEscape(target) + "&t=" + strconv.FormatInt(now.UnixMilli(), 10)
		},
		Extract: func(body []byte) (string, error) {
			var envelope struct {
				Contents string `json:"contents"`
			}
			if err := json.Unmarshal(body, &envelope); err != nil {
				return "", fmt.Errorf("decode allorigins envelope: %w", err)
			}
			if envelope.Contents == "" {
				return "", ErrEmptyPayload
			}
			return envelope.Contents, nil
		},
	}
}

// CodeTabs relays via the codetabs proxy: base?quest=<encoded target>.
func CodeTabs(base string) Strategy {
	return Strategy{
		Name: "codetabs",
		BuildURL: func(target string, _ time.Time) string {
			return base + "?quest=" + url.QueryEscape(target)
		},
		Extract: rawText,
	}
}

func rawText(body []byte) (string, error) {
	if len(body) == 0 {
		return "", ErrEmptyPayload
	}
	return string(body), nil
}

// Default returns the built-in relays in their canonical order.
func Default() []Strategy {
	return []Strategy{
		CorsProxy(CorsProxyBase),
		AllOrigins(AllOriginsBase),
		CodeTabs(CodeTabsBase),
	}
}

// Rotate moves list[index] to the front and keeps the others in their
// relative order of the rest. An out-of-range index yields an unchanged copy.
func Rotate(list []Strategy, index int) []Strategy {
	out := make([]Strategy, 0, len(list))
	if index < 0 || index >= len(list) {
		return append(out, list...)
	}
	out = append(out, list[index])
	out = append(out, list[:index]...)
	return append(out, list[index+1:]...)
}

// Names lists strategy names, mainly for logging.
func Names(list []Strategy) []string {
	names := make([]string, len(list))
	for i, s := range list {
		names[i] = s.Name
	}
	return names
}

// Registry holds the fixed strategy set and hands out randomized orders.
type Registry struct {
	strategies []Strategy

	mu   sync.Mutex
	intn func(n int) int
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithIndexFunc overrides the random index source. fn receives the list
// length and must return a value in [0, n).
func WithIndexFunc(fn func(n int) int) RegistryOption {
	return func(r *Registry) {
		if fn != nil {
			r.intn = fn
		}
	}
}

// WithSeed makes rotation deterministic for a given seed.
func WithSeed(seed uint64) RegistryOption {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	return WithIndexFunc(rng.IntN)
}

// NewRegistry builds a registry over strategies, or Default() when empty.
func NewRegistry(strategies []Strategy, opts ...RegistryOption) (*Registry, error) {
	if len(strategies) == 0 {
		strategies = Default()
	}
	seen := make(map[string]struct{}, len(strategies))
	for i, s := range strategies {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return nil, fmt.Errorf("proxy strategy %d: name is required", i)
		}
		if s.BuildURL == nil || s.Extract == nil {
			return nil, fmt.Errorf("proxy strategy %q: BuildURL and Extract are required", name)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("duplicate proxy strategy %q", name)
		}
		seen[name] = struct{}{}
	}

	r := &Registry{
		strategies: append([]Strategy(nil), strategies...),
		intn:       rand.IntN,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// List returns a copy of the strategies in canonical order.
func (r *Registry) List() []Strategy {
	return append([]Strategy(nil), r.strategies...)
}

// Rotated returns the strategies with a uniformly chosen one moved to the front.
func (r *Registry) Rotated() []Strategy {
	r.mu.Lock()
	idx := r.intn(len(r.strategies))
	r.mu.Unlock()
	return Rotate(r.strategies, idx)
}
