package topics

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/samber/lo"

	"github.com/samvad-hq/samvad-digest-feeds/internal/configfile"
)

// Package topics loads the static topic catalogue (YAML/JSON).

// Topic is a named group of feed URLs.
type Topic struct {
	ID       string   `json:"id" yaml:"id"`
	Name     string   `json:"name" yaml:"name"`
	Category string   `json:"category" yaml:"category"`
	RSSURLs  []string `json:"rss_urls" yaml:"rss_urls"`
}

type catalogue struct {
	Topics []Topic `json:"topics" yaml:"topics"`
}

// Registry is an immutable, ordered set of topics.
type Registry struct {
	topics []Topic
	idx    map[string]int
}

// Load reads a topics file. The extension selects the decoder; files without
// a known extension are tried as YAML then JSON.
func Load(path string) (*Registry, error) {
	var cat catalogue
	if err := configfile.Load(path, "topics", &cat); err != nil {
		return nil, err
	}
	return New(cat.Topics)
}

// Parse decodes and validates a topics document.
func Parse(data []byte, ext string) (*Registry, error) {
	var cat catalogue
	if err := configfile.Decode(data, ext, "topics", &cat); err != nil {
		return nil, err
	}
	return New(cat.Topics)
}

// New validates topics and builds a Registry preserving their order.
func New(topics []Topic) (*Registry, error) {
	if len(topics) == 0 {
		return nil, errors.New("topics file contains no topics entries")
	}

	reg := &Registry{
		topics: make([]Topic, 0, len(topics)),
		idx:    make(map[string]int, len(topics)),
	}
	for i := range topics {
		t := sanitizeTopic(topics[i])
		if err := validateTopic(t); err != nil {
			return nil, fmt.Errorf("topic[%d]: %w", i, err)
		}
		if _, exists := reg.idx[t.ID]; exists {
			return nil, fmt.Errorf("duplicate topic id %q", t.ID)
		}
		reg.idx[t.ID] = len(reg.topics)
		reg.topics = append(reg.topics, t)
	}
	return reg, nil
}

func sanitizeTopic(t Topic) Topic {
	t.ID = strings.TrimSpace(t.ID)
	t.Name = strings.TrimSpace(t.Name)
	t.Category = strings.TrimSpace(t.Category)

	urls := lo.Map(t.RSSURLs, func(u string, _ int) string { return strings.TrimSpace(u) })
	urls = lo.Compact(urls)
	t.RSSURLs = lo.Uniq(urls)
	return t
}

func validateTopic(t Topic) error {
	if t.ID == "" {
		return errors.New("id is required")
	}
	if t.Name == "" {
		return fmt.Errorf("name is required for topic %q", t.ID)
	}
	if len(t.RSSURLs) == 0 {
		return fmt.Errorf("rss_urls is required for topic %q", t.ID)
	}
	for _, raw := range t.RSSURLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("topic %q: invalid feed url %q", t.ID, raw)
		}
	}
	return nil
}

// All returns a copy of every topic in file order.
func (r *Registry) All() []Topic {
	out := make([]Topic, len(r.topics))
	for i, t := range r.topics {
		t.RSSURLs = append([]string(nil), t.RSSURLs...)
		out[i] = t
	}
	return out
}

// ByID returns the topic with the given id.
func (r *Registry) ByID(id string) (Topic, bool) {
	i, ok := r.idx[strings.TrimSpace(id)]
	if !ok {
		return Topic{}, false
	}
	t := r.topics[i]
	t.RSSURLs = append([]string(nil), t.RSSURLs...)
	return t, true
}

// Resolve returns the topics named by ids in registry order. Unknown and
// repeated ids are ignored.
func (r *Registry) Resolve(ids []string) []Topic {
	wanted := lo.SliceToMap(ids, func(id string) (string, struct{}) {
		return strings.TrimSpace(id), struct{}{}
	})
	return lo.Filter(r.All(), func(t Topic, _ int) bool {
		_, ok := wanted[t.ID]
		return ok
	})
}

// Unknown lists ids that match no topic, preserving input order.
func (r *Registry) Unknown(ids []string) []string {
	return lo.Uniq(lo.Filter(ids, func(id string, _ int) bool {
		_, ok := r.idx[strings.TrimSpace(id)]
		return !ok
	}))
}

// Categories lists distinct categories in first-seen order.
func (r *Registry) Categories() []string {
	return lo.Compact(lo.Uniq(lo.Map(r.topics, func(t Topic, _ int) string { return t.Category })))
}
