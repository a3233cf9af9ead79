package aggregator

import (
	"context"

	"github.com/samvad-hq/samvad-digest-feeds/internal/domain"
	"github.com/samvad-hq/samvad-digest-feeds/pkg/topics"
)

// TextFetcher retrieves raw feed text; ok is false when nothing usable came back.
type TextFetcher interface {
	FetchText(ctx context.Context, url string) (string, bool)
}

// FeedParser converts raw feed text into articles.
type FeedParser interface {
	Parse(raw, sourceName string) []domain.Article
}

// FallbackFetcher produces articles for a feed by other means when parsing yields nothing.
type FallbackFetcher interface {
	Fetch(ctx context.Context, url, sourceName string) []domain.Article
}

// TopicResolver maps topic ids to topics in catalogue order.
type TopicResolver interface {
	Resolve(ids []string) []topics.Topic
}
