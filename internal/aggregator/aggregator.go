package aggregator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/samvad-hq/samvad-digest-feeds/internal/domain"
	"github.com/samvad-hq/samvad-digest-feeds/internal/logger"
)

const (
	DefaultMaxFeeds   = 40
	DefaultBatchSize  = 3
	DefaultBatchDelay = 50 * time.Millisecond
)

// Options bounds how much work one aggregation does.
type Options struct {
	MaxFeeds   int
	BatchSize  int
	BatchDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxFeeds <= 0 {
		o.MaxFeeds = DefaultMaxFeeds
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.BatchDelay < 0 {
		o.BatchDelay = 0
	}
	return o
}

// Service fans topic feeds out in small concurrent batches and merges the results.
type Service struct {
	topics   TopicResolver
	fetcher  TextFetcher
	parser   FeedParser
	fallback FallbackFetcher
	opts     Options
	log      logger.Logger
}

// NewService wires an aggregator. fallback may be nil.
func NewService(resolver TopicResolver, fetcher TextFetcher, parser FeedParser, fallback FallbackFetcher, log logger.Logger, opts Options) *Service {
	return &Service{
		topics:   resolver,
		fetcher:  fetcher,
		parser:   parser,
		fallback: fallback,
		opts:     opts.withDefaults(),
		log:      logger.Ensure(log),
	}
}

// Tasks expands topic ids into one fetch task per feed URL, capped at MaxFeeds.
func (s *Service) Tasks(topicIDs []string) []domain.FetchTask {
	var tasks []domain.FetchTask
	for _, t := range s.topics.Resolve(topicIDs) {
		for _, u := range t.RSSURLs {
			tasks = append(tasks, domain.FetchTask{URL: u, SourceName: t.Name})
		}
	}
	if len(tasks) > s.opts.MaxFeeds {
		tasks = tasks[:s.opts.MaxFeeds]
	}
	return tasks
}

// FetchArticlesForTopics returns the deduplicated articles of every feed in
// the selected topics. Feed failures only reduce the result; an empty slice
// means nothing is currently available. Cancelling ctx stops new batches and
// returns what completed.
func (s *Service) FetchArticlesForTopics(ctx context.Context, topicIDs []string) []domain.Article {
	tasks := s.Tasks(topicIDs)
	if len(tasks) == 0 {
		return []domain.Article{}
	}

	started := time.Now()
	batches := lo.Chunk(tasks, s.opts.BatchSize)
	perTask := make([][]domain.Article, 0, len(tasks))

	for i, batch := range batches {
		if ctx.Err() != nil {
			break
		}
		perTask = append(perTask, s.runBatch(ctx, batch)...)

		if i < len(batches)-1 && !sleep(ctx, s.opts.BatchDelay) {
			break
		}
	}

	articles := Dedup(lo.Flatten(perTask))
	s.log.InfoObj("aggregation completed", "batch_meta", map[string]any{
		"topics":      topicIDs,
		"feeds":       len(tasks),
		"feeds_run":   len(perTask),
		"batches":     len(batches),
		"articles":    len(articles),
		"duration_ms": time.Since(started).Milliseconds(),
	})
	return articles
}

func (s *Service) runBatch(ctx context.Context, batch []domain.FetchTask) [][]domain.Article {
	out := make([][]domain.Article, len(batch))

	var wg sync.WaitGroup
	for i, task := range batch {
		wg.Add(1)
		go func(i int, task domain.FetchTask) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					out[i] = nil
					s.log.ErrorObj("feed task panicked", "feed_error", map[string]any{
						"url":    task.URL,
						"source": task.SourceName,
						"panic":  fmt.Sprint(r),
					})
				}
			}()
			out[i] = s.FetchFeed(ctx, task)
		}(i, task)
	}
	wg.Wait()

	return out
}

// FetchFeed runs one task: fetch, parse, and fall back to the JSON API when
// nothing parsed.
func (s *Service) FetchFeed(ctx context.Context, task domain.FetchTask) []domain.Article {
	var articles []domain.Article
	if text, ok := s.fetcher.FetchText(ctx, task.URL); ok {
		articles = s.parser.Parse(text, task.SourceName)
	}
	if len(articles) > 0 || s.fallback == nil || ctx.Err() != nil {
		return articles
	}

	articles = s.fallback.Fetch(ctx, task.URL, task.SourceName)
	s.log.DebugObj("json fallback used", "feed_meta", map[string]any{
		"url":      task.URL,
		"articles": len(articles),
	})
	return articles
}

// Dedup keeps one article per link at the position of its first occurrence,
// holding the value of its last occurrence.
func Dedup(articles []domain.Article) []domain.Article {
	pos := make(map[string]int, len(articles))
	out := make([]domain.Article, 0, len(articles))
	for _, a := range articles {
		if i, seen := pos[a.Link]; seen {
			out[i] = a
			continue
		}
		pos[a.Link] = len(out)
		out = append(out, a)
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
