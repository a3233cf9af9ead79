package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/samvad-hq/samvad-digest-feeds/internal/aggregator"
	"github.com/samvad-hq/samvad-digest-feeds/internal/cache"
	"github.com/samvad-hq/samvad-digest-feeds/internal/config"
	"github.com/samvad-hq/samvad-digest-feeds/internal/domain"
	"github.com/samvad-hq/samvad-digest-feeds/internal/fetcher"
	"github.com/samvad-hq/samvad-digest-feeds/internal/linkreader"
	"github.com/samvad-hq/samvad-digest-feeds/internal/logger"
	"github.com/samvad-hq/samvad-digest-feeds/internal/storage"
	"github.com/samvad-hq/samvad-digest-feeds/pkg/feedparser"
	"github.com/samvad-hq/samvad-digest-feeds/pkg/httpclient"
	"github.com/samvad-hq/samvad-digest-feeds/pkg/proxies"
	"github.com/samvad-hq/samvad-digest-feeds/pkg/publishers"
	"github.com/samvad-hq/samvad-digest-feeds/pkg/rss2json"
	"github.com/samvad-hq/samvad-digest-feeds/pkg/topics"
)

// ErrNoArticles is returned by Collect when no feed produced a usable article.
var ErrNoArticles = errors.New("could not retrieve articles, check connectivity or try different topics")

// Collector owns the retrieval pipeline: storage, cache, proxies, fetcher,
// aggregator, link reader and optional publishers.
type Collector struct {
	cfg        *config.Config
	topicReg   *topics.Registry
	store      storage.Store
	cache      *cache.Cache
	fetcher    *fetcher.Fetcher
	aggregator *aggregator.Service
	reader     *linkreader.Reader
	fanout     *publishers.Fanout
	newRunID   func() string
	log        logger.Logger
}

type options struct {
	client     httpclient.Client
	strategies []proxies.Strategy
	proxyOpts  []proxies.RegistryOption
	pubReg     publishers.Registry
	runID      func() string
}

// Option customises collector construction.
type Option func(*options)

// WithHTTPClient replaces the outbound client used for proxies and the JSON API.
func WithHTTPClient(c httpclient.Client) Option {
	return func(o *options) { o.client = c }
}

// WithProxies replaces the default proxy strategies.
func WithProxies(strategies []proxies.Strategy, opts ...proxies.RegistryOption) Option {
	return func(o *options) {
		o.strategies = strategies
		o.proxyOpts = opts
	}
}

// WithPublisherRegistry replaces the builders used for the publishers file.
func WithPublisherRegistry(reg publishers.Registry) Option {
	return func(o *options) { o.pubReg = reg }
}

// WithRunID overrides the run id generator.
func WithRunID(fn func() string) Option {
	return func(o *options) { o.runID = fn }
}

// NewCollector builds the pipeline from configuration.
func NewCollector(ctx context.Context, cfg *config.Config, log logger.Logger, opts ...Option) (*Collector, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	log = logger.Ensure(log)

	o := options{pubReg: publishers.DefaultRegistry(), runID: uuid.NewString}
	for _, opt := range opts {
		opt(&o)
	}
	if o.client == nil {
		o.client = httpclient.NewRestyClient(0, httpclient.WithUserAgent(cfg.UserAgent))
	}

	topicReg, err := topics.Load(cfg.TopicsFile)
	if err != nil {
		return nil, fmt.Errorf("load topics registry: %w", err)
	}
	log.InfoObj("topics registry loaded", "topics_meta", map[string]any{
		"count":      len(topicReg.All()),
		"categories": topicReg.Categories(),
	})

	proxyReg, err := proxies.NewRegistry(o.strategies, o.proxyOpts...)
	if err != nil {
		return nil, fmt.Errorf("build proxy registry: %w", err)
	}

	store, err := storage.NewStore(cfg.StorageType, cfg.StoragePath, storage.Options{MaxValueBytes: cfg.StorageMaxValueBytes})
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}
	log.InfoObj("storage initialized", "storage_config", map[string]any{
		"type":              cfg.StorageType,
		"path":              cfg.StoragePath,
		"cache_ttl_seconds": int(cfg.CacheTTL.Seconds()),
	})

	fanout, err := buildFanout(ctx, cfg, o.pubReg, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	feedCache := cache.New(store, cache.WithTTL(cfg.CacheTTL), cache.WithLogger(log))
	f := fetcher.New(o.client, feedCache, proxyReg, log, fetcher.Options{
		Timeout:         cfg.ProxyTimeout,
		BreakerFailures: cfg.ProxyBreakerFailures,
		BreakerCooldown: cfg.ProxyBreakerCooldown,
	})
	fallback := rss2json.New(o.client, log, rss2json.Options{
		Endpoint: cfg.JSONAPIEndpoint,
		RPS:      cfg.JSONAPIRPS,
		Timeout:  cfg.ProxyTimeout,
	})
	svc := aggregator.NewService(topicReg, f, feedparser.New(feedparser.WithFreshness(cfg.FreshnessWindow)), fallback, log, aggregator.Options{
		MaxFeeds:   cfg.MaxFeeds,
		BatchSize:  cfg.BatchSize,
		BatchDelay: cfg.BatchDelay,
	})

	return &Collector{
		cfg:        cfg,
		topicReg:   topicReg,
		store:      store,
		cache:      feedCache,
		fetcher:    f,
		aggregator: svc,
		reader:     linkreader.New(f, log),
		fanout:     fanout,
		newRunID:   o.runID,
		log:        log,
	}, nil
}

func buildFanout(ctx context.Context, cfg *config.Config, reg publishers.Registry, log logger.Logger) (*publishers.Fanout, error) {
	if cfg.PublishersFile == "" {
		return publishers.NewFanout(nil), nil
	}

	publisherReg, err := publishers.LoadRegistry(cfg.PublishersFile)
	if err != nil {
		return nil, fmt.Errorf("load publishers registry: %w", err)
	}

	enabled := publisherReg.Enabled()
	if len(enabled) == 0 {
		log.WarnObj("publishers file has no enabled publishers", "publishers_file", cfg.PublishersFile)
		return publishers.NewFanout(nil), nil
	}

	clients, err := publishers.BuildAll(ctx, reg, enabled, log)
	if err != nil {
		return nil, fmt.Errorf("build publishers: %w", err)
	}
	log.InfoObj("publishers registry loaded", "publishers_meta", map[string]any{
		"count": len(enabled),
		"publishers": lo.Map(enabled, func(p publishers.PublisherConfig, _ int) map[string]string {
			return map[string]string{"id": p.ID, "type": p.Type}
		}),
	})
	return publishers.NewFanout(clients), nil
}

// Topics lists the configured topics.
func (c *Collector) Topics() []topics.Topic {
	return c.topicReg.All()
}

// Collect fetches articles for topicIDs. An empty result yields ErrNoArticles
// alongside a non-nil empty slice.
func (c *Collector) Collect(ctx context.Context, topicIDs []string) ([]domain.Article, error) {
	if unknown := c.topicReg.Unknown(topicIDs); len(unknown) > 0 {
		c.log.WarnObj("ignoring unknown topics", "unknown_topics", unknown)
	}

	start := time.Now()
	articles := c.aggregator.FetchArticlesForTopics(ctx, topicIDs)
	c.log.InfoObj("collection completed", "collect_meta", map[string]any{
		"topics":     topicIDs,
		"articles":   len(articles),
		"elapsed_ms": time.Since(start).Milliseconds(),
		"breakers":   c.fetcher.BreakerStates(),
	})

	if len(articles) == 0 {
		return articles, ErrNoArticles
	}
	return articles, nil
}

// Publish sends articles to every enabled publisher under a fresh run id.
// It returns the number of successful deliveries.
func (c *Collector) Publish(ctx context.Context, topicIDs []string, articles []domain.Article) (int, error) {
	if c.fanout.Size() == 0 || len(articles) == 0 {
		return 0, nil
	}

	runID := c.newRunID()
	evts := lo.Map(articles, func(a domain.Article, _ int) publishers.Event {
		return publishers.NewEvent(runID, topicIDs, a)
	})

	delivered, err := c.fanout.PublishAll(ctx, evts)
	meta := map[string]any{
		"run_id":     runID,
		"articles":   len(articles),
		"publishers": c.fanout.Size(),
		"delivered":  delivered,
	}
	if err != nil {
		meta["error"] = err.Error()
		c.log.ErrorObj("publishing finished with errors", "publish_meta", meta)
		return delivered, err
	}
	c.log.InfoObj("publishing completed", "publish_meta", meta)
	return delivered, nil
}

// PublisherCount reports how many publishers are active.
func (c *Collector) PublisherCount() int { return c.fanout.Size() }

// FetchText returns the raw body at url through the proxy chain.
func (c *Collector) FetchText(ctx context.Context, url string) (string, bool) {
	return c.fetcher.FetchText(ctx, url)
}

// ReadLink extracts the readable page behind an article link.
func (c *Collector) ReadLink(ctx context.Context, url string) (linkreader.Page, bool) {
	return c.reader.Read(ctx, url)
}

// PurgeCache drops every cached feed body.
func (c *Collector) PurgeCache() (int, error) {
	n, err := c.cache.Purge()
	if err != nil {
		return n, fmt.Errorf("purge cache: %w", err)
	}
	c.log.InfoObj("cache purged", "cache_meta", map[string]any{"removed": n})
	return n, nil
}

// Run collects and publishes the default topics every CollectInterval until
// ctx is cancelled.
func (c *Collector) Run(ctx context.Context) error {
	if c == nil || c.aggregator == nil {
		return fmt.Errorf("collector is not initialized")
	}

	topicIDs := c.cfg.DefaultTopics
	if len(topicIDs) == 0 {
		topicIDs = lo.Map(c.topicReg.All(), func(t topics.Topic, _ int) string { return t.ID })
	}

	c.log.InfoObj("watch loop starting", "watch_state", map[string]any{
		"topics":           topicIDs,
		"publishers_count": c.fanout.Size(),
		"collect_interval": c.cfg.CollectInterval.String(),
	})

	c.runOnce(ctx, topicIDs)

	ticker := time.NewTicker(c.cfg.CollectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.log.InfoObj("watch loop exiting", "reason", ctx.Err())
			return nil
		case <-ticker.C:
			c.runOnce(ctx, topicIDs)
		}
	}
}

func (c *Collector) runOnce(ctx context.Context, topicIDs []string) {
	articles, err := c.Collect(ctx, topicIDs)
	if err != nil {
		c.log.WarnObj("scheduled collection returned nothing", "error", err.Error())
		return
	}
	_, _ = c.Publish(ctx, topicIDs, articles)
}

// Close releases publishers and storage.
func (c *Collector) Close() error {
	if c == nil {
		return nil
	}
	return errors.Join(c.fanout.Close(), c.store.Close())
}
