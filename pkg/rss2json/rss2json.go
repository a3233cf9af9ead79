// Package rss2json is the last-resort path for feeds the proxies could not
// deliver in a parseable shape: it asks the rss2json API to convert the feed
// server side and maps the JSON items to articles.
package rss2json

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/samvad-hq/samvad-digest-feeds/internal/domain"
	"github.com/samvad-hq/samvad-digest-feeds/internal/logger"
	"github.com/samvad-hq/samvad-digest-feeds/pkg/feedparser"
	"github.com/samvad-hq/samvad-digest-feeds/pkg/httpclient"
)

const (
	// DefaultEndpoint is the public rss2json conversion API.
	DefaultEndpoint = "https://api.rss2json.com/v1/api.json"
	// DefaultTimeout bounds one conversion call.
	DefaultTimeout = 15 * time.Second
)

var pubDateLayouts = []string{
	"2006-01-02 15:04:05",
	time.RFC3339,
	time.RFC1123Z,
	time.RFC1123,
}

// Options configures a Client.
type Options struct {
	Endpoint string
	// RPS caps outgoing calls per second across all callers. Zero disables pacing.
	RPS float64
	// Timeout bounds each call; zero means DefaultTimeout.
	Timeout time.Duration
	Now     func() time.Time
}

// Client is safe for concurrent use.
type Client struct {
	http     httpclient.Client
	endpoint string
	limiter  *rate.Limiter
	timeout  time.Duration
	now      func() time.Time
	log      logger.Logger
}

// New builds a Client over an HTTP transport.
func New(client httpclient.Client, log logger.Logger, opts Options) *Client {
	endpoint := strings.TrimSpace(opts.Endpoint)
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	limit := rate.Inf
	if opts.RPS > 0 {
		limit = rate.Limit(opts.RPS)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		http:     client,
		endpoint: endpoint,
		limiter:  rate.NewLimiter(limit, 1),
		timeout:  timeout,
		now:      now,
		log:      logger.Ensure(log),
	}
}

type apiResponse struct {
	Status string     `json:"status"`
	Items  *[]apiItem `json:"items"`
}

type apiItem struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Content     string          `json:"content"`
	Link        string          `json:"link"`
	PubDate     string          `json:"pubDate"`
	Thumbnail   string          `json:"thumbnail"`
	Enclosure   json.RawMessage `json:"enclosure"`
}

// enclosureLink tolerates the API emitting an object, an empty array or nothing.
func (it apiItem) enclosureLink() string {
	var enc struct {
		Link string `json:"link"`
	}
	if len(it.Enclosure) == 0 || json.Unmarshal(it.Enclosure, &enc) != nil {
		return ""
	}
	return strings.TrimSpace(enc.Link)
}

// RequestURL builds the conversion URL for feedURL.
func (c *Client) RequestURL(feedURL string) string {
	return c.endpoint + "?rss_url=" + url.QueryEscape(feedURL) + "&_t=" + strconv.FormatInt(c.now().UnixMilli(), 10)
}

// Fetch converts feedURL through the API. Any failure yields an empty result.
func (c *Client) Fetch(ctx context.Context, feedURL, sourceName string) []domain.Article {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.http.Get(callCtx, c.RequestURL(feedURL), nil)
	if err != nil {
		c.log.DebugObj("json fallback request failed", "fallback_meta", map[string]any{"url": feedURL, "error": err.Error()})
		return nil
	}
	if !httpclient.IsSuccess(resp.StatusCode()) {
		c.log.DebugObj("json fallback bad status", "fallback_meta", map[string]any{"url": feedURL, "status": resp.StatusCode()})
		return nil
	}

	var payload apiResponse
	if err := json.Unmarshal(resp.Body(), &payload); err != nil {
		c.log.DebugObj("json fallback decode failed", "fallback_meta", map[string]any{"url": feedURL, "error": err.Error()})
		return nil
	}
	if payload.Status != "ok" || payload.Items == nil {
		c.log.DebugObj("json fallback rejected", "fallback_meta", map[string]any{"url": feedURL, "status": payload.Status})
		return nil
	}

	return c.toArticles(*payload.Items, sourceName)
}

func (c *Client) toArticles(items []apiItem, sourceName string) []domain.Article {
	now := c.now()
	out := make([]domain.Article, 0, len(items))
	for _, it := range items {
		title := feedparser.CollapseSpace(it.Title)
		if title == "" {
			continue
		}

		rawSummary := it.Description
		if strings.TrimSpace(rawSummary) == "" {
			rawSummary = it.Content
		}

		image := it.enclosureLink()
		if image == "" {
			image = strings.TrimSpace(it.Thumbnail)
		}
		if image == "" {
			image = feedparser.FirstImage(rawSummary)
		}

		out = append(out, domain.Article{
			Title:     title,
			Summary:   feedparser.CleanSummary(rawSummary, title),
			Link:      strings.TrimSpace(it.Link),
			Published: domain.FormatPublished(parsePubDate(it.PubDate, now)),
			Source:    sourceName,
			ImageURL:  image,
		})
	}
	return out
}

func parsePubDate(raw string, fallback time.Time) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	for _, layout := range pubDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	return fallback
}
