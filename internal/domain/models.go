package domain

import "time"

// Domain contains core models shared by the retrieval pipeline.

// PublishedLayout is the ISO-8601 form used for Article.Published.
const PublishedLayout = "2006-01-02T15:04:05.000Z07:00"

// Article is a normalized feed item. Link is its identity.
type Article struct {
	Title     string `json:"title"`
	Summary   string `json:"summary"`
	Link      string `json:"link"`
	Published string `json:"published"`
	Source    string `json:"source"`
	ImageURL  string `json:"imageUrl,omitempty"`
}

// PublishedAt parses Published; ok is false for an unusable value.
func (a Article) PublishedAt() (time.Time, bool) {
	t, err := time.Parse(time.RFC3339Nano, a.Published)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// FormatPublished renders t the way Article.Published stores it.
func FormatPublished(t time.Time) string {
	return t.UTC().Format(PublishedLayout)
}

// FetchTask is one feed URL to retrieve, labelled with its topic name.
type FetchTask struct {
	URL        string
	SourceName string
}
