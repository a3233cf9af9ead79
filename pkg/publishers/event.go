package publishers

import (
	"time"

	"github.com/samvad-hq/samvad-digest-feeds/internal/domain"
)

// Event is one collected article as published downstream.
type Event struct {
	RunID       string         `json:"run_id"`
	TopicIDs    []string       `json:"topic_ids"`
	Article     domain.Article `json:"article"`
	CollectedAt time.Time      `json:"collected_at"`
}

// NewEvent wraps an article collected during run runID.
func NewEvent(runID string, topicIDs []string, article domain.Article) Event {
	return Event{
		RunID:       runID,
		TopicIDs:    append([]string(nil), topicIDs...),
		Article:     article,
		CollectedAt: time.Now().UTC(),
	}
}

// attributes are the routing attributes attached to queue messages.
func (e Event) attributes() map[string]string {
	attrs := map[string]string{"run_id": e.RunID}
	if e.Article.Source != "" {
		attrs["source"] = e.Article.Source
	}
	return attrs
}
