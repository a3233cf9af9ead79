package publishers

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/samvad-hq/samvad-digest-feeds/internal/logger"
)

type gcpPubSubSender struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	log    logger.Logger
}

func newGCPPubSubSender(ctx context.Context, cfg *GCPQueueConfig, log logger.Logger) (*gcpPubSubSender, error) {
	if cfg == nil {
		return nil, fmt.Errorf("pubsub configuration is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	return &gcpPubSubSender{
		client: client,
		topic:  client.Topic(cfg.Topic),
		log:    logger.Ensure(log),
	}, nil
}

func newPubSubPublisher(ctx context.Context, cfg PublisherConfig, log logger.Logger) (Publisher, error) {
	if cfg.PubSub == nil {
		return nil, fmt.Errorf("publisher %q missing pubsub configuration", cfg.ID)
	}

	s, err := newGCPPubSubSender(ctx, cfg.PubSub, log)
	if err != nil {
		return nil, err
	}
	return &queuePublisher{id: cfg.ID, typ: TypePubSub, sender: s, close: s.Close}, nil
}

// Send publishes the event and waits for the server acknowledgement.
func (g *gcpPubSubSender) Send(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	res := g.topic.Publish(ctx, &pubsub.Message{
		Data:       payload,
		Attributes: evt.attributes(),
	})
	id, err := res.Get(ctx)
	if err != nil {
		g.log.ErrorObj("pubsub publisher send failed", "publisher_pubsub_error", map[string]any{
			"topic": g.topic.ID(),
			"error": err.Error(),
		})
		return fmt.Errorf("publish to pubsub: %w", err)
	}
	g.log.DebugObj("pubsub publisher delivered event", "publisher_pubsub_delivery", map[string]any{
		"topic":      g.topic.ID(),
		"message_id": id,
	})
	return nil
}

// Close flushes pending messages and releases the client.
func (g *gcpPubSubSender) Close() error {
	g.topic.Stop()
	return g.client.Close()
}
