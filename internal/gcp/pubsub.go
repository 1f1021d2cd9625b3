package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/Lllllllleong/propertydocumentfiler/internal/failure"
	"github.com/Lllllllleong/propertydocumentfiler/internal/queue"
)

// NewPubSubClient creates a Pub/Sub client for projectID.
func NewPubSubClient(ctx context.Context, projectID string) (*pubsub.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a pubsub client")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Pub/Sub client: %w", err)
	}
	return client, nil
}

// PubSubSubscriber delivers pull-subscription messages.
type PubSubSubscriber struct {
	sub *pubsub.Subscription
}

// NewPubSubSubscriber wraps subscriptionID. maxOutstanding caps the number of
// delivered but unsettled messages held by this process.
func NewPubSubSubscriber(client *pubsub.Client, subscriptionID string, maxOutstanding int) *PubSubSubscriber {
	sub := client.Subscription(subscriptionID)
	if maxOutstanding > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = maxOutstanding
	}
	return &PubSubSubscriber{sub: sub}
}

// Receive blocks until ctx is cancelled or the subscription fails.
func (s *PubSubSubscriber) Receive(ctx context.Context, handler func(context.Context, queue.Message)) error {
	return s.sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		handler(ctx, pubsubMessage{m: m})
	})
}

type pubsubMessage struct {
	m *pubsub.Message
}

func (p pubsubMessage) ID() string   { return p.m.ID }
func (p pubsubMessage) Data() []byte { return p.m.Data }
func (p pubsubMessage) Ack()         { p.m.Ack() }
func (p pubsubMessage) Nack()        { p.m.Nack() }

// PubSubPublisher publishes payloads to a topic.
type PubSubPublisher struct {
	topic *pubsub.Topic
}

// NewPubSubPublisher wraps topicID.
func NewPubSubPublisher(client *pubsub.Client, topicID string) *PubSubPublisher {
	return &PubSubPublisher{topic: client.Topic(topicID)}
}

// Publish waits for the server to accept the message.
func (p *PubSubPublisher) Publish(ctx context.Context, data []byte) (string, error) {
	id, err := p.topic.Publish(ctx, &pubsub.Message{Data: data}).Get(ctx)
	if err != nil {
		return "", failure.Wrap("pubsub.publish", err)
	}
	return id, nil
}

// Stop flushes pending publishes and releases the topic's goroutines.
func (p *PubSubPublisher) Stop() {
	p.topic.Stop()
}
