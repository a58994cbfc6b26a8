package sinks

import (
	"context"
	"errors"
	"fmt"

	"github.com/JakeFAU/shortlink-edge/internal/requestlog"
)

// Publisher is the subset of the queue publisher the remote sink needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Batch is the message body shipped to the logs topic. The ingestion worker
// on the other side appends Entries to Dataset.
type Batch struct {
	Dataset string             `json:"dataset"`
	Entries []requestlog.Entry `json:"entries"`
}

// PublisherSink forwards each batch as a single queue message.
type PublisherSink struct {
	publisher Publisher
	topic     string
	dataset   string
}

// NewPublisherSink constructs a remote sink for the given topic and dataset.
func NewPublisherSink(publisher Publisher, topic, dataset string) (*PublisherSink, error) {
	if publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if topic == "" || dataset == "" {
		return nil, errors.New("topic and dataset are required")
	}
	return &PublisherSink{publisher: publisher, topic: topic, dataset: dataset}, nil
}

// Consume publishes the batch.
func (s *PublisherSink) Consume(ctx context.Context, batch []requestlog.Entry) error {
	if len(batch) == 0 {
		return nil
	}
	if _, err := s.publisher.Publish(ctx, s.topic, Batch{Dataset: s.dataset, Entries: batch}); err != nil {
		return fmt.Errorf("publish log batch: %w", err)
	}
	return nil
}

// Close implements the Sink interface; the publisher is owned by the caller.
func (s *PublisherSink) Close(context.Context) error {
	return nil
}
