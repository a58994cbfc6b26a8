// Package publisher defines the queue abstraction used to hand work to
// downstream workers.
package publisher

import "context"

// Publisher sends a JSON-encodable payload to a named topic and returns the
// broker-assigned message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}
