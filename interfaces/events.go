package interfaces

import "context"

// EventPublisher emits sync events to the message broker.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload interface{}) error
}
