package ports

import "context"

// EventPublisher delivers gating lifecycle events to downstream consumers.
// The partition key (account ID, or referrer ID for bonus events) preserves
// per-account ordering on whatever broker backs the adapter.
type EventPublisher interface {
	Publish(ctx context.Context, eventType, partitionKey string, payload []byte) error
}
