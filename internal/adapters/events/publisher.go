package events

import (
	"context"
	"log/slog"
	"strings"
)

// LoggingPublisher writes gating lifecycle events to the structured log.
// It stands in for a broker client in environments without one; the
// topic derivation matches what a real producer would use.
type LoggingPublisher struct {
	logger      *slog.Logger
	topicPrefix string
}

func NewLoggingPublisher(logger *slog.Logger) *LoggingPublisher {
	return &LoggingPublisher{logger: logger, topicPrefix: "gating"}
}

// topicFor maps an event type like "account.suspended" to its topic.
func (p *LoggingPublisher) topicFor(eventType string) string {
	domain, _, found := strings.Cut(eventType, ".")
	if !found {
		return p.topicPrefix + "." + eventType
	}
	return p.topicPrefix + "." + domain
}

func (p *LoggingPublisher) Publish(ctx context.Context, eventType, partitionKey string, payload []byte) error {
	p.logger.InfoContext(ctx, "published event",
		"topic", p.topicFor(eventType),
		"event_type", eventType,
		"partition_key", partitionKey,
		"payload", string(payload),
	)
	return nil
}
