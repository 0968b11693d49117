package publish

import (
	"context"
	"strings"

	"chainScope/internal/model"
)

// Publisher delivers indexed events to the downstream sink. Delivery is
// at-least-once; consumers are expected to dedupe.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event model.IndexedEvent) error
	Close() error
}

// RoutingKey derives the sink routing key for an event type,
// e.g. "event.transfer".
func RoutingKey(eventType string) string {
	return "event." + strings.ToLower(eventType)
}

// Nop is the publisher used when messaging is disabled.
type Nop struct{}

func (Nop) Publish(context.Context, string, model.IndexedEvent) error { return nil }
func (Nop) Close() error                                              { return nil }
