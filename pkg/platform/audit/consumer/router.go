// Package consumer materializes audit entries delivered over Kafka.
package consumer

import (
	"context"
	"log/slog"
	"slices"

	"aegis/internal/platform/kafka/consumer"
)

// TopicHandler processes one delivered message.
type TopicHandler interface {
	Handle(ctx context.Context, msg *consumer.Message) error
}

// Router picks the handler by topic. It is configured before the consumer
// starts and read-only afterwards.
type Router struct {
	routes   map[string]TopicHandler
	fallback TopicHandler
	logger   *slog.Logger
}

// NewRouter creates a router. fallback may be nil, in which case messages on
// unregistered topics are logged and committed.
func NewRouter(logger *slog.Logger, fallback TopicHandler) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{routes: map[string]TopicHandler{}, fallback: fallback, logger: logger}
}

// Register binds handler to topic, replacing any earlier binding.
func (r *Router) Register(topic string, handler TopicHandler) {
	r.routes[topic] = handler
}

// Topics lists the registered topics in sorted order.
func (r *Router) Topics() []string {
	topics := make([]string, 0, len(r.routes))
	for t := range r.routes {
		topics = append(topics, t)
	}
	slices.Sort(topics)
	return topics
}

// Handle implements consumer.Handler.
func (r *Router) Handle(ctx context.Context, msg *consumer.Message) error {
	if h, ok := r.routes[msg.Topic]; ok {
		return h.Handle(ctx, msg)
	}
	if r.fallback != nil {
		return r.fallback.Handle(ctx, msg)
	}
	r.logger.WarnContext(ctx, "audit message on unrouted topic committed without processing",
		"topic", msg.Topic,
		"partition", msg.Partition,
		"offset", msg.Offset,
	)
	return nil
}
