// Package consumer runs a Kafka consumer group and hands each record to a
// Handler. Offsets are committed only after every record of a poll has been
// handled, which gives at-least-once delivery.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"aegis/internal/platform/config"
)

const (
	defaultInitialBackoff = 100 * time.Millisecond
	defaultMaxBackoff     = 10 * time.Second
)

// Message is a decoded Kafka record.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// Handler processes one message. A returned error means "retry this message";
// malformed messages that can never succeed must return nil.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg *Message) error { return f(ctx, msg) }

// pollClient is the part of *kgo.Client the consumer needs.
type pollClient interface {
	PollFetches(ctx context.Context) kgo.Fetches
	CommitUncommittedOffsets(ctx context.Context) error
}

// Consumer polls, dispatches and commits.
type Consumer struct {
	client         pollClient
	kgo            *kgo.Client
	handler        Handler
	initialBackoff time.Duration
	maxBackoff     time.Duration
	logger         *slog.Logger
}

type Option func(*Consumer)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Consumer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithBackoff bounds the delay between retries of a failing message.
func WithBackoff(initial, maxDelay time.Duration) Option {
	return func(c *Consumer) {
		if initial > 0 {
			c.initialBackoff = initial
		}
		if maxDelay >= c.initialBackoff {
			c.maxBackoff = maxDelay
		}
	}
}

// New joins the configured consumer group on the audit topic.
func New(cfg config.Kafka, handler Handler, opts ...Option) (*Consumer, error) {
	if !cfg.Enabled() {
		return nil, errors.New("kafka brokers not configured")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.ConsumerGroup),
		kgo.ConsumeTopics(cfg.AuditTopic),
		kgo.DisableAutoCommit(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	c := newConsumer(client, handler, opts...)
	c.kgo = client
	return c, nil
}

func newConsumer(client pollClient, handler Handler, opts ...Option) *Consumer {
	c := &Consumer{
		client:         client,
		handler:        handler,
		initialBackoff: defaultInitialBackoff,
		maxBackoff:     defaultMaxBackoff,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run consumes until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if ctx.Err() != nil || fetches.IsClientClosed() {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.WarnContext(ctx, "kafka fetch error", "topic", topic, "partition", partition, "error", err)
		})

		var handleErr error
		fetches.EachRecord(func(r *kgo.Record) {
			if handleErr != nil {
				return
			}
			handleErr = c.handle(ctx, toMessage(r))
		})
		if handleErr != nil {
			// Only cancellation stops handle; uncommitted records are redelivered.
			return nil
		}
		if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
			c.logger.WarnContext(ctx, "kafka offset commit failed", "error", err)
		}
	}
}

// handle retries msg with exponential backoff until it succeeds or ctx ends.
func (c *Consumer) handle(ctx context.Context, msg *Message) error {
	backoff := c.initialBackoff
	for attempt := 1; ; attempt++ {
		err := c.handler.Handle(ctx, msg)
		if err == nil {
			return nil
		}
		c.logger.WarnContext(ctx, "kafka message handling failed, retrying",
			"topic", msg.Topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"attempt", attempt,
			"error", err,
		)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, c.maxBackoff)
	}
}

// Close leaves the group and closes the client.
func (c *Consumer) Close() {
	if c.kgo != nil {
		c.kgo.Close()
	}
}

func toMessage(r *kgo.Record) *Message {
	msg := &Message{
		Topic:     r.Topic,
		Partition: r.Partition,
		Offset:    r.Offset,
		Key:       r.Key,
		Value:     r.Value,
		Timestamp: r.Timestamp,
	}
	if len(r.Headers) > 0 {
		msg.Headers = make(map[string]string, len(r.Headers))
		for _, h := range r.Headers {
			msg.Headers[h.Key] = string(h.Value)
		}
	}
	return msg
}
