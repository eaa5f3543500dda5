// Package producer publishes audit entries to Kafka. It is the async audit sink
// used when brokers are configured.
package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"aegis/internal/platform/config"
	audit "aegis/pkg/platform/audit"
)

// syncProducer is the part of *kgo.Client the producer needs.
type syncProducer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Producer writes audit payloads keyed by entry id, so redeliveries of the
// same entry land on the same partition and materialize idempotently.
type Producer struct {
	client syncProducer
	kgo    *kgo.Client
	topic  string
	logger *slog.Logger
}

type Option func(*Producer)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Producer) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// New connects to the configured brokers and verifies reachability.
func New(ctx context.Context, cfg config.Kafka, opts ...Option) (*Producer, error) {
	if !cfg.Enabled() {
		return nil, errors.New("kafka brokers not configured")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.DefaultProduceTopic(cfg.AuditTopic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerBatchCompression(kgo.Lz4Compression(), kgo.NoCompression()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	if err := client.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("kafka ping failed: %w", err)
	}
	p := newProducer(client, cfg.AuditTopic, opts...)
	p.kgo = client
	return p, nil
}

func newProducer(client syncProducer, topic string, opts ...Option) *Producer {
	p := &Producer{client: client, topic: topic, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// PublishBatch produces one record per entry and waits for all acks. Entries
// that fail to encode are skipped and logged; broker errors fail the batch.
func (p *Producer) PublishBatch(ctx context.Context, entries []audit.Entry) error {
	records := make([]*kgo.Record, 0, len(entries))
	for _, e := range entries {
		value, err := audit.MarshalPayload(e)
		if err != nil {
			p.logger.ErrorContext(ctx, "audit entry not encodable, skipping", "entry_id", e.ID, "error", err)
			continue
		}
		records = append(records, &kgo.Record{
			Topic: p.topic,
			Key:   []byte(e.ID.String()),
			Value: value,
			Headers: []kgo.RecordHeader{
				{Key: "outcome", Value: []byte(e.Outcome)},
				{Key: "operation", Value: []byte(e.Operation)},
			},
		})
	}
	if len(records) == 0 {
		return nil
	}
	if err := p.client.ProduceSync(ctx, records...).FirstErr(); err != nil {
		return fmt.Errorf("produce audit batch: %w", err)
	}
	return nil
}

// EnsureTopic creates the audit topic if it does not exist yet.
func (p *Producer) EnsureTopic(ctx context.Context, partitions int32, replication int16) error {
	if p.kgo == nil {
		return errors.New("kafka producer has no admin connection")
	}
	adm := kadm.NewClient(p.kgo)
	resp, err := adm.CreateTopic(ctx, partitions, replication, nil, p.topic)
	if err == nil {
		err = resp.Err
	}
	if err != nil && !errors.Is(err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("create topic %s: %w", p.topic, err)
	}
	return nil
}

// Health pings the brokers.
func (p *Producer) Health(ctx context.Context) error {
	if p.kgo == nil {
		return nil
	}
	return p.kgo.Ping(ctx)
}

// Close flushes buffered records and closes the client.
func (p *Producer) Close(ctx context.Context) error {
	if p.kgo == nil {
		return nil
	}
	err := p.kgo.Flush(ctx)
	p.kgo.Close()
	return err
}
