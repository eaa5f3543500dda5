// Package security provides the asynchronous, best-effort audit publisher.
//
// Publish never blocks on I/O: entries go into a bounded ring buffer and a
// background flusher hands them to a Sink in batches behind a circuit breaker.
// Failures are logged and counted; they never reach the caller.
package security

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker"

	audit "aegis/pkg/platform/audit"
	"aegis/pkg/platform/sentinel"
)

const (
	defaultBatchSize     = 100
	defaultFlushInterval = time.Second
	defaultFlushTimeout  = 5 * time.Second
	defaultMaxFailures   = 5
	defaultOpenTimeout   = 30 * time.Second
)

// Sink receives flushed batches. The Kafka producer and the channel worker
// implement it.
type Sink interface {
	PublishBatch(ctx context.Context, entries []audit.Entry) error
}

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("async audit publisher closed")

// Publisher buffers entries and flushes them to a Sink.
type Publisher struct {
	sink          Sink
	buffer        *RingBuffer
	breaker       *gobreaker.CircuitBreaker
	batchSize     int
	flushInterval time.Duration
	flushTimeout  time.Duration
	maxFailures   uint32
	openTimeout   time.Duration
	logger        *slog.Logger
	metrics       *Metrics

	notify  chan struct{}
	flushMu sync.Mutex
	closed  atomic.Bool
}

// Option configures the Publisher.
type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Publisher) {
		p.metrics = m
	}
}

// WithBufferSize sets the ring buffer capacity.
func WithBufferSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.buffer = NewRingBuffer(n)
		}
	}
}

// WithBatchSize sets the maximum number of entries per sink call. Reaching it
// triggers an early flush.
func WithBatchSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

func WithFlushInterval(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.flushInterval = d
		}
	}
}

// WithBreaker sets how many consecutive sink failures open the breaker and how
// long it stays open before a trial batch.
func WithBreaker(maxFailures uint32, openTimeout time.Duration) Option {
	return func(p *Publisher) {
		if maxFailures > 0 {
			p.maxFailures = maxFailures
		}
		if openTimeout > 0 {
			p.openTimeout = openTimeout
		}
	}
}

// New creates an async publisher. Call Run to start flushing.
func New(sink Sink, opts ...Option) *Publisher {
	p := &Publisher{
		sink:          sink,
		buffer:        NewRingBuffer(defaultCapacity),
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		flushTimeout:  defaultFlushTimeout,
		maxFailures:   defaultMaxFailures,
		openTimeout:   defaultOpenTimeout,
		logger:        slog.Default(),
		notify:        make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "audit-async-sink",
		MaxRequests: 1,
		Timeout:     p.openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= p.maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			p.logger.Warn("audit sink circuit breaker state changed",
				"name", name, "from", from.String(), "to", to.String())
			p.metrics.SetBreakerState(to)
		},
	})
	return p
}

// Publish enqueues entry and returns immediately. Overflow drops the oldest
// buffered entry.
func (p *Publisher) Publish(_ context.Context, entry audit.Entry) error {
	if p.closed.Load() {
		p.metrics.IncDropped(reasonClosed, 1)
		return ErrClosed
	}
	if p.buffer.Enqueue(entry) {
		p.metrics.IncDropped(reasonOverflow, 1)
	}
	p.metrics.IncEnqueued()
	p.metrics.SetBuffered(p.buffer.Len())
	if p.buffer.Len() >= p.batchSize {
		select {
		case p.notify <- struct{}{}:
		default:
		}
	}
	return nil
}

// Run flushes on every interval tick and whenever a full batch is waiting.
// It returns when ctx is done; Close drains what is left.
func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-p.notify:
		}
		p.flushAll(ctx)
	}
}

// Flush hands everything currently buffered to the sink, unless the breaker is open.
func (p *Publisher) Flush(ctx context.Context) {
	p.flushAll(ctx)
}

// Close stops accepting entries and drains the buffer. Entries that cannot be
// delivered before ctx ends are dropped and counted.
func (p *Publisher) Close(ctx context.Context) error {
	if p.closed.Swap(true) {
		return nil
	}
	p.flushAll(ctx)
	if left := p.buffer.Len(); left > 0 {
		lost := p.buffer.DequeueBatch(left)
		p.metrics.IncDropped(reasonClosed, len(lost))
		p.metrics.SetBuffered(0)
		p.logger.ErrorContext(ctx, "async audit entries lost on shutdown", "count", len(lost))
		return errors.Join(sentinel.ErrUnavailable, errors.New("async audit buffer not fully drained"))
	}
	return nil
}

// Buffered returns the number of entries waiting to be flushed.
func (p *Publisher) Buffered() int { return p.buffer.Len() }

func (p *Publisher) flushAll(ctx context.Context) {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()
	for p.buffer.Len() > 0 && ctx.Err() == nil {
		if p.breaker.State() == gobreaker.StateOpen {
			return
		}
		if !p.flushBatch(ctx) {
			return
		}
	}
}

// flushBatch reports whether the batch was delivered. A failed batch is dropped.
func (p *Publisher) flushBatch(ctx context.Context) bool {
	batch := p.buffer.DequeueBatch(p.batchSize)
	p.metrics.SetBuffered(p.buffer.Len())
	if len(batch) == 0 {
		return false
	}

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.flushTimeout)
	defer cancel()
	_, err := p.breaker.Execute(func() (any, error) {
		return nil, p.sink.PublishBatch(flushCtx, batch)
	})
	if err != nil {
		p.metrics.IncDropped(reasonSinkError, len(batch))
		p.logger.WarnContext(ctx, "async audit batch dropped",
			"count", len(batch),
			"first_entry_id", batch[0].ID,
			"error", err,
		)
		return false
	}
	p.metrics.IncFlushed(len(batch))
	return true
}
