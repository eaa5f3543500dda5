package security

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/pkg/domain"
	audit "aegis/pkg/platform/audit"
)

type recordingSink struct {
	mu      sync.Mutex
	batches [][]audit.Entry
	err     error
}

func (s *recordingSink) PublishBatch(_ context.Context, entries []audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, entries)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.batches {
		n += len(b)
	}
	return n
}

func (s *recordingSink) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func newEntry(op string) audit.Entry {
	now := time.Now().UTC()
	return audit.Entry{
		ID:             domain.NewEntryID(),
		Operation:      op,
		Outcome:        audit.OutcomeSuccess,
		CreatedAt:      now,
		RetentionUntil: audit.RetentionUntil(now),
	}
}

func TestRingBuffer_DropsOldest(t *testing.T) {
	b := NewRingBuffer(2)
	assert.False(t, b.Enqueue(newEntry("a")))
	assert.False(t, b.Enqueue(newEntry("b")))
	assert.True(t, b.Enqueue(newEntry("c")))

	batch := b.DequeueBatch(10)
	require.Len(t, batch, 2)
	assert.Equal(t, "b", batch[0].Operation)
	assert.Equal(t, "c", batch[1].Operation)
	assert.Equal(t, int64(1), b.Dropped())
	assert.Zero(t, b.Len())
}

func TestPublisher_FlushesInBatchesOnRun(t *testing.T) {
	sink := &recordingSink{}
	pub := New(sink, WithBatchSize(3), WithFlushInterval(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Go(func() { _ = pub.Run(ctx) })

	for range 7 {
		require.NoError(t, pub.Publish(ctx, newEntry("customers:read")))
	}

	require.Eventually(t, func() bool { return sink.count() >= 6 }, time.Second, 5*time.Millisecond)
	cancel()
	wg.Wait()
	require.NoError(t, pub.Close(context.Background()))
	assert.Equal(t, 7, sink.count())
	for _, b := range sink.batches {
		assert.LessOrEqual(t, len(b), 3)
	}
}

func TestPublisher_DrainsOnClose(t *testing.T) {
	sink := &recordingSink{}
	pub := New(sink, WithBufferSize(100))

	for range 10 {
		require.NoError(t, pub.Publish(context.Background(), newEntry("customers:read")))
	}
	require.NoError(t, pub.Close(context.Background()))

	assert.Equal(t, 10, sink.count(), "all entries should be drained on close")
	assert.ErrorIs(t, pub.Publish(context.Background(), newEntry("late")), ErrClosed)
}

func TestPublisher_OverflowIsCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	pub := New(&recordingSink{}, WithBufferSize(1), WithMetrics(metrics))

	var wg sync.WaitGroup
	for range 10 {
		wg.Go(func() {
			assert.NoError(t, pub.Publish(context.Background(), newEntry("customers:read")))
		})
	}
	wg.Wait()

	assert.Equal(t, 1, pub.Buffered())
	assert.Equal(t, 9.0, testutil.ToFloat64(metrics.Dropped.WithLabelValues(reasonOverflow)))
}

func TestPublisher_SinkFailureNeverReachesCaller(t *testing.T) {
	sink := &recordingSink{err: errors.New("broker down")}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	pub := New(sink, WithMetrics(metrics), WithBatchSize(1))

	require.NoError(t, pub.Publish(context.Background(), newEntry("customers:read")))
	pub.Flush(context.Background())

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Dropped.WithLabelValues(reasonSinkError)))
}

func TestPublisher_OpenBreakerKeepsEntriesBuffered(t *testing.T) {
	sink := &recordingSink{err: errors.New("broker down")}
	pub := New(sink, WithBatchSize(1), WithBreaker(2, time.Hour))
	ctx := context.Background()

	for range 2 {
		require.NoError(t, pub.Publish(ctx, newEntry("customers:read")))
		pub.Flush(ctx)
	}
	require.Equal(t, gobreaker.StateOpen, pub.breaker.State())

	require.NoError(t, pub.Publish(ctx, newEntry("customers:read")))
	sink.fail(nil)
	pub.Flush(ctx)
	assert.Equal(t, 1, pub.Buffered())
	assert.Zero(t, sink.count())

	err := pub.Close(ctx)
	assert.Error(t, err)
	assert.Zero(t, pub.Buffered())
}
