package compliance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	audit "aegis/pkg/platform/audit"
	"aegis/pkg/platform/audit/store/memory"
	"aegis/pkg/platform/sentinel"
)

// flakyWriter fails the first n appends; landFirst makes the first failing
// attempt persist anyway, as a timed-out write that actually committed would.
type flakyWriter struct {
	inner     *memory.InMemoryStore
	failures  int
	landFirst bool
	onFailure func(ctx context.Context)
	calls     int
}

func (w *flakyWriter) Append(ctx context.Context, e audit.Entry) error {
	w.calls++
	if w.calls <= w.failures {
		if w.landFirst && w.calls == 1 {
			_ = w.inner.Append(ctx, e)
		}
		if w.onFailure != nil {
			w.onFailure(ctx)
		}
		return errors.New("connection reset")
	}
	return w.inner.Append(ctx, e)
}

func newEntry() audit.Entry {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return audit.Entry{
		ID:             domain.NewEntryID(),
		UserID:         "u1",
		Operation:      "customers:write",
		Outcome:        audit.OutcomeSuccess,
		CreatedAt:      now,
		RetentionUntil: audit.RetentionUntil(now),
	}
}

func TestPublisher_SyncWrite(t *testing.T) {
	store := memory.NewInMemoryStore()
	reg := prometheus.NewRegistry()
	pub := New(store, WithMetrics(NewMetrics(reg)))
	defer pub.Close(context.Background())

	e := newEntry()
	require.NoError(t, pub.Publish(context.Background(), e))

	got, err := store.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.Equal(t, "customers:write", got.Operation)
	assert.Equal(t, 1.0, testutil.ToFloat64(pub.metrics.EntriesPersisted.WithLabelValues("SUCCESS")))
}

func TestPublisher_RetriesThenSucceeds(t *testing.T) {
	w := &flakyWriter{inner: memory.NewInMemoryStore(), failures: 2}
	pub := New(w, WithRetries(2), WithBackoff(0))

	require.NoError(t, pub.Publish(context.Background(), newEntry()))
	assert.Equal(t, 3, w.calls)
	assert.Equal(t, 1, w.inner.Len())
}

func TestPublisher_GivesUpAfterRetryBudget(t *testing.T) {
	w := &flakyWriter{inner: memory.NewInMemoryStore(), failures: 10}
	reg := prometheus.NewRegistry()
	pub := New(w, WithRetries(1), WithBackoff(0), WithMetrics(NewMetrics(reg)))

	err := pub.Publish(context.Background(), newEntry())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 2 attempt(s)")
	assert.Equal(t, 2, w.calls)
	assert.Equal(t, 1.0, testutil.ToFloat64(pub.metrics.PersistFailures))
}

func TestPublisher_ConflictAfterAmbiguousFailureIsPersisted(t *testing.T) {
	w := &flakyWriter{inner: memory.NewInMemoryStore(), failures: 1, landFirst: true}
	pub := New(w, WithRetries(2), WithBackoff(0))

	require.NoError(t, pub.Publish(context.Background(), newEntry()))
	assert.Equal(t, 2, w.calls)
	assert.Equal(t, 1, w.inner.Len())
}

func TestPublisher_FirstAttemptConflictIsReturned(t *testing.T) {
	store := memory.NewInMemoryStore()
	pub := New(store, WithBackoff(0))
	e := newEntry()
	require.NoError(t, store.Append(context.Background(), e))

	err := pub.Publish(context.Background(), e)
	assert.ErrorIs(t, err, sentinel.ErrConflict)
}

func TestPublisher_LostReconciliationRaceIsNotPersisted(t *testing.T) {
	ctx := context.Background()
	inner := memory.NewInMemoryStore()
	pending := newEntry()
	pending.Outcome = audit.OutcomePending
	require.NoError(t, inner.Append(ctx, pending))

	rival := newEntry()
	rival.ReconcilesID = &pending.ID
	w := &flakyWriter{inner: inner, failures: 1, onFailure: func(ctx context.Context) {
		require.NoError(t, inner.Append(ctx, rival))
	}}
	reg := prometheus.NewRegistry()
	pub := New(w, WithRetries(2), WithBackoff(0), WithMetrics(NewMetrics(reg)))

	followUp := newEntry()
	followUp.Outcome = audit.OutcomeError
	followUp.ReconcilesID = &pending.ID
	err := pub.Publish(ctx, followUp)

	require.ErrorIs(t, err, sentinel.ErrAlreadyReconciled)
	assert.Equal(t, 2, w.calls, "no retry after losing the race")
	_, getErr := inner.Get(ctx, followUp.ID)
	assert.ErrorIs(t, getErr, sentinel.ErrNotFound)
	assert.Equal(t, 1.0, testutil.ToFloat64(pub.metrics.PersistFailures))
}

func TestPublisher_InvalidEntryIsNotWritten(t *testing.T) {
	w := &flakyWriter{inner: memory.NewInMemoryStore()}
	pub := New(w)
	e := newEntry()
	e.RetentionUntil = e.CreatedAt

	err := pub.Publish(context.Background(), e)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	assert.Zero(t, w.calls)
}

func TestPublisher_CancelledContextStopsRetrying(t *testing.T) {
	w := &flakyWriter{inner: memory.NewInMemoryStore(), failures: 10}
	pub := New(w, WithRetries(5), WithBackoff(time.Hour))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := pub.Publish(ctx, newEntry())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, w.calls)
}
