package consumer

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/internal/platform/kafka/consumer"
	"aegis/pkg/domain"
	audit "aegis/pkg/platform/audit"
	"aegis/pkg/platform/audit/store/memory"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type failingWriter struct{ err error }

func (w failingWriter) Append(context.Context, audit.Entry) error { return w.err }

func message(t *testing.T, e audit.Entry) *consumer.Message {
	t.Helper()
	value, err := audit.MarshalPayload(e)
	require.NoError(t, err)
	return &consumer.Message{Topic: "audit", Key: []byte(e.ID.String()), Value: value}
}

func sealedEntry(t *testing.T, sealer *audit.Sealer) audit.Entry {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Microsecond)
	e := audit.Entry{
		ID:             domain.NewEntryID(),
		UserID:         "u1",
		Operation:      "leads:read",
		Outcome:        audit.OutcomeSuccess,
		Parameters:     map[string]any{"entity_id": "l-1"},
		CreatedAt:      now,
		RetentionUntil: audit.RetentionUntil(now),
	}
	require.NoError(t, sealer.Seal(&e))
	return e
}

func TestEntryHandler_MaterializesIdempotently(t *testing.T) {
	sealer := audit.NewSealer([]byte("k"))
	store := memory.NewInMemoryStore()
	h := NewEntryHandler(store, sealer, discard)
	e := sealedEntry(t, sealer)

	require.NoError(t, h.Handle(context.Background(), message(t, e)))
	require.NoError(t, h.Handle(context.Background(), message(t, e)))

	assert.Equal(t, 1, store.Len())
	stored, err := store.Get(context.Background(), e.ID)
	require.NoError(t, err)
	assert.True(t, sealer.Verify(stored))
}

func TestEntryHandler_MalformedMessageIsCommitted(t *testing.T) {
	store := memory.NewInMemoryStore()
	h := NewEntryHandler(store, nil, discard)

	err := h.Handle(context.Background(), &consumer.Message{Topic: "audit", Value: []byte("{oops")})
	assert.NoError(t, err)
	assert.Zero(t, store.Len())
}

func TestEntryHandler_StoreFailureIsRetried(t *testing.T) {
	boom := errors.New("connection refused")
	h := NewEntryHandler(failingWriter{err: boom}, nil, discard)

	err := h.Handle(context.Background(), message(t, sealedEntry(t, audit.NewSealer(nil))))
	assert.ErrorIs(t, err, boom)
}

func TestRouter(t *testing.T) {
	var routed []string
	handler := func(name string) TopicHandler {
		return consumer.HandlerFunc(func(context.Context, *consumer.Message) error {
			routed = append(routed, name)
			return nil
		})
	}

	r := NewRouter(discard, nil)
	r.Register("audit", handler("audit"))
	r.Register("audit.replay", handler("audit"))
	assert.Equal(t, []string{"audit", "audit.replay"}, r.Topics())
	require.NoError(t, r.Handle(context.Background(), &consumer.Message{Topic: "audit"}))
	require.NoError(t, r.Handle(context.Background(), &consumer.Message{Topic: "unknown"}))
	assert.Equal(t, []string{"audit"}, routed)

	withFallback := NewRouter(discard, handler("fallback"))
	require.NoError(t, withFallback.Handle(context.Background(), &consumer.Message{Topic: "unknown"}))
	assert.Equal(t, []string{"audit", "fallback"}, routed)
}
