package producer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"aegis/pkg/domain"
	audit "aegis/pkg/platform/audit"
)

type fakeClient struct {
	records []*kgo.Record
	err     error
}

func (f *fakeClient) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		f.records = append(f.records, r)
		results = append(results, kgo.ProduceResult{Record: r, Err: f.err})
	}
	return results
}

func entry() audit.Entry {
	now := time.Now().UTC()
	return audit.Entry{
		ID:             domain.NewEntryID(),
		Operation:      "leads:read",
		Outcome:        audit.OutcomeSuccess,
		CreatedAt:      now,
		RetentionUntil: audit.RetentionUntil(now),
	}
}

func TestPublishBatch_KeysByEntryID(t *testing.T) {
	client := &fakeClient{}
	p := newProducer(client, "audit")
	e := entry()

	require.NoError(t, p.PublishBatch(context.Background(), []audit.Entry{e}))
	require.Len(t, client.records, 1)
	rec := client.records[0]
	assert.Equal(t, "audit", rec.Topic)
	assert.Equal(t, e.ID.String(), string(rec.Key))

	decoded, err := audit.UnmarshalPayload(rec.Value)
	require.NoError(t, err)
	assert.Equal(t, e.ID, decoded.ID)
}

func TestPublishBatch_BrokerErrorFailsBatch(t *testing.T) {
	boom := errors.New("not enough replicas")
	p := newProducer(&fakeClient{err: boom}, "audit")

	err := p.PublishBatch(context.Background(), []audit.Entry{entry(), entry()})
	assert.ErrorIs(t, err, boom)
}

func TestPublishBatch_Empty(t *testing.T) {
	client := &fakeClient{}
	require.NoError(t, newProducer(client, "audit").PublishBatch(context.Background(), nil))
	assert.Empty(t, client.records)
}
