package compliance_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aegis/internal/compliance"
	audit "aegis/pkg/platform/audit"
	"aegis/pkg/platform/audit/store/memory"
)

// expiredDaysAgo builds an entry whose retention ended the given number of days before scanNow.
func expiredDaysAgo(days int) audit.Entry {
	created := scanNow.AddDate(0, 0, -days).AddDate(-audit.RetentionYears, 0, 0)
	return newEntry("u1", "customers:read", audit.OutcomeSuccess, created)
}

func TestPurge_GracePeriod(t *testing.T) {
	ctx := context.Background()
	store := memory.NewInMemoryStore()
	old := expiredDaysAgo(31)
	recent := expiredDaysAgo(29)
	live := newEntry("u1", "customers:read", audit.OutcomeSuccess, scanNow.Add(-time.Hour))
	for _, e := range []audit.Entry{old, recent, live} {
		require.NoError(t, store.Append(ctx, e))
	}

	metrics := compliance.NewMetrics(prometheus.NewRegistry())
	p := compliance.NewPurger(store,
		compliance.WithPurgeClock(func() time.Time { return scanNow }),
		compliance.WithPurgeMetrics(metrics),
	)

	n, err := p.Purge(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	_, err = store.Get(ctx, old.ID)
	assert.Error(t, err, "31 days past retention is purged")
	_, err = store.Get(ctx, recent.ID)
	assert.NoError(t, err, "29 days past retention is kept")
	_, err = store.Get(ctx, live.ID)
	assert.NoError(t, err)

	again, err := p.Purge(ctx)
	require.NoError(t, err)
	assert.Zero(t, again, "second run deletes nothing")
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.Purged), 0)
}

type failingRetention struct {
	audit.RetentionStore
}

func (failingRetention) PurgeRetentionBefore(context.Context, time.Time) (int64, error) {
	return 0, errors.New("lock timeout")
}

func TestPurge_Failure(t *testing.T) {
	metrics := compliance.NewMetrics(prometheus.NewRegistry())
	p := compliance.NewPurger(failingRetention{}, compliance.WithPurgeMetrics(metrics))

	_, err := p.Purge(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lock timeout")
	assert.InDelta(t, 1, testutil.ToFloat64(metrics.PurgeFailures), 0)
}

func TestPurge_Cutoff(t *testing.T) {
	p := compliance.NewPurger(memory.NewInMemoryStore(),
		compliance.WithGrace(48*time.Hour),
		compliance.WithPurgeClock(func() time.Time { return scanNow }),
	)
	assert.Equal(t, scanNow.Add(-48*time.Hour), p.Cutoff())
}

func TestNextMonthlyRun(t *testing.T) {
	cases := map[string]struct {
		now  time.Time
		want time.Time
	}{
		"mid month": {
			now:  time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC),
			want: time.Date(2026, 4, 1, 3, 0, 0, 0, time.UTC),
		},
		"first before three": {
			now:  time.Date(2026, 4, 1, 2, 59, 0, 0, time.UTC),
			want: time.Date(2026, 4, 1, 3, 0, 0, 0, time.UTC),
		},
		"exactly at the slot": {
			now:  time.Date(2026, 4, 1, 3, 0, 0, 0, time.UTC),
			want: time.Date(2026, 5, 1, 3, 0, 0, 0, time.UTC),
		},
		"december rolls the year": {
			now:  time.Date(2026, 12, 20, 0, 0, 0, 0, time.UTC),
			want: time.Date(2027, 1, 1, 3, 0, 0, 0, time.UTC),
		},
		"other zones are normalized": {
			now:  time.Date(2026, 5, 1, 4, 30, 0, 0, time.FixedZone("CEST", 2*3600)),
			want: time.Date(2026, 5, 1, 3, 0, 0, 0, time.UTC),
		},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, compliance.NextMonthlyRun(tc.now))
		})
	}
}

func TestScheduler_RunOnStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := memory.NewInMemoryStore()
	require.NoError(t, store.Append(ctx, expiredDaysAgo(60)))

	p := compliance.NewPurger(store, compliance.WithPurgeClock(func() time.Time { return scanNow }))
	s := compliance.NewScheduler(p,
		compliance.WithRunOnStart(true),
		compliance.WithSchedulerClock(func() time.Time { return scanNow }),
	)

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	require.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}
