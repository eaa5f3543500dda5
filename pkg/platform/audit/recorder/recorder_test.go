package recorder

//go:generate mockgen -source=recorder.go -destination=mocks/mocks.go -package=mocks Publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	audit "aegis/pkg/platform/audit"
	"aegis/pkg/platform/audit/publishers/compliance"
	"aegis/pkg/platform/audit/recorder/mocks"
	"aegis/pkg/platform/audit/store/memory"
	"aegis/pkg/requestcontext"
)

// =============================================================================
// Recorder Test Suite
// =============================================================================
// Entries are written through the real sync publisher into the memory store
// unless a test needs to control publishing outcomes.

type RecorderSuite struct {
	suite.Suite
	store    *memory.InMemoryStore
	sealer   *audit.Sealer
	metrics  *Metrics
	now      time.Time
	recorder *Recorder
	actor    Actor
}

func TestRecorderSuite(t *testing.T) {
	suite.Run(t, new(RecorderSuite))
}

func (s *RecorderSuite) SetupTest() {
	s.store = memory.NewInMemoryStore()
	s.sealer = audit.NewSealer([]byte("test-key"))
	s.metrics = NewMetrics(prometheus.NewRegistry())
	s.now = time.Date(2026, 4, 2, 8, 30, 0, 123456789, time.UTC)
	s.recorder = New(compliance.New(s.store, compliance.WithBackoff(0)),
		WithReader(s.store),
		WithSealer(s.sealer),
		WithClock(func() time.Time { return s.now }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(s.metrics),
	)
	s.actor = Actor{UserID: "u-1", OrgID: "org-1", Territory: "DE"}
}

func (s *RecorderSuite) only() audit.Entry {
	entries, err := s.store.ListRecent(context.Background(), 0)
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	return entries[0]
}

func (s *RecorderSuite) TestRecordDenied() {
	s.Run("records operation as the permission code", func() {
		s.store.Clear()
		entry, err := s.recorder.RecordDenied(context.Background(), s.actor, Spec{TargetClass: "customer"}, "customers:write", []any{"c-9"})
		s.Require().NoError(err)

		stored := s.only()
		s.Equal(entry.ID, stored.ID)
		s.Equal(audit.OutcomeSecurityDenied, stored.Outcome)
		s.Equal("customers:write", stored.Operation)
		s.Equal("customers:write", stored.Parameters[audit.ParamPermission])
		s.Zero(stored.DurationMs)
		s.True(s.sealer.Verify(stored))
	})

	s.Run("declared operation name wins", func() {
		s.store.Clear()
		_, err := s.recorder.RecordDenied(context.Background(), s.actor, Spec{Operation: "update_customer"}, "customers:write", nil)
		s.Require().NoError(err)
		s.Equal("update_customer", s.only().Operation)
	})

	s.Run("opt-out does not suppress denials", func() {
		s.store.Clear()
		_, err := s.recorder.RecordDenied(context.Background(), s.actor, Spec{OptOut: true}, "customers:write", nil)
		s.Require().NoError(err)
		s.Equal(1, s.store.Len())
	})
	s.Run("control bytes and invalid UTF-8 in arguments are cleaned", func() {
		s.store.Clear()
		actor := Actor{UserID: "u-\x001", OrgID: "org\xff", Territory: "DE"}
		spec := Spec{TargetClass: "audit_entry", EntityIDArg: 1, ParamNames: []string{"user_id", "limit"}}
		_, err := s.recorder.RecordDenied(context.Background(), actor, spec, "audit:read", []any{"victim\x00", 50})
		s.Require().NoError(err)

		stored := s.only()
		s.Equal("u-1", stored.UserID)
		s.Equal("org\uFFFD", stored.OrgID)
		s.Equal("victim", stored.Parameters[audit.ParamEntityID])
		s.Equal(map[string]any{"user_id": "victim", "limit": float64(50)}, stored.Parameters[audit.ParamArguments])
		s.True(storable(stored))
		s.True(s.sealer.Verify(stored))
	})
}

// storable reports whether every text field and parameter of e could be
// written to TEXT and JSONB columns.
func storable(e audit.Entry) bool {
	raw, err := json.Marshal(e.Parameters)
	if err != nil || bytes.Contains(raw, []byte(`\u0000`)) {
		return false
	}
	for _, v := range []string{e.UserID, e.OrgID, e.Operation, e.TargetClass, e.ErrorDetails, e.RequestID} {
		if !utf8.ValidString(v) || strings.IndexByte(v, 0) >= 0 {
			return false
		}
	}
	return true
}

func (s *RecorderSuite) TestRecordCompletion() {
	spec := Spec{
		Operation:     "customers:write",
		TargetClass:   "customer",
		EntityIDArg:   1,
		OldValueArg:   2,
		ParamNames:    []string{"id", "before", "update"},
		IncludeResult: true,
	}
	before := map[string]any{"name": "Old GmbH", "api_token": "t0"}
	update := map[string]any{"name": "New GmbH", "password": "hunter2"}

	s.Run("success captures entity, old and new values with secrets redacted", func() {
		s.store.Clear()
		ctx := requestcontext.WithRequestID(context.Background(), "req-7")
		_, err := s.recorder.RecordCompletion(ctx, s.actor, spec, Completion{
			Args:     []any{"c-1", before, update},
			Result:   map[string]any{"name": "New GmbH", "secret": "x"},
			Duration: 42 * time.Millisecond,
		})
		s.Require().NoError(err)

		e := s.only()
		s.Equal(audit.OutcomeSuccess, e.Outcome)
		s.Equal(int64(42), e.DurationMs)
		s.Equal("req-7", e.RequestID)
		s.Equal(domain.Territory("DE"), e.Territory)
		s.Equal("c-1", e.Parameters[audit.ParamEntityID])
		s.Equal(audit.Redacted, e.Parameters[audit.ParamOldValue].(map[string]any)["api_token"])
		s.Equal(audit.Redacted, e.Parameters[audit.ParamNewValue].(map[string]any)["secret"])
		args := e.Parameters[audit.ParamArguments].(map[string]any)
		s.Equal(audit.Redacted, args["update"].(map[string]any)["password"])
		s.Equal(s.now.Truncate(time.Microsecond), e.CreatedAt)
		s.Equal(e.CreatedAt.AddDate(7, 0, 0), e.RetentionUntil)
	})

	s.Run("error is sanitized into details and new value", func() {
		s.store.Clear()
		_, err := s.recorder.RecordCompletion(context.Background(), s.actor, spec, Completion{
			Args: []any{"c-1", before, update},
			Err:  errors.New("duplicate key\ngoroutine 1 [running]:\nmain.main()"),
		})
		s.Require().NoError(err)

		e := s.only()
		s.Equal(audit.OutcomeError, e.Outcome)
		s.Equal("duplicate key", e.ErrorDetails)
		s.Equal("duplicate key", e.Parameters[audit.ParamNewValue])
	})

	s.Run("pending spec records PENDING on success only", func() {
		s.store.Clear()
		pending := spec
		pending.Pending = true
		_, err := s.recorder.RecordCompletion(context.Background(), s.actor, pending, Completion{})
		s.Require().NoError(err)
		s.Equal(audit.OutcomePending, s.only().Outcome)

		s.store.Clear()
		_, err = s.recorder.RecordCompletion(context.Background(), s.actor, pending, Completion{Err: errors.New("boom")})
		s.Require().NoError(err)
		s.Equal(audit.OutcomeError, s.only().Outcome)
	})

	s.Run("error details with control bytes stay storable", func() {
		s.store.Clear()
		_, err := s.recorder.RecordCompletion(context.Background(), s.actor, spec, Completion{
			Args: []any{"c-1", before, update},
			Err:  errors.New("bad \x00 byte \xff"),
		})
		s.Require().NoError(err)

		stored := s.only()
		s.Equal("bad  byte \uFFFD", stored.ErrorDetails)
		s.Equal("bad  byte \uFFFD", stored.Parameters[audit.ParamNewValue])
		s.True(storable(stored))
	})

	s.Run("opt-out writes nothing", func() {
		s.store.Clear()
		_, err := s.recorder.RecordCompletion(context.Background(), s.actor, Spec{OptOut: true}, Completion{})
		s.Require().NoError(err)
		s.Zero(s.store.Len())
	})

	s.Run("unsupported territory is kept in parameters only", func() {
		s.store.Clear()
		actor := s.actor
		actor.Territory = "FR"
		_, err := s.recorder.RecordCompletion(context.Background(), actor, Spec{Operation: "leads:read"}, Completion{})
		s.Require().NoError(err)

		e := s.only()
		s.Empty(e.Territory)
		s.Equal("FR", e.Parameters[audit.ParamDeclaredTerritory])
	})

	s.Run("cancelled caller is still audited", func() {
		s.store.Clear()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := s.recorder.RecordCompletion(ctx, s.actor, spec, Completion{Err: context.Canceled})
		s.Require().NoError(err)
		s.Equal(audit.OutcomeError, s.only().Outcome)
	})

	s.Equal(1.0, testutil.ToFloat64(s.metrics.Recorded.WithLabelValues("sync", "PENDING")))
}

func (s *RecorderSuite) TestPublishingFailures() {
	ctrl := gomock.NewController(s.T())
	syncPub := mocks.NewMockPublisher(ctrl)
	asyncPub := mocks.NewMockPublisher(ctrl)
	metrics := NewMetrics(prometheus.NewRegistry())
	r := New(syncPub, WithAsync(asyncPub), WithMetrics(metrics),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	boom := errors.New("disk full")

	s.Run("sync failure surfaces as PublishingFailure", func() {
		syncPub.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(boom)

		_, err := r.RecordCompletion(context.Background(), s.actor, Spec{Operation: "customers:write"}, Completion{})
		var pf *PublishingFailure
		s.Require().ErrorAs(err, &pf)
		s.Equal("customers:write", pf.Operation)
		s.ErrorIs(err, boom)
		s.True(dErrors.HasCode(err, dErrors.CodeAuditPublishing))
	})

	s.Run("sync write carries a deadline", func() {
		syncPub.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, _ audit.Entry) error {
			_, ok := ctx.Deadline()
			s.True(ok)
			return nil
		})
		_, err := r.RecordCompletion(context.Background(), s.actor, Spec{Operation: "customers:write"}, Completion{})
		s.NoError(err)
	})

	s.Run("async failure is absorbed", func() {
		asyncPub.EXPECT().Publish(gomock.Any(), gomock.Any()).Return(boom)

		_, err := r.RecordCompletion(context.Background(), s.actor, Spec{Operation: "leads:read", Mode: ModeAsync}, Completion{})
		s.NoError(err)
		s.Equal(1.0, testutil.ToFloat64(metrics.PublishFailures.WithLabelValues("async")))
	})

	s.Run("async entries are sealed before hand-off", func() {
		asyncPub.EXPECT().Publish(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, e audit.Entry) error {
			s.NotEmpty(e.Checksum)
			return nil
		})
		_, err := r.RecordDenied(context.Background(), s.actor, Spec{Mode: ModeAsync}, "leads:read", nil)
		s.NoError(err)
	})
}

func (s *RecorderSuite) TestReconcile() {
	ctx := context.Background()
	newPending := func() audit.Entry {
		s.store.Clear()
		e, err := s.recorder.RecordCompletion(ctx, s.actor,
			Spec{Operation: "erp:sync", TargetClass: "customer", EntityIDArg: 1, Pending: true},
			Completion{Args: []any{"c-1"}})
		s.Require().NoError(err)
		return e
	}

	s.Run("appends a follow-up", func() {
		pending := newPending()
		s.now = s.now.Add(90 * time.Second)

		follow, err := s.recorder.Reconcile(ctx, Actor{UserID: "ops-1"}, pending.ID, audit.OutcomeSuccess, "")
		s.Require().NoError(err)
		s.Require().NotNil(follow.ReconcilesID)
		s.Equal(pending.ID, *follow.ReconcilesID)
		s.Equal("u-1", follow.UserID)
		s.Equal("ops-1", follow.Parameters["reconciled_by"])
		s.Equal("c-1", follow.Parameters[audit.ParamEntityID])
		s.Equal(int64(90000), follow.DurationMs)

		original, err := s.store.Get(ctx, pending.ID)
		s.Require().NoError(err)
		s.Equal(audit.OutcomePending, original.Outcome)
		s.Equal(2, s.store.Len())
	})

	s.Run("rejects a second reconciliation", func() {
		pending := newPending()
		_, err := s.recorder.Reconcile(ctx, s.actor, pending.ID, audit.OutcomeError, "timeout")
		s.Require().NoError(err)

		_, err = s.recorder.Reconcile(ctx, s.actor, pending.ID, audit.OutcomeSuccess, "")
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("rejects non-terminal outcomes and non-pending targets", func() {
		pending := newPending()
		_, err := s.recorder.Reconcile(ctx, s.actor, pending.ID, audit.OutcomePending, "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

		done, err := s.recorder.RecordCompletion(ctx, s.actor, Spec{Operation: "customers:read"}, Completion{})
		s.Require().NoError(err)
		_, err = s.recorder.Reconcile(ctx, s.actor, done.ID, audit.OutcomeSuccess, "")
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("unknown entry", func() {
		_, err := s.recorder.Reconcile(ctx, s.actor, domain.NewEntryID(), audit.OutcomeSuccess, "")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}
