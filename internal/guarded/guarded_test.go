package guarded

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/suite"

	"aegis/internal/authz/evaluator"
	"aegis/internal/authz/guard"
	"aegis/internal/authz/models"
	"aegis/internal/authz/store"
	"aegis/internal/session"
	audit "aegis/pkg/platform/audit"
	"aegis/pkg/platform/audit/publishers/compliance"
	"aegis/pkg/platform/audit/recorder"
	"aegis/pkg/platform/audit/store/memory"
	txctx "aegis/pkg/platform/tx"
)

const bindSQL = `set_config`

type staticSource struct{ snap *store.Snapshot }

func (s staticSource) Snapshot() *store.Snapshot { return s.snap }

type failingPublisher struct{ err error }

func (p failingPublisher) Publish(context.Context, audit.Entry) error { return p.err }

// =============================================================================
// Guarded Chain Test Suite
// =============================================================================
// Real evaluator, guard, session runner and recorder; sqlmock stands in for
// the database so the statement order of every call is pinned.

type ChainSuite struct {
	suite.Suite
	db     *sql.DB
	mock   sqlmock.Sqlmock
	now    time.Time
	logger *slog.Logger
	store  *memory.InMemoryStore
	guard  *guard.Guard
	runner *session.Runner
	chain  *Chain
}

func TestChainSuite(t *testing.T) {
	suite.Run(t, new(ChainSuite))
}

func (s *ChainSuite) SetupTest() {
	db, mock, err := sqlmock.New()
	s.Require().NoError(err)
	s.db, s.mock = db, mock
	s.now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))

	data, err := store.LoadSeedFile("../authz/store/testdata/seed.yaml")
	s.Require().NoError(err)
	eval := evaluator.New(staticSource{snap: store.NewSnapshot(data, s.now)},
		evaluator.WithClock(func() time.Time { return s.now }))
	s.guard = guard.New(eval, guard.WithLogger(s.logger))
	s.runner = session.NewRunner(db, session.NewBinder(session.WithLogger(s.logger)),
		session.WithRunnerLogger(s.logger))
	s.store = memory.NewInMemoryStore()
	rec := recorder.New(compliance.New(s.store, compliance.WithBackoff(0)),
		recorder.WithClock(func() time.Time { return s.now }),
		recorder.WithLogger(s.logger))
	s.chain = NewChain(s.guard, s.runner, rec, WithLogger(s.logger))
}

func (s *ChainSuite) TearDownTest() {
	s.NoError(s.mock.ExpectationsWereMet())
	_ = s.db.Close()
}

func (s *ChainSuite) expectBoundTx() {
	s.mock.ExpectBegin()
	for range session.Variables {
		s.mock.ExpectExec(bindSQL).WillReturnResult(sqlmock.NewResult(0, 1))
	}
}

func (s *ChainSuite) entries() []audit.Entry {
	entries, err := s.store.ListRecent(context.Background(), 0)
	s.Require().NoError(err)
	return entries
}

func attrs(userID string, roles ...string) models.SecurityAttributes {
	return models.NewSecurityAttributes(userID, "org-1", "DE", nil, nil, roles)
}

func updateCustomer(ctx context.Context, tx *sql.Tx) (string, error) {
	if _, err := tx.ExecContext(ctx, `UPDATE customers SET name = $1 WHERE id = $2`, "New GmbH", "c-1"); err != nil {
		return "", err
	}
	return "updated", nil
}

func (s *ChainSuite) TestDeniedCallNeverTouchesTheDatabase() {
	decl := Declare("customers:write", "customer")
	decl.Audit.EntityIDArg = 1
	called := false

	_, err := Call(context.Background(), s.chain, attrs("u-sales", "sales"), decl, []any{"c-1"},
		func(ctx context.Context, tx *sql.Tx) (string, error) {
			called = true
			return updateCustomer(ctx, tx)
		})

	var denied *guard.PermissionDenied
	s.Require().ErrorAs(err, &denied)
	s.Equal("customers:write", denied.Permission)
	s.False(called)

	entries := s.entries()
	s.Require().Len(entries, 1)
	s.Equal(audit.OutcomeSecurityDenied, entries[0].Outcome)
	s.Equal("customers:write", entries[0].Operation)
	s.Equal("c-1", entries[0].Parameters[audit.ParamEntityID])
}

func (s *ChainSuite) TestAllowedCallRunsInBoundTransaction() {
	s.expectBoundTx()
	s.mock.ExpectExec(`UPDATE customers`).WithArgs("New GmbH", "c-1").WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectCommit()

	decl := Declare("customers:write", "customer")
	decl.Audit.IncludeResult = true
	result, err := Call(context.Background(), s.chain, attrs("u-mgr", "manager"), decl, []any{"c-1"},
		func(ctx context.Context, tx *sql.Tx) (string, error) {
			carried, ok := txctx.From(ctx)
			s.True(ok)
			s.Same(tx, carried)
			return updateCustomer(ctx, tx)
		})
	s.Require().NoError(err)
	s.Equal("updated", result)

	entries := s.entries()
	s.Require().Len(entries, 1)
	e := entries[0]
	s.Equal(audit.OutcomeSuccess, e.Outcome)
	s.Equal("customers:write", e.Operation)
	s.Equal("updated", e.Parameters[audit.ParamNewValue])
	s.Equal(e.CreatedAt.AddDate(7, 0, 0), e.RetentionUntil)
	s.GreaterOrEqual(e.DurationMs, int64(0))
}

func (s *ChainSuite) TestFailedOperationRollsBackAndRecordsError() {
	s.expectBoundTx()
	s.mock.ExpectExec(`UPDATE customers`).WillReturnError(errors.New("deadlock detected"))
	s.mock.ExpectRollback()

	err := Exec(context.Background(), s.chain, attrs("u-mgr", "manager"), Declare("customers:write", "customer"), nil,
		func(ctx context.Context, tx *sql.Tx) error {
			_, err := updateCustomer(ctx, tx)
			return err
		})
	s.Require().Error(err)
	s.Contains(err.Error(), "deadlock detected")
	s.False(Succeeded(err))

	entries := s.entries()
	s.Require().Len(entries, 1)
	s.Equal(audit.OutcomeError, entries[0].Outcome)
	s.Equal("deadlock detected", entries[0].ErrorDetails)
}

func (s *ChainSuite) TestCancelledBeforeStartProducesNothing() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Call(ctx, s.chain, attrs("u-mgr", "manager"), Declare("customers:write", "customer"), nil, updateCustomer)
	s.ErrorIs(err, context.Canceled)
	s.Empty(s.entries())
}

func (s *ChainSuite) TestExpiringDirectGrant() {
	decl := Declare("customers:delete", "customer")
	op := func(ctx context.Context, tx *sql.Tx) (int64, error) {
		res, err := tx.ExecContext(ctx, `DELETE FROM customers WHERE id = $1`, "c-1")
		if err != nil {
			return 0, err
		}
		return res.RowsAffected()
	}

	s.expectBoundTx()
	s.mock.ExpectExec(`DELETE FROM customers`).WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectCommit()
	n, err := Call(context.Background(), s.chain, attrs("u-temp"), decl, nil, op)
	s.Require().NoError(err)
	s.Equal(int64(1), n)

	s.now = s.now.Add(2 * time.Hour)
	_, err = Call(context.Background(), s.chain, attrs("u-temp"), decl, nil, op)
	var denied *guard.PermissionDenied
	s.ErrorAs(err, &denied)

	entries := s.entries()
	s.Require().Len(entries, 2)
	s.Equal(audit.OutcomeSecurityDenied, entries[0].Outcome)
	s.Equal(audit.OutcomeSuccess, entries[1].Outcome)
}

func (s *ChainSuite) TestSyncAuditFailureIsReportedAlongsideResult() {
	boom := errors.New("audit store unavailable")
	chain := NewChain(s.guard, s.runner,
		recorder.New(failingPublisher{err: boom}, recorder.WithLogger(s.logger)),
		WithLogger(s.logger))

	s.expectBoundTx()
	s.mock.ExpectExec(`UPDATE customers`).WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectCommit()

	result, err := Call(context.Background(), chain, attrs("u-mgr", "manager"), Declare("customers:write", "customer"), nil, updateCustomer)
	s.Equal("updated", result)
	var pf *recorder.PublishingFailure
	s.Require().ErrorAs(err, &pf)
	s.ErrorIs(err, boom)
	s.True(Succeeded(err))
}

func (s *ChainSuite) TestAsyncAuditFailureIsAbsorbed() {
	chain := NewChain(s.guard, s.runner,
		recorder.New(failingPublisher{err: errors.New("unused")},
			recorder.WithAsync(failingPublisher{err: errors.New("broker down")}),
			recorder.WithLogger(s.logger)),
		WithLogger(s.logger))

	s.expectBoundTx()
	s.mock.ExpectExec(`UPDATE customers`).WillReturnResult(sqlmock.NewResult(0, 1))
	s.mock.ExpectCommit()

	decl := Declare("customers:write", "customer")
	decl.Audit.Mode = recorder.ModeAsync
	result, err := Call(context.Background(), chain, attrs("u-mgr", "manager"), decl, nil, updateCustomer)
	s.NoError(err)
	s.Equal("updated", result)
}

func (s *ChainSuite) TestDeclarationOperation() {
	s.Equal("customers:read", Declare("customers:read", "customer").Operation())

	d := Declaration{Requirement: guard.Requirement{AnyOf: []string{"audit:read", "admin:all"}}}
	s.Equal("audit:read", d.Operation())

	d.Audit.Operation = "list_audit"
	s.Equal("list_audit", d.Operation())
}
