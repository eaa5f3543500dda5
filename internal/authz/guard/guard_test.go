package guard

//go:generate mockgen -source=guard.go -destination=mocks/mocks.go -package=mocks Decider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"aegis/internal/authz/evaluator"
	"aegis/internal/authz/guard/mocks"
	"aegis/internal/authz/models"
	dErrors "aegis/pkg/domain-errors"
)

// =============================================================================
// Guard Test Suite
// =============================================================================
// The guard is the only thing standing between a caller and a side effect, so
// the tests pin that a denied requirement never reaches the guarded function.

type GuardSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	decider *mocks.MockDecider
	metrics *Metrics
	guard   *Guard
	attrs   models.SecurityAttributes
}

func TestGuardSuite(t *testing.T) {
	suite.Run(t, new(GuardSuite))
}

func (s *GuardSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.decider = mocks.NewMockDecider(s.ctrl)
	s.metrics = NewMetrics(prometheus.NewRegistry())
	s.guard = New(s.decider,
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(s.metrics),
	)
	s.attrs = models.NewSecurityAttributes("u-1", "org-1", "DE", nil, nil, []string{"sales"})
}

func (s *GuardSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *GuardSuite) TestCheck() {
	s.Run("empty requirement skips evaluation", func() {
		s.NoError(s.guard.Check(context.Background(), s.attrs, Requirement{}))
	})

	s.Run("allowed", func() {
		s.decider.EXPECT().Evaluate(s.attrs, "customers:read").Return(evaluator.Decision{Allowed: true, Rule: evaluator.RuleRoleGrant})
		s.NoError(s.guard.Check(context.Background(), s.attrs, Require("customers:read")))
	})

	s.Run("denied carries code and message only", func() {
		s.decider.EXPECT().Evaluate(s.attrs, "customers:write").Return(evaluator.Decision{Rule: evaluator.RuleDefaultDeny})

		err := s.guard.Check(context.Background(), s.attrs, Requirement{Permission: "customers:write", Message: "sales cannot edit customers"})

		var denied *PermissionDenied
		s.Require().True(errors.As(err, &denied))
		s.Equal("customers:write", denied.Permission)
		s.Equal("sales cannot edit customers", denied.Message)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
		s.NotContains(err.Error(), string(evaluator.RuleDefaultDeny))
		s.Equal(float64(1), testutil.ToFloat64(s.metrics.Denied.WithLabelValues("customers:write")))
	})

	s.Run("any-of alternative satisfies", func() {
		gomock.InOrder(
			s.decider.EXPECT().Evaluate(s.attrs, "audit:read").Return(evaluator.Decision{}),
			s.decider.EXPECT().Evaluate(s.attrs, "admin:all").Return(evaluator.Decision{Allowed: true}),
		)
		s.NoError(s.guard.Check(context.Background(), s.attrs, Requirement{Permission: "audit:read", AnyOf: []string{"admin:all"}}))
	})

	s.Run("any-of denial reports primary code", func() {
		s.decider.EXPECT().Evaluate(s.attrs, gomock.Any()).Return(evaluator.Decision{}).Times(2)

		err := s.guard.Check(context.Background(), s.attrs, Requirement{Permission: "audit:read", AnyOf: []string{"admin:all"}})

		var denied *PermissionDenied
		s.Require().ErrorAs(err, &denied)
		s.Equal("audit:read", denied.Permission)
	})
}

func (s *GuardSuite) TestRun() {
	s.Run("denied never invokes fn", func() {
		s.decider.EXPECT().Evaluate(s.attrs, "customers:write").Return(evaluator.Decision{})
		called := false

		out, err := Run(context.Background(), s.guard, s.attrs, Require("customers:write"), func(context.Context) (int, error) {
			called = true
			return 42, nil
		})

		s.Error(err)
		s.Zero(out)
		s.False(called)
	})

	s.Run("allowed propagates result and error unchanged", func() {
		s.decider.EXPECT().Evaluate(s.attrs, "customers:read").Return(evaluator.Decision{Allowed: true}).Times(2)
		boom := errors.New("boom")

		out, err := Run(context.Background(), s.guard, s.attrs, Require("customers:read"), func(context.Context) (string, error) {
			return "ok", nil
		})
		s.NoError(err)
		s.Equal("ok", out)

		_, err = Run(context.Background(), s.guard, s.attrs, Require("customers:read"), func(context.Context) (string, error) {
			return "", boom
		})
		s.ErrorIs(err, boom)
	})
}

func TestPermissionDenied_Error(t *testing.T) {
	err := &PermissionDenied{Permission: "customers:write"}
	if err.Error() != "permission denied: customers:write" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
