//go:build integration

package evaluator_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/suite"

	"aegis/internal/authz/catalog"
	"aegis/internal/authz/evaluator"
	"aegis/internal/authz/models"
	"aegis/internal/authz/store"
	"aegis/internal/platform/postgres"
	"aegis/internal/session"
	"aegis/pkg/testutil/containers"
)

// =============================================================================
// Database Scope Agreement Suite
// =============================================================================
// app_has_scope guards row-level policies; it must reach the same verdict as
// the evaluator for every attribute set and code.

type ScopeAgreementSuite struct {
	suite.Suite
	pg     *containers.PostgresContainer
	eval   *evaluator.Evaluator
	runner *session.Runner
}

func TestScopeAgreementSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(ScopeAgreementSuite))
}

func (s *ScopeAgreementSuite) SetupSuite() {
	ctx := context.Background()
	s.pg = containers.GetManager().GetPostgres(s.T())
	s.Require().NoError(s.pg.TruncateTables(ctx,
		"user_permissions", "role_permissions", "roles", "permissions"))

	seed, err := store.LoadSeedFile("../store/testdata/seed.yaml")
	s.Require().NoError(err)
	ref := store.NewPostgres(s.pg.DB)
	s.Require().NoError(ref.Apply(ctx, seed))

	cat := catalog.New(ref)
	s.Require().NoError(cat.Refresh(ctx))
	s.eval = evaluator.New(cat)
	s.runner = session.NewRunner(s.pg.DB, session.NewBinder())
}

func (s *ScopeAgreementSuite) TestSuperAdminRoleMatches() {
	role, err := postgres.SuperAdminRole(context.Background(), s.pg.DB)
	s.Require().NoError(err)
	s.Equal(s.eval.SuperAdminRole(), role)
}

func (s *ScopeAgreementSuite) TestDatabaseAgreesWithEvaluator() {
	actors := map[string]models.SecurityAttributes{
		"admin":         models.NewSecurityAttributes("u-admin", "org", "DE", nil, nil, []string{"admin"}),
		"manager":       models.NewSecurityAttributes("u-mgr", "org", "DE", nil, nil, []string{"manager"}),
		"sales":         models.NewSecurityAttributes("u-sales", "org", "AT", nil, nil, []string{"sales"}),
		"sales+manager": models.NewSecurityAttributes("u-sm", "org", "AT", nil, nil, []string{"sales", "manager"}),
		"intern":        models.NewSecurityAttributes("u-intern", "org", "CH", nil, nil, []string{"intern"}),
		"auditor":       models.NewSecurityAttributes("u-auditor", "org", "CH", nil, nil, nil),
		"expired grant": models.NewSecurityAttributes("u-temp", "org", "DE", nil, nil, nil),
		"scopes only":   models.NewSecurityAttributes("u-scoped", "org", "DE", []string{"customers:read"}, nil, nil),
		"anonymous":     models.NewSecurityAttributes("", "", "", nil, nil, nil),
	}
	codes := []string{
		"customers:read", "customers:write", "customers:delete", "leads:write",
		"audit:read", "audit:write", "admin:all", "reports:legacy",
		"unknown:code", "Customers:Read", "",
	}

	ctx := context.Background()
	for name, attrs := range actors {
		for _, code := range codes {
			s.Run(name+" "+code, func() {
				var dbVerdict bool
				err := s.runner.RunInTx(ctx, attrs, func(ctx context.Context, tx *sql.Tx) error {
					return tx.QueryRowContext(ctx, `SELECT app_has_scope($1)`, code).Scan(&dbVerdict)
				})
				s.Require().NoError(err)
				s.Equal(s.eval.Allows(attrs, code), dbVerdict)
			})
		}
	}
}
