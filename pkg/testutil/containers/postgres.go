//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"testing"

	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"aegis/internal/platform/config"
	"aegis/internal/platform/postgres"
)

// PostgresContainer wraps a testcontainers Postgres instance with the schema applied.
type PostgresContainer struct {
	Container testcontainers.Container
	DSN       string
	DB        *sql.DB
}

// NewPostgresContainer starts Postgres and runs the embedded migrations.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("aegis"),
		tcpostgres.WithUsername("aegis"),
		tcpostgres.WithPassword("aegis"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	db, err := postgres.Open(ctx, config.Database{URL: dsn, MaxOpenConns: 10})
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to open postgres: %v", err)
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		_ = db.Close()
		_ = container.Terminate(ctx)
		t.Fatalf("failed to migrate postgres: %v", err)
	}

	// Shared across suites through the Manager; Ryuk reaps the container.
	return &PostgresContainer{
		Container: container,
		DSN:       dsn,
		DB:        db,
	}
}

// Open returns a separate pool against the same database. Callers close it.
func (p *PostgresContainer) Open(t *testing.T, maxOpen int) *sql.DB {
	t.Helper()
	db, err := postgres.Open(context.Background(), config.Database{URL: p.DSN, MaxOpenConns: maxOpen})
	if err != nil {
		t.Fatalf("failed to open postgres pool: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// OpenAs returns a pool that logs in as user instead of the owner, for tests
// that need row-level security applied. Callers create the role first.
func (p *PostgresContainer) OpenAs(t *testing.T, user, password string, maxOpen int) *sql.DB {
	t.Helper()
	u, err := url.Parse(p.DSN)
	if err != nil {
		t.Fatalf("failed to parse postgres dsn: %v", err)
	}
	u.User = url.UserPassword(user, password)
	db, err := postgres.Open(context.Background(), config.Database{URL: u.String(), MaxOpenConns: maxOpen})
	if err != nil {
		t.Fatalf("failed to open postgres pool as %s: %v", user, err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// TruncateTables empties the given tables. Use between tests for isolation.
func (p *PostgresContainer) TruncateTables(ctx context.Context, tables ...string) error {
	if len(tables) == 0 {
		return nil
	}
	_, err := p.DB.ExecContext(ctx, fmt.Sprintf("TRUNCATE %s CASCADE", strings.Join(tables, ", ")))
	return err
}
