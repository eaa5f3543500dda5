package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"aegis/internal/authz/models"
	dErrors "aegis/pkg/domain-errors"
)

// PostgresStore reads the permission tables.
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

// PostgresOption configures a PostgresStore.
type PostgresOption func(*PostgresStore)

// WithClock overrides the time source used to prune lapsed user grants.
func WithClock(clock func() time.Time) PostgresOption {
	return func(s *PostgresStore) {
		s.clock = clock
	}
}

// NewPostgres constructs a reference data store backed by db.
func NewPostgres(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	s := &PostgresStore{db: db, clock: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads all four tables inside one read-only repeatable-read transaction
// so the snapshot is internally consistent.
func (s *PostgresStore) Load(ctx context.Context) (ReferenceData, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return ReferenceData{}, fmt.Errorf("begin reference load: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var data ReferenceData
	if data.Permissions, err = loadPermissions(ctx, tx); err != nil {
		return ReferenceData{}, err
	}
	if data.Roles, err = loadRoles(ctx, tx); err != nil {
		return ReferenceData{}, err
	}
	active := make([]string, 0, len(data.Roles))
	for _, r := range data.Roles {
		if r.Active {
			active = append(active, r.Name)
		}
	}
	if data.RolePermissions, err = loadRolePermissions(ctx, tx, active); err != nil {
		return ReferenceData{}, err
	}
	if data.UserPermissions, err = loadUserPermissions(ctx, tx, s.clock()); err != nil {
		return ReferenceData{}, err
	}
	if err := tx.Commit(); err != nil {
		return ReferenceData{}, fmt.Errorf("commit reference load: %w", err)
	}
	return data, nil
}

func loadPermissions(ctx context.Context, tx *sql.Tx) ([]models.Permission, error) {
	rows, err := tx.QueryContext(ctx, `SELECT code, resource, active FROM permissions ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("query permissions: %w", err)
	}
	defer rows.Close()
	var out []models.Permission
	for rows.Next() {
		var p models.Permission
		if err := rows.Scan(&p.Code, &p.Resource, &p.Active); err != nil {
			return nil, fmt.Errorf("scan permission: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func loadRoles(ctx context.Context, tx *sql.Tx) ([]models.Role, error) {
	rows, err := tx.QueryContext(ctx, `SELECT name, active FROM roles ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query roles: %w", err)
	}
	defer rows.Close()
	var out []models.Role
	for rows.Next() {
		var r models.Role
		if err := rows.Scan(&r.Name, &r.Active); err != nil {
			return nil, fmt.Errorf("scan role: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// loadRolePermissions only reads grants of active roles; inactive roles never
// contribute to a decision.
func loadRolePermissions(ctx context.Context, tx *sql.Tx, activeRoles []string) ([]models.RolePermission, error) {
	if len(activeRoles) == 0 {
		return nil, nil
	}
	rows, err := tx.QueryContext(ctx, `
		SELECT role_name, permission_code, granted
		FROM role_permissions
		WHERE role_name = ANY($1)
		ORDER BY role_name, permission_code
	`, pq.Array(activeRoles))
	if err != nil {
		return nil, fmt.Errorf("query role permissions: %w", err)
	}
	defer rows.Close()
	var out []models.RolePermission
	for rows.Next() {
		var rp models.RolePermission
		if err := rows.Scan(&rp.Role, &rp.Permission, &rp.Granted); err != nil {
			return nil, fmt.Errorf("scan role permission: %w", err)
		}
		out = append(out, rp)
	}
	return out, rows.Err()
}

// loadUserPermissions skips grants that have already lapsed. Expiry is still
// checked at every evaluation since a snapshot outlives the instant it was read.
func loadUserPermissions(ctx context.Context, tx *sql.Tx, now time.Time) ([]models.UserPermission, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT user_id, permission_code, expires_at
		FROM user_permissions
		WHERE expires_at IS NULL OR expires_at > $1
		ORDER BY user_id, permission_code
	`, now)
	if err != nil {
		return nil, fmt.Errorf("query user permissions: %w", err)
	}
	defer rows.Close()
	var out []models.UserPermission
	for rows.Next() {
		var up models.UserPermission
		var expires sql.NullTime
		if err := rows.Scan(&up.UserID, &up.Permission, &expires); err != nil {
			return nil, fmt.Errorf("scan user permission: %w", err)
		}
		if expires.Valid {
			t := expires.Time.UTC()
			up.ExpiresAt = &t
		}
		out = append(out, up)
	}
	return out, rows.Err()
}

// Apply upserts data into the permission tables in one transaction. Used to
// install the seed fixture; existing rows are updated, nothing is deleted.
func (s *PostgresStore) Apply(ctx context.Context, data ReferenceData) error {
	if err := data.Validate(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed apply: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range data.Permissions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO permissions (code, resource, active) VALUES ($1, $2, $3)
			ON CONFLICT (code) DO UPDATE SET resource = EXCLUDED.resource, active = EXCLUDED.active
		`, p.Code, p.Resource, p.Active); err != nil {
			return translateApplyError(err, "upsert permission "+p.Code)
		}
	}
	for _, r := range data.Roles {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO roles (name, active) VALUES ($1, $2)
			ON CONFLICT (name) DO UPDATE SET active = EXCLUDED.active
		`, r.Name, r.Active); err != nil {
			return translateApplyError(err, "upsert role "+r.Name)
		}
	}
	for _, rp := range data.RolePermissions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO role_permissions (role_name, permission_code, granted) VALUES ($1, $2, $3)
			ON CONFLICT (role_name, permission_code) DO UPDATE SET granted = EXCLUDED.granted
		`, rp.Role, rp.Permission, rp.Granted); err != nil {
			return translateApplyError(err, "upsert role permission "+rp.Role+"/"+rp.Permission)
		}
	}
	for _, up := range data.UserPermissions {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_permissions (user_id, permission_code, expires_at) VALUES ($1, $2, $3)
			ON CONFLICT (user_id, permission_code) DO UPDATE SET expires_at = EXCLUDED.expires_at
		`, up.UserID, up.Permission, up.ExpiresAt); err != nil {
			return translateApplyError(err, "upsert user permission "+up.UserID+"/"+up.Permission)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed apply: %w", err)
	}
	return nil
}

func translateApplyError(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return dErrors.Wrap(err, dErrors.CodeValidation, op+": unknown reference")
		case "23514":
			return dErrors.Wrap(err, dErrors.CodeValidation, op+": constraint violated")
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
