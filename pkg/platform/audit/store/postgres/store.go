package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"aegis/pkg/domain"
	dErrors "aegis/pkg/domain-errors"
	audit "aegis/pkg/platform/audit"
	"aegis/pkg/platform/sentinel"
	txcontext "aegis/pkg/platform/tx"
)

// Store implements audit.Store on the audit_entries table.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// executor uses the transaction in ctx when present. Audit writes normally run
// outside the business transaction so a rollback cannot erase them.
func (s *Store) executor(ctx context.Context) txcontext.DBTX {
	return txcontext.Executor(ctx, s.db)
}

const entryColumns = `
	id, user_id, org_id, territory, operation, target_class, parameters,
	outcome, error_details, duration_ms, created_at, retention_until,
	reconciles_id, request_id, checksum`

// Append inserts an entry. A duplicate id is reported as sentinel.ErrConflict
// and leaves the stored row untouched, which makes redelivery from the async
// transport idempotent.
func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	params, err := audit.CanonicalParameters(entry.Parameters)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_entries (` + entryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (id) DO NOTHING
	`
	res, err := s.executor(ctx).ExecContext(ctx, query,
		uuid.UUID(entry.ID),
		entry.UserID,
		entry.OrgID,
		nullString(string(entry.Territory)),
		entry.Operation,
		entry.TargetClass,
		string(params),
		string(entry.Outcome),
		nullString(entry.ErrorDetails),
		entry.DurationMs,
		entry.CreatedAt.UTC(),
		entry.RetentionUntil.UTC(),
		nullUUID(entry.ReconcilesID),
		entry.RequestID,
		entry.Checksum,
	)
	if err != nil {
		return translateError(err, "insert audit entry")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	if n == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id domain.EntryID) (audit.Entry, error) {
	row := s.executor(ctx).QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM audit_entries WHERE id = $1`, uuid.UUID(id))
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.Entry{}, sentinel.ErrNotFound
	}
	return e, err
}

// ListRecent returns the N most recent entries.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Entry, error) {
	return s.query(ctx, `
		SELECT `+entryColumns+` FROM audit_entries
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
}

// ListByUser returns entries for a specific user, newest first.
func (s *Store) ListByUser(ctx context.Context, userID string, limit int) ([]audit.Entry, error) {
	return s.query(ctx, `
		SELECT `+entryColumns+` FROM audit_entries
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
}

func (s *Store) ListSince(ctx context.Context, since time.Time, limit int) ([]audit.Entry, error) {
	return s.query(ctx, `
		SELECT `+entryColumns+` FROM audit_entries
		WHERE created_at >= $1
		ORDER BY created_at DESC
		LIMIT $2
	`, since.UTC(), limit)
}

func (s *Store) FindReconciliation(ctx context.Context, pendingID domain.EntryID) (audit.Entry, error) {
	row := s.executor(ctx).QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM audit_entries WHERE reconciles_id = $1`, uuid.UUID(pendingID))
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return audit.Entry{}, sentinel.ErrNotFound
	}
	return e, err
}

func (s *Store) ListUnreconciledBefore(ctx context.Context, cutoff time.Time, limit int) ([]audit.Entry, error) {
	return s.query(ctx, `
		SELECT `+entryColumns+` FROM audit_entries p
		WHERE p.outcome = 'PENDING'
		  AND p.created_at < $1
		  AND NOT EXISTS (SELECT 1 FROM audit_entries f WHERE f.reconciles_id = p.id)
		ORDER BY p.created_at
		LIMIT $2
	`, cutoff.UTC(), limit)
}

func (s *Store) CountRetentionBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := s.executor(ctx).QueryRowContext(ctx,
		`SELECT count(*) FROM audit_entries WHERE retention_until < $1`, cutoff.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count expired audit entries: %w", err)
	}
	return n, nil
}

func (s *Store) CountRetentionBetween(ctx context.Context, from, to time.Time) (int64, error) {
	var n int64
	err := s.executor(ctx).QueryRowContext(ctx,
		`SELECT count(*) FROM audit_entries WHERE retention_until >= $1 AND retention_until < $2`,
		from.UTC(), to.UTC()).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count audit entries nearing retention: %w", err)
	}
	return n, nil
}

// PurgeRetentionBefore is the only delete path for audit entries.
func (s *Store) PurgeRetentionBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.executor(ctx).ExecContext(ctx,
		`DELETE FROM audit_entries WHERE retention_until < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge audit entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge audit entries: %w", err)
	}
	return n, nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]audit.Entry, error) {
	rows, err := s.executor(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (audit.Entry, error) {
	var (
		e            audit.Entry
		id           uuid.UUID
		territory    sql.NullString
		params       []byte
		outcome      string
		errorDetails sql.NullString
		reconciles   uuid.NullUUID
	)
	err := row.Scan(
		&id,
		&e.UserID,
		&e.OrgID,
		&territory,
		&e.Operation,
		&e.TargetClass,
		&params,
		&outcome,
		&errorDetails,
		&e.DurationMs,
		&e.CreatedAt,
		&e.RetentionUntil,
		&reconciles,
		&e.RequestID,
		&e.Checksum,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return audit.Entry{}, err
		}
		return audit.Entry{}, fmt.Errorf("scan audit entry: %w", err)
	}

	e.ID = domain.EntryID(id)
	e.Territory = domain.Territory(territory.String)
	e.Outcome = audit.Outcome(outcome)
	e.ErrorDetails = errorDetails.String
	e.CreatedAt = e.CreatedAt.UTC()
	e.RetentionUntil = e.RetentionUntil.UTC()
	if reconciles.Valid {
		rid := domain.EntryID(reconciles.UUID)
		e.ReconcilesID = &rid
	}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &e.Parameters); err != nil {
			return audit.Entry{}, fmt.Errorf("decode audit parameters: %w", err)
		}
	}
	return e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullUUID(id *domain.EntryID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: uuid.UUID(*id), Valid: true}
}

// translateError maps constraint violations. A unique violation can only come
// from the one-follow-up-per-PENDING index, since id conflicts are absorbed
// by ON CONFLICT (id).
func translateError(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%s: %w", op, sentinel.ErrAlreadyReconciled)
		case "23514":
			return dErrors.Wrap(err, dErrors.CodeInvariantViolation, op)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

var _ audit.Store = (*Store)(nil)
