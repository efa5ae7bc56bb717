// internal/repository/postgres/session_record_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"timeclock-service/internal/domain/auth"
	xerrors "timeclock-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

// familyLockSQL takes a transaction-scoped lock on one family. Rotation and
// family revocation both hold it, so a revocation always sees the child of
// a rotation that won the race for the parent.
const familyLockSQL = `SELECT pg_advisory_xact_lock(hashtext($1))`

const insertSessionRecordSQL = `
	INSERT INTO session_records (
		jti, parent_id, root_family_id, principal_id,
		used, revoked, issued_at, expires_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

const consumeSessionRecordSQL = `
	UPDATE session_records
	SET used = TRUE, revoked = TRUE
	WHERE jti = $1 AND used = FALSE AND revoked = FALSE
`

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// SessionRecordRepository implements auth.SessionRecordStore on session_records.
type SessionRecordRepository struct {
	db *pgxpool.Pool
}

func NewSessionRecordRepository(db *pgxpool.Pool) *SessionRecordRepository {
	return &SessionRecordRepository{db: db}
}

func (r *SessionRecordRepository) Create(ctx context.Context, rec *auth.SessionRecord) error {
	_, err := r.db.Exec(ctx, insertSessionRecordSQL,
		rec.JTI, rec.ParentID, rec.RootFamilyID, rec.PrincipalID,
		rec.Used, rec.Revoked, rec.IssuedAt, rec.ExpiresAt,
	)
	if isUniqueViolation(err) {
		return xerrors.Wrap(xerrors.ErrConflict, "duplicate jti")
	}
	if err != nil {
		return fmt.Errorf("failed to create session record: %w", err)
	}
	return nil
}

func (r *SessionRecordRepository) FindByJTI(ctx context.Context, jti string) (*auth.SessionRecord, error) {
	query := `
		SELECT jti, parent_id, root_family_id, principal_id,
		       used, revoked, issued_at, expires_at
		FROM session_records
		WHERE jti = $1
	`

	var rec auth.SessionRecord
	err := r.db.QueryRow(ctx, query, jti).Scan(
		&rec.JTI, &rec.ParentID, &rec.RootFamilyID, &rec.PrincipalID,
		&rec.Used, &rec.Revoked, &rec.IssuedAt, &rec.ExpiresAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find session record: %w", err)
	}
	return &rec, nil
}

// ConsumeIfActive is the ACTIVE -> CONSUMED transition. The WHERE clause is
// the guard: only one concurrent caller can match the row.
func (r *SessionRecordRepository) ConsumeIfActive(ctx context.Context, jti string) (bool, error) {
	tag, err := r.db.Exec(ctx, consumeSessionRecordSQL, jti)
	if err != nil {
		return false, fmt.Errorf("failed to consume session record: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *SessionRecordRepository) ConsumeAndCreate(ctx context.Context, parentJTI string, child *auth.SessionRecord) (bool, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin rotation: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, familyLockSQL, child.RootFamilyID); err != nil {
		return false, fmt.Errorf("failed to lock session family: %w", err)
	}

	tag, err := tx.Exec(ctx, consumeSessionRecordSQL, parentJTI)
	if err != nil {
		return false, fmt.Errorf("failed to consume session record: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}

	_, err = tx.Exec(ctx, insertSessionRecordSQL,
		child.JTI, child.ParentID, child.RootFamilyID, child.PrincipalID,
		child.Used, child.Revoked, child.IssuedAt, child.ExpiresAt,
	)
	if isUniqueViolation(err) {
		return false, xerrors.Wrap(xerrors.ErrConflict, "duplicate jti")
	}
	if err != nil {
		return false, fmt.Errorf("failed to create session record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit rotation: %w", err)
	}
	return true, nil
}

func (r *SessionRecordRepository) RevokeFamily(ctx context.Context, rootFamilyID string) (int64, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin family revocation: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, familyLockSQL, rootFamilyID); err != nil {
		return 0, fmt.Errorf("failed to lock session family: %w", err)
	}

	// A separate statement from the lock, so its snapshot includes any child
	// committed by a rotation that held the lock first.
	tag, err := tx.Exec(ctx, `UPDATE session_records SET revoked = TRUE WHERE root_family_id = $1`, rootFamilyID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke session family: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit family revocation: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *SessionRecordRepository) Revoke(ctx context.Context, jti string) error {
	query := `UPDATE session_records SET revoked = TRUE WHERE jti = $1`
	if _, err := r.db.Exec(ctx, query, jti); err != nil {
		return fmt.Errorf("failed to revoke session record: %w", err)
	}
	return nil
}

func (r *SessionRecordRepository) DeleteByPrincipal(ctx context.Context, principalID int64) error {
	query := `DELETE FROM session_records WHERE principal_id = $1`
	if _, err := r.db.Exec(ctx, query, principalID); err != nil {
		return fmt.Errorf("failed to delete session records: %w", err)
	}
	return nil
}

func (r *SessionRecordRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM session_records WHERE expires_at < $1`
	tag, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired session records: %w", err)
	}
	return tag.RowsAffected(), nil
}
