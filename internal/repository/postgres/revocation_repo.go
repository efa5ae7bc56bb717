// internal/repository/postgres/revocation_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"timeclock-service/internal/domain/auth"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RevocationRepository implements auth.RevocationStore on revocation_entries.
type RevocationRepository struct {
	db *pgxpool.Pool
}

func NewRevocationRepository(db *pgxpool.Pool) *RevocationRepository {
	return &RevocationRepository{db: db}
}

func (r *RevocationRepository) Save(ctx context.Context, entry *auth.RevocationEntry) error {
	query := `
		INSERT INTO revocation_entries (jti, principal_id, expiry_time)
		VALUES ($1, $2, $3)
		ON CONFLICT (jti) DO NOTHING
	`
	if _, err := r.db.Exec(ctx, query, entry.JTI, entry.PrincipalID, entry.ExpiryTime); err != nil {
		return fmt.Errorf("failed to save revocation: %w", err)
	}
	return nil
}

func (r *RevocationRepository) IsRevoked(ctx context.Context, jti string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM revocation_entries WHERE jti = $1)`

	var exists bool
	if err := r.db.QueryRow(ctx, query, jti).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check revocation: %w", err)
	}
	return exists, nil
}

func (r *RevocationRepository) DeleteByPrincipal(ctx context.Context, principalID int64) error {
	query := `DELETE FROM revocation_entries WHERE principal_id = $1`
	if _, err := r.db.Exec(ctx, query, principalID); err != nil {
		return fmt.Errorf("failed to delete revocations: %w", err)
	}
	return nil
}

func (r *RevocationRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM revocation_entries WHERE expiry_time < $1`
	tag, err := r.db.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired revocations: %w", err)
	}

	marks, err := r.db.Exec(ctx, `DELETE FROM principal_invalidations WHERE retain_until < $1`, cutoff)
	if err != nil {
		return tag.RowsAffected(), fmt.Errorf("failed to delete expired invalidations: %w", err)
	}
	return tag.RowsAffected() + marks.RowsAffected(), nil
}

func (r *RevocationRepository) InvalidateBefore(ctx context.Context, principalID int64, at, retainUntil time.Time) error {
	query := `
		INSERT INTO principal_invalidations (principal_id, invalid_before, retain_until)
		VALUES ($1, $2, $3)
		ON CONFLICT (principal_id) DO UPDATE SET
			invalid_before = GREATEST(principal_invalidations.invalid_before, EXCLUDED.invalid_before),
			retain_until   = GREATEST(principal_invalidations.retain_until, EXCLUDED.retain_until)
	`
	if _, err := r.db.Exec(ctx, query, principalID, at, retainUntil); err != nil {
		return fmt.Errorf("failed to save invalidation: %w", err)
	}
	return nil
}

func (r *RevocationRepository) InvalidatedAt(ctx context.Context, principalID int64) (time.Time, bool, error) {
	query := `SELECT invalid_before FROM principal_invalidations WHERE principal_id = $1`

	var at time.Time
	err := r.db.QueryRow(ctx, query, principalID).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read invalidation: %w", err)
	}
	return at, true, nil
}
