// internal/repository/postgres/auth_repo.go
package postgres

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"timeclock-service/internal/domain/auth"
	xerrors "timeclock-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
)

// PrincipalRepository reads the user directory columns the token core needs.
// It implements auth.PrincipalDirectory.
type PrincipalRepository struct {
	db *pgxpool.Pool
}

func NewPrincipalRepository(db *pgxpool.Pool) *PrincipalRepository {
	return &PrincipalRepository{db: db}
}

// Roles retrieves the role set of an active user
func (r *PrincipalRepository) Roles(ctx context.Context, principalID int64) ([]auth.Role, error) {
	query := `
		SELECT roles
		FROM users
		WHERE id = $1 AND deleted_at IS NULL
	`

	var names []string
	err := r.db.QueryRow(ctx, query, principalID).Scan(pq.Array(&names))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user roles: %w", err)
	}

	roles, err := auth.ParseRoles(names)
	if err != nil {
		return nil, fmt.Errorf("user %d: %w", principalID, err)
	}
	return roles, nil
}

// Secret retrieves and decodes the per-user action token secret
func (r *PrincipalRepository) Secret(ctx context.Context, principalID int64) ([]byte, error) {
	query := `
		SELECT action_secret
		FROM users
		WHERE id = $1 AND deleted_at IS NULL
	`

	var encoded string
	err := r.db.QueryRow(ctx, query, principalID).Scan(&encoded)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user secret: %w", err)
	}

	secret, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("corrupt secret for user %d: %w", principalID, err)
	}
	return secret, nil
}

// SetRoles replaces the role set of a user
func (r *PrincipalRepository) SetRoles(ctx context.Context, principalID int64, roles []auth.Role) error {
	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = string(role)
	}

	query := `UPDATE users SET roles = $1, updated_at = NOW() WHERE id = $2`
	tag, err := r.db.Exec(ctx, query, pq.Array(names), principalID)
	if err != nil {
		return fmt.Errorf("failed to set user roles: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}
