// internal/domain/auth/repository.go
package auth

import (
	"context"
	"time"
)

// SessionRecordStore persists refresh credential state keyed by jti.
type SessionRecordStore interface {
	Create(ctx context.Context, rec *SessionRecord) error
	// FindByJTI returns xerrors.ErrNotFound when no record exists.
	FindByJTI(ctx context.Context, jti string) (*SessionRecord, error)

	// ConsumeIfActive atomically moves the record from ACTIVE to CONSUMED
	// (used=true, revoked=true). It returns false when the record was not
	// ACTIVE at the time of the update, including when another caller won.
	ConsumeIfActive(ctx context.Context, jti string) (bool, error)

	// ConsumeAndCreate consumes parentJTI and stores child as one atomic step,
	// serialized against RevokeFamily on the child's family. It returns false,
	// storing nothing, when the parent was not ACTIVE.
	ConsumeAndCreate(ctx context.Context, parentJTI string, child *SessionRecord) (bool, error)

	// RevokeFamily sets revoked=true on every record of the family in one statement.
	RevokeFamily(ctx context.Context, rootFamilyID string) (int64, error)
	Revoke(ctx context.Context, jti string) error

	DeleteByPrincipal(ctx context.Context, principalID int64) error
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// RevocationStore persists blacklisted credential ids.
type RevocationStore interface {
	// Save is idempotent on jti.
	Save(ctx context.Context, entry *RevocationEntry) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	DeleteByPrincipal(ctx context.Context, principalID int64) error
	// DeleteExpired also drops invalidation watermarks past their retention.
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)

	// InvalidateBefore records that every credential the principal was issued
	// up to at is void. The watermark is kept until retainUntil and never
	// moves backwards. DeleteByPrincipal leaves it in place.
	InvalidateBefore(ctx context.Context, principalID int64, at, retainUntil time.Time) error
	// InvalidatedAt returns the principal's watermark, if any.
	InvalidatedAt(ctx context.Context, principalID int64) (time.Time, bool, error)
}

// PrincipalDirectory is the user directory seen from the token core.
type PrincipalDirectory interface {
	// Roles returns xerrors.ErrNotFound when the principal does not exist.
	Roles(ctx context.Context, principalID int64) ([]Role, error)
	// Secret returns the decoded per-principal action-token secret.
	Secret(ctx context.Context, principalID int64) ([]byte, error)
}
