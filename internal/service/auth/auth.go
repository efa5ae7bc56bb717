// internal/service/auth/auth.go
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"timeclock-service/internal/domain/auth"
	xerrors "timeclock-service/internal/pkg/errors"
	"timeclock-service/internal/pkg/jwt"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AlertNotifier pushes session events to a principal's live connections.
type AlertNotifier interface {
	NotifySecurityAlert(principalID int64, rootFamilyID string)
	NotifyForceLogout(principalID int64, reason string)
}

// AuthService owns the refresh-credential families: issuing them on login,
// rotating them, and killing a whole family when a consumed credential is
// presented again.
type AuthService struct {
	jwtManager  *jwt.Manager
	sessions    auth.SessionRecordStore
	revocations auth.RevocationStore
	principals  auth.PrincipalDirectory
	notifier    AlertNotifier
	logger      *zap.Logger
}

func NewAuthService(
	jwtManager *jwt.Manager,
	sessions auth.SessionRecordStore,
	revocations auth.RevocationStore,
	principals auth.PrincipalDirectory,
	notifier AlertNotifier,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		jwtManager:  jwtManager,
		sessions:    sessions,
		revocations: revocations,
		principals:  principals,
		notifier:    notifier,
		logger:      logger,
	}
}

// ========== Login ==========

// Login issues a credential pair and records the refresh credential as the
// root of a new family.
func (s *AuthService) Login(ctx context.Context, subject string, principalID int64) (*auth.SessionCredential, error) {
	roles, err := s.lookupRoles(ctx, principalID)
	if err != nil {
		return nil, err
	}

	family := uuid.NewString()
	cred, rec, err := s.newPair(subject, principalID, roles, nil, family)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create session record: %w", err)
	}

	s.logger.Info("session family created",
		zap.Int64("principal_id", principalID),
		zap.String("root_family_id", family),
	)
	return cred, nil
}

// ========== Rotation ==========

// Rotate exchanges a refresh credential for a new pair. A credential that has
// already been consumed or revoked revokes its whole family and fails with a
// *xerrors.SecurityViolationError.
func (s *AuthService) Rotate(ctx context.Context, refreshToken string) (*auth.SessionCredential, error) {
	if !s.jwtManager.Verifier.IsRefresh(refreshToken) {
		return nil, xerrors.ErrInvalidCredential
	}

	claims, err := s.jwtManager.Verifier.ParseRefresh(refreshToken)
	if err != nil {
		return nil, err
	}
	jti := claims.JTI()

	rec, err := s.sessions.FindByJTI(ctx, jti)
	orphan := errors.Is(err, xerrors.ErrNotFound)
	if orphan {
		rec, err = s.recoverOrphan(ctx, claims)
	}
	if err != nil {
		return nil, err
	}
	if !rec.IsActive() {
		return nil, s.compromise(ctx, rec.PrincipalID, rec.RootFamilyID, jti)
	}

	roles, err := s.lookupRoles(ctx, claims.PrincipalID)
	if err != nil {
		return nil, err
	}

	// The child of a recovered credential starts the chain over.
	var parentID *string
	if !orphan {
		parentID = &rec.JTI
	}
	cred, child, err := s.newPair(claims.Subject, claims.PrincipalID, roles, parentID, rec.RootFamilyID)
	if err != nil {
		return nil, err
	}

	rotated, err := s.sessions.ConsumeAndCreate(ctx, jti, child)
	if err != nil {
		return nil, fmt.Errorf("failed to rotate session record: %w", err)
	}
	if !rotated {
		// Another caller consumed it between the read and the update.
		return nil, s.compromise(ctx, rec.PrincipalID, rec.RootFamilyID, jti)
	}
	return cred, nil
}

// recoverOrphan handles a validly signed refresh credential with no record:
// state was lost, so the credential is stored as the ACTIVE root of a new
// family and then rotated like any other. Storing it first makes a second
// presentation a replay. Credentials issued before the principal's last
// sign-out-everywhere are refused.
func (s *AuthService) recoverOrphan(ctx context.Context, claims *jwt.Claims) (*auth.SessionRecord, error) {
	invalidBefore, ok, err := s.revocations.InvalidatedAt(ctx, claims.PrincipalID)
	if err != nil {
		return nil, fmt.Errorf("failed to read invalidation: %w", err)
	}
	if ok && !claims.IssuedAtTime().After(invalidBefore) {
		s.logger.Info("refresh credential predates sign-out everywhere",
			zap.Int64("principal_id", claims.PrincipalID),
			zap.String("jti", claims.JTI()),
		)
		return nil, xerrors.Wrap(xerrors.ErrInvalidCredential, "session invalidated")
	}

	rec := &auth.SessionRecord{
		JTI:          claims.JTI(),
		RootFamilyID: uuid.NewString(),
		PrincipalID:  claims.PrincipalID,
		IssuedAt:     claims.IssuedAtTime(),
		ExpiresAt:    claims.ExpiresAtTime(),
	}
	err = s.sessions.Create(ctx, rec)
	if errors.Is(err, xerrors.ErrConflict) {
		// A concurrent presentation recovered it first.
		existing, err := s.sessions.FindByJTI(ctx, rec.JTI)
		if err != nil {
			return nil, fmt.Errorf("failed to find session record: %w", err)
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create session record: %w", err)
	}

	s.logger.Warn("orphaned refresh credential, starting new family",
		zap.Int64("principal_id", rec.PrincipalID),
		zap.String("jti", rec.JTI),
		zap.String("root_family_id", rec.RootFamilyID),
	)
	return rec, nil
}

func (s *AuthService) compromise(ctx context.Context, principalID int64, family, jti string) error {
	violation := &xerrors.SecurityViolationError{
		PrincipalID:  principalID,
		RootFamilyID: family,
	}

	revoked, err := s.sessions.RevokeFamily(ctx, family)
	if err != nil {
		s.logger.Error("failed to revoke compromised session family",
			zap.Int64("principal_id", principalID),
			zap.String("root_family_id", family),
			zap.Error(err),
		)
		return errors.Join(violation, fmt.Errorf("failed to revoke session family: %w", err))
	}

	s.logger.Error("refresh credential reuse detected",
		zap.Bool("security_violation", true),
		zap.Int64("principal_id", principalID),
		zap.String("root_family_id", family),
		zap.String("jti", jti),
		zap.Int64("revoked_records", revoked),
	)

	if s.notifier != nil {
		s.notifier.NotifySecurityAlert(principalID, family)
	}
	return violation
}

// ========== Invalidation ==========

// Invalidate revokes a single refresh credential (single-session logout).
func (s *AuthService) Invalidate(ctx context.Context, refreshToken string) error {
	claims, err := s.jwtManager.Verifier.ParseRefresh(refreshToken)
	if err != nil {
		return err
	}

	if err := s.revoke(ctx, claims); err != nil {
		return err
	}

	err = s.sessions.Revoke(ctx, claims.JTI())
	if err != nil && !errors.Is(err, xerrors.ErrNotFound) {
		return fmt.Errorf("failed to revoke session record: %w", err)
	}
	return nil
}

// InvalidateAll drops every session record and revocation entry held for
// the principal, and records a watermark so that refresh credentials issued
// up to now cannot be recovered as orphans.
func (s *AuthService) InvalidateAll(ctx context.Context, principalID int64) error {
	now := time.Now()
	retainUntil := now.Add(s.jwtManager.Generator.RefreshTTL)
	if err := s.revocations.InvalidateBefore(ctx, principalID, now, retainUntil); err != nil {
		return fmt.Errorf("failed to record invalidation: %w", err)
	}
	if err := s.revocations.DeleteByPrincipal(ctx, principalID); err != nil {
		return fmt.Errorf("failed to delete revocations: %w", err)
	}
	if err := s.sessions.DeleteByPrincipal(ctx, principalID); err != nil {
		return fmt.Errorf("failed to delete session records: %w", err)
	}

	s.logger.Info("all sessions invalidated", zap.Int64("principal_id", principalID))

	if s.notifier != nil {
		s.notifier.NotifyForceLogout(principalID, "signed out from all devices")
	}
	return nil
}

// Logout revokes whichever credentials are supplied. It never fails; every
// problem is logged and swallowed.
func (s *AuthService) Logout(ctx context.Context, accessToken, refreshToken string) {
	if refreshToken != "" {
		if err := s.Invalidate(ctx, refreshToken); err != nil {
			s.logger.Debug("logout: refresh credential not invalidated", zap.Error(err))
		}
	}

	if accessToken == "" || s.jwtManager.Verifier.IsRefresh(accessToken) {
		return
	}

	claims, err := s.jwtManager.Verifier.ParseAccess(accessToken)
	if err != nil {
		s.logger.Debug("logout: access credential not revoked", zap.Error(err))
		return
	}
	if err := s.revoke(ctx, claims); err != nil {
		s.logger.Warn("logout: failed to store access revocation",
			zap.String("jti", claims.JTI()),
			zap.Error(err),
		)
	}
}

// ValidateAccess parses an access credential and checks it against the
// revocation store.
func (s *AuthService) ValidateAccess(ctx context.Context, token string) (*jwt.Claims, error) {
	claims, err := s.jwtManager.Verifier.ParseAccess(token)
	if err != nil {
		return nil, err
	}

	revoked, err := s.revocations.IsRevoked(ctx, claims.JTI())
	if err != nil {
		return nil, fmt.Errorf("failed to check revocation: %w", err)
	}
	if revoked {
		return nil, xerrors.Wrap(xerrors.ErrInvalidCredential, "credential revoked")
	}
	return claims, nil
}

// ========== Helpers ==========

func (s *AuthService) revoke(ctx context.Context, claims *jwt.Claims) error {
	entry := &auth.RevocationEntry{
		JTI:         claims.JTI(),
		PrincipalID: claims.PrincipalID,
		ExpiryTime:  claims.ExpiresAtTime(),
	}
	if err := s.revocations.Save(ctx, entry); err != nil {
		return fmt.Errorf("failed to save revocation: %w", err)
	}
	return nil
}

func (s *AuthService) lookupRoles(ctx context.Context, principalID int64) ([]auth.Role, error) {
	roles, err := s.principals.Roles(ctx, principalID)
	if err != nil {
		// The principal was authenticated upstream; a miss here is a
		// collaborator contract violation, not an auth failure.
		return nil, fmt.Errorf("%w: roles for principal %d: %v", xerrors.ErrInternal, principalID, err)
	}
	return roles, nil
}

// newPair issues a credential pair and the record of its refresh half. The
// caller persists the record.
func (s *AuthService) newPair(subject string, principalID int64, roles []auth.Role, parentID *string, family string) (*auth.SessionCredential, *auth.SessionRecord, error) {
	access, err := s.jwtManager.Generator.IssueAccess(subject, principalID, roles)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to issue access credential: %w", err)
	}
	refresh, err := s.jwtManager.Generator.IssueRefresh(subject, principalID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to issue refresh credential: %w", err)
	}

	rec := &auth.SessionRecord{
		JTI:          refresh.JTI,
		ParentID:     parentID,
		RootFamilyID: family,
		PrincipalID:  principalID,
		IssuedAt:     refresh.IssuedAt,
		ExpiresAt:    refresh.ExpiresAt,
	}
	cred := &auth.SessionCredential{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		TokenType:        "Bearer",
		ExpiresIn:        int(access.ExpiresAt.Sub(access.IssuedAt).Seconds()),
		ExpiresAt:        access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
	}
	return cred, rec, nil
}
