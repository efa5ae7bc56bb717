// Package memory holds in-process implementations of the token core stores.
// They back the dev profile (STORE_BACKEND=memory) and the unit tests.
package memory

import (
	"context"
	"sync"
	"time"

	"timeclock-service/internal/domain/auth"
	xerrors "timeclock-service/internal/pkg/errors"
)

// SessionRecordStore is a mutex-guarded auth.SessionRecordStore.
type SessionRecordStore struct {
	mu      sync.Mutex
	records map[string]auth.SessionRecord
}

func NewSessionRecordStore() *SessionRecordStore {
	return &SessionRecordStore{records: make(map[string]auth.SessionRecord)}
}

func (s *SessionRecordStore) Create(ctx context.Context, rec *auth.SessionRecord) error {
	if rec == nil || rec.JTI == "" || rec.RootFamilyID == "" {
		return xerrors.ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[rec.JTI]; exists {
		return xerrors.Wrap(xerrors.ErrConflict, "duplicate jti")
	}
	s.records[rec.JTI] = *rec
	return nil
}

func (s *SessionRecordStore) FindByJTI(ctx context.Context, jti string) (*auth.SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[jti]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return &rec, nil
}

func (s *SessionRecordStore) ConsumeIfActive(ctx context.Context, jti string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[jti]
	if !ok || !rec.IsActive() {
		return false, nil
	}
	rec.Used = true
	rec.Revoked = true
	s.records[jti] = rec
	return true, nil
}

func (s *SessionRecordStore) ConsumeAndCreate(ctx context.Context, parentJTI string, child *auth.SessionRecord) (bool, error) {
	if child == nil || child.JTI == "" || child.RootFamilyID == "" {
		return false, xerrors.ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := s.records[parentJTI]
	if !ok || !parent.IsActive() {
		return false, nil
	}
	if _, exists := s.records[child.JTI]; exists {
		return false, xerrors.Wrap(xerrors.ErrConflict, "duplicate jti")
	}

	parent.Used = true
	parent.Revoked = true
	s.records[parentJTI] = parent
	s.records[child.JTI] = *child
	return true, nil
}

func (s *SessionRecordStore) RevokeFamily(ctx context.Context, rootFamilyID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for jti, rec := range s.records {
		if rec.RootFamilyID != rootFamilyID {
			continue
		}
		if !rec.Revoked {
			rec.Revoked = true
			s.records[jti] = rec
		}
		n++
	}
	return n, nil
}

func (s *SessionRecordStore) Revoke(ctx context.Context, jti string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if rec, ok := s.records[jti]; ok {
		rec.Revoked = true
		s.records[jti] = rec
	}
	return nil
}

func (s *SessionRecordStore) DeleteByPrincipal(ctx context.Context, principalID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for jti, rec := range s.records {
		if rec.PrincipalID == principalID {
			delete(s.records, jti)
		}
	}
	return nil
}

func (s *SessionRecordStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for jti, rec := range s.records {
		if rec.ExpiresAt.Before(cutoff) {
			delete(s.records, jti)
			n++
		}
	}
	return n, nil
}

// ByFamily returns a snapshot of every record in a family.
func (s *SessionRecordStore) ByFamily(rootFamilyID string) []auth.SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []auth.SessionRecord
	for _, rec := range s.records {
		if rec.RootFamilyID == rootFamilyID {
			out = append(out, rec)
		}
	}
	return out
}
