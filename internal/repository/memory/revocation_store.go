package memory

import (
	"context"
	"sync"
	"time"

	"timeclock-service/internal/domain/auth"
	xerrors "timeclock-service/internal/pkg/errors"
)

type watermark struct {
	at, retainUntil time.Time
}

// RevocationStore is a mutex-guarded auth.RevocationStore.
type RevocationStore struct {
	mu         sync.RWMutex
	entries    map[string]auth.RevocationEntry
	watermarks map[int64]watermark
}

func NewRevocationStore() *RevocationStore {
	return &RevocationStore{
		entries:    make(map[string]auth.RevocationEntry),
		watermarks: make(map[int64]watermark),
	}
}

func (s *RevocationStore) Save(ctx context.Context, entry *auth.RevocationEntry) error {
	if entry == nil || entry.JTI == "" {
		return xerrors.ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[entry.JTI]; !exists {
		s.entries[entry.JTI] = *entry
	}
	return nil
}

func (s *RevocationStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.entries[jti]
	return ok, nil
}

func (s *RevocationStore) DeleteByPrincipal(ctx context.Context, principalID int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for jti, e := range s.entries {
		if e.PrincipalID == principalID {
			delete(s.entries, jti)
		}
	}
	return nil
}

func (s *RevocationStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for jti, e := range s.entries {
		if e.ExpiryTime.Before(cutoff) {
			delete(s.entries, jti)
			n++
		}
	}
	for id, w := range s.watermarks {
		if w.retainUntil.Before(cutoff) {
			delete(s.watermarks, id)
			n++
		}
	}
	return n, nil
}

func (s *RevocationStore) InvalidateBefore(ctx context.Context, principalID int64, at, retainUntil time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.watermarks[principalID]
	if at.After(w.at) {
		w.at = at
	}
	if retainUntil.After(w.retainUntil) {
		w.retainUntil = retainUntil
	}
	s.watermarks[principalID] = w
	return nil
}

func (s *RevocationStore) InvalidatedAt(ctx context.Context, principalID int64) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.watermarks[principalID]
	return w.at, ok, nil
}

// Len reports how many entries are held.
func (s *RevocationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
