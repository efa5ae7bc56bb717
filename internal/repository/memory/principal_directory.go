package memory

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"

	"timeclock-service/internal/domain/auth"
	xerrors "timeclock-service/internal/pkg/errors"
)

type principal struct {
	roles  []auth.Role
	secret string // base64, as stored by the user directory
}

// PrincipalDirectory is an in-memory auth.PrincipalDirectory.
type PrincipalDirectory struct {
	mu         sync.RWMutex
	principals map[int64]principal
}

func NewPrincipalDirectory() *PrincipalDirectory {
	return &PrincipalDirectory{principals: make(map[int64]principal)}
}

// Add registers a principal with a freshly generated 64-byte secret and
// returns the decoded secret.
func (d *PrincipalDirectory) Add(principalID int64, roles ...auth.Role) ([]byte, error) {
	secret := make([]byte, 64)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("failed to generate principal secret: %w", err)
	}
	d.Put(principalID, base64.StdEncoding.EncodeToString(secret), roles...)
	return secret, nil
}

// Put registers a principal with a known base64 secret.
func (d *PrincipalDirectory) Put(principalID int64, secretB64 string, roles ...auth.Role) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.principals[principalID] = principal{roles: roles, secret: secretB64}
}

func (d *PrincipalDirectory) Roles(ctx context.Context, principalID int64) ([]auth.Role, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.principals[principalID]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	out := make([]auth.Role, len(p.roles))
	copy(out, p.roles)
	return out, nil
}

func (d *PrincipalDirectory) Secret(ctx context.Context, principalID int64) ([]byte, error) {
	d.mu.RLock()
	p, ok := d.principals[principalID]
	d.mu.RUnlock()

	if !ok {
		return nil, xerrors.ErrNotFound
	}
	secret, err := base64.StdEncoding.DecodeString(p.secret)
	if err != nil {
		return nil, fmt.Errorf("corrupt secret for principal %d: %w", principalID, err)
	}
	return secret, nil
}
