// internal/domain/auth/entity.go
package auth

import (
	"fmt"
	"time"
)

// Role is one of the fixed role variants carried by access credentials.
type Role string

const (
	RoleEmployee Role = "employee"
	RoleManager  Role = "manager"
	RoleAdmin    Role = "admin"
)

// ParseRole maps a stored or claimed role name to its variant.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleEmployee, RoleManager, RoleAdmin:
		return Role(s), nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// ParseRoles converts a list of role names, failing on the first unknown one.
func ParseRoles(names []string) ([]Role, error) {
	roles := make([]Role, 0, len(names))
	for _, n := range names {
		r, err := ParseRole(n)
		if err != nil {
			return nil, err
		}
		roles = append(roles, r)
	}
	return roles, nil
}

// SessionRecord is the persisted state of one refresh credential.
//
// At most one record per RootFamilyID is ACTIVE (Used=false, Revoked=false)
// at any time: that record is the current refresh credential of the family.
type SessionRecord struct {
	JTI          string    `json:"jti" db:"jti"`
	ParentID     *string   `json:"parent_id,omitempty" db:"parent_id"` // nil for a family root
	RootFamilyID string    `json:"root_family_id" db:"root_family_id"`
	PrincipalID  int64     `json:"principal_id" db:"principal_id"`
	Used         bool      `json:"used" db:"used"`
	Revoked      bool      `json:"revoked" db:"revoked"`
	IssuedAt     time.Time `json:"issued_at" db:"issued_at"`
	ExpiresAt    time.Time `json:"expires_at" db:"expires_at"`
}

// IsActive reports whether the record can still be rotated.
func (r *SessionRecord) IsActive() bool {
	return !r.Used && !r.Revoked
}

// RevocationEntry blacklists a credential id until its original expiry.
type RevocationEntry struct {
	JTI         string    `json:"jti" db:"jti"`
	PrincipalID int64     `json:"principal_id" db:"principal_id"`
	ExpiryTime  time.Time `json:"expiry_time" db:"expiry_time"`
}
