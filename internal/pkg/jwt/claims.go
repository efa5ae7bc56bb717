// internal/pkg/jwt/claims.go
package jwt

import (
	"time"

	"timeclock-service/internal/domain/auth"

	"github.com/golang-jwt/jwt/v5"
)

// Kind distinguishes access from refresh credentials.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

// Claims represents the JWT claims of a session credential
type Claims struct {
	PrincipalID int64       `json:"principal_id"`
	Roles       []auth.Role `json:"roles,omitempty"`
	Kind        Kind        `json:"kind"`
	jwt.RegisteredClaims
}

// HasRole checks if the claims contain a specific role
func (c *Claims) HasRole(role auth.Role) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (c *Claims) IsRefresh() bool { return c.Kind == KindRefresh }

func (c *Claims) IsAccess() bool { return c.Kind == KindAccess }

func (c *Claims) JTI() string { return c.ID }

func (c *Claims) IssuedAtTime() time.Time {
	if c.IssuedAt == nil {
		return time.Time{}
	}
	return c.IssuedAt.Time
}

func (c *Claims) ExpiresAtTime() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// AudienceValue returns the first audience entry.
func (c *Claims) AudienceValue() string {
	if len(c.Audience) == 0 {
		return ""
	}
	return c.Audience[0]
}

func (c *Claims) validKind() bool {
	return c.Kind == KindAccess || c.Kind == KindRefresh
}

func (c *Claims) validRoles() bool {
	for _, r := range c.Roles {
		if _, err := auth.ParseRole(string(r)); err != nil {
			return false
		}
	}
	return true
}
