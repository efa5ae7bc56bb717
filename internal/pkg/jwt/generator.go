// internal/pkg/jwt/generator.go
package jwt

import (
	"fmt"
	"strconv"
	"time"

	"timeclock-service/internal/domain/auth"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

const (
	DefaultAccessTTL  = 30 * time.Minute
	DefaultRefreshTTL = 14 * 24 * time.Hour
)

// IssuedToken is a signed credential plus the claims the caller needs to persist.
type IssuedToken struct {
	Token     string
	JTI       string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type Generator struct {
	key        *SigningKey
	issuer     string
	audience   string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	now        func() time.Time
}

func NewGenerator(key *SigningKey, issuer, audience string, accessTTL, refreshTTL time.Duration) *Generator {
	if accessTTL <= 0 {
		accessTTL = DefaultAccessTTL
	}
	if refreshTTL <= 0 {
		refreshTTL = DefaultRefreshTTL
	}
	return &Generator{
		key:        key,
		issuer:     issuer,
		audience:   audience,
		AccessTTL:  accessTTL,
		RefreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// WithClock replaces the time source; used by tests.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

func (g *Generator) generate(subject string, principalID int64, roles []auth.Role, kind Kind, ttl time.Duration) (*IssuedToken, error) {
	if g.key == nil {
		return nil, fmt.Errorf("jwt generator has nil signing key")
	}
	if subject == "" {
		subject = strconv.FormatInt(principalID, 10)
	}

	// JWT numeric dates have second precision.
	now := g.now().Truncate(time.Second)
	exp := now.Add(ttl)
	jti := ulid.Make().String()

	claims := &Claims{
		PrincipalID: principalID,
		Roles:       roles,
		Kind:        kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    g.issuer,
			Subject:   subject,
			Audience:  []string{g.audience},
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        jti,
		},
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodHS512, claims)
	signed, err := tok.SignedString(g.key.bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to sign %s token: %w", kind, err)
	}

	return &IssuedToken{Token: signed, JTI: jti, IssuedAt: now, ExpiresAt: exp}, nil
}

// IssueAccess generates a short-lived access credential carrying roles
func (g *Generator) IssueAccess(subject string, principalID int64, roles []auth.Role) (*IssuedToken, error) {
	return g.generate(subject, principalID, roles, KindAccess, g.AccessTTL)
}

// IssueRefresh generates a refresh credential. Refresh credentials carry no roles.
func (g *Generator) IssueRefresh(subject string, principalID int64) (*IssuedToken, error) {
	return g.generate(subject, principalID, nil, KindRefresh, g.RefreshTTL)
}
