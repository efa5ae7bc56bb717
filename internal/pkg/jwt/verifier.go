// internal/pkg/jwt/verifier.go
package jwt

import (
	"errors"
	"fmt"
	"time"

	xerrors "timeclock-service/internal/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

type Verifier struct {
	key      *SigningKey
	issuer   string
	audience string
	now      func() time.Time
}

func NewVerifier(key *SigningKey, issuer, audience string) *Verifier {
	return &Verifier{
		key:      key,
		issuer:   issuer,
		audience: audience,
		now:      time.Now,
	}
}

// WithClock replaces the time source; used by tests.
func (v *Verifier) WithClock(now func() time.Time) *Verifier {
	v.now = now
	return v
}

// Parse validates a session credential and returns its claims.
//
// Expired credentials fail with ErrCredentialExpired; every other failure is
// ErrInvalidCredential.
func (v *Verifier) Parse(tokenString string) (*Claims, error) {
	if v.key == nil {
		return nil, fmt.Errorf("jwt verifier has nil signing key")
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.key.bytes(), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS512.Alg()}),
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(v.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", xerrors.ErrCredentialExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", xerrors.ErrInvalidCredential, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token claims", xerrors.ErrInvalidCredential)
	}

	if claims.ID == "" || !claims.validKind() || !claims.validRoles() {
		return nil, fmt.Errorf("%w: malformed claim set", xerrors.ErrInvalidCredential)
	}

	return claims, nil
}

// ParseAccess parses and requires kind=access.
func (v *Verifier) ParseAccess(tokenString string) (*Claims, error) {
	claims, err := v.Parse(tokenString)
	if err != nil {
		return nil, err
	}
	if !claims.IsAccess() {
		return nil, fmt.Errorf("%w: token is not an access token", xerrors.ErrInvalidCredential)
	}
	return claims, nil
}

// ParseRefresh parses and requires kind=refresh.
func (v *Verifier) ParseRefresh(tokenString string) (*Claims, error) {
	claims, err := v.Parse(tokenString)
	if err != nil {
		return nil, err
	}
	if !claims.IsRefresh() {
		return nil, fmt.Errorf("%w: token is not a refresh token", xerrors.ErrInvalidCredential)
	}
	return claims, nil
}

// IsRefresh reports whether tokenString carries kind=refresh. It never fails:
// malformed input, expired or not, yields false. The signature is not checked
// here; Parse does that.
func (v *Verifier) IsRefresh(tokenString string) (isRefresh bool) {
	defer func() {
		if recover() != nil {
			isRefresh = false
		}
	}()

	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return false
	}
	return claims.IsRefresh()
}
