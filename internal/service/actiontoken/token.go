// Package actiontoken issues and checks the short-lived QR tokens that bind
// a staff member to a single clock-in or clock-out.
//
// Wire format, before base64url (no padding):
//
//	v1|<principal id>|<purpose>|<station id>|<issued at>|<expires at>|<token id>|<hex hmac-sha512>
package actiontoken

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"timeclock-service/internal/domain/auth"
	xerrors "timeclock-service/internal/pkg/errors"

	"go.uber.org/zap"
)

const (
	Version = "v1"

	DefaultTTL    = 30 * time.Second
	ClockSkew     = 5 * time.Second
	MaxTokenBytes = 512

	tokenIDBytes = 16
	fieldCount   = 8
	separator    = "|"
)

type Purpose string

const (
	PurposeClockIn  Purpose = "clock-in"
	PurposeClockOut Purpose = "clock-out"
)

func ParsePurpose(s string) (Purpose, error) {
	switch p := Purpose(s); p {
	case PurposeClockIn, PurposeClockOut:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown purpose %q", xerrors.ErrInvalidInput, s)
	}
}

var (
	ErrMalformed          = errors.New("action token malformed")
	ErrUnsupportedVersion = errors.New("action token version not supported")
	ErrExpired            = errors.New("action token expired")
	ErrBadSignature       = errors.New("action token signature mismatch")
	ErrPurposeMismatch    = errors.New("action token purpose mismatch")
	ErrStationMismatch    = errors.New("action token station mismatch")
	ErrAlreadyUsed        = errors.New("action token already used")
)

// IsRejection reports whether err is one of the token rejection errors above.
func IsRejection(err error) bool {
	for _, target := range []error{
		ErrMalformed, ErrUnsupportedVersion, ErrExpired, ErrBadSignature,
		ErrPurposeMismatch, ErrStationMismatch, ErrAlreadyUsed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// UsedTokenSet records consumed token ids until their window has passed.
type UsedTokenSet interface {
	// MarkUsed inserts tokenID if absent and reports whether it did.
	MarkUsed(ctx context.Context, tokenID string, retainUntil time.Time) (bool, error)
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

type Issued struct {
	Token     string
	TokenID   string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type Result struct {
	PrincipalID int64
	Purpose     Purpose
	StationID   string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	TokenID     string
}

type Service struct {
	principals auth.PrincipalDirectory
	used       UsedTokenSet
	logger     *zap.Logger
	ttl        time.Duration
	now        func() time.Time
	lastSweep  atomic.Int64
}

func NewService(principals auth.PrincipalDirectory, used UsedTokenSet, logger *zap.Logger) *Service {
	return &Service{
		principals: principals,
		used:       used,
		logger:     logger,
		ttl:        DefaultTTL,
		now:        time.Now,
	}
}

// WithClock replaces the time source; used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Generate issues a token signed with the principal's stored secret.
func (s *Service) Generate(ctx context.Context, principalID int64, purpose Purpose, stationID string) (*Issued, error) {
	secret, err := s.principals.Secret(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("%w: secret for principal %d: %v", xerrors.ErrInternal, principalID, err)
	}
	return s.GenerateWithSecret(secret, principalID, purpose, stationID)
}

func (s *Service) GenerateWithSecret(secret []byte, principalID int64, purpose Purpose, stationID string) (*Issued, error) {
	if _, err := ParsePurpose(string(purpose)); err != nil {
		return nil, err
	}
	if strings.Contains(stationID, separator) {
		return nil, fmt.Errorf("%w: station id contains %q", xerrors.ErrInvalidInput, separator)
	}
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: empty principal secret", xerrors.ErrInternal)
	}

	raw := make([]byte, tokenIDBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, fmt.Errorf("failed to generate token id: %w", err)
	}
	tokenID := hex.EncodeToString(raw)

	issuedAt := s.now().Truncate(time.Second)
	expiresAt := issuedAt.Add(s.ttl)

	payload := strings.Join([]string{
		Version,
		strconv.FormatInt(principalID, 10),
		string(purpose),
		stationID,
		strconv.FormatInt(issuedAt.Unix(), 10),
		strconv.FormatInt(expiresAt.Unix(), 10),
		tokenID,
	}, separator)

	signed := payload + separator + sign(secret, payload)

	return &Issued{
		Token:     base64.RawURLEncoding.EncodeToString([]byte(signed)),
		TokenID:   tokenID,
		IssuedAt:  issuedAt,
		ExpiresAt: expiresAt,
	}, nil
}

// Validate checks a token against secret and consumes it. An empty
// expectedPurpose or expectedStation matches any value.
//
// The signature is checked before any claimed field is trusted, so a
// tampered payload fails with ErrBadSignature rather than a field error.
func (s *Service) Validate(ctx context.Context, token string, secret []byte, expectedPurpose Purpose, expectedStation string) (*Result, error) {
	fields, err := decode(token)
	if err != nil {
		return nil, err
	}

	payload := strings.Join(fields[:fieldCount-1], separator)
	expected := sign(secret, payload)
	if !hmac.Equal([]byte(expected), []byte(fields[fieldCount-1])) {
		return nil, ErrBadSignature
	}

	res, err := parseFields(fields)
	if err != nil {
		return nil, err
	}

	now := s.now()
	nowSec, skew := now.Unix(), int64(ClockSkew/time.Second)
	if nowSec+skew < res.IssuedAt.Unix() || nowSec-skew > res.ExpiresAt.Unix() {
		return nil, ErrExpired
	}

	if expectedPurpose != "" && res.Purpose != expectedPurpose {
		return nil, ErrPurposeMismatch
	}
	if expectedStation != "" && res.StationID != expectedStation {
		return nil, ErrStationMismatch
	}

	inserted, err := s.used.MarkUsed(ctx, res.TokenID, retainUntil(res.ExpiresAt))
	if err != nil {
		return nil, fmt.Errorf("failed to record action token use: %w", err)
	}
	if !inserted {
		s.logger.Warn("action token replayed",
			zap.Int64("principal_id", res.PrincipalID),
			zap.String("token_id", res.TokenID),
		)
		return nil, ErrAlreadyUsed
	}

	s.maybeSweep(ctx, now)
	return res, nil
}

// ValidateForPrincipal reads the principal id from the token, loads that
// principal's secret, then runs Validate.
func (s *Service) ValidateForPrincipal(ctx context.Context, token string, expectedPurpose Purpose, expectedStation string) (*Result, error) {
	fields, err := decode(token)
	if err != nil {
		return nil, err
	}
	principalID, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return nil, ErrMalformed
	}

	secret, err := s.principals.Secret(ctx, principalID)
	if errors.Is(err, xerrors.ErrNotFound) {
		// Unknown principal: nothing to verify against.
		return nil, ErrBadSignature
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load principal secret: %w", err)
	}

	return s.Validate(ctx, token, secret, expectedPurpose, expectedStation)
}

// retainUntil is when a used token id may be forgotten. The window check
// works in whole seconds, so the entry must outlive the entire last accepted
// second, expiresAt+skew.
func retainUntil(expiresAt time.Time) time.Time {
	return expiresAt.Add(ClockSkew + time.Second)
}

// maybeSweep drops expired used-token entries at most once per skew interval.
func (s *Service) maybeSweep(ctx context.Context, now time.Time) {
	last := s.lastSweep.Load()
	if now.Unix()-last < int64(ClockSkew/time.Second) {
		return
	}
	if !s.lastSweep.CompareAndSwap(last, now.Unix()) {
		return
	}
	if _, err := s.used.Sweep(ctx, now); err != nil {
		s.logger.Warn("failed to sweep used action tokens", zap.Error(err))
	}
}

func decode(token string) ([]string, error) {
	if token == "" || len(token) > base64.RawURLEncoding.EncodedLen(MaxTokenBytes) {
		return nil, ErrMalformed
	}
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) > MaxTokenBytes {
		return nil, ErrMalformed
	}

	fields := strings.Split(string(raw), separator)
	if len(fields) != fieldCount {
		return nil, ErrMalformed
	}
	if fields[0] != Version {
		return nil, ErrUnsupportedVersion
	}
	return fields, nil
}

func parseFields(fields []string) (*Result, error) {
	principalID, err := strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return nil, ErrMalformed
	}
	issuedAt, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return nil, ErrMalformed
	}
	expiresAt, err := strconv.ParseInt(fields[5], 10, 64)
	if err != nil {
		return nil, ErrMalformed
	}
	if fields[6] == "" {
		return nil, ErrMalformed
	}

	return &Result{
		PrincipalID: principalID,
		Purpose:     Purpose(fields[2]),
		StationID:   fields[3],
		IssuedAt:    time.Unix(issuedAt, 0),
		ExpiresAt:   time.Unix(expiresAt, 0),
		TokenID:     fields[6],
	}, nil
}

func sign(secret []byte, payload string) string {
	mac := hmac.New(sha512.New, secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
