package actiontoken

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"timeclock-service/internal/domain/auth"
	"timeclock-service/internal/repository/memory"

	"go.uber.org/zap"
)

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time          { return c.t }
func (c *testClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestService(t *testing.T) (*Service, *testClock, []byte) {
	t.Helper()
	directory := memory.NewPrincipalDirectory()
	secret, err := directory.Add(7, auth.RoleEmployee)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	clock := &testClock{t: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
	svc := NewService(directory, NewMemoryUsedSet(), zap.NewNop()).WithClock(clock.Now)
	return svc, clock, secret
}

func TestGenerateValidate_SingleUse(t *testing.T) {
	svc, clock, secret := newTestService(t)
	ctx := context.Background()

	issued, err := svc.Generate(ctx, 7, PurposeClockIn, "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if strings.Contains(issued.Token, "=") {
		t.Errorf("token %q is padded", issued.Token)
	}
	if got := issued.ExpiresAt.Sub(issued.IssuedAt); got != DefaultTTL {
		t.Errorf("ttl = %s, want %s", got, DefaultTTL)
	}

	clock.Advance(time.Second)

	res, err := svc.Validate(ctx, issued.Token, secret, PurposeClockIn, "")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if res.PrincipalID != 7 || res.Purpose != PurposeClockIn || res.StationID != "" {
		t.Errorf("result = %+v", res)
	}
	if res.TokenID != issued.TokenID || len(res.TokenID) != 2*tokenIDBytes {
		t.Errorf("token id = %q, want %q", res.TokenID, issued.TokenID)
	}

	if _, err := svc.Validate(ctx, issued.Token, secret, PurposeClockIn, ""); !errors.Is(err, ErrAlreadyUsed) {
		t.Fatalf("second Validate: err = %v, want ErrAlreadyUsed", err)
	}
}

func TestValidate_ConcurrentSingleSuccess(t *testing.T) {
	svc, _, secret := newTestService(t)
	ctx := context.Background()

	issued, err := svc.GenerateWithSecret(secret, 7, PurposeClockOut, "front-door")
	if err != nil {
		t.Fatalf("GenerateWithSecret: %v", err)
	}

	const workers = 64
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		replays   int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Validate(ctx, issued.Token, secret, PurposeClockOut, "front-door")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrAlreadyUsed):
				replays++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes != 1 || replays != workers-1 {
		t.Errorf("successes=%d replays=%d, want 1 and %d", successes, replays, workers-1)
	}
}

func TestValidate_TimeWindowBoundaries(t *testing.T) {
	tests := []struct {
		name    string
		offset  func(issued *Issued) time.Time
		wantErr error
	}{
		{
			name:   "at expiry plus skew",
			offset: func(i *Issued) time.Time { return i.ExpiresAt.Add(ClockSkew) },
		},
		{
			name:    "one second past expiry plus skew",
			offset:  func(i *Issued) time.Time { return i.ExpiresAt.Add(ClockSkew + time.Second) },
			wantErr: ErrExpired,
		},
		{
			name:   "at issue minus skew",
			offset: func(i *Issued) time.Time { return i.IssuedAt.Add(-ClockSkew) },
		},
		{
			name:    "one second before issue minus skew",
			offset:  func(i *Issued) time.Time { return i.IssuedAt.Add(-ClockSkew - time.Second) },
			wantErr: ErrExpired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, clock, secret := newTestService(t)

			issued, err := svc.GenerateWithSecret(secret, 7, PurposeClockIn, "")
			if err != nil {
				t.Fatalf("GenerateWithSecret: %v", err)
			}
			clock.t = tt.offset(issued)

			_, err = svc.Validate(context.Background(), issued.Token, secret, "", "")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_SingleUseWithinLastAcceptedSecond(t *testing.T) {
	svc, clock, secret := newTestService(t)
	ctx := context.Background()

	issued, err := svc.GenerateWithSecret(secret, 7, PurposeClockIn, "")
	if err != nil {
		t.Fatalf("GenerateWithSecret: %v", err)
	}

	// Still inside the accepted second, and the first call also sweeps.
	clock.t = issued.ExpiresAt.Add(ClockSkew + 500*time.Millisecond)

	if _, err := svc.Validate(ctx, issued.Token, secret, "", ""); err != nil {
		t.Fatalf("first Validate: %v", err)
	}
	if _, err := svc.Validate(ctx, issued.Token, secret, "", ""); !errors.Is(err, ErrAlreadyUsed) {
		t.Fatalf("second Validate: err = %v, want ErrAlreadyUsed", err)
	}

	clock.Advance(500 * time.Millisecond)
	if _, err := svc.Validate(ctx, issued.Token, secret, "", ""); !errors.Is(err, ErrExpired) {
		t.Fatalf("after window: err = %v, want ErrExpired", err)
	}
}

func TestValidate_SingleByteTamperIsBadSignature(t *testing.T) {
	svc, _, secret := newTestService(t)

	issued, err := svc.GenerateWithSecret(secret, 7, PurposeClockIn, "lobby")
	if err != nil {
		t.Fatalf("GenerateWithSecret: %v", err)
	}
	raw, err := base64.RawURLEncoding.DecodeString(issued.Token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	for i := len(Version); i < len(raw); i++ {
		if raw[i] == '|' {
			continue
		}
		tampered := append([]byte(nil), raw...)
		tampered[i] ^= 0x01
		if tampered[i] == '|' {
			tampered[i] = raw[i] ^ 0x02
		}

		token := base64.RawURLEncoding.EncodeToString(tampered)
		if _, err := svc.Validate(context.Background(), token, secret, "", ""); !errors.Is(err, ErrBadSignature) {
			t.Fatalf("byte %d (%q -> %q): err = %v, want ErrBadSignature", i, raw[i], tampered[i], err)
		}
	}
}

func TestValidate_Rejections(t *testing.T) {
	svc, _, secret := newTestService(t)

	encode := func(s string) string { return base64.RawURLEncoding.EncodeToString([]byte(s)) }
	valid := func(t *testing.T) string {
		issued, err := svc.GenerateWithSecret(secret, 7, PurposeClockIn, "lobby")
		if err != nil {
			t.Fatalf("GenerateWithSecret: %v", err)
		}
		return issued.Token
	}

	tests := []struct {
		name    string
		token   func(t *testing.T) string
		secret  []byte
		purpose Purpose
		station string
		wantErr error
	}{
		{name: "empty", token: func(*testing.T) string { return "" }, wantErr: ErrMalformed},
		{name: "not base64", token: func(*testing.T) string { return "***" }, wantErr: ErrMalformed},
		{name: "too few fields", token: func(*testing.T) string { return encode("v1|7|clock-in") }, wantErr: ErrMalformed},
		{name: "too many fields", token: func(*testing.T) string { return encode("v1|7|clock-in||1|2|abc|sig|extra") }, wantErr: ErrMalformed},
		{
			name:    "over size ceiling",
			token:   func(*testing.T) string { return encode("v1|7|clock-in|" + strings.Repeat("x", MaxTokenBytes) + "|1|2|abc|sig") },
			wantErr: ErrMalformed,
		},
		{name: "unknown version", token: func(*testing.T) string { return encode("v0|7|clock-in||1|2|abc|sig") }, wantErr: ErrUnsupportedVersion},
		{name: "wrong secret", token: valid, secret: []byte("another-principal-secret"), wantErr: ErrBadSignature},
		{name: "purpose mismatch", token: valid, purpose: PurposeClockOut, wantErr: ErrPurposeMismatch},
		{name: "station mismatch", token: valid, station: "back-door", wantErr: ErrStationMismatch},
		{name: "matching expectations", token: valid, purpose: PurposeClockIn, station: "lobby"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := secret
			if tt.secret != nil {
				key = tt.secret
			}
			_, err := svc.Validate(context.Background(), tt.token(t), key, tt.purpose, tt.station)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if tt.wantErr != nil && !IsRejection(err) {
				t.Errorf("IsRejection(%v) = false", err)
			}
		})
	}
}

func TestGenerate_RejectsBadInput(t *testing.T) {
	svc, _, secret := newTestService(t)
	ctx := context.Background()

	if _, err := svc.GenerateWithSecret(secret, 7, "lunch-break", ""); err == nil {
		t.Error("unknown purpose accepted")
	}
	if _, err := svc.GenerateWithSecret(secret, 7, PurposeClockIn, "a|b"); err == nil {
		t.Error("station id with separator accepted")
	}
	if _, err := svc.Generate(ctx, 404, PurposeClockIn, ""); err == nil {
		t.Error("unknown principal accepted")
	}
}

func TestValidateForPrincipal(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	issued, err := svc.Generate(ctx, 7, PurposeClockIn, "")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	res, err := svc.ValidateForPrincipal(ctx, issued.Token, PurposeClockIn, "")
	if err != nil {
		t.Fatalf("ValidateForPrincipal: %v", err)
	}
	if res.PrincipalID != 7 {
		t.Errorf("principal = %d, want 7", res.PrincipalID)
	}

	// Same token signed for an unknown principal.
	other, err := svc.GenerateWithSecret([]byte("secret-of-nobody"), 404, PurposeClockIn, "")
	if err != nil {
		t.Fatalf("GenerateWithSecret: %v", err)
	}
	if _, err := svc.ValidateForPrincipal(ctx, other.Token, "", ""); !errors.Is(err, ErrBadSignature) {
		t.Errorf("unknown principal: err = %v, want ErrBadSignature", err)
	}
}

func TestValidate_SweepsExpiredEntries(t *testing.T) {
	svc, clock, secret := newTestService(t)
	ctx := context.Background()
	used := svc.used.(*MemoryUsedSet)

	first, _ := svc.GenerateWithSecret(secret, 7, PurposeClockIn, "")
	if _, err := svc.Validate(ctx, first.Token, secret, "", ""); err != nil {
		t.Fatalf("Validate first: %v", err)
	}
	if used.Len() != 1 {
		t.Fatalf("used = %d, want 1", used.Len())
	}

	// Past the retention of the first entry.
	clock.Advance(DefaultTTL + ClockSkew + 2*time.Second)

	second, _ := svc.GenerateWithSecret(secret, 7, PurposeClockOut, "")
	if _, err := svc.Validate(ctx, second.Token, secret, "", ""); err != nil {
		t.Fatalf("Validate second: %v", err)
	}
	if used.Len() != 1 {
		t.Errorf("used = %d after sweep, want 1", used.Len())
	}
}
