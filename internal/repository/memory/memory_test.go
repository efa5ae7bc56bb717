package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"timeclock-service/internal/domain/auth"
	xerrors "timeclock-service/internal/pkg/errors"
)

func record(jti, family string) *auth.SessionRecord {
	now := time.Now()
	return &auth.SessionRecord{
		JTI:          jti,
		RootFamilyID: family,
		PrincipalID:  7,
		IssuedAt:     now,
		ExpiresAt:    now.Add(time.Hour),
	}
}

func TestSessionRecordStore_ConsumeAndCreate(t *testing.T) {
	ctx := context.Background()
	s := NewSessionRecordStore()

	if err := s.Create(ctx, record("root", "fam")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(ctx, record("root", "fam")); !errors.Is(err, xerrors.ErrConflict) {
		t.Fatalf("duplicate Create: err = %v, want ErrConflict", err)
	}

	ok, err := s.ConsumeAndCreate(ctx, "root", record("child", "fam"))
	if err != nil || !ok {
		t.Fatalf("ConsumeAndCreate: ok=%v err=%v", ok, err)
	}
	parent, _ := s.FindByJTI(ctx, "root")
	if parent.IsActive() {
		t.Error("parent still active after consume")
	}

	// A spent parent never yields a second child.
	ok, err = s.ConsumeAndCreate(ctx, "root", record("child-2", "fam"))
	if err != nil || ok {
		t.Fatalf("second ConsumeAndCreate: ok=%v err=%v", ok, err)
	}
	if _, err := s.FindByJTI(ctx, "child-2"); !errors.Is(err, xerrors.ErrNotFound) {
		t.Errorf("losing child stored: err = %v", err)
	}

	// A child jti clash leaves the parent untouched.
	if err := s.Create(ctx, record("other", "fam-2")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.ConsumeAndCreate(ctx, "other", record("child", "fam-2")); !errors.Is(err, xerrors.ErrConflict) {
		t.Fatalf("clashing child: err = %v, want ErrConflict", err)
	}
	if rec, _ := s.FindByJTI(ctx, "other"); !rec.IsActive() {
		t.Error("parent consumed although child insert failed")
	}

	if ok, _ := s.ConsumeAndCreate(ctx, "missing", record("child-3", "fam")); ok {
		t.Error("ConsumeAndCreate succeeded for an unknown parent")
	}
}

func TestRevocationStore_Watermark(t *testing.T) {
	ctx := context.Background()
	s := NewRevocationStore()
	now := time.Now()

	if _, ok, _ := s.InvalidatedAt(ctx, 7); ok {
		t.Fatal("watermark present before any invalidation")
	}

	if err := s.InvalidateBefore(ctx, 7, now, now.Add(time.Hour)); err != nil {
		t.Fatalf("InvalidateBefore: %v", err)
	}
	// An older mark does not move it back.
	if err := s.InvalidateBefore(ctx, 7, now.Add(-time.Minute), now); err != nil {
		t.Fatalf("InvalidateBefore: %v", err)
	}
	at, ok, err := s.InvalidatedAt(ctx, 7)
	if err != nil || !ok || !at.Equal(now) {
		t.Fatalf("InvalidatedAt = %v, %v, %v; want %v", at, ok, err, now)
	}

	if err := s.DeleteByPrincipal(ctx, 7); err != nil {
		t.Fatalf("DeleteByPrincipal: %v", err)
	}
	if _, ok, _ := s.InvalidatedAt(ctx, 7); !ok {
		t.Fatal("watermark dropped by DeleteByPrincipal")
	}

	n, err := s.DeleteExpired(ctx, now.Add(2*time.Hour))
	if err != nil || n != 1 {
		t.Fatalf("DeleteExpired = %d, %v; want 1", n, err)
	}
	if _, ok, _ := s.InvalidatedAt(ctx, 7); ok {
		t.Error("watermark survived past its retention")
	}
}
