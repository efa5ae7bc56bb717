package auth

import (
	"context"
	"errors"
	"sync"
	"testing"

	domain "timeclock-service/internal/domain/auth"
	xerrors "timeclock-service/internal/pkg/errors"
	"timeclock-service/internal/pkg/jwt"
	"timeclock-service/internal/repository/memory"

	"go.uber.org/zap"
)

type recordingNotifier struct {
	mu      sync.Mutex
	alerts  []string
	logouts []int64
}

func (n *recordingNotifier) NotifySecurityAlert(principalID int64, rootFamilyID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, rootFamilyID)
}

func (n *recordingNotifier) NotifyForceLogout(principalID int64, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.logouts = append(n.logouts, principalID)
}

type fixture struct {
	svc         *AuthService
	manager     *jwt.Manager
	sessions    *memory.SessionRecordStore
	revocations *memory.RevocationStore
	directory   *memory.PrincipalDirectory
	notifier    *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	key, err := jwt.GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}
	manager := jwt.NewManager(key, jwt.Config{Issuer: "timeclock", Audience: "timeclock-staff"})

	directory := memory.NewPrincipalDirectory()
	if _, err := directory.Add(7, domain.RoleEmployee); err != nil {
		t.Fatalf("Add: %v", err)
	}

	f := &fixture{
		manager:     manager,
		sessions:    memory.NewSessionRecordStore(),
		revocations: memory.NewRevocationStore(),
		directory:   directory,
		notifier:    &recordingNotifier{},
	}
	f.svc = NewAuthService(manager, f.sessions, f.revocations, directory, f.notifier, zap.NewNop())
	return f
}

func (f *fixture) record(t *testing.T, refreshToken string) *domain.SessionRecord {
	t.Helper()
	claims, err := f.manager.Verifier.ParseRefresh(refreshToken)
	if err != nil {
		t.Fatalf("ParseRefresh: %v", err)
	}
	rec, err := f.sessions.FindByJTI(context.Background(), claims.JTI())
	if err != nil {
		t.Fatalf("FindByJTI(%s): %v", claims.JTI(), err)
	}
	return rec
}

func TestLogin_CreatesFamilyRoot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cred, err := f.svc.Login(ctx, "alice", 7)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if cred.TokenType != "Bearer" || cred.ExpiresIn != 1800 {
		t.Errorf("token_type=%q expires_in=%d", cred.TokenType, cred.ExpiresIn)
	}

	root := f.record(t, cred.RefreshToken)
	if root.ParentID != nil {
		t.Errorf("root parent = %v, want nil", *root.ParentID)
	}
	if root.RootFamilyID == "" || !root.IsActive() {
		t.Errorf("root = %+v", root)
	}

	claims, err := f.svc.ValidateAccess(ctx, cred.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccess: %v", err)
	}
	if !claims.HasRole(domain.RoleEmployee) {
		t.Errorf("roles = %v", claims.Roles)
	}
}

func TestLogin_UnknownPrincipalIsInternal(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Login(context.Background(), "ghost", 404)
	if !errors.Is(err, xerrors.ErrInternal) {
		t.Fatalf("err = %v, want ErrInternal", err)
	}
	if xerrors.IsAuthFailure(err) {
		t.Error("missing principal must not be an auth failure")
	}
}

func TestRotate_ChainIntegrity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cred, err := f.svc.Login(ctx, "alice", 7)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	prev := f.record(t, cred.RefreshToken)
	family := prev.RootFamilyID

	for i := 0; i < 3; i++ {
		cred, err = f.svc.Rotate(ctx, cred.RefreshToken)
		if err != nil {
			t.Fatalf("Rotate #%d: %v", i, err)
		}
		next := f.record(t, cred.RefreshToken)
		if next.ParentID == nil || *next.ParentID != prev.JTI {
			t.Fatalf("rotation %d: parent = %v, want %s", i, next.ParentID, prev.JTI)
		}
		if next.RootFamilyID != family {
			t.Fatalf("rotation %d: family = %s, want %s", i, next.RootFamilyID, family)
		}
		if !next.IsActive() {
			t.Fatalf("rotation %d: child not active", i)
		}

		consumed, _ := f.sessions.FindByJTI(ctx, prev.JTI)
		if !consumed.Used || !consumed.Revoked {
			t.Fatalf("rotation %d: parent not consumed: %+v", i, consumed)
		}
		prev = next
	}

	active := 0
	for _, rec := range f.sessions.ByFamily(family) {
		if rec.IsActive() {
			active++
		}
	}
	if active != 1 {
		t.Errorf("active records in family = %d, want 1", active)
	}
}

func TestRotate_ReplayRevokesWholeFamily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	login, err := f.svc.Login(ctx, "alice", 7)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	tokenA := login.RefreshToken
	family := f.record(t, tokenA).RootFamilyID

	rotated, err := f.svc.Rotate(ctx, tokenA)
	if err != nil {
		t.Fatalf("Rotate A: %v", err)
	}
	tokenB := rotated.RefreshToken

	_, err = f.svc.Rotate(ctx, tokenA)
	sv, ok := xerrors.AsSecurityViolation(err)
	if !ok {
		t.Fatalf("replay of A: err = %v, want SecurityViolationError", err)
	}
	if sv.PrincipalID != 7 || sv.RootFamilyID != family {
		t.Errorf("violation = %+v", sv)
	}

	for _, rec := range f.sessions.ByFamily(family) {
		if !rec.Revoked {
			t.Errorf("record %s survived family revocation", rec.JTI)
		}
	}

	// B was never replayed, but its family is dead.
	if _, err := f.svc.Rotate(ctx, tokenB); !errors.Is(err, xerrors.ErrSecurityViolation) {
		t.Fatalf("rotate B after replay: err = %v, want ErrSecurityViolation", err)
	}

	if len(f.notifier.alerts) != 2 || f.notifier.alerts[0] != family {
		t.Errorf("alerts = %v", f.notifier.alerts)
	}
}

func TestRotate_ConcurrentSameCredential(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	login, err := f.svc.Login(ctx, "alice", 7)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	const workers = 16
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		successes  int
		violations int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.Rotate(ctx, login.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, xerrors.ErrSecurityViolation):
				violations++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if successes != 1 {
		t.Errorf("successes = %d, want 1", successes)
	}
	if violations != workers-1 {
		t.Errorf("violations = %d, want %d", violations, workers-1)
	}
}

// A validly signed refresh credential with no record starts a new family.
// This is deliberate: record loss must not lock every user out. The
// credential itself is then spent like any other.
func TestRotate_OrphanedCredentialStartsNewFamily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	orphan, err := f.manager.Generator.IssueRefresh("alice", 7)
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}

	cred, err := f.svc.Rotate(ctx, orphan.Token)
	if err != nil {
		t.Fatalf("Rotate orphan: %v", err)
	}

	child := f.record(t, cred.RefreshToken)
	if child.ParentID != nil {
		t.Errorf("orphan child parent = %s, want nil", *child.ParentID)
	}
	if child.RootFamilyID == "" || !child.IsActive() {
		t.Errorf("child = %+v", child)
	}

	recovered := f.record(t, orphan.Token)
	if recovered.RootFamilyID != child.RootFamilyID || recovered.IsActive() {
		t.Errorf("recovered record = %+v, want consumed in family %s", recovered, child.RootFamilyID)
	}

	_, err = f.svc.Rotate(ctx, orphan.Token)
	if !errors.Is(err, xerrors.ErrSecurityViolation) {
		t.Fatalf("second Rotate of orphan: err = %v, want ErrSecurityViolation", err)
	}
	if _, err := f.svc.Rotate(ctx, cred.RefreshToken); !errors.Is(err, xerrors.ErrSecurityViolation) {
		t.Errorf("descendant after orphan replay: err = %v, want ErrSecurityViolation", err)
	}
}

func TestRotate_ConcurrentOrphanSingleSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	orphan, err := f.manager.Generator.IssueRefresh("alice", 7)
	if err != nil {
		t.Fatalf("IssueRefresh: %v", err)
	}

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes []*domain.SessionCredential
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			cred, err := f.svc.Rotate(ctx, orphan.Token)
			if err != nil && !errors.Is(err, xerrors.ErrSecurityViolation) {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if err == nil {
				mu.Lock()
				successes = append(successes, cred)
				mu.Unlock()
			}
		}()
	}
	close(start)
	wg.Wait()

	if len(successes) != 1 {
		t.Fatalf("successes = %d, want 1", len(successes))
	}
	family := f.record(t, orphan.Token).RootFamilyID
	for _, rec := range f.sessions.ByFamily(family) {
		if rec.IsActive() {
			t.Errorf("record %s still active after replay", rec.JTI)
		}
	}
}

// gatedSessions pauses the first ConsumeAndCreate call so another request
// can interleave with an in-flight rotation.
type gatedSessions struct {
	*memory.SessionRecordStore
	afterStore bool
	once       sync.Once
	paused     chan struct{}
	release    chan struct{}
}

func (g *gatedSessions) ConsumeAndCreate(ctx context.Context, parentJTI string, child *domain.SessionRecord) (bool, error) {
	first := false
	g.once.Do(func() { first = true })
	if !first {
		return g.SessionRecordStore.ConsumeAndCreate(ctx, parentJTI, child)
	}

	if !g.afterStore {
		close(g.paused)
		<-g.release
		return g.SessionRecordStore.ConsumeAndCreate(ctx, parentJTI, child)
	}
	ok, err := g.SessionRecordStore.ConsumeAndCreate(ctx, parentJTI, child)
	close(g.paused)
	<-g.release
	return ok, err
}

func TestRotate_ReplayDuringRotationKillsEveryDescendant(t *testing.T) {
	tests := []struct {
		name       string
		afterStore bool
	}{
		{name: "replay before the rotation is stored"},
		{name: "replay after the rotation is stored", afterStore: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()

			login, err := f.svc.Login(ctx, "alice", 7)
			if err != nil {
				t.Fatalf("Login: %v", err)
			}
			family := f.record(t, login.RefreshToken).RootFamilyID

			gated := &gatedSessions{
				SessionRecordStore: f.sessions,
				afterStore:         tt.afterStore,
				paused:             make(chan struct{}),
				release:            make(chan struct{}),
			}
			svc := NewAuthService(f.manager, gated, f.revocations, f.directory, f.notifier, zap.NewNop())

			type outcome struct {
				cred *domain.SessionCredential
				err  error
			}
			inFlight := make(chan outcome, 1)
			go func() {
				cred, err := svc.Rotate(ctx, login.RefreshToken)
				inFlight <- outcome{cred, err}
			}()

			<-gated.paused
			replayCred, replayErr := svc.Rotate(ctx, login.RefreshToken)
			close(gated.release)
			first := <-inFlight

			var survivor *domain.SessionCredential
			for _, o := range []outcome{first, {replayCred, replayErr}} {
				switch {
				case o.err == nil:
					if survivor != nil {
						t.Fatal("both rotations succeeded")
					}
					survivor = o.cred
				case !errors.Is(o.err, xerrors.ErrSecurityViolation):
					t.Fatalf("unexpected error: %v", o.err)
				}
			}
			if survivor == nil {
				t.Fatal("no rotation succeeded")
			}

			for _, rec := range f.sessions.ByFamily(family) {
				if rec.IsActive() {
					t.Errorf("record %s survived family revocation", rec.JTI)
				}
			}
			if _, err := svc.Rotate(ctx, survivor.RefreshToken); !errors.Is(err, xerrors.ErrSecurityViolation) {
				t.Errorf("descendant rotate: err = %v, want ErrSecurityViolation", err)
			}
		})
	}
}

func TestRotate_RejectsNonRefreshCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	login, err := f.svc.Login(ctx, "alice", 7)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	for name, token := range map[string]string{
		"access":  login.AccessToken,
		"garbage": "not-a-token",
		"empty":   "",
	} {
		if _, err := f.svc.Rotate(ctx, token); !errors.Is(err, xerrors.ErrInvalidCredential) {
			t.Errorf("%s: err = %v, want ErrInvalidCredential", name, err)
		}
	}
}

func TestInvalidate_RevokesSingleSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	login, err := f.svc.Login(ctx, "alice", 7)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	if err := f.svc.Invalidate(ctx, login.RefreshToken); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	rec := f.record(t, login.RefreshToken)
	if !rec.Revoked {
		t.Error("session record not revoked")
	}
	revoked, _ := f.revocations.IsRevoked(ctx, rec.JTI)
	if !revoked {
		t.Error("revocation entry missing")
	}

	if _, err := f.svc.Rotate(ctx, login.RefreshToken); !errors.Is(err, xerrors.ErrSecurityViolation) {
		t.Errorf("rotate after invalidate: err = %v", err)
	}
}

func TestInvalidateAll_DropsPrincipalState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, _ := f.svc.Login(ctx, "alice", 7)
	second, _ := f.svc.Login(ctx, "alice", 7)
	f.svc.Logout(ctx, first.AccessToken, "")

	if err := f.svc.InvalidateAll(ctx, 7); err != nil {
		t.Fatalf("InvalidateAll: %v", err)
	}

	for _, tok := range []string{first.RefreshToken, second.RefreshToken} {
		claims, _ := f.manager.Verifier.ParseRefresh(tok)
		if _, err := f.sessions.FindByJTI(ctx, claims.JTI()); !errors.Is(err, xerrors.ErrNotFound) {
			t.Errorf("record %s still present: %v", claims.JTI(), err)
		}
	}
	if f.revocations.Len() != 0 {
		t.Errorf("revocations = %d, want 0", f.revocations.Len())
	}
	if len(f.notifier.logouts) != 1 || f.notifier.logouts[0] != 7 {
		t.Errorf("force logouts = %v", f.notifier.logouts)
	}

	// Credentials from before the sign-out are not recovered as orphans.
	for _, tok := range []string{first.RefreshToken, second.RefreshToken} {
		_, err := f.svc.Rotate(ctx, tok)
		if !errors.Is(err, xerrors.ErrInvalidCredential) {
			t.Errorf("rotate after InvalidateAll: err = %v, want ErrInvalidCredential", err)
		}
	}

	fresh, err := f.svc.Login(ctx, "alice", 7)
	if err != nil {
		t.Fatalf("Login after InvalidateAll: %v", err)
	}
	if _, err := f.svc.Rotate(ctx, fresh.RefreshToken); err != nil {
		t.Errorf("rotate of new session: %v", err)
	}
}

func TestLogout_NeverFails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	login, err := f.svc.Login(ctx, "alice", 7)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Garbage, swapped and empty inputs must all be swallowed.
	f.svc.Logout(ctx, "garbage", "garbage")
	f.svc.Logout(ctx, login.RefreshToken, login.AccessToken)
	f.svc.Logout(ctx, "", "")

	f.svc.Logout(ctx, login.AccessToken, login.RefreshToken)

	if _, err := f.svc.ValidateAccess(ctx, login.AccessToken); !errors.Is(err, xerrors.ErrInvalidCredential) {
		t.Errorf("access after logout: err = %v, want ErrInvalidCredential", err)
	}
	if !f.record(t, login.RefreshToken).Revoked {
		t.Error("refresh record not revoked by logout")
	}
}

func TestValidateAccess_RejectsRefreshCredential(t *testing.T) {
	f := newFixture(t)

	login, err := f.svc.Login(context.Background(), "alice", 7)
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := f.svc.ValidateAccess(context.Background(), login.RefreshToken); !errors.Is(err, xerrors.ErrInvalidCredential) {
		t.Errorf("err = %v, want ErrInvalidCredential", err)
	}
}
