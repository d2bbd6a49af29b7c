package auth_test

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"guardian.org/internal/auth"
	"guardian.org/internal/store/memstore"
)

const (
	testPassword   = "correct-horse-battery"
	testTOTPSecret = "JBSWY3DPEHPK3PXP"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	store *memstore.Store
	clock *clock
	auth  *auth.Authenticator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	c := &clock{now: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	store := memstore.New()
	tokens, err := auth.NewTokenManager("login-test-secret", store.Revocations(context.Background()), auth.WithClock(c.Now))
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	a, err := auth.NewAuthenticator(store, tokens, auth.WithLoginClock(c.Now))
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	return &fixture{store: store, clock: c, auth: a}
}

func (f *fixture) addAdmin(t *testing.T, id, username string, mutate func(*auth.AdminIdentity)) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	admin := auth.AdminIdentity{
		ID:           id,
		Username:     username,
		PasswordHash: string(hash),
		Status:       auth.StatusActive,
	}
	if mutate != nil {
		mutate(&admin)
	}
	if err := f.store.AddAdmin(admin); err != nil {
		t.Fatalf("AddAdmin: %v", err)
	}
}

func (f *fixture) admin(t *testing.T, id string) auth.AdminIdentity {
	t.Helper()
	admin, err := f.store.Admins(context.Background()).FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	return admin
}

// wrongCode returns a six digit code that is not accepted at instant at.
func wrongCode(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	valid := map[string]bool{}
	for _, d := range []time.Duration{-30 * time.Second, 0, 30 * time.Second} {
		code, err := auth.GenerateTOTPCode(secret, at.Add(d))
		if err != nil {
			t.Fatalf("GenerateTOTPCode: %v", err)
		}
		valid[code] = true
	}
	for i := 0; i < 10; i++ {
		candidate := fmt.Sprintf("%06d", i*111111)
		if !valid[candidate] {
			return candidate
		}
	}
	t.Fatal("could not find an invalid code")
	return ""
}

func TestLoginSuccessResetsCounters(t *testing.T) {
	f := newFixture(t)
	past := f.clock.Now().Add(-time.Hour)
	f.addAdmin(t, "a1", "alice", func(a *auth.AdminIdentity) {
		a.LoginAttempts = 3
		a.LockedUntil = &past
	})

	pair, err := f.auth.Login(context.Background(), auth.LoginRequest{Username: "alice", Password: testPassword})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.ExpiresIn != 900 {
		t.Fatalf("unexpected pair: %+v", pair)
	}
	id, err := f.auth.Tokens().VerifyAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("VerifyAccess: %v", err)
	}
	if id.AdminID != "a1" || id.Username != "alice" || id.IsSuperAdmin {
		t.Fatalf("unexpected identity: %+v", id)
	}

	admin := f.admin(t, "a1")
	if admin.LoginAttempts != 0 || admin.LockedUntil != nil {
		t.Fatalf("expected counters reset, got attempts=%d locked=%v", admin.LoginAttempts, admin.LockedUntil)
	}
	if admin.LastLoginAt == nil || !admin.LastLoginAt.Equal(f.clock.Now()) {
		t.Fatalf("expected last login stamped, got %v", admin.LastLoginAt)
	}
}

func TestLoginRejections(t *testing.T) {
	f := newFixture(t)
	f.addAdmin(t, "a1", "alice", nil)
	f.addAdmin(t, "a2", "disabled", func(a *auth.AdminIdentity) { a.Status = auth.StatusDisabled })
	ctx := context.Background()

	cases := []struct {
		name string
		req  auth.LoginRequest
		want error
	}{
		{"unknown user", auth.LoginRequest{Username: "mallory", Password: testPassword}, auth.ErrInvalidCredentials},
		{"empty password", auth.LoginRequest{Username: "alice"}, auth.ErrInvalidCredentials},
		{"wrong password", auth.LoginRequest{Username: "alice", Password: "nope"}, auth.ErrInvalidCredentials},
		{"disabled", auth.LoginRequest{Username: "disabled", Password: testPassword}, auth.ErrAccountDisabled},
	}
	for _, tc := range cases {
		if _, err := f.auth.Login(ctx, tc.req); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestLoginLockoutAfterFiveFailures(t *testing.T) {
	f := newFixture(t)
	f.addAdmin(t, "a1", "alice", nil)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		_, err := f.auth.Login(ctx, auth.LoginRequest{Username: "alice", Password: "wrong-" + strconv.Itoa(i)})
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}
	_, err := f.auth.Login(ctx, auth.LoginRequest{Username: "alice", Password: "wrong-5"})
	if !errors.Is(err, auth.ErrAccountLocked) {
		t.Fatalf("attempt 5: expected ErrAccountLocked, got %v", err)
	}

	admin := f.admin(t, "a1")
	if admin.LoginAttempts != 5 {
		t.Fatalf("expected 5 attempts, got %d", admin.LoginAttempts)
	}
	if admin.LockedUntil == nil || !admin.LockedUntil.Equal(f.clock.Now().Add(15*time.Minute)) {
		t.Fatalf("expected lock for 15 minutes, got %v", admin.LockedUntil)
	}

	// Correct password while locked is still rejected.
	if _, err := f.auth.Login(ctx, auth.LoginRequest{Username: "alice", Password: testPassword}); !errors.Is(err, auth.ErrAccountLocked) {
		t.Fatalf("attempt 6: expected ErrAccountLocked, got %v", err)
	}

	f.clock.Advance(15*time.Minute + time.Second)
	if _, err := f.auth.Login(ctx, auth.LoginRequest{Username: "alice", Password: testPassword}); err != nil {
		t.Fatalf("login after lock expiry: %v", err)
	}
	if admin := f.admin(t, "a1"); admin.LoginAttempts != 0 || admin.LockedUntil != nil {
		t.Fatalf("expected counters reset after success, got %+v", admin)
	}
}

func TestLoginTwoFactor(t *testing.T) {
	f := newFixture(t)
	secret := testTOTPSecret
	f.addAdmin(t, "a1", "alice", func(a *auth.AdminIdentity) { a.TwoFactorSecret = &secret })
	ctx := context.Background()

	_, err := f.auth.Login(ctx, auth.LoginRequest{Username: "alice", Password: testPassword})
	if !errors.Is(err, auth.ErrTwoFactorRequired) {
		t.Fatalf("expected ErrTwoFactorRequired, got %v", err)
	}

	bad := wrongCode(t, secret, f.clock.Now())
	_, err = f.auth.Login(ctx, auth.LoginRequest{Username: "alice", Password: testPassword, TwoFactorCode: bad})
	if !errors.Is(err, auth.ErrInvalidTwoFactorCode) {
		t.Fatalf("expected ErrInvalidTwoFactorCode, got %v", err)
	}
	if admin := f.admin(t, "a1"); admin.LoginAttempts != 0 {
		t.Fatalf("second factor failures must not count towards lockout, got %d", admin.LoginAttempts)
	}

	// Previous step is still inside the accepted skew.
	code, err := auth.GenerateTOTPCode(secret, f.clock.Now().Add(-30*time.Second))
	if err != nil {
		t.Fatalf("GenerateTOTPCode: %v", err)
	}
	if _, err := f.auth.Login(ctx, auth.LoginRequest{Username: "alice", Password: testPassword, TwoFactorCode: " " + code + " "}); err != nil {
		t.Fatalf("Login with valid code: %v", err)
	}
}

func TestLoginStoreFailureIsInternal(t *testing.T) {
	c := &clock{now: time.Now()}
	rev := memstore.New()
	tokens, err := auth.NewTokenManager("secret", rev.Revocations(context.Background()), auth.WithClock(c.Now))
	if err != nil {
		t.Fatalf("NewTokenManager: %v", err)
	}
	a, err := auth.NewAuthenticator(failingStore{Store: rev}, tokens)
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	_, err = a.Login(context.Background(), auth.LoginRequest{Username: "alice", Password: testPassword})
	if !errors.Is(err, auth.ErrInternal) {
		t.Fatalf("expected ErrInternal, got %v", err)
	}
	if strings.Contains(err.Error(), testPassword) {
		t.Fatal("error leaks password")
	}
}

type failingStore struct{ *memstore.Store }

func (failingStore) Admins(context.Context) auth.AdminStore { return failingAdmins{} }

type failingAdmins struct{ auth.AdminStore }

func (failingAdmins) FindByUsername(context.Context, string) (auth.AdminIdentity, error) {
	return auth.AdminIdentity{}, errors.New("database unavailable")
}
