package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultLockoutThreshold = 5
	defaultLockoutDuration  = 15 * time.Minute
	defaultTOTPIssuer       = "Guardian"
)

// LoginRequest carries credentials presented at login.
type LoginRequest struct {
	Username      string
	Password      string
	TwoFactorCode string
}

// Authenticator applies the login policy and account self-service
// operations on top of a Store and a TokenManager.
type Authenticator struct {
	store            Store
	tokens           *TokenManager
	now              func() time.Time
	lockoutThreshold int
	lockoutDuration  time.Duration
	totpIssuer       string
}

// AuthenticatorOption configures Authenticator behavior.
type AuthenticatorOption func(*Authenticator) error

// WithLockoutPolicy sets the failed attempt threshold and lock duration.
func WithLockoutPolicy(threshold int, duration time.Duration) AuthenticatorOption {
	return func(a *Authenticator) error {
		if threshold <= 0 || duration <= 0 {
			return fmt.Errorf("%w: lockout threshold and duration must be positive", ErrInvalidInput)
		}
		a.lockoutThreshold = threshold
		a.lockoutDuration = duration
		return nil
	}
}

// WithTOTPIssuer sets the issuer label shown in authenticator apps.
func WithTOTPIssuer(issuer string) AuthenticatorOption {
	return func(a *Authenticator) error {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			a.totpIssuer = issuer
		}
		return nil
	}
}

// WithLoginClock overrides the time source used for lockout and TOTP.
func WithLoginClock(fn func() time.Time) AuthenticatorOption {
	return func(a *Authenticator) error {
		if fn != nil {
			a.now = fn
		}
		return nil
	}
}

// NewAuthenticator constructs an Authenticator.
func NewAuthenticator(store Store, tokens *TokenManager, opts ...AuthenticatorOption) (*Authenticator, error) {
	if store == nil || tokens == nil {
		return nil, fmt.Errorf("%w: store and token manager are required", ErrInvalidInput)
	}
	a := &Authenticator{
		store:            store,
		tokens:           tokens,
		now:              time.Now,
		lockoutThreshold: defaultLockoutThreshold,
		lockoutDuration:  defaultLockoutDuration,
		totpIssuer:       defaultTOTPIssuer,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Tokens exposes the underlying token manager.
func (a *Authenticator) Tokens() *TokenManager { return a.tokens }

// Login verifies credentials and the optional second factor and issues a
// token pair. Failed password checks count towards the lockout threshold;
// failed second factor checks do not.
func (a *Authenticator) Login(ctx context.Context, req LoginRequest) (TokenPair, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return TokenPair{}, ErrInvalidCredentials
	}

	admins := a.store.Admins(ctx)
	admin, err := admins.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrInvalidCredentials
		}
		return TokenPair{}, fmt.Errorf("%w: load admin: %v", ErrInternal, err)
	}

	now := a.now()
	if admin.Status != StatusActive {
		return TokenPair{}, ErrAccountDisabled
	}
	if admin.LockedAt(now) {
		return TokenPair{}, ErrAccountLocked
	}

	ok, err := VerifyPassword(admin.PasswordHash, req.Password)
	if err != nil {
		return TokenPair{}, fmt.Errorf("%w: verify password: %v", ErrInternal, err)
	}
	if !ok {
		attempts, _, err := admins.RecordLoginFailure(ctx, admin.ID, a.lockoutThreshold, now.Add(a.lockoutDuration))
		if err != nil {
			return TokenPair{}, fmt.Errorf("%w: record login failure: %v", ErrInternal, err)
		}
		if attempts >= a.lockoutThreshold {
			return TokenPair{}, ErrAccountLocked
		}
		return TokenPair{}, ErrInvalidCredentials
	}

	if admin.TwoFactorEnabled() {
		code := strings.TrimSpace(req.TwoFactorCode)
		if code == "" {
			return TokenPair{}, ErrTwoFactorRequired
		}
		if !ValidateTOTP(*admin.TwoFactorSecret, code, now) {
			return TokenPair{}, ErrInvalidTwoFactorCode
		}
	}

	if err := admins.RecordLoginSuccess(ctx, admin.ID, now); err != nil {
		return TokenPair{}, fmt.Errorf("%w: record login success: %v", ErrInternal, err)
	}
	return a.tokens.IssuePair(admin.ID, admin.Username, admin.IsSuperAdmin)
}
