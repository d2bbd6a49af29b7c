package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// SetupTwoFactor generates and stores a TOTP secret for the admin. The
// secret takes effect immediately; it is returned only in this response.
func (a *Authenticator) SetupTwoFactor(ctx context.Context, adminID string) (TwoFactorEnrollment, error) {
	admin, err := a.loadAdmin(ctx, adminID)
	if err != nil {
		return TwoFactorEnrollment{}, err
	}
	if admin.TwoFactorEnabled() {
		return TwoFactorEnrollment{}, ErrTwoFactorAlreadyEnabled
	}
	enrollment, err := newEnrollment(a.totpIssuer, admin.Username)
	if err != nil {
		return TwoFactorEnrollment{}, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	secret := enrollment.Secret
	if err := a.store.Admins(ctx).SetTwoFactorSecret(ctx, admin.ID, &secret); err != nil {
		return TwoFactorEnrollment{}, fmt.Errorf("%w: store totp secret: %v", ErrInternal, err)
	}
	return enrollment, nil
}

// VerifyTwoFactor checks a code against the admin's configured secret.
func (a *Authenticator) VerifyTwoFactor(ctx context.Context, adminID, code string) error {
	admin, err := a.loadAdmin(ctx, adminID)
	if err != nil {
		return err
	}
	if !admin.TwoFactorEnabled() {
		return ErrTwoFactorNotEnabled
	}
	if !ValidateTOTP(*admin.TwoFactorSecret, code, a.now()) {
		return ErrInvalidTwoFactorCode
	}
	return nil
}

// DisableTwoFactor removes the admin's TOTP secret.
func (a *Authenticator) DisableTwoFactor(ctx context.Context, adminID string) error {
	admin, err := a.loadAdmin(ctx, adminID)
	if err != nil {
		return err
	}
	if !admin.TwoFactorEnabled() {
		return ErrTwoFactorNotEnabled
	}
	if err := a.store.Admins(ctx).SetTwoFactorSecret(ctx, admin.ID, nil); err != nil {
		return fmt.Errorf("%w: clear totp secret: %v", ErrInternal, err)
	}
	return nil
}

// ResetPassword sets a new password for an account proven by a current
// TOTP code. Accounts without a second factor cannot be reset this way, nor
// can disabled or locked ones. A wrong code counts toward lockout.
func (a *Authenticator) ResetPassword(ctx context.Context, username, code, newPassword string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	admin, err := a.store.Admins(ctx).FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("%w: load admin: %v", ErrInternal, err)
	}
	now := a.now()
	if admin.Status != StatusActive {
		return ErrAccountDisabled
	}
	if admin.LockedAt(now) {
		return ErrAccountLocked
	}
	if !admin.TwoFactorEnabled() {
		return ErrTwoFactorNotEnabled
	}
	if !ValidateTOTP(*admin.TwoFactorSecret, code, now) {
		attempts, _, err := a.store.Admins(ctx).RecordLoginFailure(ctx, admin.ID, a.lockoutThreshold, now.Add(a.lockoutDuration))
		if err != nil {
			return fmt.Errorf("%w: record reset failure: %v", ErrInternal, err)
		}
		if attempts >= a.lockoutThreshold {
			return ErrAccountLocked
		}
		return ErrInvalidTwoFactorCode
	}
	return a.setPassword(ctx, admin.ID, newPassword)
}

// ChangePassword replaces the admin's password after re-checking the
// current one.
func (a *Authenticator) ChangePassword(ctx context.Context, adminID, currentPassword, newPassword string) error {
	admin, err := a.loadAdmin(ctx, adminID)
	if err != nil {
		return err
	}
	ok, err := VerifyPassword(admin.PasswordHash, currentPassword)
	if err != nil {
		return fmt.Errorf("%w: verify password: %v", ErrInternal, err)
	}
	if !ok {
		return ErrInvalidCredentials
	}
	return a.setPassword(ctx, admin.ID, newPassword)
}

// Unlock clears the failed attempt counter and lock of an account.
func (a *Authenticator) Unlock(ctx context.Context, adminID string) error {
	if _, err := a.loadAdmin(ctx, adminID); err != nil {
		return err
	}
	if err := a.store.Admins(ctx).Unlock(ctx, adminID); err != nil {
		return fmt.Errorf("%w: unlock admin: %v", ErrInternal, err)
	}
	return nil
}

// Profile returns the stored account of an admin.
func (a *Authenticator) Profile(ctx context.Context, adminID string) (AdminIdentity, error) {
	return a.loadAdmin(ctx, adminID)
}

func (a *Authenticator) setPassword(ctx context.Context, adminID, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}
	if err := a.store.Admins(ctx).UpdatePasswordHash(ctx, adminID, hash); err != nil {
		return fmt.Errorf("%w: update password: %v", ErrInternal, err)
	}
	return nil
}

func (a *Authenticator) loadAdmin(ctx context.Context, adminID string) (AdminIdentity, error) {
	adminID = strings.TrimSpace(adminID)
	if adminID == "" {
		return AdminIdentity{}, fmt.Errorf("%w: admin id is required", ErrInvalidInput)
	}
	admin, err := a.store.Admins(ctx).FindByID(ctx, adminID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return AdminIdentity{}, err
		}
		return AdminIdentity{}, fmt.Errorf("%w: load admin: %v", ErrInternal, err)
	}
	return admin, nil
}
