package auth

import "errors"

var (
	ErrInvalidCredentials      = errors.New("auth: invalid username or password")
	ErrAccountDisabled         = errors.New("auth: account disabled")
	ErrAccountLocked           = errors.New("auth: account locked")
	ErrTwoFactorRequired       = errors.New("auth: two-factor code required")
	ErrInvalidTwoFactorCode    = errors.New("auth: invalid two-factor code")
	ErrInvalidToken            = errors.New("auth: invalid token")
	ErrTokenExpired            = errors.New("auth: token expired")
	ErrTokenRevoked            = errors.New("auth: token revoked")
	ErrPermissionDenied        = errors.New("auth: permission denied")
	ErrRateLimited             = errors.New("auth: rate limit exceeded")
	ErrInternal                = errors.New("auth: internal failure")
	ErrNotFound                = errors.New("auth: not found")
	ErrInvalidInput            = errors.New("auth: invalid input")
	ErrConflict                = errors.New("auth: conflict")
	ErrTwoFactorAlreadyEnabled = errors.New("auth: two-factor already enabled")
	ErrTwoFactorNotEnabled     = errors.New("auth: two-factor not enabled")
)
