package auth

import (
	"context"
	"time"
)

// Store exposes persistence primitives for the security pipeline.
type Store interface {
	Admins(ctx context.Context) AdminStore
	Roles(ctx context.Context) RoleStore
	Permissions(ctx context.Context) PermissionStore
	Revocations(ctx context.Context) RevocationStore
}

// AdminStore persists administrator accounts.
type AdminStore interface {
	FindByID(ctx context.Context, id string) (AdminIdentity, error)
	FindByUsername(ctx context.Context, username string) (AdminIdentity, error)
	// RecordLoginFailure atomically increments the failed attempt counter
	// and, once the counter reaches threshold, sets LockedUntil to
	// lockUntil. It returns the counter and lock after the update.
	RecordLoginFailure(ctx context.Context, id string, threshold int, lockUntil time.Time) (int, *time.Time, error)
	// RecordLoginSuccess resets the counter, clears the lock and stamps
	// the last login time.
	RecordLoginSuccess(ctx context.Context, id string, at time.Time) error
	SetTwoFactorSecret(ctx context.Context, id string, secret *string) error
	UpdatePasswordHash(ctx context.Context, id, hash string) error
	Unlock(ctx context.Context, id string) error
}

// RoleStore resolves role assignments.
type RoleStore interface {
	AssignmentsForAdmin(ctx context.Context, adminID string) ([]RoleAssignment, error)
}

// PermissionStore resolves permissions granted to roles.
type PermissionStore interface {
	// PermissionsForRoles returns the union of permissions granted to any
	// of the given roles, without duplicates.
	PermissionsForRoles(ctx context.Context, roleIDs []string) ([]Permission, error)
}

// RevocationStore persists revoked token identifiers.
type RevocationStore interface {
	// Revoke records tokenID as revoked until expiresAt. Revoking an
	// already revoked identifier is not an error.
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
	// IsRevoked reports whether a record with ExpiresAt after now exists.
	IsRevoked(ctx context.Context, tokenID string, now time.Time) (bool, error)
	// PurgeExpired deletes records that expired at or before now.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
