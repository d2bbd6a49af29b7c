package auth

import "time"

// AdminStatus is the lifecycle state of an administrator account.
type AdminStatus string

const (
	StatusActive   AdminStatus = "active"
	StatusDisabled AdminStatus = "disabled"
)

// ResourceTypeAPI marks permissions that guard HTTP-style operations.
const ResourceTypeAPI = "api"

// AdminIdentity is a stored administrator account.
type AdminIdentity struct {
	ID              string
	Username        string
	PasswordHash    string
	IsSuperAdmin    bool
	Status          AdminStatus
	LoginAttempts   int
	LockedUntil     *time.Time
	TwoFactorSecret *string
	LastLoginAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// LockedAt reports whether the account is locked at the given instant.
func (a AdminIdentity) LockedAt(now time.Time) bool {
	return a.LockedUntil != nil && a.LockedUntil.After(now)
}

// TwoFactorEnabled reports whether a TOTP secret is configured.
func (a AdminIdentity) TwoFactorEnabled() bool {
	return a.TwoFactorSecret != nil && *a.TwoFactorSecret != ""
}

// Role is a named set of permissions.
type Role struct {
	ID          string
	Code        string
	Name        string
	Description string
	IsSystem    bool
	CreatedAt   time.Time
}

// Permission describes a grantable capability. Only permissions with
// ResourceType "api" and both HTTPMethod and ResourcePath set can grant
// access to an operation.
type Permission struct {
	ID           string
	Code         string
	Name         string
	ResourceType string
	HTTPMethod   *string
	ResourcePath *string
	ParentID     *string
	IsSystem     bool
	CreatedAt    time.Time
}

// RoleAssignment links an administrator to a role.
type RoleAssignment struct {
	AdminID   string
	RoleID    string
	CreatedAt time.Time
}

// PermissionGrant links a role to a permission.
type PermissionGrant struct {
	RoleID       string
	PermissionID string
	CreatedAt    time.Time
}

// RevocationRecord marks a token identifier unusable until ExpiresAt.
type RevocationRecord struct {
	TokenID   string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Identity is the authenticated caller extracted from a verified access token.
type Identity struct {
	AdminID      string `json:"admin_id"`
	Username     string `json:"username"`
	IsSuperAdmin bool   `json:"is_super_admin"`
	TokenID      string `json:"-"`
}

// TokenPair is returned by a successful login.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// AccessToken is returned by a refresh.
type AccessToken struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}
