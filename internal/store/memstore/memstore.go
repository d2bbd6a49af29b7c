// Package memstore is a process-local implementation of auth.Store used
// for development and tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"guardian.org/internal/auth"
)

// Store keeps all records in memory guarded by a single RWMutex.
type Store struct {
	mu          sync.RWMutex
	admins      map[string]auth.AdminIdentity
	usernames   map[string]string
	roles       map[string]auth.Role
	permissions map[string]auth.Permission
	assignments map[string][]auth.RoleAssignment
	grants      map[string][]auth.PermissionGrant
	revoked     map[string]auth.RevocationRecord
	now         func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{
		admins:      make(map[string]auth.AdminIdentity),
		usernames:   make(map[string]string),
		roles:       make(map[string]auth.Role),
		permissions: make(map[string]auth.Permission),
		assignments: make(map[string][]auth.RoleAssignment),
		grants:      make(map[string][]auth.PermissionGrant),
		revoked:     make(map[string]auth.RevocationRecord),
		now:         time.Now,
	}
}

var _ auth.Store = (*Store)(nil)

func (s *Store) Admins(context.Context) auth.AdminStore           { return adminStore{s} }
func (s *Store) Roles(context.Context) auth.RoleStore             { return roleStore{s} }
func (s *Store) Permissions(context.Context) auth.PermissionStore { return permissionStore{s} }
func (s *Store) Revocations(context.Context) auth.RevocationStore { return revocationStore{s} }

// AddAdmin inserts an administrator. Usernames are unique.
func (s *Store) AddAdmin(admin auth.AdminIdentity) error {
	if admin.ID == "" || strings.TrimSpace(admin.Username) == "" {
		return fmt.Errorf("%w: admin id and username are required", auth.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.usernames[admin.Username]; ok {
		return fmt.Errorf("%w: username %q", auth.ErrConflict, admin.Username)
	}
	if admin.Status == "" {
		admin.Status = auth.StatusActive
	}
	now := s.now()
	if admin.CreatedAt.IsZero() {
		admin.CreatedAt = now
	}
	admin.UpdatedAt = now
	s.admins[admin.ID] = admin
	s.usernames[admin.Username] = admin.ID
	return nil
}

// AddRole inserts a role.
func (s *Store) AddRole(role auth.Role) error {
	if role.ID == "" || role.Code == "" {
		return fmt.Errorf("%w: role id and code are required", auth.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.roles {
		if r.Code == role.Code {
			return fmt.Errorf("%w: role code %q", auth.ErrConflict, role.Code)
		}
	}
	s.roles[role.ID] = role
	return nil
}

// AddPermission inserts a permission.
func (s *Store) AddPermission(perm auth.Permission) error {
	if perm.ID == "" || perm.Code == "" {
		return fmt.Errorf("%w: permission id and code are required", auth.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.permissions {
		if p.Code == perm.Code {
			return fmt.Errorf("%w: permission code %q", auth.ErrConflict, perm.Code)
		}
	}
	s.permissions[perm.ID] = perm
	return nil
}

// Assign gives a role to an admin. Assigning twice is a no-op.
func (s *Store) Assign(adminID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.admins[adminID]; !ok {
		return fmt.Errorf("%w: admin %s", auth.ErrNotFound, adminID)
	}
	if _, ok := s.roles[roleID]; !ok {
		return fmt.Errorf("%w: role %s", auth.ErrNotFound, roleID)
	}
	for _, a := range s.assignments[adminID] {
		if a.RoleID == roleID {
			return nil
		}
	}
	s.assignments[adminID] = append(s.assignments[adminID], auth.RoleAssignment{
		AdminID: adminID, RoleID: roleID, CreatedAt: s.now(),
	})
	return nil
}

// Grant gives a permission to a role. Granting twice is a no-op.
func (s *Store) Grant(roleID, permissionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.roles[roleID]; !ok {
		return fmt.Errorf("%w: role %s", auth.ErrNotFound, roleID)
	}
	if _, ok := s.permissions[permissionID]; !ok {
		return fmt.Errorf("%w: permission %s", auth.ErrNotFound, permissionID)
	}
	for _, g := range s.grants[roleID] {
		if g.PermissionID == permissionID {
			return nil
		}
	}
	s.grants[roleID] = append(s.grants[roleID], auth.PermissionGrant{
		RoleID: roleID, PermissionID: permissionID, CreatedAt: s.now(),
	})
	return nil
}

type adminStore struct{ s *Store }

func (a adminStore) FindByID(_ context.Context, id string) (auth.AdminIdentity, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	admin, ok := a.s.admins[id]
	if !ok {
		return auth.AdminIdentity{}, auth.ErrNotFound
	}
	return admin, nil
}

func (a adminStore) FindByUsername(_ context.Context, username string) (auth.AdminIdentity, error) {
	a.s.mu.RLock()
	defer a.s.mu.RUnlock()
	id, ok := a.s.usernames[username]
	if !ok {
		return auth.AdminIdentity{}, auth.ErrNotFound
	}
	return a.s.admins[id], nil
}

func (a adminStore) RecordLoginFailure(_ context.Context, id string, threshold int, lockUntil time.Time) (int, *time.Time, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	admin, ok := a.s.admins[id]
	if !ok {
		return 0, nil, auth.ErrNotFound
	}
	admin.LoginAttempts++
	if admin.LoginAttempts >= threshold {
		until := lockUntil
		admin.LockedUntil = &until
	}
	admin.UpdatedAt = a.s.now()
	a.s.admins[id] = admin
	return admin.LoginAttempts, admin.LockedUntil, nil
}

func (a adminStore) RecordLoginSuccess(_ context.Context, id string, at time.Time) error {
	return a.update(id, func(admin *auth.AdminIdentity) {
		admin.LoginAttempts = 0
		admin.LockedUntil = nil
		last := at
		admin.LastLoginAt = &last
	})
}

func (a adminStore) SetTwoFactorSecret(_ context.Context, id string, secret *string) error {
	return a.update(id, func(admin *auth.AdminIdentity) {
		if secret == nil {
			admin.TwoFactorSecret = nil
			return
		}
		v := *secret
		admin.TwoFactorSecret = &v
	})
}

func (a adminStore) UpdatePasswordHash(_ context.Context, id, hash string) error {
	return a.update(id, func(admin *auth.AdminIdentity) { admin.PasswordHash = hash })
}

func (a adminStore) Unlock(_ context.Context, id string) error {
	return a.update(id, func(admin *auth.AdminIdentity) {
		admin.LoginAttempts = 0
		admin.LockedUntil = nil
	})
}

func (a adminStore) update(id string, fn func(*auth.AdminIdentity)) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	admin, ok := a.s.admins[id]
	if !ok {
		return auth.ErrNotFound
	}
	fn(&admin)
	admin.UpdatedAt = a.s.now()
	a.s.admins[id] = admin
	return nil
}

type roleStore struct{ s *Store }

func (r roleStore) AssignmentsForAdmin(_ context.Context, adminID string) ([]auth.RoleAssignment, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	src := r.s.assignments[adminID]
	out := make([]auth.RoleAssignment, len(src))
	copy(out, src)
	return out, nil
}

type permissionStore struct{ s *Store }

func (p permissionStore) PermissionsForRoles(_ context.Context, roleIDs []string) ([]auth.Permission, error) {
	p.s.mu.RLock()
	defer p.s.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []auth.Permission
	for _, roleID := range roleIDs {
		for _, g := range p.s.grants[roleID] {
			if _, ok := seen[g.PermissionID]; ok {
				continue
			}
			perm, ok := p.s.permissions[g.PermissionID]
			if !ok {
				continue
			}
			seen[g.PermissionID] = struct{}{}
			out = append(out, perm)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

type revocationStore struct{ s *Store }

func (r revocationStore) Revoke(_ context.Context, tokenID string, expiresAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.revoked[tokenID]; ok {
		return nil
	}
	r.s.revoked[tokenID] = auth.RevocationRecord{TokenID: tokenID, ExpiresAt: expiresAt, CreatedAt: r.s.now()}
	return nil
}

func (r revocationStore) IsRevoked(_ context.Context, tokenID string, now time.Time) (bool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	rec, ok := r.s.revoked[tokenID]
	return ok && rec.ExpiresAt.After(now), nil
}

func (r revocationStore) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, rec := range r.s.revoked {
		if !rec.ExpiresAt.After(now) {
			delete(r.s.revoked, id)
			n++
		}
	}
	return n, nil
}
