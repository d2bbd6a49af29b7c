// Package rbac decides whether an authenticated administrator may invoke
// an HTTP-style operation, based on role grants.
package rbac

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"guardian.org/internal/audit"
	"guardian.org/internal/auth"
	"guardian.org/internal/obs"
)

// Evaluator resolves role grants through the store and matches them
// against (method, path). It is safe for concurrent use.
type Evaluator struct {
	store    auth.Store
	patterns sync.Map // raw pattern -> compiled
}

type compiled struct {
	p   *pattern
	err error
}

// NewEvaluator constructs an Evaluator reading grants from store.
func NewEvaluator(store auth.Store) *Evaluator {
	return &Evaluator{store: store}
}

// Authorize reports whether id may call method on path. Super admins are
// allowed without any lookup. Store failures are returned wrapped in
// auth.ErrInternal together with a false decision.
func (e *Evaluator) Authorize(ctx context.Context, id auth.Identity, method, path string) (bool, error) {
	if id.IsSuperAdmin {
		_ = audit.LogEvent(ctx, "rbac.super_admin_bypass", map[string]any{
			"admin_id": id.AdminID,
			"method":   method,
			"path":     path,
		})
		return true, nil
	}
	if id.AdminID == "" {
		return false, nil
	}

	perms, err := e.grantedPermissions(ctx, id.AdminID)
	if err != nil {
		return false, err
	}
	for _, perm := range perms {
		if e.permits(perm, method, path) {
			return true, nil
		}
	}
	return false, nil
}

// EffectivePermissions lists the union of permissions granted to the
// admin through all assigned roles.
func (e *Evaluator) EffectivePermissions(ctx context.Context, adminID string) ([]auth.Permission, error) {
	return e.grantedPermissions(ctx, adminID)
}

func (e *Evaluator) grantedPermissions(ctx context.Context, adminID string) ([]auth.Permission, error) {
	assignments, err := e.store.Roles(ctx).AssignmentsForAdmin(ctx, adminID)
	if err != nil {
		return nil, fmt.Errorf("%w: load role assignments: %v", auth.ErrInternal, err)
	}
	if len(assignments) == 0 {
		return nil, nil
	}
	roleIDs := make([]string, 0, len(assignments))
	seen := make(map[string]struct{}, len(assignments))
	for _, a := range assignments {
		if _, ok := seen[a.RoleID]; ok {
			continue
		}
		seen[a.RoleID] = struct{}{}
		roleIDs = append(roleIDs, a.RoleID)
	}
	perms, err := e.store.Permissions(ctx).PermissionsForRoles(ctx, roleIDs)
	if err != nil {
		return nil, fmt.Errorf("%w: load permissions: %v", auth.ErrInternal, err)
	}
	return perms, nil
}

func (e *Evaluator) permits(perm auth.Permission, method, path string) bool {
	if perm.ResourceType != auth.ResourceTypeAPI || perm.HTTPMethod == nil || perm.ResourcePath == nil {
		return false
	}
	if !strings.EqualFold(strings.TrimSpace(*perm.HTTPMethod), method) {
		return false
	}
	p, ok := e.compile(*perm.ResourcePath)
	return ok && p.match(path)
}

func (e *Evaluator) compile(raw string) (*pattern, bool) {
	if v, ok := e.patterns.Load(raw); ok {
		c := v.(compiled)
		return c.p, c.err == nil
	}
	p, err := compilePattern(raw)
	if err != nil {
		obs.Warn("rbac: unusable resource path pattern", map[string]any{
			"pattern": raw,
			"error":   err.Error(),
		})
	}
	e.patterns.Store(raw, compiled{p: p, err: err})
	return p, err == nil
}
