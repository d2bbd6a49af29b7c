package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"guardian.org/internal/auth"
)

type roleStore struct {
	db *sql.DB
}

func (s roleStore) AssignmentsForAdmin(ctx context.Context, adminID string) ([]auth.RoleAssignment, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `
		select admin_id, role_id, created_at
		from admin_roles
		where admin_id = $1
		order by role_id
	`, adminID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assignments []auth.RoleAssignment
	for rows.Next() {
		var a auth.RoleAssignment
		if err := rows.Scan(&a.AdminID, &a.RoleID, &a.CreatedAt); err != nil {
			return nil, err
		}
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return assignments, nil
}

type permissionStore struct {
	db *sql.DB
}

func (s permissionStore) PermissionsForRoles(ctx context.Context, roleIDs []string) ([]auth.Permission, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	if s.db == nil {
		return nil, errNoDB
	}
	placeholders := make([]string, len(roleIDs))
	args := make([]any, len(roleIDs))
	for i, id := range roleIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `
		select distinct p.id, p.code, p.name, p.resource_type, p.http_method, p.resource_path,
		       p.parent_id, p.is_system, p.created_at
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id in (`+strings.Join(placeholders, ", ")+`)
		order by p.code
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var perms []auth.Permission
	for rows.Next() {
		var (
			p                    auth.Permission
			method, path, parent sql.NullString
		)
		if err := rows.Scan(&p.ID, &p.Code, &p.Name, &p.ResourceType, &method, &path, &parent, &p.IsSystem, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.HTTPMethod = stringPtr(method)
		p.ResourcePath = stringPtr(path)
		p.ParentID = stringPtr(parent)
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}
