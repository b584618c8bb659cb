package postgres

import (
	"context"
	"fmt"

	"github.com/authkernel/authkernel/internal/authz"
)

// PermissionRepository implements authz.PermissionRepository
type PermissionRepository struct {
	db *DB
}

// NewPermissionRepository creates a new permission repository
func NewPermissionRepository(db *DB) *PermissionRepository {
	return &PermissionRepository{db: db}
}

// Assign attaches a permission to a role. The insert-select enforces
// that the role lives in the tenant; zero rows then means either a
// duplicate or a missing role, so the role is checked to tell them
// apart.
func (r *PermissionRepository) Assign(ctx context.Context, tenant, roleName, permission, actor, actorTenant string) error {
	tag, err := r.db.pool.Exec(ctx, `
		INSERT INTO role_permissions (tenant, role_id, permission, created_by, created_by_tenant)
		SELECT $1, id, $3, $4, $5 FROM roles WHERE tenant = $1 AND name = $2
		ON CONFLICT (tenant, role_id, permission) DO NOTHING
	`, tenant, roleName, permission, actor, actorTenant)
	if err != nil {
		return fmt.Errorf("failed to assign permission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.requireRole(ctx, tenant, roleName)
	}
	return nil
}

// Remove detaches a permission from a role. Removing an absent
// permission is a no-op; a missing role is ErrRoleNotFound.
func (r *PermissionRepository) Remove(ctx context.Context, tenant, roleName, permission string) error {
	tag, err := r.db.pool.Exec(ctx, `
		DELETE FROM role_permissions p
		USING roles r
		WHERE p.tenant = $1 AND r.tenant = $1 AND r.name = $2
		  AND p.role_id = r.id AND p.permission = $3
	`, tenant, roleName, permission)
	if err != nil {
		return fmt.Errorf("failed to remove permission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return r.requireRole(ctx, tenant, roleName)
	}
	return nil
}

// DirectPermissions lists the permissions attached to the role itself,
// sorted
func (r *PermissionRepository) DirectPermissions(ctx context.Context, tenant string, roleID int64) ([]string, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT permission FROM role_permissions
		WHERE tenant = $1 AND role_id = $2
		ORDER BY permission
	`, tenant, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to query permissions: %w", err)
	}
	defer rows.Close()

	var perms []string
	for rows.Next() {
		var perm string
		if err := rows.Scan(&perm); err != nil {
			return nil, fmt.Errorf("failed to scan permission: %w", err)
		}
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read permissions: %w", err)
	}
	return perms, nil
}

// RemoveFromAllRoles detaches the exact permission from every role in
// the tenant
func (r *PermissionRepository) RemoveFromAllRoles(ctx context.Context, tenant, permission string) (int64, error) {
	tag, err := r.db.pool.Exec(ctx, `
		DELETE FROM role_permissions WHERE tenant = $1 AND permission = $2
	`, tenant, permission)
	if err != nil {
		return 0, fmt.Errorf("failed to remove permission from all roles: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RemovePathPrefixFromAllRoles detaches every permission of the given
// schema whose path part falls under prefix. The path lives in the fifth
// colon-separated segment.
func (r *PermissionRepository) RemovePathPrefixFromAllRoles(ctx context.Context, tenant, schema, prefix string) (int64, error) {
	tag, err := r.db.pool.Exec(ctx, `
		DELETE FROM role_permissions
		WHERE tenant = $1
		  AND split_part(permission, ':', 1) = $2
		  AND split_part(permission, ':', 5) LIKE $3 || '%'
	`, tenant, schema, prefix)
	if err != nil {
		return 0, fmt.Errorf("failed to remove path permissions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// requireRole distinguishes a no-op from a missing role after a
// zero-row mutation.
func (r *PermissionRepository) requireRole(ctx context.Context, tenant, roleName string) error {
	var exists bool
	err := r.db.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM roles WHERE tenant = $1 AND name = $2)
	`, tenant, roleName).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check role: %w", err)
	}
	if !exists {
		return authz.ErrRoleNotFound
	}
	return nil
}
