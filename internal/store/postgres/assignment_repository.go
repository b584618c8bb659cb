package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/authkernel/authkernel/internal/authz"
)

// AssignmentRepository implements authz.AssignmentRepository
type AssignmentRepository struct {
	db *DB
}

// NewAssignmentRepository creates a new assignment repository
func NewAssignmentRepository(db *DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// Grant assigns a role to a user. The insert-select keeps assignments
// tenant-conformant: a role id from another tenant selects nothing and
// surfaces as ErrRoleNotFound.
func (r *AssignmentRepository) Grant(ctx context.Context, a *authz.Assignment) error {
	tag, err := r.db.pool.Exec(ctx, `
		INSERT INTO user_role_assignments (tenant, user_name, role_id, granted_by, granted_by_tenant)
		SELECT $1, $2, id, $4, $5 FROM roles WHERE tenant = $1 AND id = $3
		ON CONFLICT (tenant, user_name, role_id) DO NOTHING
	`, a.Tenant, a.UserName, a.RoleID, a.GrantedBy, a.GrantedByTenant)
	if err != nil {
		return fmt.Errorf("failed to grant role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		err := r.db.pool.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM roles WHERE tenant = $1 AND id = $2)
		`, a.Tenant, a.RoleID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check role: %w", err)
		}
		if !exists {
			return authz.ErrRoleNotFound
		}
	}
	return nil
}

// Revoke removes an assignment; absent assignments are a no-op
func (r *AssignmentRepository) Revoke(ctx context.Context, tenant, userName string, roleID int64) error {
	_, err := r.db.pool.Exec(ctx, `
		DELETE FROM user_role_assignments
		WHERE tenant = $1 AND user_name = $2 AND role_id = $3
	`, tenant, userName, roleID)
	if err != nil {
		return fmt.Errorf("failed to revoke role: %w", err)
	}
	return nil
}

// CreateRoleAndGrant creates the role and assigns it to the user in one
// transaction. When the role already exists the existing row is reused,
// so concurrent creators converge on the same role.
func (r *AssignmentRepository) CreateRoleAndGrant(ctx context.Context, role *authz.Role, userName string) error {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var roleID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO roles (
			tenant, name, description, owner, owner_tenant,
			created_by, created_by_tenant, updated_by, updated_by_tenant
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant, name) DO NOTHING
		RETURNING id
	`,
		role.Tenant, role.Name, role.Description, role.Owner, role.OwnerTenant,
		role.CreatedBy, role.CreatedByTenant, role.UpdatedBy, role.UpdatedByTenant,
	).Scan(&roleID)
	if errors.Is(err, pgx.ErrNoRows) {
		err = tx.QueryRow(ctx, `
			SELECT id FROM roles WHERE tenant = $1 AND name = $2
		`, role.Tenant, role.Name).Scan(&roleID)
	}
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO user_role_assignments (tenant, user_name, role_id, granted_by, granted_by_tenant)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant, user_name, role_id) DO NOTHING
	`, role.Tenant, userName, roleID, role.CreatedBy, role.CreatedByTenant)
	if err != nil {
		return fmt.Errorf("failed to grant role: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// UserRoleNames returns every role the user holds through the
// hierarchy, deduplicated and sorted. Sorted output is part of the
// contract; callers binary-search it.
func (r *AssignmentRepository) UserRoleNames(ctx context.Context, tenant, userName string) ([]string, error) {
	return r.scanStrings(ctx, `
		WITH RECURSIVE tree AS (
			SELECT role_id FROM user_role_assignments
			WHERE tenant = $1 AND user_name = $2
			UNION
			SELECT e.child_role_id FROM role_edges e
			JOIN tree t ON e.parent_role_id = t.role_id
			WHERE e.tenant = $1
		)
		SELECT r.name FROM roles r
		JOIN tree t ON r.id = t.role_id
		ORDER BY r.name
	`, tenant, userName)
}

// UserPermissions returns the union of permissions over all roles the
// user transitively holds, deduplicated and sorted
func (r *AssignmentRepository) UserPermissions(ctx context.Context, tenant, userName string) ([]string, error) {
	return r.scanStrings(ctx, `
		WITH RECURSIVE tree AS (
			SELECT role_id FROM user_role_assignments
			WHERE tenant = $1 AND user_name = $2
			UNION
			SELECT e.child_role_id FROM role_edges e
			JOIN tree t ON e.parent_role_id = t.role_id
			WHERE e.tenant = $1
		)
		SELECT DISTINCT p.permission FROM role_permissions p
		JOIN tree t ON p.role_id = t.role_id
		WHERE p.tenant = $1
		ORDER BY p.permission
	`, tenant, userName)
}

// UserNames lists every user with at least one assignment in the
// tenant, sorted
func (r *AssignmentRepository) UserNames(ctx context.Context, tenant string) ([]string, error) {
	return r.scanStrings(ctx, `
		SELECT DISTINCT user_name FROM user_role_assignments
		WHERE tenant = $1
		ORDER BY user_name
	`, tenant)
}

// UsersWithRoles lists users directly assigned any of the named roles,
// deduplicated and sorted
func (r *AssignmentRepository) UsersWithRoles(ctx context.Context, tenant string, roleNames []string) ([]string, error) {
	return r.scanStrings(ctx, `
		SELECT DISTINCT a.user_name
		FROM user_role_assignments a
		JOIN roles r ON a.role_id = r.id
		WHERE a.tenant = $1 AND r.tenant = $1 AND r.name = ANY($2)
		ORDER BY a.user_name
	`, tenant, roleNames)
}

// UsersWithPermission lists users transitively holding a permission that
// matches the SQL LIKE pattern, deduplicated and sorted
func (r *AssignmentRepository) UsersWithPermission(ctx context.Context, tenant, pattern string) ([]string, error) {
	return r.scanStrings(ctx, `
		WITH RECURSIVE tree AS (
			SELECT user_name, role_id FROM user_role_assignments
			WHERE tenant = $1
			UNION
			SELECT t.user_name, e.child_role_id FROM role_edges e
			JOIN tree t ON e.parent_role_id = t.role_id
			WHERE e.tenant = $1
		)
		SELECT DISTINCT t.user_name FROM tree t
		JOIN role_permissions p ON p.role_id = t.role_id AND p.tenant = $1
		WHERE p.permission LIKE $2
		ORDER BY t.user_name
	`, tenant, pattern)
}

func (r *AssignmentRepository) scanStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	return out, nil
}
