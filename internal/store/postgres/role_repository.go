package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/authkernel/authkernel/internal/authz"
)

// RoleRepository implements authz.RoleRepository
type RoleRepository struct {
	db *DB
}

// NewRoleRepository creates a new role repository
func NewRoleRepository(db *DB) *RoleRepository {
	return &RoleRepository{db: db}
}

// Create inserts a role. Non-strict creation treats a duplicate
// (tenant, name) as a no-op.
func (r *RoleRepository) Create(ctx context.Context, role *authz.Role, strict bool) error {
	tag, err := r.db.pool.Exec(ctx, `
		INSERT INTO roles (
			tenant, name, description, owner, owner_tenant,
			created_by, created_by_tenant, updated_by, updated_by_tenant
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (tenant, name) DO NOTHING
	`,
		role.Tenant, role.Name, role.Description, role.Owner, role.OwnerTenant,
		role.CreatedBy, role.CreatedByTenant, role.UpdatedBy, role.UpdatedByTenant,
	)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}
	if strict && tag.RowsAffected() == 0 {
		return authz.ErrRoleExists
	}
	return nil
}

// GetByName retrieves a role by (tenant, name)
func (r *RoleRepository) GetByName(ctx context.Context, tenant, name string) (*authz.Role, error) {
	var role authz.Role
	err := r.db.pool.QueryRow(ctx, `
		SELECT id, tenant, name, description, owner, owner_tenant, has_children,
		       created_by, created_by_tenant, created_at,
		       updated_by, updated_by_tenant, updated_at
		FROM roles
		WHERE tenant = $1 AND name = $2
	`, tenant, name).Scan(
		&role.ID, &role.Tenant, &role.Name, &role.Description,
		&role.Owner, &role.OwnerTenant, &role.HasChildren,
		&role.CreatedBy, &role.CreatedByTenant, &role.CreatedAt,
		&role.UpdatedBy, &role.UpdatedByTenant, &role.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, authz.ErrRoleNotFound
		}
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return &role, nil
}

// GetID resolves (tenant, name) to the synthetic role id
func (r *RoleRepository) GetID(ctx context.Context, tenant, name string) (int64, error) {
	var id int64
	err := r.db.pool.QueryRow(ctx, `
		SELECT id FROM roles WHERE tenant = $1 AND name = $2
	`, tenant, name).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, authz.ErrRoleNotFound
		}
		return 0, fmt.Errorf("failed to resolve role id: %w", err)
	}
	return id, nil
}

// Delete removes a role; edges, permissions and assignments cascade.
// Deleting an absent role is a no-op.
func (r *RoleRepository) Delete(ctx context.Context, tenant, name string) error {
	_, err := r.db.pool.Exec(ctx, `
		DELETE FROM roles WHERE tenant = $1 AND name = $2
	`, tenant, name)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return nil
}

// Names lists all role names in a tenant, sorted
func (r *RoleRepository) Names(ctx context.Context, tenant string) ([]string, error) {
	return r.scanNames(ctx, `
		SELECT name FROM roles WHERE tenant = $1 ORDER BY name
	`, tenant)
}

// NamesLike lists role names matching a SQL LIKE pattern, sorted
func (r *RoleRepository) NamesLike(ctx context.Context, tenant, pattern string) ([]string, error) {
	return r.scanNames(ctx, `
		SELECT name FROM roles WHERE tenant = $1 AND name LIKE $2 ORDER BY name
	`, tenant, pattern)
}

// UpdateDescription replaces a role's description
func (r *RoleRepository) UpdateDescription(ctx context.Context, tenant, name, description, actor, actorTenant string) error {
	tag, err := r.db.pool.Exec(ctx, `
		UPDATE roles SET
			description = $3,
			updated_by = $4,
			updated_by_tenant = $5,
			updated_at = now()
		WHERE tenant = $1 AND name = $2
	`, tenant, name, description, actor, actorTenant)
	if err != nil {
		return fmt.Errorf("failed to update role description: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authz.ErrRoleNotFound
	}
	return nil
}

// UpdateOwner reassigns a role to a new owner
func (r *RoleRepository) UpdateOwner(ctx context.Context, tenant, name, owner, ownerTenant, actor, actorTenant string) error {
	tag, err := r.db.pool.Exec(ctx, `
		UPDATE roles SET
			owner = $3,
			owner_tenant = $4,
			updated_by = $5,
			updated_by_tenant = $6,
			updated_at = now()
		WHERE tenant = $1 AND name = $2
	`, tenant, name, owner, ownerTenant, actor, actorTenant)
	if err != nil {
		return fmt.Errorf("failed to update role owner: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return authz.ErrRoleNotFound
	}
	return nil
}

// AddChildEdge inserts the edge parent->child and maintains the parent's
// has_children flag. The parent row is locked for the duration so the
// flag can never disagree with the edge table.
func (r *RoleRepository) AddChildEdge(ctx context.Context, tenant string, parentID int64, childName, actor, actorTenant string) error {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var hasChildren bool
	err = tx.QueryRow(ctx, `
		SELECT has_children FROM roles WHERE tenant = $1 AND id = $2 FOR UPDATE
	`, tenant, parentID).Scan(&hasChildren)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authz.ErrRoleNotFound
		}
		return fmt.Errorf("failed to lock parent role: %w", err)
	}

	var childID int64
	err = tx.QueryRow(ctx, `
		SELECT id FROM roles WHERE tenant = $1 AND name = $2
	`, tenant, childName).Scan(&childID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authz.ErrRoleNotFound
		}
		return fmt.Errorf("failed to resolve child role: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO role_edges (tenant, parent_role_id, child_role_id, created_by, created_by_tenant)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant, parent_role_id, child_role_id) DO NOTHING
	`, tenant, parentID, childID, actor, actorTenant)
	if err != nil {
		return fmt.Errorf("failed to insert role edge: %w", err)
	}

	if !hasChildren {
		_, err = tx.Exec(ctx, `
			UPDATE roles SET
				has_children = TRUE,
				updated_by = $3,
				updated_by_tenant = $4,
				updated_at = now()
			WHERE tenant = $1 AND id = $2
		`, tenant, parentID, actor, actorTenant)
		if err != nil {
			return fmt.Errorf("failed to set has_children: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// RemoveChildEdge deletes the edge parent->child, clearing has_children
// when the parent's last child goes away. Removing an absent edge is a
// no-op.
func (r *RoleRepository) RemoveChildEdge(ctx context.Context, tenant string, parentID int64, childName, actor, actorTenant string) error {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var hasChildren bool
	err = tx.QueryRow(ctx, `
		SELECT has_children FROM roles WHERE tenant = $1 AND id = $2 FOR UPDATE
	`, tenant, parentID).Scan(&hasChildren)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return authz.ErrRoleNotFound
		}
		return fmt.Errorf("failed to lock parent role: %w", err)
	}

	_, err = tx.Exec(ctx, `
		DELETE FROM role_edges e
		USING roles c
		WHERE e.tenant = $1 AND e.parent_role_id = $2
		  AND c.tenant = $1 AND c.name = $3 AND e.child_role_id = c.id
	`, tenant, parentID, childName)
	if err != nil {
		return fmt.Errorf("failed to delete role edge: %w", err)
	}

	var remaining bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM role_edges WHERE tenant = $1 AND parent_role_id = $2
		)
	`, tenant, parentID).Scan(&remaining)
	if err != nil {
		return fmt.Errorf("failed to count remaining children: %w", err)
	}

	if hasChildren && !remaining {
		_, err = tx.Exec(ctx, `
			UPDATE roles SET
				has_children = FALSE,
				updated_by = $3,
				updated_by_tenant = $4,
				updated_at = now()
			WHERE tenant = $1 AND id = $2
		`, tenant, parentID, actor, actorTenant)
		if err != nil {
			return fmt.Errorf("failed to clear has_children: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// DescendantNames returns the names below roleID, deduplicated and
// sorted. UNION, not UNION ALL: the DAG may reconverge.
func (r *RoleRepository) DescendantNames(ctx context.Context, tenant string, roleID int64) ([]string, error) {
	return r.scanNames(ctx, `
		WITH RECURSIVE descendants AS (
			SELECT child_role_id FROM role_edges
			WHERE tenant = $1 AND parent_role_id = $2
			UNION
			SELECT e.child_role_id FROM role_edges e
			JOIN descendants d ON e.parent_role_id = d.child_role_id
			WHERE e.tenant = $1
		)
		SELECT r.name FROM roles r
		JOIN descendants d ON r.id = d.child_role_id
		ORDER BY r.name
	`, tenant, roleID)
}

// AncestorNames returns the names above roleID, deduplicated and sorted
func (r *RoleRepository) AncestorNames(ctx context.Context, tenant string, roleID int64) ([]string, error) {
	return r.scanNames(ctx, `
		WITH RECURSIVE ancestors AS (
			SELECT parent_role_id FROM role_edges
			WHERE tenant = $1 AND child_role_id = $2
			UNION
			SELECT e.parent_role_id FROM role_edges e
			JOIN ancestors a ON e.child_role_id = a.parent_role_id
			WHERE e.tenant = $1
		)
		SELECT r.name FROM roles r
		JOIN ancestors a ON r.id = a.parent_role_id
		ORDER BY r.name
	`, tenant, roleID)
}

// TransitivePermissions returns the union of the role's own permissions
// and those of all its descendants, deduplicated and sorted
func (r *RoleRepository) TransitivePermissions(ctx context.Context, tenant string, roleID int64) ([]string, error) {
	return r.scanNames(ctx, `
		WITH RECURSIVE tree AS (
			SELECT $2::bigint AS role_id
			UNION
			SELECT e.child_role_id FROM role_edges e
			JOIN tree t ON e.parent_role_id = t.role_id
			WHERE e.tenant = $1
		)
		SELECT DISTINCT p.permission FROM role_permissions p
		JOIN tree t ON p.role_id = t.role_id
		WHERE p.tenant = $1
		ORDER BY p.permission
	`, tenant, roleID)
}

func (r *RoleRepository) scanNames(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read names: %w", err)
	}
	return names, nil
}
