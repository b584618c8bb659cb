package authz

import (
	"context"
	"errors"
	"time"
)

// Domain errors
var (
	ErrRoleNotFound  = errors.New("role not found")
	ErrUserNotFound  = errors.New("user not found")
	ErrRoleExists    = errors.New("role already exists")
	ErrBadRequest    = errors.New("bad request")
	ErrNotAuthorized = errors.New("not authorized")
)

// AuthOperation selects how a multi-valued check combines its parts.
type AuthOperation string

const (
	// OpAny succeeds when at least one candidate matches.
	OpAny AuthOperation = "any"

	// OpAll succeeds only when every candidate matches.
	OpAll AuthOperation = "all"
)

// Role is a named permission container scoped to a tenant. Identity for
// callers is (tenant, name); the synthetic ID exists for foreign keys and
// never leaves the kernel. The owner may live in a different tenant than
// the role itself.
type Role struct {
	ID              int64
	Tenant          string
	Name            string
	Description     string
	Owner           string
	OwnerTenant     string
	HasChildren     bool
	CreatedBy       string
	CreatedByTenant string
	CreatedAt       time.Time
	UpdatedBy       string
	UpdatedByTenant string
	UpdatedAt       time.Time
}

// Assignment records that a user holds a role. Users are always assigned
// roles in their own tenant.
type Assignment struct {
	Tenant          string
	UserName        string
	RoleID          int64
	GrantedBy       string
	GrantedByTenant string
	GrantedAt       time.Time
}

// RoleRepository persists roles and the parent->child hierarchy.
type RoleRepository interface {
	// Create inserts a role. When strict is false a duplicate
	// (tenant, name) is a no-op; when strict it returns ErrRoleExists.
	Create(ctx context.Context, role *Role, strict bool) error

	// GetByName retrieves a role by (tenant, name).
	GetByName(ctx context.Context, tenant, name string) (*Role, error)

	// GetID resolves (tenant, name) to the synthetic role id.
	GetID(ctx context.Context, tenant, name string) (int64, error)

	// Delete removes a role; edges, permissions and assignments cascade.
	Delete(ctx context.Context, tenant, name string) error

	// Names lists all role names in a tenant, sorted.
	Names(ctx context.Context, tenant string) ([]string, error)

	// NamesLike lists role names matching a SQL LIKE pattern, sorted.
	NamesLike(ctx context.Context, tenant, pattern string) ([]string, error)

	// UpdateDescription replaces a role's description.
	UpdateDescription(ctx context.Context, tenant, name, description, actor, actorTenant string) error

	// UpdateOwner reassigns a role to a new owner.
	UpdateOwner(ctx context.Context, tenant, name, owner, ownerTenant, actor, actorTenant string) error

	// AddChildEdge inserts the edge parent->child idempotently and
	// maintains the parent's has_children flag in the same transaction.
	// Both endpoints must live in the tenant.
	AddChildEdge(ctx context.Context, tenant string, parentID int64, childName, actor, actorTenant string) error

	// RemoveChildEdge deletes the edge parent->child, clearing the
	// parent's has_children flag when its last child goes away.
	RemoveChildEdge(ctx context.Context, tenant string, parentID int64, childName, actor, actorTenant string) error

	// DescendantNames returns the names of every role reachable below
	// roleID, deduplicated and sorted. The seed role is excluded.
	DescendantNames(ctx context.Context, tenant string, roleID int64) ([]string, error)

	// AncestorNames returns the names of every role from which roleID is
	// reachable, deduplicated and sorted. The seed role is excluded.
	AncestorNames(ctx context.Context, tenant string, roleID int64) ([]string, error)

	// TransitivePermissions returns the union of the role's own
	// permissions and those of all its descendants, deduplicated and
	// sorted.
	TransitivePermissions(ctx context.Context, tenant string, roleID int64) ([]string, error)
}

// PermissionRepository persists the permission strings attached to roles.
type PermissionRepository interface {
	// Assign attaches a permission to a role. Re-assigning is a no-op;
	// a missing role is ErrRoleNotFound.
	Assign(ctx context.Context, tenant, roleName, permission, actor, actorTenant string) error

	// Remove detaches a permission from a role. Removing an absent
	// permission is a no-op; a missing role is ErrRoleNotFound.
	Remove(ctx context.Context, tenant, roleName, permission string) error

	// DirectPermissions lists the permissions attached to the role
	// itself, sorted.
	DirectPermissions(ctx context.Context, tenant string, roleID int64) ([]string, error)

	// RemoveFromAllRoles detaches the exact permission from every role
	// in the tenant and reports how many rows went away.
	RemoveFromAllRoles(ctx context.Context, tenant, permission string) (int64, error)

	// RemovePathPrefixFromAllRoles detaches every path-schema permission
	// whose path falls under the given prefix, across all roles in the
	// tenant, and reports how many rows went away.
	RemovePathPrefixFromAllRoles(ctx context.Context, tenant, schema, prefix string) (int64, error)
}

// AssignmentRepository persists user-role assignments and answers the
// user-centric closure queries.
type AssignmentRepository interface {
	// Grant assigns a role to a user idempotently. The role must live in
	// the user's tenant; a role id from another tenant is ErrRoleNotFound.
	Grant(ctx context.Context, a *Assignment) error

	// Revoke removes an assignment; absent assignments are a no-op.
	Revoke(ctx context.Context, tenant, userName string, roleID int64) error

	// CreateRoleAndGrant creates the role and assigns it to the user in
	// one transaction, so a concurrent creator never observes the role
	// without its holder.
	CreateRoleAndGrant(ctx context.Context, role *Role, userName string) error

	// UserRoleNames returns every role the user holds, directly or
	// through the hierarchy, deduplicated and sorted.
	UserRoleNames(ctx context.Context, tenant, userName string) ([]string, error)

	// UserPermissions returns the union of permissions over all roles
	// the user transitively holds, deduplicated and sorted.
	UserPermissions(ctx context.Context, tenant, userName string) ([]string, error)

	// UserNames lists every user with at least one assignment in the
	// tenant, sorted.
	UserNames(ctx context.Context, tenant string) ([]string, error)

	// UsersWithRoles lists users directly assigned any of the named
	// roles, deduplicated and sorted.
	UsersWithRoles(ctx context.Context, tenant string, roleNames []string) ([]string, error)

	// UsersWithPermission lists users holding a permission matching the
	// SQL LIKE pattern, transitively, deduplicated and sorted.
	UsersWithPermission(ctx context.Context, tenant, pattern string) ([]string, error)
}
