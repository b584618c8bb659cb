package authz

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/authkernel/authkernel/internal/audit"
	"github.com/authkernel/authkernel/internal/permissions"
)

// AdminService carries the administrative surface: role lifecycle,
// hierarchy edges, permission attachment and user grants. Every mutation
// is idempotent unless documented otherwise, and every successful
// mutation emits an audit event. Caller identity is taken on trust;
// authenticating it is the enclosing service's job.
type AdminService struct {
	roleRepo        RoleRepository
	permRepo        PermissionRepository
	assignRepo      AssignmentRepository
	auditLogger     audit.Logger
	metrics         *Metrics
	siteAdminTenant string
}

// NewAdminService creates the administrative service. siteAdminTenant
// names the tenant whose administrators may manage restricted service
// roles.
func NewAdminService(
	roleRepo RoleRepository,
	permRepo PermissionRepository,
	assignRepo AssignmentRepository,
	auditLogger audit.Logger,
	metrics *Metrics,
	siteAdminTenant string,
) *AdminService {
	return &AdminService{
		roleRepo:        roleRepo,
		permRepo:        permRepo,
		assignRepo:      assignRepo,
		auditLogger:     auditLogger,
		metrics:         metrics,
		siteAdminTenant: siteAdminTenant,
	}
}

// CreateRole creates an ordinary role. Creating an existing role is a
// no-op.
func (s *AdminService) CreateRole(ctx context.Context, tenant, name, description, owner, ownerTenant, actor, actorTenant string) error {
	if err := validateTenant(tenant); err != nil {
		return err
	}
	if _, err := resolveRoleName(name); err != nil {
		return err
	}
	if err := validateDescription(description); err != nil {
		return err
	}
	if owner == "" {
		owner, ownerTenant = actor, actorTenant
	}

	role := &Role{
		Tenant:          tenant,
		Name:            name,
		Description:     description,
		Owner:           owner,
		OwnerTenant:     ownerTenant,
		CreatedBy:       actor,
		CreatedByTenant: actorTenant,
		UpdatedBy:       actor,
		UpdatedByTenant: actorTenant,
	}
	if err := s.roleRepo.Create(ctx, role, false); err != nil {
		return fmt.Errorf("failed to create role %q: %w", name, err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:        audit.TypeRoleCreated,
		Tenant:      tenant,
		Actor:       actor,
		ActorTenant: actorTenant,
		Resource:    name,
	})
	return nil
}

// CreateRoleStrict is CreateRole for roles that must be created exactly
// once: an existing (tenant, name) is ErrRoleExists instead of a no-op.
func (s *AdminService) CreateRoleStrict(ctx context.Context, tenant, name, description, owner, ownerTenant, actor, actorTenant string) error {
	if err := validateTenant(tenant); err != nil {
		return err
	}
	if _, err := resolveRoleName(name); err != nil {
		return err
	}
	if err := validateDescription(description); err != nil {
		return err
	}
	if owner == "" {
		owner, ownerTenant = actor, actorTenant
	}

	role := &Role{
		Tenant:          tenant,
		Name:            name,
		Description:     description,
		Owner:           owner,
		OwnerTenant:     ownerTenant,
		CreatedBy:       actor,
		CreatedByTenant: actorTenant,
		UpdatedBy:       actor,
		UpdatedByTenant: actorTenant,
	}
	if err := s.roleRepo.Create(ctx, role, true); err != nil {
		if errors.Is(err, ErrRoleExists) {
			return fmt.Errorf("%w: role %q", ErrRoleExists, name)
		}
		return fmt.Errorf("failed to create role %q: %w", name, err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:        audit.TypeRoleCreated,
		Tenant:      tenant,
		Actor:       actor,
		ActorTenant: actorTenant,
		Resource:    name,
		Metadata:    map[string]any{"strict": true},
	})
	return nil
}

// DeleteRole removes an ordinary role; its edges, permissions and
// assignments go with it. Reserved roles are not deletable here.
func (s *AdminService) DeleteRole(ctx context.Context, tenant, name, actor, actorTenant string) error {
	if err := validateTenant(tenant); err != nil {
		return err
	}
	if _, err := resolveRoleName(name); err != nil {
		return err
	}
	if err := s.roleRepo.Delete(ctx, tenant, name); err != nil {
		return fmt.Errorf("failed to delete role %q: %w", name, err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:        audit.TypeRoleDeleted,
		Tenant:      tenant,
		Actor:       actor,
		ActorTenant: actorTenant,
		Resource:    name,
	})
	return nil
}

// UpdateRoleDescription replaces a role's description.
func (s *AdminService) UpdateRoleDescription(ctx context.Context, tenant, name, description, actor, actorTenant string) error {
	if err := validateTenant(tenant); err != nil {
		return err
	}
	if _, err := resolveRoleName(name); err != nil {
		return err
	}
	if err := validateDescription(description); err != nil {
		return err
	}
	if err := s.roleRepo.UpdateDescription(ctx, tenant, name, description, actor, actorTenant); err != nil {
		return fmt.Errorf("failed to update role %q: %w", name, err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:        audit.TypeRoleUpdated,
		Tenant:      tenant,
		Actor:       actor,
		ActorTenant: actorTenant,
		Resource:    name,
		Metadata:    map[string]any{"field": "description"},
	})
	return nil
}

// UpdateRoleOwner reassigns a role to a new owner. The owner may live in
// another tenant; the role itself never moves.
func (s *AdminService) UpdateRoleOwner(ctx context.Context, tenant, name, owner, ownerTenant, actor, actorTenant string) error {
	if err := validateTenant(tenant); err != nil {
		return err
	}
	if _, err := resolveRoleName(name); err != nil {
		return err
	}
	if err := validateUserName(owner); err != nil {
		return err
	}
	if err := s.roleRepo.UpdateOwner(ctx, tenant, name, owner, ownerTenant, actor, actorTenant); err != nil {
		return fmt.Errorf("failed to update role %q: %w", name, err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:        audit.TypeRoleUpdated,
		Tenant:      tenant,
		Actor:       actor,
		ActorTenant: actorTenant,
		Resource:    name,
		Metadata:    map[string]any{"field": "owner", "owner": owner, "owner_tenant": ownerTenant},
	})
	return nil
}

// AddChildRole inserts the hierarchy edge parent->child. Both roles must
// already exist in the tenant. Edges that would close a cycle are
// rejected; the check-then-insert window is accepted for the small
// per-tenant graphs this serves.
func (s *AdminService) AddChildRole(ctx context.Context, tenant, parentName, childName, actor, actorTenant string) error {
	if err := validateTenant(tenant); err != nil {
		return err
	}
	if _, err := resolveRoleName(parentName); err != nil {
		return err
	}
	if _, err := resolveRoleName(childName); err != nil {
		return err
	}
	if parentName == childName {
		return fmt.Errorf("%w: role %q cannot be its own child", ErrBadRequest, parentName)
	}

	parentID, err := s.roleRepo.GetID(ctx, tenant, parentName)
	if err != nil {
		return fmt.Errorf("failed to resolve role %q: %w", parentName, err)
	}
	childID, err := s.roleRepo.GetID(ctx, tenant, childName)
	if err != nil {
		return fmt.Errorf("failed to resolve role %q: %w", childName, err)
	}

	// The edge is legal only if the parent is not already below the
	// child.
	below, err := s.roleRepo.DescendantNames(ctx, tenant, childID)
	if err != nil {
		return fmt.Errorf("failed to check hierarchy: %w", err)
	}
	if containsString(below, parentName) {
		return fmt.Errorf("%w: edge %s->%s would create a cycle", ErrBadRequest, parentName, childName)
	}

	if err := s.roleRepo.AddChildEdge(ctx, tenant, parentID, childName, actor, actorTenant); err != nil {
		return fmt.Errorf("failed to add child role: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:        audit.TypeChildRoleAdded,
		Tenant:      tenant,
		Actor:       actor,
		ActorTenant: actorTenant,
		Resource:    parentName,
		Metadata:    map[string]any{"child": childName},
	})
	return nil
}

// RemoveChildRole deletes the hierarchy edge parent->child. Removing an
// absent edge is a no-op.
func (s *AdminService) RemoveChildRole(ctx context.Context, tenant, parentName, childName, actor, actorTenant string) error {
	if err := validateTenant(tenant); err != nil {
		return err
	}
	if _, err := resolveRoleName(parentName); err != nil {
		return err
	}
	if _, err := resolveRoleName(childName); err != nil {
		return err
	}

	parentID, err := s.roleRepo.GetID(ctx, tenant, parentName)
	if err != nil {
		return fmt.Errorf("failed to resolve role %q: %w", parentName, err)
	}
	if err := s.roleRepo.RemoveChildEdge(ctx, tenant, parentID, childName, actor, actorTenant); err != nil {
		return fmt.Errorf("failed to remove child role: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:        audit.TypeChildRoleRemoved,
		Tenant:      tenant,
		Actor:       actor,
		ActorTenant: actorTenant,
		Resource:    parentName,
		Metadata:    map[string]any{"child": childName},
	})
	return nil
}

// AddRolePermission attaches a permission to a role. The permission must
// parse; the role must exist.
func (s *AdminService) AddRolePermission(ctx context.Context, tenant, roleName, permSpec, actor, actorTenant string) error {
	if err := validateTenant(tenant); err != nil {
		return err
	}
	if _, err := resolveRoleName(roleName); err != nil {
		return err
	}
	if _, err := permissions.Parse(permSpec); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	if err := s.permRepo.Assign(ctx, tenant, roleName, permSpec, actor, actorTenant); err != nil {
		return fmt.Errorf("failed to add permission to role %q: %w", roleName, err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:        audit.TypePermissionAdded,
		Tenant:      tenant,
		Actor:       actor,
		ActorTenant: actorTenant,
		Resource:    roleName,
		Metadata:    map[string]any{"permission": permSpec},
	})
	return nil
}

// RemoveRolePermission detaches a permission from a role. Detaching an
// absent permission is a no-op.
func (s *AdminService) RemoveRolePermission(ctx context.Context, tenant, roleName, permSpec, actor, actorTenant string) error {
	if err := validateTenant(tenant); err != nil {
		return err
	}
	if _, err := resolveRoleName(roleName); err != nil {
		return err
	}

	if err := s.permRepo.Remove(ctx, tenant, roleName, permSpec); err != nil {
		return fmt.Errorf("failed to remove permission from role %q: %w", roleName, err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:        audit.TypePermissionRemoved,
		Tenant:      tenant,
		Actor:       actor,
		ActorTenant: actorTenant,
		Resource:    roleName,
		Metadata:    map[string]any{"permission": permSpec},
	})
	return nil
}

// RemovePermissionFromAllRoles detaches the exact permission everywhere
// in the tenant and returns the number of detachments.
func (s *AdminService) RemovePermissionFromAllRoles(ctx context.Context, tenant, permSpec, actor, actorTenant string) (int64, error) {
	if err := validateTenant(tenant); err != nil {
		return 0, err
	}
	n, err := s.permRepo.RemoveFromAllRoles(ctx, tenant, permSpec)
	if err != nil {
		return 0, fmt.Errorf("failed to remove permission: %w", err)
	}

	if n > 0 {
		s.auditLogger.Log(ctx, audit.Event{
			Type:        audit.TypePermissionRemoved,
			Tenant:      tenant,
			Actor:       actor,
			ActorTenant: actorTenant,
			Resource:    "*",
			Metadata:    map[string]any{"permission": permSpec, "rows": n},
		})
	}
	return n, nil
}

// RemovePathPermissions detaches every path-schema permission under the
// given path prefix, across all roles in the tenant. Used when a managed
// file tree goes away.
func (s *AdminService) RemovePathPermissions(ctx context.Context, tenant, schema, prefix, actor, actorTenant string) (int64, error) {
	if err := validateTenant(tenant); err != nil {
		return 0, err
	}
	if schema == "" || prefix == "" {
		return 0, fmt.Errorf("%w: schema and path prefix are required", ErrBadRequest)
	}
	n, err := s.permRepo.RemovePathPrefixFromAllRoles(ctx, tenant, schema, prefix)
	if err != nil {
		return 0, fmt.Errorf("failed to remove path permissions: %w", err)
	}

	if n > 0 {
		s.auditLogger.Log(ctx, audit.Event{
			Type:        audit.TypePermissionRemoved,
			Tenant:      tenant,
			Actor:       actor,
			ActorTenant: actorTenant,
			Resource:    "*",
			Metadata:    map[string]any{"schema": schema, "path_prefix": prefix, "rows": n},
		})
	}
	return n, nil
}

// GrantRole assigns a role to a user in the user's tenant. Granting an
// already-held role is a no-op.
func (s *AdminService) GrantRole(ctx context.Context, tenant, userName, roleName, grantor, grantorTenant string) error {
	if err := validateTenant(tenant); err != nil {
		return err
	}
	if err := validateUserName(userName); err != nil {
		return err
	}
	if _, err := resolveRoleName(roleName); err != nil {
		return err
	}
	if err := s.grantRole(ctx, tenant, userName, roleName, grantor, grantorTenant); err != nil {
		return err
	}
	s.metrics.RecordGrant(ctx, tenant, "role")
	return nil
}

// grantRole is GrantRole without the reserved-name guard; the kernel
// grants reserved roles through here.
func (s *AdminService) grantRole(ctx context.Context, tenant, userName, roleName, grantor, grantorTenant string) error {
	roleID, err := s.roleRepo.GetID(ctx, tenant, roleName)
	if err != nil {
		return fmt.Errorf("failed to resolve role %q: %w", roleName, err)
	}
	if err := s.assignRepo.Grant(ctx, &Assignment{
		Tenant:          tenant,
		UserName:        userName,
		RoleID:          roleID,
		GrantedBy:       grantor,
		GrantedByTenant: grantorTenant,
	}); err != nil {
		return fmt.Errorf("failed to grant role %q: %w", roleName, err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:        audit.TypeRoleGranted,
		Tenant:      tenant,
		Actor:       grantor,
		ActorTenant: grantorTenant,
		Resource:    roleName,
		Metadata:    map[string]any{"user": userName},
	})
	return nil
}

// RevokeRole removes a role from a user. Revoking a role the user does
// not hold is a no-op.
func (s *AdminService) RevokeRole(ctx context.Context, tenant, userName, roleName, actor, actorTenant string) error {
	if err := validateTenant(tenant); err != nil {
		return err
	}
	if err := validateUserName(userName); err != nil {
		return err
	}
	if _, err := resolveRoleName(roleName); err != nil {
		return err
	}

	roleID, err := s.roleRepo.GetID(ctx, tenant, roleName)
	if err != nil {
		return fmt.Errorf("failed to resolve role %q: %w", roleName, err)
	}
	if err := s.assignRepo.Revoke(ctx, tenant, userName, roleID); err != nil {
		return fmt.Errorf("failed to revoke role %q: %w", roleName, err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:        audit.TypeRoleRevoked,
		Tenant:      tenant,
		Actor:       actor,
		ActorTenant: actorTenant,
		Resource:    roleName,
		Metadata:    map[string]any{"user": userName},
	})
	s.metrics.RecordRevoke(ctx, tenant, "role")
	return nil
}

// GrantUserPermission attaches a permission directly to a user through
// the user's default role, creating that role on first use. Every
// attempt both attaches the permission and re-asserts the user's hold
// on the role, so a default role stripped of its assignment is repaired
// here. The loop is bounded: one optimistic attempt, one retry after
// creating the role. A role deleted between the attempts surfaces as
// ErrRoleNotFound rather than spinning.
func (s *AdminService) GrantUserPermission(ctx context.Context, tenant, userName, permSpec, grantor, grantorTenant string) error {
	if err := validateTenant(tenant); err != nil {
		return err
	}
	if err := validateUserName(userName); err != nil {
		return err
	}
	if _, err := permissions.Parse(permSpec); err != nil {
		return fmt.Errorf("%w: %v", ErrBadRequest, err)
	}

	defaultRole := permissions.DefaultRoleName(userName)
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		err := s.permRepo.Assign(ctx, tenant, defaultRole, permSpec, grantor, grantorTenant)
		if err == nil {
			err = s.assignDefaultRole(ctx, tenant, userName, defaultRole, grantor, grantorTenant)
		}
		if err == nil {
			s.auditLogger.Log(ctx, audit.Event{
				Type:        audit.TypePermissionAdded,
				Tenant:      tenant,
				Actor:       grantor,
				ActorTenant: grantorTenant,
				Resource:    defaultRole,
				Metadata:    map[string]any{"permission": permSpec, "user": userName},
			})
			s.metrics.RecordGrant(ctx, tenant, "user_permission")
			return nil
		}
		if !errors.Is(err, ErrRoleNotFound) {
			return fmt.Errorf("failed to grant permission: %w", err)
		}
		lastErr = err

		role := &Role{
			Tenant:          tenant,
			Name:            defaultRole,
			Description:     fmt.Sprintf("Default role for user %s", userName),
			Owner:           userName,
			OwnerTenant:     tenant,
			CreatedBy:       grantor,
			CreatedByTenant: grantorTenant,
			UpdatedBy:       grantor,
			UpdatedByTenant: grantorTenant,
		}
		if err := s.assignRepo.CreateRoleAndGrant(ctx, role, userName); err != nil {
			return fmt.Errorf("failed to create default role for %q: %w", userName, err)
		}
	}
	return fmt.Errorf("failed to grant permission after creating default role: %w", lastErr)
}

// assignDefaultRole idempotently asserts that the user holds their
// default role. ErrRoleNotFound feeds the caller's retry loop.
func (s *AdminService) assignDefaultRole(ctx context.Context, tenant, userName, defaultRole, grantor, grantorTenant string) error {
	roleID, err := s.roleRepo.GetID(ctx, tenant, defaultRole)
	if err != nil {
		return err
	}
	return s.assignRepo.Grant(ctx, &Assignment{
		Tenant:          tenant,
		UserName:        userName,
		RoleID:          roleID,
		GrantedBy:       grantor,
		GrantedByTenant: grantorTenant,
	})
}

// RevokeUserPermission detaches a directly granted permission from the
// user's default role. A user without a default role has no direct
// permissions, so that case is a no-op.
func (s *AdminService) RevokeUserPermission(ctx context.Context, tenant, userName, permSpec, actor, actorTenant string) error {
	if err := validateTenant(tenant); err != nil {
		return err
	}
	if err := validateUserName(userName); err != nil {
		return err
	}

	defaultRole := permissions.DefaultRoleName(userName)
	err := s.permRepo.Remove(ctx, tenant, defaultRole, permSpec)
	if errors.Is(err, ErrRoleNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to revoke permission: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:        audit.TypePermissionRemoved,
		Tenant:      tenant,
		Actor:       actor,
		ActorTenant: actorTenant,
		Resource:    defaultRole,
		Metadata:    map[string]any{"permission": permSpec, "user": userName},
	})
	s.metrics.RecordRevoke(ctx, tenant, "user_permission")
	return nil
}

// GrantAdminRole makes the user a tenant administrator, creating the
// admin role on first use.
func (s *AdminService) GrantAdminRole(ctx context.Context, tenant, userName, grantor, grantorTenant string) error {
	if err := validateTenant(tenant); err != nil {
		return err
	}
	if err := validateUserName(userName); err != nil {
		return err
	}

	if err := s.ensureAdminRole(ctx, tenant); err != nil {
		return err
	}
	if err := s.grantRole(ctx, tenant, userName, AdminRoleName, grantor, grantorTenant); err != nil {
		return err
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:        audit.TypeAdminGranted,
		Tenant:      tenant,
		Actor:       grantor,
		ActorTenant: grantorTenant,
		Resource:    AdminRoleName,
		Metadata:    map[string]any{"user": userName},
	})
	s.metrics.RecordGrant(ctx, tenant, "admin")
	return nil
}

// GrantRoleInternal assigns any role, reserved names included, with no
// precondition. Kernel bootstrap only; nothing user-facing reaches it.
func (s *AdminService) GrantRoleInternal(ctx context.Context, tenant, userName, roleName, grantor, grantorTenant string) error {
	if err := validateTenant(tenant); err != nil {
		return err
	}
	if err := validateUserName(userName); err != nil {
		return err
	}
	return s.grantRole(ctx, tenant, userName, roleName, grantor, grantorTenant)
}

// RevokeAdminRole removes tenant-administrator standing from a user. The
// requestor must be an administrator themselves, and the last
// administrator of a tenant can never be removed. Revoking from a user
// who is not an administrator is a no-op.
func (s *AdminService) RevokeAdminRole(ctx context.Context, tenant, requestor, userName string) error {
	if err := validateTenant(tenant); err != nil {
		return err
	}
	if err := validateUserName(requestor); err != nil {
		return err
	}
	if err := validateUserName(userName); err != nil {
		return err
	}

	admins, err := s.assignRepo.UsersWithRoles(ctx, tenant, []string{AdminRoleName})
	if err != nil {
		return fmt.Errorf("failed to list administrators: %w", err)
	}
	if !containsString(admins, requestor) {
		return fmt.Errorf("%w: %s is not an administrator of tenant %s", ErrNotAuthorized, requestor, tenant)
	}
	if !containsString(admins, userName) {
		return nil
	}
	if len(admins) < 2 {
		return fmt.Errorf("%w: cannot remove the last administrator of tenant %s", ErrBadRequest, tenant)
	}

	roleID, err := s.roleRepo.GetID(ctx, tenant, AdminRoleName)
	if err != nil {
		return fmt.Errorf("failed to resolve admin role: %w", err)
	}
	if err := s.assignRepo.Revoke(ctx, tenant, userName, roleID); err != nil {
		return fmt.Errorf("failed to revoke admin role: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeAdminRevoked,
		Tenant:   tenant,
		Actor:    requestor,
		Resource: AdminRoleName,
		Metadata: map[string]any{"user": userName},
	})
	s.metrics.RecordRevoke(ctx, tenant, "admin")
	return nil
}

// ensureAdminRole creates the tenant admin role when it does not exist.
func (s *AdminService) ensureAdminRole(ctx context.Context, tenant string) error {
	role := &Role{
		Tenant:          tenant,
		Name:            AdminRoleName,
		Description:     AdminRoleDescription,
		Owner:           KernelActor,
		OwnerTenant:     tenant,
		CreatedBy:       KernelActor,
		CreatedByTenant: tenant,
		UpdatedBy:       KernelActor,
		UpdatedByTenant: tenant,
	}
	if err := s.roleRepo.Create(ctx, role, false); err != nil {
		return fmt.Errorf("failed to ensure admin role in tenant %q: %w", tenant, err)
	}
	return nil
}

// isTenantAdmin reports whether the user transitively holds the admin
// role in the tenant.
func (s *AdminService) isTenantAdmin(ctx context.Context, tenant, userName string) (bool, error) {
	held, err := s.assignRepo.UserRoleNames(ctx, tenant, userName)
	if err != nil {
		return false, fmt.Errorf("failed to load user roles: %w", err)
	}
	i := sort.SearchStrings(held, AdminRoleName)
	return i < len(held) && held[i] == AdminRoleName, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
