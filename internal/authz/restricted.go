package authz

import (
	"context"
	"fmt"

	"github.com/authkernel/authkernel/internal/audit"
	"github.com/authkernel/authkernel/internal/permissions"
)

// restrictedRolePattern matches restricted service role names in SQL
// LIKE queries. The underscore in the prefix is escaped so it stays a
// literal.
const restrictedRolePattern = `$#service\_%`

// requireSiteAdmin gates the restricted surface: the target tenant must
// be the site-admin tenant and the requestor must administer it.
func (s *AdminService) requireSiteAdmin(ctx context.Context, tenant, requestor string) error {
	if tenant != s.siteAdminTenant {
		return fmt.Errorf("%w: restricted roles live only in tenant %q", ErrNotAuthorized, s.siteAdminTenant)
	}
	ok, err := s.isTenantAdmin(ctx, s.siteAdminTenant, requestor)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s does not administer tenant %q", ErrNotAuthorized, requestor, s.siteAdminTenant)
	}
	return nil
}

// CreateRestrictedRole creates a restricted service role. Creating an
// existing one is a no-op.
func (s *AdminService) CreateRestrictedRole(ctx context.Context, tenant, name, description, requestor string) error {
	if err := s.requireSiteAdmin(ctx, tenant, requestor); err != nil {
		return err
	}
	if !permissions.ValidRestrictedRoleName(name) {
		return fmt.Errorf("%w: invalid restricted role name %q", ErrBadRequest, name)
	}
	if err := validateDescription(description); err != nil {
		return err
	}

	role := &Role{
		Tenant:          tenant,
		Name:            name,
		Description:     description,
		Owner:           requestor,
		OwnerTenant:     tenant,
		CreatedBy:       requestor,
		CreatedByTenant: tenant,
		UpdatedBy:       requestor,
		UpdatedByTenant: tenant,
	}
	if err := s.roleRepo.Create(ctx, role, false); err != nil {
		return fmt.Errorf("failed to create restricted role %q: %w", name, err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeRoleCreated,
		Tenant:   tenant,
		Actor:    requestor,
		Resource: name,
		Metadata: map[string]any{"restricted": true},
	})
	return nil
}

// DeleteRestrictedRole removes a restricted service role.
func (s *AdminService) DeleteRestrictedRole(ctx context.Context, tenant, name, requestor string) error {
	if err := s.requireSiteAdmin(ctx, tenant, requestor); err != nil {
		return err
	}
	if !permissions.ValidRestrictedRoleName(name) {
		return fmt.Errorf("%w: invalid restricted role name %q", ErrBadRequest, name)
	}
	if err := s.roleRepo.Delete(ctx, tenant, name); err != nil {
		return fmt.Errorf("failed to delete restricted role %q: %w", name, err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeRoleDeleted,
		Tenant:   tenant,
		Actor:    requestor,
		Resource: name,
		Metadata: map[string]any{"restricted": true},
	})
	return nil
}

// AddRestrictedRolePermission attaches a restricted service permission
// to a restricted role. Both name and permission must pass the
// restricted grammar.
func (s *AdminService) AddRestrictedRolePermission(ctx context.Context, tenant, name, permSpec, requestor string) error {
	if err := s.requireSiteAdmin(ctx, tenant, requestor); err != nil {
		return err
	}
	if !permissions.ValidRestrictedRoleName(name) {
		return fmt.Errorf("%w: invalid restricted role name %q", ErrBadRequest, name)
	}
	if !permissions.ValidRestrictedPermission(permSpec) {
		return fmt.Errorf("%w: invalid restricted permission %q", ErrBadRequest, permSpec)
	}

	if err := s.permRepo.Assign(ctx, tenant, name, permSpec, requestor, tenant); err != nil {
		return fmt.Errorf("failed to add restricted permission: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypePermissionAdded,
		Tenant:   tenant,
		Actor:    requestor,
		Resource: name,
		Metadata: map[string]any{"permission": permSpec, "restricted": true},
	})
	return nil
}

// RemoveRestrictedRolePermission detaches a restricted service
// permission from a restricted role.
func (s *AdminService) RemoveRestrictedRolePermission(ctx context.Context, tenant, name, permSpec, requestor string) error {
	if err := s.requireSiteAdmin(ctx, tenant, requestor); err != nil {
		return err
	}
	if !permissions.ValidRestrictedRoleName(name) {
		return fmt.Errorf("%w: invalid restricted role name %q", ErrBadRequest, name)
	}

	if err := s.permRepo.Remove(ctx, tenant, name, permSpec); err != nil {
		return fmt.Errorf("failed to remove restricted permission: %w", err)
	}

	s.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypePermissionRemoved,
		Tenant:   tenant,
		Actor:    requestor,
		Resource: name,
		Metadata: map[string]any{"permission": permSpec, "restricted": true},
	})
	return nil
}

// RestrictedRoleNames lists the restricted service roles, sorted.
func (s *AdminService) RestrictedRoleNames(ctx context.Context, tenant, requestor string) ([]string, error) {
	if err := s.requireSiteAdmin(ctx, tenant, requestor); err != nil {
		return nil, err
	}
	names, err := s.roleRepo.NamesLike(ctx, tenant, restrictedRolePattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list restricted roles: %w", err)
	}
	return names, nil
}

// IsServicePermitted evaluates an allow request against a restricted
// service role. Deny grants on the role are consulted first; a matching
// deny wins over any allow.
func (s *AdminService) IsServicePermitted(ctx context.Context, tenant, roleName, permSpec, requestor string) (bool, error) {
	if err := s.requireSiteAdmin(ctx, tenant, requestor); err != nil {
		return false, err
	}
	if !permissions.ValidRestrictedRoleName(roleName) {
		return false, fmt.Errorf("%w: invalid restricted role name %q", ErrBadRequest, roleName)
	}

	roleID, err := s.roleRepo.GetID(ctx, tenant, roleName)
	if err != nil {
		return false, fmt.Errorf("failed to resolve restricted role %q: %w", roleName, err)
	}
	assigned, err := s.roleRepo.TransitivePermissions(ctx, tenant, roleID)
	if err != nil {
		return false, fmt.Errorf("failed to load restricted permissions: %w", err)
	}

	ok, err := permissions.EvaluateRestricted(permSpec, assigned)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	s.metrics.RecordDecision(ctx, tenant, ok)
	return ok, nil
}
