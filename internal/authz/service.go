package authz

import (
	"context"
	"fmt"
	"sort"

	"github.com/authkernel/authkernel/internal/permissions"
)

// Service answers authorization queries. It never mutates state; the
// administrative surface lives on AdminService.
type Service struct {
	roleRepo   RoleRepository
	permRepo   PermissionRepository
	assignRepo AssignmentRepository
	metrics    *Metrics
}

// NewService creates the authorization query service.
func NewService(
	roleRepo RoleRepository,
	permRepo PermissionRepository,
	assignRepo AssignmentRepository,
	metrics *Metrics,
) *Service {
	return &Service{
		roleRepo:   roleRepo,
		permRepo:   permRepo,
		assignRepo: assignRepo,
		metrics:    metrics,
	}
}

// IsPermitted reports whether the user's transitive permissions satisfy
// the requested permissions under op. A user with no permissions at all
// is simply not permitted; that is a false, not an error.
func (s *Service) IsPermitted(ctx context.Context, tenant, userName string, permSpecs []string, op AuthOperation) (bool, error) {
	if err := validateTenant(tenant); err != nil {
		return false, err
	}
	if err := validateUserName(userName); err != nil {
		return false, err
	}
	if len(permSpecs) == 0 {
		return false, fmt.Errorf("%w: no permissions to check", ErrBadRequest)
	}
	if op != OpAny && op != OpAll {
		return false, fmt.Errorf("%w: unknown operation %q", ErrBadRequest, op)
	}

	assigned, err := s.assignRepo.UserPermissions(ctx, tenant, userName)
	if err != nil {
		return false, fmt.Errorf("failed to load user permissions: %w", err)
	}
	if len(assigned) == 0 {
		s.metrics.RecordDecision(ctx, tenant, false)
		return false, nil
	}

	// One parse cache per call: role sets repeat across the requested
	// permissions.
	cache := permissions.NewCache()
	allowed := op == OpAll
	for _, spec := range permSpecs {
		matched := permissions.MatchAny(spec, assigned, cache)
		if op == OpAny && matched {
			allowed = true
			break
		}
		if op == OpAll && !matched {
			allowed = false
			break
		}
	}

	s.metrics.RecordDecision(ctx, tenant, allowed)
	return allowed, nil
}

// HasRole reports whether the user transitively holds the named roles
// under op. The store returns role names sorted, which is what makes the
// binary search here correct.
func (s *Service) HasRole(ctx context.Context, tenant, userName string, roleNames []string, op AuthOperation) (bool, error) {
	if err := validateTenant(tenant); err != nil {
		return false, err
	}
	if err := validateUserName(userName); err != nil {
		return false, err
	}
	if len(roleNames) == 0 {
		return false, fmt.Errorf("%w: no roles to check", ErrBadRequest)
	}
	if op != OpAny && op != OpAll {
		return false, fmt.Errorf("%w: unknown operation %q", ErrBadRequest, op)
	}

	held, err := s.assignRepo.UserRoleNames(ctx, tenant, userName)
	if err != nil {
		return false, fmt.Errorf("failed to load user roles: %w", err)
	}
	if len(held) == 0 {
		return false, nil
	}

	for _, name := range roleNames {
		i := sort.SearchStrings(held, name)
		found := i < len(held) && held[i] == name
		if op == OpAny && found {
			return true, nil
		}
		if op == OpAll && !found {
			return false, nil
		}
	}
	return op == OpAll, nil
}

// UserRoleNames returns every role the user transitively holds, sorted.
func (s *Service) UserRoleNames(ctx context.Context, tenant, userName string) ([]string, error) {
	if err := validateTenant(tenant); err != nil {
		return nil, err
	}
	if err := validateUserName(userName); err != nil {
		return nil, err
	}
	names, err := s.assignRepo.UserRoleNames(ctx, tenant, userName)
	if err != nil {
		return nil, fmt.Errorf("failed to load user roles: %w", err)
	}
	return names, nil
}

// UserPermissions returns the user's transitive permissions, sorted.
// When impliesTemplate is set, only permissions the template implies are
// kept; when impliedBy is set, only permissions implying it are kept.
// The two filters are directional, not interchangeable.
func (s *Service) UserPermissions(ctx context.Context, tenant, userName, impliesTemplate, impliedBy string) ([]string, error) {
	if err := validateTenant(tenant); err != nil {
		return nil, err
	}
	if err := validateUserName(userName); err != nil {
		return nil, err
	}
	if impliesTemplate != "" && impliedBy != "" {
		return nil, fmt.Errorf("%w: implies and impliedBy filters are exclusive", ErrBadRequest)
	}

	perms, err := s.assignRepo.UserPermissions(ctx, tenant, userName)
	if err != nil {
		return nil, fmt.Errorf("failed to load user permissions: %w", err)
	}

	switch {
	case impliesTemplate != "":
		return permissions.FilterImplies(impliesTemplate, perms), nil
	case impliedBy != "":
		return permissions.FilterImpliedBy(impliedBy, perms), nil
	default:
		return perms, nil
	}
}

// UserNames lists every user with at least one assignment in the tenant.
func (s *Service) UserNames(ctx context.Context, tenant string) ([]string, error) {
	if err := validateTenant(tenant); err != nil {
		return nil, err
	}
	names, err := s.assignRepo.UserNames(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return names, nil
}

// UsersWithRole lists every user who holds the role, directly or through
// an ancestor. Holding any ancestor of a role means holding the role.
func (s *Service) UsersWithRole(ctx context.Context, tenant, roleName string) ([]string, error) {
	if err := validateTenant(tenant); err != nil {
		return nil, err
	}
	roleID, err := s.roleRepo.GetID(ctx, tenant, roleName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve role %q: %w", roleName, err)
	}

	ancestors, err := s.roleRepo.AncestorNames(ctx, tenant, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load role ancestors: %w", err)
	}

	users, err := s.assignRepo.UsersWithRoles(ctx, tenant, append(ancestors, roleName))
	if err != nil {
		return nil, fmt.Errorf("failed to list role holders: %w", err)
	}
	return users, nil
}

// UsersWithPermission lists every user holding a permission that matches
// the SQL LIKE pattern. Callers use "%" for free-form matching.
func (s *Service) UsersWithPermission(ctx context.Context, tenant, pattern string) ([]string, error) {
	if err := validateTenant(tenant); err != nil {
		return nil, err
	}
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty permission pattern", ErrBadRequest)
	}
	users, err := s.assignRepo.UsersWithPermission(ctx, tenant, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to list permission holders: %w", err)
	}
	return users, nil
}

// RoleByName retrieves a role by name.
func (s *Service) RoleByName(ctx context.Context, tenant, name string) (*Role, error) {
	if err := validateTenant(tenant); err != nil {
		return nil, err
	}
	role, err := s.roleRepo.GetByName(ctx, tenant, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load role %q: %w", name, err)
	}
	return role, nil
}

// RolePermissions lists the permissions attached directly to the role,
// sorted. Inherited permissions are not included; TransitivePermissions
// answers that question.
func (s *Service) RolePermissions(ctx context.Context, tenant, roleName string) ([]string, error) {
	if err := validateTenant(tenant); err != nil {
		return nil, err
	}
	roleID, err := s.roleRepo.GetID(ctx, tenant, roleName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve role %q: %w", roleName, err)
	}
	perms, err := s.permRepo.DirectPermissions(ctx, tenant, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load role permissions: %w", err)
	}
	return perms, nil
}

// RoleNames lists every role name in the tenant, sorted.
func (s *Service) RoleNames(ctx context.Context, tenant string) ([]string, error) {
	if err := validateTenant(tenant); err != nil {
		return nil, err
	}
	names, err := s.roleRepo.Names(ctx, tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	return names, nil
}

// DescendantNames lists every role reachable below the named role.
func (s *Service) DescendantNames(ctx context.Context, tenant, roleName string) ([]string, error) {
	if err := validateTenant(tenant); err != nil {
		return nil, err
	}
	roleID, err := s.roleRepo.GetID(ctx, tenant, roleName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve role %q: %w", roleName, err)
	}
	names, err := s.roleRepo.DescendantNames(ctx, tenant, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load descendants: %w", err)
	}
	return names, nil
}

// AncestorNames lists every role from which the named role is reachable.
func (s *Service) AncestorNames(ctx context.Context, tenant, roleName string) ([]string, error) {
	if err := validateTenant(tenant); err != nil {
		return nil, err
	}
	roleID, err := s.roleRepo.GetID(ctx, tenant, roleName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve role %q: %w", roleName, err)
	}
	names, err := s.roleRepo.AncestorNames(ctx, tenant, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load ancestors: %w", err)
	}
	return names, nil
}

// TransitivePermissions lists the union of the named role's permissions
// and those of all its descendants, sorted.
func (s *Service) TransitivePermissions(ctx context.Context, tenant, roleName string) ([]string, error) {
	if err := validateTenant(tenant); err != nil {
		return nil, err
	}
	roleID, err := s.roleRepo.GetID(ctx, tenant, roleName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve role %q: %w", roleName, err)
	}
	perms, err := s.roleRepo.TransitivePermissions(ctx, tenant, roleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transitive permissions: %w", err)
	}
	return perms, nil
}
