package authz

import (
	"fmt"

	"github.com/authkernel/authkernel/internal/permissions"
)

// -----------------------------------------------------------------------------
// Reserved Role Names
// Names beginning with "$" are kernel-managed and cannot be created,
// deleted or targeted through the ordinary administrative surface.
// -----------------------------------------------------------------------------

const (
	// AdminRoleName is the per-tenant administrator role. Holders may
	// administer every role and assignment in their tenant.
	AdminRoleName = permissions.AdminRoleName

	// AdminRoleDescription seeds the admin role at tenant bootstrap.
	AdminRoleDescription = "Tenant administrator role"

	// KernelActor is recorded as the creating/updating identity on rows
	// the kernel writes on its own behalf.
	KernelActor = "authkernel"
)

// validateRoleName rejects names outside the ordinary role grammar,
// reserved names included.
func validateRoleName(name string) error {
	if !permissions.ValidRoleName(name) {
		return fmt.Errorf("%w: invalid role name %q", ErrBadRequest, name)
	}
	return nil
}

// validateUserName rejects names outside the user grammar.
func validateUserName(name string) error {
	if !permissions.ValidUserName(name) {
		return fmt.Errorf("%w: invalid user name %q", ErrBadRequest, name)
	}
	return nil
}

// validateTenant rejects empty tenant ids.
func validateTenant(tenant string) error {
	if tenant == "" {
		return fmt.Errorf("%w: empty tenant", ErrBadRequest)
	}
	return nil
}

// validateDescription bounds role descriptions.
func validateDescription(desc string) error {
	if !permissions.ValidDescription(desc) {
		return fmt.Errorf("%w: description exceeds %d characters", ErrBadRequest, permissions.MaxDescriptionLen)
	}
	return nil
}

// resolveRoleName maps a caller-facing role name to the stored one.
// Ordinary names pass through; the admin role and per-user default roles
// are only reachable through their dedicated operations.
func resolveRoleName(name string) (string, error) {
	if permissions.IsReservedName(name) {
		return "", fmt.Errorf("%w: reserved role name %q", ErrBadRequest, name)
	}
	if err := validateRoleName(name); err != nil {
		return "", err
	}
	return name, nil
}
