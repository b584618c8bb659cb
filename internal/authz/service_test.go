package authz_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authkernel/authkernel/internal/authz"
)

// newTestKernel wires a service and admin service over a shared fake
// store.
func newTestKernel(t *testing.T) (*authz.Service, *authz.AdminService, *fakeStore, *captureAudit) {
	t.Helper()
	store := newFakeStore()
	auditLog := &captureAudit{}
	service := authz.NewService(store, store, store, nil)
	admin := authz.NewAdminService(store, store, store, auditLog, nil, "admin")
	return service, admin, store, auditLog
}

// seedHierarchy builds ceo -> manager -> worker in tenant t1 and assigns
// bud the manager role.
func seedHierarchy(t *testing.T, admin *authz.AdminService) {
	t.Helper()
	ctx := context.Background()
	for _, name := range []string{"ceo", "manager", "worker"} {
		require.NoError(t, admin.CreateRole(ctx, "t1", name, "", "boss", "t1", "boss", "t1"))
	}
	require.NoError(t, admin.AddChildRole(ctx, "t1", "ceo", "manager", "boss", "t1"))
	require.NoError(t, admin.AddChildRole(ctx, "t1", "manager", "worker", "boss", "t1"))
	require.NoError(t, admin.AddRolePermission(ctx, "t1", "worker", "files:t1:read:sys1:/shared", "boss", "t1"))
	require.NoError(t, admin.AddRolePermission(ctx, "t1", "manager", "meta:read:systems:t1", "boss", "t1"))
	require.NoError(t, admin.GrantRole(ctx, "t1", "bud", "manager", "boss", "t1"))
}

func TestService_IsPermitted(t *testing.T) {
	service, admin, _, _ := newTestKernel(t)
	seedHierarchy(t, admin)
	ctx := context.Background()

	// Direct permission.
	ok, err := service.IsPermitted(ctx, "t1", "bud", []string{"meta:read:systems:t1"}, authz.OpAny)
	require.NoError(t, err)
	assert.True(t, ok)

	// Inherited from the worker role below manager, with path extension.
	ok, err = service.IsPermitted(ctx, "t1", "bud", []string{"files:t1:read:sys1:/shared/report.txt"}, authz.OpAny)
	require.NoError(t, err)
	assert.True(t, ok)

	// ALL fails when one is missing, ANY succeeds on the other.
	specs := []string{"meta:read:systems:t1", "meta:write:systems:t1"}
	ok, err = service.IsPermitted(ctx, "t1", "bud", specs, authz.OpAll)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = service.IsPermitted(ctx, "t1", "bud", specs, authz.OpAny)
	require.NoError(t, err)
	assert.True(t, ok)

	// No permissions at all is a plain false.
	ok, err = service.IsPermitted(ctx, "t1", "nobody", []string{"meta:read:systems:t1"}, authz.OpAny)
	require.NoError(t, err)
	assert.False(t, ok)

	// Nothing to check is a caller error.
	_, err = service.IsPermitted(ctx, "t1", "bud", nil, authz.OpAny)
	assert.ErrorIs(t, err, authz.ErrBadRequest)

	_, err = service.IsPermitted(ctx, "t1", "bud", specs, authz.AuthOperation("sometimes"))
	assert.ErrorIs(t, err, authz.ErrBadRequest)
}

func TestService_HasRole(t *testing.T) {
	service, admin, _, _ := newTestKernel(t)
	seedHierarchy(t, admin)
	ctx := context.Background()

	// Holding manager means holding worker, not ceo.
	ok, err := service.HasRole(ctx, "t1", "bud", []string{"worker"}, authz.OpAny)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = service.HasRole(ctx, "t1", "bud", []string{"ceo"}, authz.OpAny)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = service.HasRole(ctx, "t1", "bud", []string{"manager", "worker"}, authz.OpAll)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = service.HasRole(ctx, "t1", "bud", []string{"manager", "ceo"}, authz.OpAll)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = service.HasRole(ctx, "t1", "bud", nil, authz.OpAny)
	assert.ErrorIs(t, err, authz.ErrBadRequest)
}

func TestService_UserRoleNamesAndPermissions(t *testing.T) {
	service, admin, _, _ := newTestKernel(t)
	seedHierarchy(t, admin)
	ctx := context.Background()

	names, err := service.UserRoleNames(ctx, "t1", "bud")
	require.NoError(t, err)
	assert.Equal(t, []string{"manager", "worker"}, names)

	perms, err := service.UserPermissions(ctx, "t1", "bud", "", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"files:t1:read:sys1:/shared", "meta:read:systems:t1"}, perms)

	// Template filter keeps only what the template grants.
	perms, err = service.UserPermissions(ctx, "t1", "bud", "files:t1:*:*:*", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"files:t1:read:sys1:/shared"}, perms)

	// impliedBy keeps permissions that would authorize the target.
	perms, err = service.UserPermissions(ctx, "t1", "bud", "", "files:t1:read:sys1:/shared/a.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"files:t1:read:sys1:/shared"}, perms)

	_, err = service.UserPermissions(ctx, "t1", "bud", "files:*", "files:*")
	assert.ErrorIs(t, err, authz.ErrBadRequest)
}

func TestService_UsersWithRole_IncludesAncestorHolders(t *testing.T) {
	service, admin, _, _ := newTestKernel(t)
	seedHierarchy(t, admin)
	ctx := context.Background()

	require.NoError(t, admin.GrantRole(ctx, "t1", "ann", "ceo", "boss", "t1"))
	require.NoError(t, admin.GrantRole(ctx, "t1", "joe", "worker", "boss", "t1"))

	// worker is held by joe directly and by ann and bud through the
	// hierarchy.
	users, err := service.UsersWithRole(ctx, "t1", "worker")
	require.NoError(t, err)
	assert.Equal(t, []string{"ann", "bud", "joe"}, users)

	// ceo only by ann.
	users, err = service.UsersWithRole(ctx, "t1", "ceo")
	require.NoError(t, err)
	assert.Equal(t, []string{"ann"}, users)
}

func TestService_UsersWithPermission(t *testing.T) {
	service, admin, _, _ := newTestKernel(t)
	seedHierarchy(t, admin)
	ctx := context.Background()

	require.NoError(t, admin.GrantRole(ctx, "t1", "joe", "worker", "boss", "t1"))

	users, err := service.UsersWithPermission(ctx, "t1", "files:%")
	require.NoError(t, err)
	assert.Equal(t, []string{"bud", "joe"}, users)

	users, err = service.UsersWithPermission(ctx, "t1", "meta:%")
	require.NoError(t, err)
	assert.Equal(t, []string{"bud"}, users)

	_, err = service.UsersWithPermission(ctx, "t1", "")
	assert.ErrorIs(t, err, authz.ErrBadRequest)
}

func TestService_HierarchyQueries(t *testing.T) {
	service, admin, _, _ := newTestKernel(t)
	seedHierarchy(t, admin)
	ctx := context.Background()

	descendants, err := service.DescendantNames(ctx, "t1", "ceo")
	require.NoError(t, err)
	assert.Equal(t, []string{"manager", "worker"}, descendants)

	ancestors, err := service.AncestorNames(ctx, "t1", "worker")
	require.NoError(t, err)
	assert.Equal(t, []string{"ceo", "manager"}, ancestors)

	// Transitive permissions include the seed role's own grants; the
	// direct view does not.
	perms, err := service.TransitivePermissions(ctx, "t1", "manager")
	require.NoError(t, err)
	assert.Equal(t, []string{"files:t1:read:sys1:/shared", "meta:read:systems:t1"}, perms)

	perms, err = service.RolePermissions(ctx, "t1", "manager")
	require.NoError(t, err)
	assert.Equal(t, []string{"meta:read:systems:t1"}, perms)

	_, err = service.RoleByName(ctx, "t1", "nothere")
	assert.ErrorIs(t, err, authz.ErrRoleNotFound)

	role, err := service.RoleByName(ctx, "t1", "ceo")
	require.NoError(t, err)
	assert.True(t, role.HasChildren)
	assert.Equal(t, "t1", role.Tenant)
}
