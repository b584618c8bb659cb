package authz_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/authkernel/authkernel/internal/audit"
	"github.com/authkernel/authkernel/internal/authz"
)

func TestTenantInitializer_SeedsAdmins(t *testing.T) {
	service, admin, store, auditLog := newTestKernel(t)
	initializer := authz.NewTenantInitializer(admin, store, auditLog)
	ctx := context.Background()

	seeds := []authz.TenantSeed{
		{Tenant: "t1", AdminUser: "ann"},
		{Tenant: "t2", AdminUser: "bud"},
	}
	require.NoError(t, initializer.Initialize(ctx, seeds))

	for _, seed := range seeds {
		ok, err := service.HasRole(ctx, seed.Tenant, seed.AdminUser, []string{authz.AdminRoleName}, authz.OpAny)
		require.NoError(t, err)
		assert.True(t, ok, "tenant %s", seed.Tenant)
	}
	assert.Contains(t, auditLog.types(), audit.TypeTenantBootstrap)
}

func TestTenantInitializer_LeavesBootstrappedTenantsAlone(t *testing.T) {
	service, admin, store, _ := newTestKernel(t)
	initializer := authz.NewTenantInitializer(admin, store, &captureAudit{})
	ctx := context.Background()

	// t1 already has an administrator; the seed must not add another.
	require.NoError(t, admin.GrantAdminRole(ctx, "t1", "existing", "authkernel", "t1"))
	require.NoError(t, initializer.Initialize(ctx, []authz.TenantSeed{{Tenant: "t1", AdminUser: "ann"}}))

	admins, err := service.UsersWithRole(ctx, "t1", authz.AdminRoleName)
	require.NoError(t, err)
	assert.Equal(t, []string{"existing"}, admins)
}

func TestTenantInitializer_BadSeedDoesNotBlockOthers(t *testing.T) {
	service, admin, store, _ := newTestKernel(t)
	initializer := authz.NewTenantInitializer(admin, store, &captureAudit{})
	ctx := context.Background()

	seeds := []authz.TenantSeed{
		{Tenant: "", AdminUser: "ann"},
		{Tenant: "t2", AdminUser: "bud"},
	}
	err := initializer.Initialize(ctx, seeds)
	assert.ErrorIs(t, err, authz.ErrBadRequest)

	// The healthy tenant still got its administrator.
	ok, err := service.HasRole(ctx, "t2", "bud", []string{authz.AdminRoleName}, authz.OpAny)
	require.NoError(t, err)
	assert.True(t, ok)
}
