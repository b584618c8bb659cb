package authz

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/authkernel/authkernel/internal/audit"
	"github.com/authkernel/authkernel/internal/observability/logger"
)

// TenantSeed names the administrator a tenant must start with.
type TenantSeed struct {
	Tenant    string
	AdminUser string
}

// TenantInitializer brings tenants to their required baseline: the admin
// role exists and has at least one holder. Safe to run on every startup;
// tenants already at baseline are left untouched.
type TenantInitializer struct {
	admin       *AdminService
	assignRepo  AssignmentRepository
	auditLogger audit.Logger
}

// NewTenantInitializer creates a tenant initializer.
func NewTenantInitializer(admin *AdminService, assignRepo AssignmentRepository, auditLogger audit.Logger) *TenantInitializer {
	return &TenantInitializer{
		admin:       admin,
		assignRepo:  assignRepo,
		auditLogger: auditLogger,
	}
}

// Initialize processes every seed concurrently. A failing tenant is
// logged but does not stop the others; the first error is returned
// after all tenants have been attempted.
func (ti *TenantInitializer) Initialize(ctx context.Context, seeds []TenantSeed) error {
	var g errgroup.Group
	g.SetLimit(4)

	for _, seed := range seeds {
		g.Go(func() error {
			if err := ti.initializeTenant(ctx, seed); err != nil {
				slog.ErrorContext(ctx, "tenant bootstrap failed",
					logger.Tenant(seed.Tenant),
					logger.Error(err))
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// initializeTenant ensures the tenant's admin role has a holder.
func (ti *TenantInitializer) initializeTenant(ctx context.Context, seed TenantSeed) error {
	if err := validateTenant(seed.Tenant); err != nil {
		return err
	}
	if err := validateUserName(seed.AdminUser); err != nil {
		return err
	}

	admins, err := ti.assignRepo.UsersWithRoles(ctx, seed.Tenant, []string{AdminRoleName})
	if err != nil {
		return fmt.Errorf("failed to list administrators: %w", err)
	}
	if len(admins) > 0 {
		slog.DebugContext(ctx, "tenant already bootstrapped",
			logger.Tenant(seed.Tenant))
		return nil
	}

	if err := ti.admin.GrantAdminRole(ctx, seed.Tenant, seed.AdminUser, KernelActor, seed.Tenant); err != nil {
		return fmt.Errorf("failed to seed administrator: %w", err)
	}

	ti.auditLogger.Log(ctx, audit.Event{
		Type:     audit.TypeTenantBootstrap,
		Tenant:   seed.Tenant,
		Actor:    KernelActor,
		Resource: AdminRoleName,
		Metadata: map[string]any{"admin_user": seed.AdminUser},
	})
	slog.InfoContext(ctx, "tenant bootstrapped",
		logger.Tenant(seed.Tenant),
		logger.User(seed.AdminUser))
	return nil
}
