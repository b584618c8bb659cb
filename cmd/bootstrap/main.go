package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/authkernel/authkernel/internal/audit"
	"github.com/authkernel/authkernel/internal/authz"
	"github.com/authkernel/authkernel/internal/config"
	"github.com/authkernel/authkernel/internal/observability/logger"
	"github.com/authkernel/authkernel/internal/observability/metrics"
	"github.com/authkernel/authkernel/internal/observability/tracing"
	"github.com/authkernel/authkernel/internal/store/postgres"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
	})
	slog.Info("starting authkernel tenant bootstrap")

	ctx := context.Background()

	// Initialize tracer
	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   1.0,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
	}
	defer tracer.Shutdown(ctx)

	// Initialize meter
	meter, err := metrics.New(ctx, metrics.Config{
		Enabled: cfg.Observability.OTELEnabled,
	}, cfg.Observability.ServiceName)
	if err != nil {
		slog.Error("failed to initialize meter", logger.Error(err))
		os.Exit(1)
	}

	// Initialize database
	db, err := postgres.New(ctx, postgres.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		slog.Error("failed to connect to database", logger.Error(err))
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("connected to database")

	// Initialize repositories and services
	roleRepo := postgres.NewRoleRepository(db)
	permRepo := postgres.NewPermissionRepository(db)
	assignRepo := postgres.NewAssignmentRepository(db)
	auditLogger := audit.NewSlogLogger()

	kernelMetrics, err := authz.NewMetrics(meter)
	if err != nil {
		slog.Error("failed to register metrics", logger.Error(err))
		os.Exit(1)
	}

	adminService := authz.NewAdminService(
		roleRepo, permRepo, assignRepo, auditLogger, kernelMetrics,
		cfg.Kernel.SiteAdminTenant,
	)
	initializer := authz.NewTenantInitializer(adminService, assignRepo, auditLogger)

	seeds := make([]authz.TenantSeed, 0, len(cfg.Bootstrap.TenantAdmins))
	for tenant, admin := range cfg.Bootstrap.TenantAdmins {
		seeds = append(seeds, authz.TenantSeed{Tenant: tenant, AdminUser: admin})
	}
	if len(seeds) == 0 {
		slog.Warn("no tenants configured, nothing to do")
		return
	}

	if err := initializer.Initialize(ctx, seeds); err != nil {
		slog.Error("tenant bootstrap finished with failures", logger.Error(err))
		os.Exit(1)
	}
	slog.Info("tenant bootstrap complete", slog.Int("tenants", len(seeds)))
}
