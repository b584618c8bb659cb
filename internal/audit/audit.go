package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/authkernel/authkernel/internal/observability/logger"
)

// Event types
const (
	TypeRoleCreated       = "role_created"
	TypeRoleDeleted       = "role_deleted"
	TypeRoleUpdated       = "role_updated"
	TypeRoleGranted       = "role_granted"
	TypeRoleRevoked       = "role_revoked"
	TypeChildRoleAdded    = "child_role_added"
	TypeChildRoleRemoved  = "child_role_removed"
	TypePermissionAdded   = "permission_added"
	TypePermissionRemoved = "permission_removed"
	TypeAdminGranted      = "admin_granted"
	TypeAdminRevoked      = "admin_revoked"
	TypeTenantBootstrap   = "tenant_bootstrap"
)

// Event represents an auditable administrative action
type Event struct {
	ID          string
	Type        string
	Tenant      string
	Actor       string
	ActorTenant string
	Resource    string
	Metadata    map[string]any
	Timestamp   time.Time
}

// Logger defines the interface for audit logging
type Logger interface {
	Log(ctx context.Context, event Event)
}

// SlogLogger implements Logger using slog
type SlogLogger struct{}

// NewSlogLogger creates a new audit logger
func NewSlogLogger() *SlogLogger {
	return &SlogLogger{}
}

// Log records an audit event
func (l *SlogLogger) Log(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	attrs := []any{
		slog.String("audit_id", event.ID),
		slog.String("audit_type", event.Type),
		logger.Tenant(event.Tenant),
		slog.String("actor", event.Actor),
		slog.String("resource", event.Resource),
		slog.Time("timestamp", event.Timestamp),
	}
	if event.ActorTenant != "" && event.ActorTenant != event.Tenant {
		attrs = append(attrs, slog.String("actor_tenant", event.ActorTenant))
	}

	// Flatten metadata
	if len(event.Metadata) > 0 {
		group := []any{}
		for k, v := range event.Metadata {
			group = append(group, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("metadata", group...))
	}

	// Log at INFO level with "audit" component
	slog.InfoContext(ctx, "AUDIT_EVENT", append(attrs, logger.Component("audit"))...)
}
