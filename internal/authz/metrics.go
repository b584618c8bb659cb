package authz

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/authkernel/authkernel/internal/observability/metrics"
)

// Metrics counts authorization decisions and administrative mutations.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	decisions metric.Int64Counter
	grants    metric.Int64Counter
	revokes   metric.Int64Counter
}

// NewMetrics registers the kernel's counters on the given meter.
func NewMetrics(meter *metrics.Meter) (*Metrics, error) {
	decisions, err := meter.CreateCounter(
		"authz.decisions",
		"Authorization decisions, labelled by tenant and outcome",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register decision counter: %w", err)
	}

	grants, err := meter.CreateCounter(
		"authz.grants",
		"Successful grant operations, labelled by tenant and kind",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register grant counter: %w", err)
	}

	revokes, err := meter.CreateCounter(
		"authz.revokes",
		"Successful revoke operations, labelled by tenant and kind",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register revoke counter: %w", err)
	}

	return &Metrics{
		decisions: decisions,
		grants:    grants,
		revokes:   revokes,
	}, nil
}

// RecordDecision counts one authorization decision.
func (m *Metrics) RecordDecision(ctx context.Context, tenant string, allowed bool) {
	if m == nil {
		return
	}
	m.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant", tenant),
		attribute.Bool("allowed", allowed),
	))
}

// RecordGrant counts one successful grant of the given kind.
func (m *Metrics) RecordGrant(ctx context.Context, tenant, kind string) {
	if m == nil {
		return
	}
	m.grants.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant", tenant),
		attribute.String("kind", kind),
	))
}

// RecordRevoke counts one successful revoke of the given kind.
func (m *Metrics) RecordRevoke(ctx context.Context, tenant, kind string) {
	if m == nil {
		return
	}
	m.revokes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tenant", tenant),
		attribute.String("kind", kind),
	))
}
