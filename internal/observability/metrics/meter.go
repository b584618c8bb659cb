// Package metrics hands out instruments from the global OTel meter
// provider. Disabled metrics get a no-op meter so counters still
// resolve.
package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Config holds metrics configuration.
type Config struct {
	Enabled bool
}

// Meter wraps the OTel meter the kernel's counters are registered on.
type Meter struct {
	meter metric.Meter
}

// New resolves the meter for serviceName from the global provider.
func New(ctx context.Context, cfg Config, serviceName string) (*Meter, error) {
	if !cfg.Enabled {
		return &Meter{
			meter: otel.Meter("noop"),
		}, nil
	}
	return &Meter{
		meter: otel.Meter(serviceName),
	}, nil
}

// CreateCounter registers a monotonic int64 counter.
func (m *Meter) CreateCounter(name, description string) (metric.Int64Counter, error) {
	counter, err := m.meter.Int64Counter(
		name,
		metric.WithDescription(description),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create counter %s: %w", name, err)
	}
	return counter, nil
}
