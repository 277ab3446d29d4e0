package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/GriffinCanCode/apmagent/model"
)

// Provider adds samples to a metric set.
type Provider interface {
	// Name identifies the provider in logs and self-metrics.
	Name() string
	// Gather adds the provider's current samples to ms.
	Gather(ctx context.Context, ms *model.MetricSet) error
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc struct {
	ProviderName string
	Fn           func(ctx context.Context, ms *model.MetricSet) error
}

// Name implements Provider.
func (p ProviderFunc) Name() string { return p.ProviderName }

// Gather implements Provider.
func (p ProviderFunc) Gather(ctx context.Context, ms *model.MetricSet) error {
	return p.Fn(ctx, ms)
}

// DefaultProviders returns the built-in providers. The prometheus provider is
// included when gatherer is not nil.
func DefaultProviders(gatherer prometheus.Gatherer) []Provider {
	providers := []Provider{
		NewRuntimeProvider(),
		NewProcessProvider(),
		NewSystemProvider(),
	}
	if gatherer != nil {
		providers = append(providers, NewPrometheusProvider(gatherer))
	}
	return providers
}
