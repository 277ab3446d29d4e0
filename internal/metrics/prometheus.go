package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/GriffinCanCode/apmagent/model"
)

// PrometheusProvider converts the families of a prometheus.Gatherer into
// samples. Series of one family are summed across their labels. Histograms
// and summaries contribute their _count and _sum.
type PrometheusProvider struct {
	gatherer prometheus.Gatherer
}

// NewPrometheusProvider creates a provider reading from gatherer.
func NewPrometheusProvider(gatherer prometheus.Gatherer) *PrometheusProvider {
	return &PrometheusProvider{gatherer: gatherer}
}

// Name implements Provider.
func (p *PrometheusProvider) Name() string { return "prometheus" }

// Gather implements Provider.
func (p *PrometheusProvider) Gather(_ context.Context, ms *model.MetricSet) error {
	families, err := p.gatherer.Gather()
	if err != nil {
		return fmt.Errorf("gather prometheus metrics: %w", err)
	}

	for _, mf := range families {
		name := mf.GetName()
		switch mf.GetType() {
		case dto.MetricType_COUNTER:
			ms.Add(name, sum(mf, func(m *dto.Metric) float64 { return m.GetCounter().GetValue() }))
		case dto.MetricType_GAUGE:
			ms.Add(name, sum(mf, func(m *dto.Metric) float64 { return m.GetGauge().GetValue() }))
		case dto.MetricType_UNTYPED:
			ms.Add(name, sum(mf, func(m *dto.Metric) float64 { return m.GetUntyped().GetValue() }))
		case dto.MetricType_HISTOGRAM:
			ms.Add(name+"_count", sum(mf, func(m *dto.Metric) float64 { return float64(m.GetHistogram().GetSampleCount()) }))
			ms.Add(name+"_sum", sum(mf, func(m *dto.Metric) float64 { return m.GetHistogram().GetSampleSum() }))
		case dto.MetricType_SUMMARY:
			ms.Add(name+"_count", sum(mf, func(m *dto.Metric) float64 { return float64(m.GetSummary().GetSampleCount()) }))
			ms.Add(name+"_sum", sum(mf, func(m *dto.Metric) float64 { return m.GetSummary().GetSampleSum() }))
		}
	}
	return nil
}

func sum(mf *dto.MetricFamily, value func(*dto.Metric) float64) float64 {
	var total float64
	for _, m := range mf.GetMetric() {
		total += value(m)
	}
	return total
}
