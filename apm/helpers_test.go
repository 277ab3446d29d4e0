package apm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/apmagent/config"
	"github.com/GriffinCanCode/apmagent/internal/testutil"
)

func testConfig() *config.Snapshot {
	cfg := config.Default()
	cfg.Service.Name = "apm-test"
	cfg.Transport.Compression = config.CompressionNone
	cfg.Queue.FlushInterval = time.Hour
	cfg.Queue.MaxBatchSize = 100
	cfg.Metrics.Interval = 0
	return cfg
}

func newTestTracer(t *testing.T, mutate func(*config.Snapshot)) (*Tracer, *testutil.RecordingTransport) {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(cfg)
	}
	tr := testutil.NewRecordingTransport()
	tracer, err := NewTracer(TracerOptions{
		Config:           cfg,
		Transport:        tr,
		MetricsProviders: []MetricsProvider{},
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = tracer.Close(ctx)
	})
	return tracer, tr
}

func flushTracer(t *testing.T, tracer *Tracer) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tracer.Flush(ctx))
}
