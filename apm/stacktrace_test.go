package apm_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/apmagent/apm"
	"github.com/GriffinCanCode/apmagent/config"
	"github.com/GriffinCanCode/apmagent/internal/testutil"
)

func newTracer(t *testing.T, mutate func(*config.Snapshot)) (*apm.Tracer, *testutil.RecordingTransport) {
	t.Helper()
	cfg := config.Default()
	cfg.Transport.Compression = config.CompressionNone
	cfg.Queue.FlushInterval = time.Hour
	cfg.Metrics.Interval = 0
	if mutate != nil {
		mutate(cfg)
	}
	tr := testutil.NewRecordingTransport()
	tracer, err := apm.NewTracer(apm.TracerOptions{
		Config:           cfg,
		Transport:        tr,
		MetricsProviders: []apm.MetricsProvider{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = tracer.Close(context.Background()) })
	return tracer, tr
}

func TestCapturedStackStartsAtCaller(t *testing.T) {
	tracer, tr := newTracer(t, nil)

	tx, _ := tracer.StartTransaction(context.Background(), "T", "request")
	tx.CaptureException(errors.New("boom"))
	tx.End()
	require.NoError(t, tracer.Flush(context.Background()))

	errs := tr.Records(t, "error")
	require.Len(t, errs, 1)
	assert.Equal(t, "github.com/GriffinCanCode/apmagent/apm_test.TestCapturedStackStartsAtCaller", errs[0]["culprit"])

	frames := errs[0]["exception"].(map[string]interface{})["stacktrace"].([]interface{})
	require.NotEmpty(t, frames)
	for _, f := range frames {
		module, _ := f.(map[string]interface{})["module"].(string)
		assert.NotEqual(t, "github.com/GriffinCanCode/apmagent/apm", module)
	}
	top := frames[0].(map[string]interface{})
	assert.True(t, strings.HasSuffix(top["filename"].(string), "stacktrace_test.go"))
}

func TestStackTraceLimit(t *testing.T) {
	tracer, tr := newTracer(t, func(cfg *config.Snapshot) {
		cfg.Tracing.StackTraceLimit = 1
		cfg.Tracing.SpanStackTraceMinDuration = 0
	})

	tx, ctx := tracer.StartTransaction(context.Background(), "T", "request")
	span, _ := tx.StartSpan(ctx, "S", "app")
	span.End()
	tx.End()
	require.NoError(t, tracer.Flush(context.Background()))

	spans := tr.Records(t, "span")
	require.Len(t, spans, 1)
	assert.Len(t, spans[0]["stacktrace"], 1)
}

func TestStackTraceDisabled(t *testing.T) {
	tracer, tr := newTracer(t, func(cfg *config.Snapshot) {
		cfg.Tracing.StackTraceLimit = 0
	})

	tracer.CaptureError(context.Background(), errors.New("boom"))
	require.NoError(t, tracer.Flush(context.Background()))

	errs := tr.Records(t, "error")
	require.Len(t, errs, 1)
	assert.NotContains(t, errs[0]["exception"], "stacktrace")
	assert.NotContains(t, errs[0], "culprit")
}
