package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindTransaction, "transaction"},
		{KindSpan, "span"},
		{KindError, "error"},
		{KindMetricSet, "metricset"},
		{Kind(42), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.String())
		})
	}
}

func TestEventTimestamp(t *testing.T) {
	ts := time.Unix(1700000000, 0)

	assert.Equal(t, ts, TransactionEvent(&Transaction{Timestamp: ts}).Timestamp())
	assert.Equal(t, ts, SpanEvent(&Span{Timestamp: ts}).Timestamp())
	assert.Equal(t, ts, ErrorEvent(&Error{Timestamp: ts}).Timestamp())
	assert.Equal(t, ts, MetricSetEvent(&MetricSet{Timestamp: ts}).Timestamp())
}

func TestContextCloneIsDeep(t *testing.T) {
	orig := Context{
		Request:  &Request{Method: "GET", Headers: map[string]string{"Accept": "*/*"}},
		Response: &Response{StatusCode: 200},
		Labels:   map[string]string{"tier": "gold"},
	}

	clone := orig.Clone()
	orig.Request.Method = "POST"
	orig.Request.Headers["Accept"] = "text/html"
	orig.Response.StatusCode = 500
	orig.Labels["tier"] = "bronze"

	require.NotNil(t, clone.Request)
	assert.Equal(t, "GET", clone.Request.Method)
	assert.Equal(t, "*/*", clone.Request.Headers["Accept"])
	assert.Equal(t, 200, clone.Response.StatusCode)
	assert.Equal(t, "gold", clone.Labels["tier"])
}

func TestSpanContextClone(t *testing.T) {
	orig := SpanContext{Destination: &Destination{Resource: "postgresql"}}

	clone := orig.Clone()
	orig.Destination.Resource = "mysql"

	assert.Equal(t, "postgresql", clone.Destination.Resource)
	assert.Nil(t, clone.Labels)
}

func TestDetectMetadata(t *testing.T) {
	md := DetectMetadata("checkout", "1.2.3", "production", map[string]string{"region": "eu"})

	assert.Equal(t, "checkout", md.Service.Name)
	assert.Equal(t, "1.2.3", md.Service.Version)
	assert.Equal(t, "production", md.Service.Environment)
	assert.Equal(t, AgentName, md.Service.AgentName)
	assert.NotEmpty(t, md.Service.EphemeralID)
	assert.NotZero(t, md.Process.PID)
	assert.Equal(t, "eu", md.Labels["region"])
}

func TestSanitizeServiceName(t *testing.T) {
	assert.Equal(t, "my_app_test", sanitizeServiceName("my.app.test"))
	assert.Equal(t, "svc-1", sanitizeServiceName("svc-1"))
	assert.Equal(t, "unknown-go-service", sanitizeServiceName(""))
}
