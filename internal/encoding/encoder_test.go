package encoding

import (
	"bufio"
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/proto"

	"github.com/GriffinCanCode/apmagent/internal/shared/id"
	"github.com/GriffinCanCode/apmagent/model"
)

var (
	testTrace = id.TraceID{0x0a, 0xf7, 0x65, 0x19, 0x16, 0xcd, 0x43, 0xdd, 0x84, 0x48, 0xeb, 0x21, 0x1c, 0x80, 0x31, 0x9c}
	testTx    = id.SpanID{0xb7, 0xad, 0x6b, 0x71, 0x69, 0x20, 0x33, 0x31}
	testSpan  = id.SpanID{0x00, 0xf0, 0x67, 0xaa, 0x0b, 0xa9, 0x02, 0xb7}
	testTime  = time.Unix(1700000000, 123456000)
)

func testMetadata() *model.Metadata {
	md := model.DetectMetadata("checkout", "1.0.0", "test", map[string]string{"region": "eu"})
	return &md
}

func testEvents() []model.Event {
	return []model.Event{
		model.SpanEvent(&model.Span{
			ID:            testSpan,
			ParentID:      testTx,
			TransactionID: testTx,
			TraceID:       testTrace,
			Name:          "SELECT users",
			Type:          "db",
			Subtype:       "postgresql",
			Action:        "query",
			Timestamp:     testTime,
			Duration:      1500 * time.Microsecond,
			Outcome:       model.OutcomeSuccess,
			Context: model.SpanContext{
				Database: &model.Database{Type: "sql", Statement: "SELECT * FROM users"},
			},
		}),
		model.TransactionEvent(&model.Transaction{
			ID:         testTx,
			TraceID:    testTrace,
			Name:       "GET /users",
			Type:       "request",
			Result:     "HTTP 2xx",
			Timestamp:  testTime,
			Duration:   25 * time.Millisecond,
			Outcome:    model.OutcomeSuccess,
			Sampled:    true,
			SampleRate: 0.5,
			SpanCount:  model.SpanCount{Started: 1, Dropped: 2},
			Context: model.Context{
				Request:  &model.Request{Method: "GET", URL: "http://localhost/users"},
				Response: &model.Response{StatusCode: 200},
			},
		}),
		model.ErrorEvent(&model.Error{
			ID:            id.SpanID{1, 2, 3, 4, 5, 6, 7, 8},
			TraceID:       testTrace,
			TransactionID: testTx,
			ParentID:      testTx,
			Timestamp:     testTime,
			Exception:     &model.Exception{Message: "boom", Type: "*errors.errorString"},
			Transaction:   model.ErrorTransaction{Sampled: true, Type: "request", Name: "GET /users"},
		}),
		model.MetricSetEvent(&model.MetricSet{
			Timestamp: testTime,
			Samples:   map[string]float64{"golang.goroutines": 12},
		}),
	}
}

func decodeLines(t *testing.T, body []byte) []map[string]interface{} {
	t.Helper()
	var lines []map[string]interface{}
	scanner := bufio.NewScanner(bytes.NewReader(body))
	for scanner.Scan() {
		var line map[string]interface{}
		require.NoError(t, sonic.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	require.NoError(t, scanner.Err())
	return lines
}

func TestIntakeEncoding(t *testing.T) {
	enc, err := New("intake", "none")
	require.NoError(t, err)

	payload, err := enc.Encode(testMetadata(), testEvents())
	require.NoError(t, err)

	assert.Equal(t, IntakePath, payload.Path)
	assert.Equal(t, IntakeContentType, payload.ContentType)
	assert.Empty(t, payload.ContentEncoding)
	assert.Equal(t, 4, payload.Events)

	lines := decodeLines(t, payload.Body)
	require.Len(t, lines, 5)

	md := lines[0]["metadata"].(map[string]interface{})
	service := md["service"].(map[string]interface{})
	assert.Equal(t, "checkout", service["name"])
	assert.Equal(t, "go", service["agent"].(map[string]interface{})["name"])

	span := lines[1]["span"].(map[string]interface{})
	assert.Equal(t, "00f067aa0ba902b7", span["id"])
	assert.Equal(t, "b7ad6b7169203331", span["parent_id"])
	assert.Equal(t, "0af7651916cd43dd8448eb211c80319c", span["trace_id"])
	assert.Equal(t, "postgresql", span["subtype"])
	assert.Equal(t, 1.5, span["duration"])
	assert.Equal(t, float64(1700000000123456), span["timestamp"])

	tx := lines[2]["transaction"].(map[string]interface{})
	assert.Equal(t, "GET /users", tx["name"])
	assert.Equal(t, 25.0, tx["duration"])
	assert.Equal(t, 0.5, tx["sample_rate"])
	assert.NotContains(t, tx, "parent_id")
	spanCount := tx["span_count"].(map[string]interface{})
	assert.Equal(t, 1.0, spanCount["started"])
	assert.Equal(t, 2.0, spanCount["dropped"])

	errLine := lines[3]["error"].(map[string]interface{})
	assert.Equal(t, "boom", errLine["exception"].(map[string]interface{})["message"])
	assert.Equal(t, true, errLine["transaction"].(map[string]interface{})["sampled"])

	ms := lines[4]["metricset"].(map[string]interface{})
	samples := ms["samples"].(map[string]interface{})
	assert.Equal(t, 12.0, samples["golang.goroutines"].(map[string]interface{})["value"])
}

func TestIntakeOmitsDefaultSampleRate(t *testing.T) {
	enc, err := New("intake", "none")
	require.NoError(t, err)

	payload, err := enc.Encode(testMetadata(), []model.Event{
		model.TransactionEvent(&model.Transaction{ID: testTx, TraceID: testTrace, SampleRate: 1, Sampled: true}),
	})
	require.NoError(t, err)

	lines := decodeLines(t, payload.Body)
	require.Len(t, lines, 2)
	assert.NotContains(t, lines[1]["transaction"], "sample_rate")
}

func TestIntakeEmptyBatchStillCarriesMetadata(t *testing.T) {
	enc, err := New("intake", "none")
	require.NoError(t, err)

	payload, err := enc.Encode(testMetadata(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, payload.Events)
	assert.Len(t, decodeLines(t, payload.Body), 1)
}

func TestCompression(t *testing.T) {
	tests := []struct {
		name       string
		compress   string
		encoding   string
		decompress func([]byte) ([]byte, error)
	}{
		{
			name:     "gzip",
			compress: "gzip",
			encoding: "gzip",
			decompress: func(b []byte) ([]byte, error) {
				r, err := gzip.NewReader(bytes.NewReader(b))
				if err != nil {
					return nil, err
				}
				return io.ReadAll(r)
			},
		},
		{
			name:     "zstd",
			compress: "zstd",
			encoding: "zstd",
			decompress: func(b []byte) ([]byte, error) {
				d, err := zstd.NewReader(nil)
				if err != nil {
					return nil, err
				}
				defer d.Close()
				return d.DecodeAll(b, nil)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plain, err := New("intake", "none")
			require.NoError(t, err)
			enc, err := New("intake", tt.compress)
			require.NoError(t, err)

			md := testMetadata()
			want, err := plain.Encode(md, testEvents())
			require.NoError(t, err)

			// Encode twice to exercise writer reuse
			for i := 0; i < 2; i++ {
				payload, err := enc.Encode(md, testEvents())
				require.NoError(t, err)
				assert.Equal(t, tt.encoding, payload.ContentEncoding)

				got, err := tt.decompress(payload.Body)
				require.NoError(t, err)
				assert.Equal(t, len(decodeLines(t, want.Body)), len(decodeLines(t, got)))
			}
		})
	}
}

func TestPayloadBodyIsCopied(t *testing.T) {
	enc, err := New("intake", "gzip")
	require.NoError(t, err)

	first, err := enc.Encode(testMetadata(), testEvents())
	require.NoError(t, err)
	snapshot := append([]byte(nil), first.Body...)

	_, err = enc.Encode(testMetadata(), testEvents()[:1])
	require.NoError(t, err)

	assert.Equal(t, snapshot, first.Body)
}

func TestOTLPEncoding(t *testing.T) {
	enc, err := New("otlp", "none")
	require.NoError(t, err)

	payload, err := enc.Encode(testMetadata(), testEvents())
	require.NoError(t, err)

	assert.Equal(t, OTLPPath, payload.Path)
	assert.Equal(t, OTLPContentType, payload.ContentType)
	// Metric sets are not carried
	assert.Equal(t, 3, payload.Events)

	var req coltracepb.ExportTraceServiceRequest
	require.NoError(t, proto.Unmarshal(payload.Body, &req))
	require.Len(t, req.ResourceSpans, 1)
	require.Len(t, req.ResourceSpans[0].ScopeSpans, 1)

	spans := req.ResourceSpans[0].ScopeSpans[0].Spans
	require.Len(t, spans, 3)

	span := spans[0]
	assert.Equal(t, testTrace[:], span.TraceId)
	assert.Equal(t, testSpan[:], span.SpanId)
	assert.Equal(t, testTx[:], span.ParentSpanId)
	assert.Equal(t, tracepb.Span_SPAN_KIND_CLIENT, span.Kind)
	assert.Equal(t, uint64(1500*time.Microsecond), span.EndTimeUnixNano-span.StartTimeUnixNano)

	tx := spans[1]
	assert.Equal(t, "GET /users", tx.Name)
	assert.Empty(t, tx.ParentSpanId)
	assert.Equal(t, tracepb.Span_SPAN_KIND_SERVER, tx.Kind)
	assert.Equal(t, tracepb.Status_STATUS_CODE_OK, tx.Status.Code)

	errSpan := spans[2]
	assert.Equal(t, tracepb.Status_STATUS_CODE_ERROR, errSpan.Status.Code)
	require.Len(t, errSpan.Events, 1)
	assert.Equal(t, "exception", errSpan.Events[0].Name)

	var serviceName string
	for _, kv := range req.ResourceSpans[0].Resource.Attributes {
		if kv.Key == "service.name" {
			serviceName = kv.Value.GetStringValue()
		}
	}
	assert.Equal(t, "checkout", serviceName)
}

func TestOTLPOnlyMetricsIsEmpty(t *testing.T) {
	enc, err := New("otlp", "gzip")
	require.NoError(t, err)

	payload, err := enc.Encode(testMetadata(), []model.Event{
		model.MetricSetEvent(model.NewMetricSet(testTime)),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, payload.Events)
}

func TestNewRejectsUnknown(t *testing.T) {
	_, err := New("thrift", "none")
	assert.Error(t, err)

	_, err = New("intake", "brotli")
	assert.Error(t, err)
}
