package encoding

import (
	"bytes"
	"fmt"

	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"
	commonpb "go.opentelemetry.io/proto/otlp/common/v1"
	resourcepb "go.opentelemetry.io/proto/otlp/resource/v1"
	tracepb "go.opentelemetry.io/proto/otlp/trace/v1"
	"google.golang.org/protobuf/proto"

	"github.com/GriffinCanCode/apmagent/model"
)

const scopeName = "github.com/GriffinCanCode/apmagent"

type otlpCodec struct{}

func (otlpCodec) path() string        { return OTLPPath }
func (otlpCodec) contentType() string { return OTLPContentType }

func (otlpCodec) encode(buf *bytes.Buffer, md *model.Metadata, events []model.Event) (int, error) {
	spans := make([]*tracepb.Span, 0, len(events))
	for _, ev := range events {
		switch ev.Kind {
		case model.KindTransaction:
			spans = append(spans, otlpTransaction(ev.Transaction))
		case model.KindSpan:
			spans = append(spans, otlpSpan(ev.Span))
		case model.KindError:
			if !ev.Error.TraceID.IsZero() {
				spans = append(spans, otlpError(ev.Error))
			}
		}
	}
	if len(spans) == 0 {
		return 0, nil
	}

	req := &coltracepb.ExportTraceServiceRequest{
		ResourceSpans: []*tracepb.ResourceSpans{{
			Resource: otlpResource(md),
			ScopeSpans: []*tracepb.ScopeSpans{{
				Scope: &commonpb.InstrumentationScope{
					Name:    scopeName,
					Version: md.Service.AgentVersion,
				},
				Spans: spans,
			}},
		}},
	}

	data, err := proto.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("encode otlp request: %w", err)
	}
	buf.Write(data)
	return len(spans), nil
}

func otlpResource(md *model.Metadata) *resourcepb.Resource {
	attrs := []*commonpb.KeyValue{
		stringAttr("service.name", md.Service.Name),
		stringAttr("telemetry.sdk.name", "apmagent"),
		stringAttr("telemetry.sdk.language", "go"),
		stringAttr("telemetry.sdk.version", md.Service.AgentVersion),
		stringAttr("process.runtime.version", md.Service.RuntimeVersion),
		intAttr("process.pid", int64(md.Process.PID)),
	}
	if md.Service.Version != "" {
		attrs = append(attrs, stringAttr("service.version", md.Service.Version))
	}
	if md.Service.Environment != "" {
		attrs = append(attrs, stringAttr("deployment.environment", md.Service.Environment))
	}
	if md.System.Hostname != "" {
		attrs = append(attrs, stringAttr("host.name", md.System.Hostname))
	}
	attrs = appendLabels(attrs, md.Labels)
	return &resourcepb.Resource{Attributes: attrs}
}

func otlpTransaction(tx *model.Transaction) *tracepb.Span {
	kind := tracepb.Span_SPAN_KIND_INTERNAL
	if tx.Context.Request != nil {
		kind = tracepb.Span_SPAN_KIND_SERVER
	}

	attrs := []*commonpb.KeyValue{
		stringAttr("apm.transaction.type", tx.Type),
		intAttr("apm.span_count.started", int64(tx.SpanCount.Started)),
		intAttr("apm.span_count.dropped", int64(tx.SpanCount.Dropped)),
	}
	if tx.Result != "" {
		attrs = append(attrs, stringAttr("apm.transaction.result", tx.Result))
	}
	if r := tx.Context.Request; r != nil {
		attrs = append(attrs,
			stringAttr("http.request.method", r.Method),
			stringAttr("url.full", r.URL))
	}
	if r := tx.Context.Response; r != nil && r.StatusCode != 0 {
		attrs = append(attrs, intAttr("http.response.status_code", int64(r.StatusCode)))
	}
	attrs = appendLabels(attrs, tx.Context.Labels)

	return &tracepb.Span{
		TraceId:           tx.TraceID[:],
		SpanId:            tx.ID[:],
		ParentSpanId:      optionalID(tx.ParentID),
		Name:              tx.Name,
		Kind:              kind,
		StartTimeUnixNano: uint64(tx.Timestamp.UnixNano()),
		EndTimeUnixNano:   uint64(tx.Timestamp.Add(tx.Duration).UnixNano()),
		Attributes:        attrs,
		Status:            otlpStatus(tx.Outcome),
	}
}

func otlpSpan(s *model.Span) *tracepb.Span {
	kind := tracepb.Span_SPAN_KIND_INTERNAL
	if s.Context.Destination != nil || s.Context.HTTP != nil || s.Context.Database != nil {
		kind = tracepb.Span_SPAN_KIND_CLIENT
	}

	attrs := []*commonpb.KeyValue{stringAttr("apm.span.type", s.Type)}
	if s.Subtype != "" {
		attrs = append(attrs, stringAttr("apm.span.subtype", s.Subtype))
	}
	if s.Action != "" {
		attrs = append(attrs, stringAttr("apm.span.action", s.Action))
	}
	if d := s.Context.Destination; d != nil {
		attrs = append(attrs, stringAttr("server.address", d.Address))
		if d.Port != 0 {
			attrs = append(attrs, intAttr("server.port", int64(d.Port)))
		}
	}
	if db := s.Context.Database; db != nil {
		attrs = append(attrs,
			stringAttr("db.system", db.Type),
			stringAttr("db.statement", db.Statement))
	}
	if h := s.Context.HTTP; h != nil {
		attrs = append(attrs,
			stringAttr("http.request.method", h.Method),
			stringAttr("url.full", h.URL))
		if h.StatusCode != 0 {
			attrs = append(attrs, intAttr("http.response.status_code", int64(h.StatusCode)))
		}
	}
	attrs = appendLabels(attrs, s.Context.Labels)

	return &tracepb.Span{
		TraceId:           s.TraceID[:],
		SpanId:            s.ID[:],
		ParentSpanId:      optionalID(s.ParentID),
		Name:              s.Name,
		Kind:              kind,
		StartTimeUnixNano: uint64(s.Timestamp.UnixNano()),
		EndTimeUnixNano:   uint64(s.Timestamp.Add(s.Duration).UnixNano()),
		Attributes:        attrs,
		Status:            otlpStatus(s.Outcome),
	}
}

// otlpError represents a captured error as a zero-length span carrying an
// exception event, parented to the segment that was active.
func otlpError(e *model.Error) *tracepb.Span {
	ts := uint64(e.Timestamp.UnixNano())

	var attrs []*commonpb.KeyValue
	message := ""
	switch {
	case e.Exception != nil:
		message = e.Exception.Message
		attrs = append(attrs,
			stringAttr("exception.message", e.Exception.Message),
			stringAttr("exception.type", e.Exception.Type))
	case e.Log != nil:
		message = e.Log.Message
		attrs = append(attrs, stringAttr("exception.message", e.Log.Message))
	}
	if e.Culprit != "" {
		attrs = append(attrs, stringAttr("code.function", e.Culprit))
	}

	return &tracepb.Span{
		TraceId:           e.TraceID[:],
		SpanId:            e.ID[:],
		ParentSpanId:      optionalID(e.ParentID),
		Name:              "error",
		Kind:              tracepb.Span_SPAN_KIND_INTERNAL,
		StartTimeUnixNano: ts,
		EndTimeUnixNano:   ts,
		Events: []*tracepb.Span_Event{{
			TimeUnixNano: ts,
			Name:         "exception",
			Attributes:   attrs,
		}},
		Status: &tracepb.Status{Code: tracepb.Status_STATUS_CODE_ERROR, Message: message},
	}
}

func otlpStatus(o model.Outcome) *tracepb.Status {
	switch o {
	case model.OutcomeSuccess:
		return &tracepb.Status{Code: tracepb.Status_STATUS_CODE_OK}
	case model.OutcomeFailure:
		return &tracepb.Status{Code: tracepb.Status_STATUS_CODE_ERROR}
	default:
		return &tracepb.Status{Code: tracepb.Status_STATUS_CODE_UNSET}
	}
}

func optionalID(s model.SpanID) []byte {
	if s.IsZero() {
		return nil
	}
	return append([]byte(nil), s[:]...)
}

func stringAttr(key, value string) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_StringValue{StringValue: value}},
	}
}

func intAttr(key string, value int64) *commonpb.KeyValue {
	return &commonpb.KeyValue{
		Key:   key,
		Value: &commonpb.AnyValue{Value: &commonpb.AnyValue_IntValue{IntValue: value}},
	}
}

func appendLabels(attrs []*commonpb.KeyValue, labels map[string]string) []*commonpb.KeyValue {
	for k, v := range labels {
		attrs = append(attrs, stringAttr("labels."+k, v))
	}
	return attrs
}
