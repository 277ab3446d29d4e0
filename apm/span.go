package apm

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/apmagent/model"
)

// SpanOptions control how a span starts.
type SpanOptions struct {
	// Subtype and Action refine the span type. When both are empty and the
	// type is dotted, as in "db.postgresql.query", they are split from it.
	Subtype string
	Action  string
	// Start overrides the start time. Zero means now.
	Start time.Time
	// ExitSpan marks a call to an external service. Exit spans record a
	// destination and cannot have children.
	ExitSpan bool
	// Parent reconstructs a span from a remote trace context when passed to
	// Tracer.StartSpan. It is ignored elsewhere.
	Parent TraceContext
}

// Span is a traced operation within a transaction. The noop span returned
// for unsampled or over-limit work is safe to use; every method does nothing.
type Span struct {
	segment

	noop     bool
	parent   Segment
	limit    *spanLimit
	txID     SpanID
	parentID SpanID
	txState  TraceState
	typ      string
	subtype  string
	action   string
	exit     bool

	// Guarded by segment.mu
	context model.SpanContext

	transaction *Transaction
}

// noopSpan is shared by every dropped or unsampled span.
var noopSpan = &Span{noop: true}

func (s *Span) inactive() bool {
	return s == nil || s.noop
}

// spanParent describes where a new span hangs in the trace.
type spanParent struct {
	segment     Segment
	transaction *Transaction
	limit       *spanLimit
	traceID     TraceID
	txID        SpanID
	parentID    SpanID
	traceState  TraceState
}

func (t *Tracer) startSpan(ctx context.Context, p spanParent, name, spanType string, opts SpanOptions) (span *Span, outCtx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("Recovered panic starting span", zap.Any("panic", r))
			span, outCtx = noopSpan, ctx
		}
	}()

	if !p.limit.TryRegister() {
		t.metrics.RecordSpanDropped()
		return noopSpan, ctx
	}

	if spanType == "" {
		spanType = "custom"
	}
	subtype, action := opts.Subtype, opts.Action
	if subtype == "" && action == "" {
		if parts := strings.SplitN(spanType, ".", 3); len(parts) > 1 {
			spanType, subtype = parts[0], parts[1]
			if len(parts) == 3 {
				action = parts[2]
			}
		}
	}

	state := p.traceState
	if p.transaction != nil {
		state = p.transaction.traceState
	}

	s := &Span{
		parent:      p.segment,
		transaction: p.transaction,
		limit:       p.limit,
		txID:        p.txID,
		parentID:    p.parentID,
		txState:     state,
		typ:         spanType,
		subtype:     subtype,
		action:      action,
		exit:        opts.ExitSpan,
	}
	s.init(t, name, opts.Start)
	s.id = t.ids.NewSpanID()
	s.traceID = p.traceID
	if s.exit {
		resource := subtype
		if resource == "" {
			resource = spanType
		}
		s.context.Destination = &model.Destination{Resource: resource}
	}

	outCtx, s.flow = t.store.push(ctx, s)
	return s, outCtx
}

// StartSpan starts an orphan span under a remote parent. It returns the noop
// span unless opts.Parent is a valid, sampled trace context.
func (t *Tracer) StartSpan(ctx context.Context, name, spanType string, transactionID SpanID, opts SpanOptions) (*Span, context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	if t == nil || t.closed.Load() || !opts.Parent.Valid() || !opts.Parent.Options.Recorded() {
		return noopSpan, ctx
	}
	cfg := t.config()
	if !cfg.Tracing.Recording {
		return noopSpan, ctx
	}
	limit := &spanLimit{max: cfg.Tracing.TransactionMaxSpans}
	return t.startSpan(ctx, spanParent{
		limit:      limit,
		traceID:    opts.Parent.Trace,
		txID:       transactionID,
		parentID:   opts.Parent.Span,
		traceState: opts.Parent.State,
	}, name, spanType, opts)
}

// Dropped reports whether this is the noop span.
func (s *Span) Dropped() bool {
	return s.inactive()
}

// ID returns the span id.
func (s *Span) ID() SpanID {
	if s.inactive() {
		return SpanID{}
	}
	return s.id
}

// TraceID returns the id of the trace the span belongs to.
func (s *Span) TraceID() TraceID {
	if s.inactive() {
		return TraceID{}
	}
	return s.traceID
}

// TransactionID returns the id of the owning transaction.
func (s *Span) TransactionID() SpanID {
	if s.inactive() {
		return SpanID{}
	}
	return s.txID
}

// ParentID returns the id of the parent segment.
func (s *Span) ParentID() SpanID {
	if s.inactive() {
		return SpanID{}
	}
	return s.parentID
}

// Transaction returns the owning transaction, or nil for orphan spans.
func (s *Span) Transaction() *Transaction {
	if s.inactive() {
		return nil
	}
	return s.transaction
}

// Name returns the span name.
func (s *Span) Name() string {
	if s.inactive() {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name
}

// Type returns the span type, subtype and action.
func (s *Span) Type() (spanType, subtype, action string) {
	if s.inactive() {
		return "", "", ""
	}
	return s.typ, s.subtype, s.action
}

// SetName renames the span.
func (s *Span) SetName(name string) {
	if !s.inactive() {
		s.setName(name)
	}
}

// SetDestination records the address of the service an exit span calls.
func (s *Span) SetDestination(address string, port int) {
	if s.inactive() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	if s.context.Destination == nil {
		s.context.Destination = &model.Destination{}
	}
	s.context.Destination.Address = address
	s.context.Destination.Port = port
}

// SetDatabase records the database call the span represents.
func (s *Span) SetDatabase(db model.Database) {
	if s.inactive() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.context.Database = &db
	}
}

// SetHTTP records the outgoing HTTP request the span represents.
func (s *Span) SetHTTP(h model.HTTPSpan) {
	if s.inactive() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.context.HTTP = &h
	}
}

// SetOutcome implements Segment.
func (s *Span) SetOutcome(outcome model.Outcome) {
	if !s.inactive() {
		s.setOutcome(outcome)
	}
}

// SetLabel implements Segment.
func (s *Span) SetLabel(key, value string) {
	if !s.inactive() {
		s.setLabel(key, value)
	}
}

// Ended implements Segment. The noop span reports false.
func (s *Span) Ended() bool {
	return !s.inactive() && s.isEnded()
}

// TraceContext implements Segment. The noop span returns the zero value.
func (s *Span) TraceContext() TraceContext {
	if s.inactive() {
		return TraceContext{}
	}
	return TraceContext{
		Trace:   s.traceID,
		Span:    s.id,
		Options: TraceOptions(0).WithRecorded(true),
		State:   s.txState,
	}
}

// StartSpan implements Segment.
func (s *Span) StartSpan(ctx context.Context, name, spanType string) (*Span, context.Context) {
	return s.StartSpanOptions(ctx, name, spanType, SpanOptions{})
}

// StartSpanOptions implements Segment. Exit spans have no children; they
// return the noop span.
func (s *Span) StartSpanOptions(ctx context.Context, name, spanType string, opts SpanOptions) (*Span, context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.inactive() || s.exit {
		return noopSpan, ctx
	}
	return s.tracer.startSpan(ctx, spanParent{
		segment:     s,
		transaction: s.transaction,
		limit:       s.limit,
		traceID:     s.traceID,
		txID:        s.txID,
		parentID:    s.id,
		traceState:  s.txState,
	}, name, spanType, opts)
}

// CaptureException implements Segment.
func (s *Span) CaptureException(err error) {
	if s.inactive() || err == nil {
		return
	}
	s.markFailed()
	s.tracer.captureException(s.errorParent(), err)
}

// CaptureErrorLog implements Segment.
func (s *Span) CaptureErrorLog(message string) {
	if s.inactive() {
		return
	}
	s.markFailed()
	s.tracer.captureLog(s.errorParent(), message)
}

func (s *Span) errorParent() errorParent {
	return errorParent{
		traceID:     s.traceID,
		txID:        s.txID,
		parentID:    s.id,
		transaction: s.transaction,
	}
}

// End implements Segment. A span that ends after its parent is discarded.
func (s *Span) End() {
	if s.inactive() {
		return
	}
	defer s.tracer.recoverPanic("span end")

	if !s.finish(s, "span") {
		return
	}
	if s.parent != nil && s.parent.Ended() {
		s.tracer.logger.Warn("Span ended after its parent, discarding",
			zap.String("span_id", s.id.String()),
			zap.String("parent_id", s.parentID.String()))
		return
	}

	name, duration, outcome, labels := s.snapshot()
	s.mu.Lock()
	ctx := s.context
	ctx.Labels = labels
	ctx = ctx.Clone()
	s.mu.Unlock()

	record := &model.Span{
		ID:            s.id,
		ParentID:      s.parentID,
		TransactionID: s.txID,
		TraceID:       s.traceID,
		Name:          name,
		Type:          s.typ,
		Subtype:       s.subtype,
		Action:        s.action,
		Timestamp:     s.start,
		Duration:      duration,
		Outcome:       outcome,
		Context:       ctx,
	}

	cfg := s.tracer.config()
	if ShouldCaptureStackTrace(duration, cfg.Tracing.SpanStackTraceMinDuration) {
		record.Stacktrace = captureStacktrace(1, cfg.Tracing.StackTraceLimit)
	}
	s.tracer.enqueue(model.SpanEvent(record))
}

var _ Segment = (*Span)(nil)
