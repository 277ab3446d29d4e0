package apm

import (
	"context"
)

// TransactionFromContext returns the transaction active in ctx, or nil.
func TransactionFromContext(ctx context.Context) *Transaction {
	if f := flowFromContext(ctx); f != nil {
		return f.store.currentTransaction(ctx)
	}
	return nil
}

// SpanFromContext returns the innermost span active in ctx, or nil.
func SpanFromContext(ctx context.Context) *Span {
	if f := flowFromContext(ctx); f != nil {
		return f.store.currentSpan(ctx)
	}
	return nil
}

// SegmentFromContext returns the innermost active segment in ctx, or nil.
func SegmentFromContext(ctx context.Context) Segment {
	if f := flowFromContext(ctx); f != nil {
		return f.store.current(ctx)
	}
	return nil
}

// DetachedContext returns a context for work handed to another goroutine.
// The new flow sees the segments current in ctx, but segments it starts are
// invisible to ctx and the other way round.
func DetachedContext(ctx context.Context) context.Context {
	if f := flowFromContext(ctx); f != nil {
		return f.store.fork(ctx)
	}
	return ctx
}

// StartSpan starts a span under the segment current in ctx. Without one it
// returns the noop span.
func StartSpan(ctx context.Context, name, spanType string) (*Span, context.Context) {
	return StartSpanOptions(ctx, name, spanType, SpanOptions{})
}

// StartSpanOptions is StartSpan with explicit options.
func StartSpanOptions(ctx context.Context, name, spanType string, opts SpanOptions) (*Span, context.Context) {
	if seg := SegmentFromContext(ctx); seg != nil {
		return seg.StartSpanOptions(ctx, name, spanType, opts)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return noopSpan, ctx
}

// CaptureError captures err under the segment current in ctx. Without one
// it does nothing; use Tracer.CaptureError to record errors outside a trace.
func CaptureError(ctx context.Context, err error) {
	if seg := SegmentFromContext(ctx); seg != nil {
		seg.CaptureException(err)
	}
}
