/*
Package apm is the tracing API of the agent.

# Overview

A Tracer owns one event pipeline. Application code starts transactions and
spans through it. Segments ended by the application become immutable records
that are queued, batched and sent to the collector by a single background
dispatcher. A second goroutine samples process metrics into the same queue.

The current transaction and span travel inside a context.Context. Every
start call returns a derived context in which the new segment is current;
ending the segment restores its parent. Work handed to another goroutine
should use DetachedContext so the two flows do not see each other's
segments.

# Features

  - Deterministic sampling by trace id and configured rate
  - Per-transaction span limit with dropped-span accounting
  - Policy-gated stack traces for slow spans
  - Error capture that is queued immediately, independent of segment end
  - W3C trace-context propagation with an es tracestate entry
  - Live reconfiguration with SetConfig

Nothing in this package panics into, blocks or returns errors to
instrumented code. Over-limit and unsampled spans are a shared noop span.

# Usage

	tracer, err := apm.NewTracer(apm.TracerOptions{Logger: logger})
	if err != nil {
	    return err
	}
	defer tracer.Close(context.Background())

	tx, ctx := tracer.StartTransaction(ctx, "GET /users", "request")
	defer tx.End()

	span, ctx := apm.StartSpan(ctx, "SELECT users", "db.postgresql.query")
	rows, err := query(ctx)
	if err != nil {
	    span.CaptureException(err)
	}
	span.End()
*/
package apm
