package apm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GriffinCanCode/apmagent/model"
)

// errorParent identifies the segment an error is captured under. The zero
// value captures an error outside any trace.
type errorParent struct {
	traceID     TraceID
	txID        SpanID
	parentID    SpanID
	transaction *Transaction
}

func (p errorParent) record(t *Tracer) *model.Error {
	e := &model.Error{
		ID:            t.ids.NewSpanID(),
		TraceID:       p.traceID,
		TransactionID: p.txID,
		ParentID:      p.parentID,
		Timestamp:     time.Now(),
	}
	if tx := p.transaction; !tx.inactive() {
		e.Transaction = model.ErrorTransaction{
			Sampled: tx.sampled,
			Type:    tx.typ,
			Name:    tx.Name(),
		}
	}
	return e
}

func (t *Tracer) captureException(p errorParent, err error) {
	defer t.recoverPanic("capture exception")
	if t.closed.Load() {
		return
	}

	cfg := t.config()
	stack := captureStacktrace(1, cfg.Tracing.StackTraceLimit)

	e := p.record(t)
	e.Culprit = culprit(stack)
	e.Exception = &model.Exception{
		Message:    err.Error(),
		Type:       errorType(err),
		Handled:    true,
		Stacktrace: stack,
	}
	t.enqueue(model.ErrorEvent(e))
}

func (t *Tracer) captureLog(p errorParent, message string) {
	defer t.recoverPanic("capture error log")
	if t.closed.Load() {
		return
	}

	e := p.record(t)
	e.Culprit = culprit(captureStacktrace(1, 1))
	e.Log = &model.ErrorLog{Message: message, Level: "error"}
	t.enqueue(model.ErrorEvent(e))
}

// errorType names the innermost error in err's chain.
func errorType(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return fmt.Sprintf("%T", err)
		}
		err = next
	}
}

// CaptureError captures err under the segment current in ctx, or outside any
// trace when there is none.
func (t *Tracer) CaptureError(ctx context.Context, err error) {
	if t == nil || err == nil {
		return
	}
	if seg := t.store.current(ctx); seg != nil {
		seg.CaptureException(err)
		return
	}
	if !t.config().Tracing.Recording {
		return
	}
	t.captureException(errorParent{}, err)
}
