// Package model defines the immutable records produced by the tracer.
//
// Records are created when a segment ends (transactions, spans), when an
// error is captured, or when the metrics sampler takes a sample. Once built,
// a record is owned by the event queue and no longer mutated.
//
// Record types:
//   - Transaction: root traced unit of work
//   - Span: sub-operation within a transaction
//   - Error: captured exception or error log
//   - MetricSet: timestamped set of metric samples
//
// Event is the tagged variant carried through the queue; exactly one of its
// pointer fields is set, as indicated by Kind.
package model

import (
	"time"

	"github.com/GriffinCanCode/apmagent/internal/shared/id"
)

// TraceID identifies a distributed trace (16 bytes, hex encoded on the wire).
type TraceID = id.TraceID

// SpanID identifies a transaction, span or error (8 bytes, hex encoded on the wire).
type SpanID = id.SpanID

// Outcome describes whether a segment succeeded.
type Outcome string

const (
	OutcomeUnknown Outcome = "unknown"
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Kind identifies which record an Event carries.
type Kind int

const (
	KindTransaction Kind = iota
	KindSpan
	KindError
	KindMetricSet
)

// String returns the wire name of the kind
func (k Kind) String() string {
	switch k {
	case KindTransaction:
		return "transaction"
	case KindSpan:
		return "span"
	case KindError:
		return "error"
	case KindMetricSet:
		return "metricset"
	default:
		return "unknown"
	}
}

// Kinds lists every record kind in a stable order.
var Kinds = []Kind{KindTransaction, KindSpan, KindError, KindMetricSet}

// Event is a single queued record.
type Event struct {
	Kind        Kind
	Transaction *Transaction
	Span        *Span
	Error       *Error
	MetricSet   *MetricSet
}

// TransactionEvent wraps a transaction record
func TransactionEvent(tx *Transaction) Event {
	return Event{Kind: KindTransaction, Transaction: tx}
}

// SpanEvent wraps a span record
func SpanEvent(s *Span) Event {
	return Event{Kind: KindSpan, Span: s}
}

// ErrorEvent wraps an error record
func ErrorEvent(e *Error) Event {
	return Event{Kind: KindError, Error: e}
}

// MetricSetEvent wraps a metric set record
func MetricSetEvent(m *MetricSet) Event {
	return Event{Kind: KindMetricSet, MetricSet: m}
}

// Timestamp returns the record's start or sample time.
func (e Event) Timestamp() time.Time {
	switch e.Kind {
	case KindTransaction:
		return e.Transaction.Timestamp
	case KindSpan:
		return e.Span.Timestamp
	case KindError:
		return e.Error.Timestamp
	case KindMetricSet:
		return e.MetricSet.Timestamp
	}
	return time.Time{}
}

// StackFrame is a single captured call frame.
type StackFrame struct {
	Function string
	Module   string
	File     string
	Line     int
}
