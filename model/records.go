package model

import (
	"time"
)

// Transaction is the record of an ended, sampled transaction.
type Transaction struct {
	ID         SpanID
	TraceID    TraceID
	ParentID   SpanID // remote parent, zero for trace roots
	Name       string
	Type       string
	Result     string
	Timestamp  time.Time
	Duration   time.Duration
	Outcome    Outcome
	Sampled    bool
	SampleRate float64
	SpanCount  SpanCount
	Context    Context
}

// SpanCount reports how many child spans were started and how many were
// dropped by the per-transaction limit.
type SpanCount struct {
	Started int
	Dropped int
}

// Span is the record of an ended span.
type Span struct {
	ID            SpanID
	ParentID      SpanID
	TransactionID SpanID
	TraceID       TraceID
	Name          string
	Type          string
	Subtype       string
	Action        string
	Timestamp     time.Time
	Duration      time.Duration
	Outcome       Outcome
	Stacktrace    []StackFrame
	Context       SpanContext
}

// Error is the record of a captured exception or error log.
type Error struct {
	ID            SpanID
	TraceID       TraceID
	TransactionID SpanID
	ParentID      SpanID
	Timestamp     time.Time
	Culprit       string
	Exception     *Exception
	Log           *ErrorLog
	Transaction   ErrorTransaction
}

// Exception describes a captured Go error.
type Exception struct {
	Message    string
	Type       string
	Handled    bool
	Stacktrace []StackFrame
}

// ErrorLog describes an error captured from a log message.
type ErrorLog struct {
	Message    string
	Level      string
	LoggerName string
}

// ErrorTransaction carries the owning transaction's attributes for correlation.
type ErrorTransaction struct {
	Sampled bool
	Type    string
	Name    string
}

// MetricSet is a timestamped collection of samples.
type MetricSet struct {
	Timestamp time.Time
	Labels    map[string]string
	Samples   map[string]float64
}

// NewMetricSet creates an empty metric set stamped with ts
func NewMetricSet(ts time.Time) *MetricSet {
	return &MetricSet{
		Timestamp: ts,
		Samples:   make(map[string]float64),
	}
}

// Add records a sample, overwriting any previous value with the same name.
func (m *MetricSet) Add(name string, value float64) {
	m.Samples[name] = value
}
