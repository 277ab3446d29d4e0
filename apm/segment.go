package apm

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/apmagent/model"
)

// TraceID identifies a distributed trace.
type TraceID = model.TraceID

// SpanID identifies a transaction, span or error.
type SpanID = model.SpanID

// Segment is the contract shared by transactions and spans: it can start
// children, capture errors, and end exactly once.
type Segment interface {
	// StartSpan starts a child span and makes it current in the returned
	// context.
	StartSpan(ctx context.Context, name, spanType string) (*Span, context.Context)
	// StartSpanOptions is StartSpan with explicit options.
	StartSpanOptions(ctx context.Context, name, spanType string, opts SpanOptions) (*Span, context.Context)
	// CaptureException enqueues an error record for err and marks the
	// segment failed.
	CaptureException(err error)
	// CaptureErrorLog enqueues an error record for a logged message and
	// marks the segment failed.
	CaptureErrorLog(message string)
	// SetOutcome overrides the outcome computed at End.
	SetOutcome(outcome model.Outcome)
	// SetLabel sets a label recorded with the segment.
	SetLabel(key, value string)
	// TraceContext returns the propagation identity of the segment.
	TraceContext() TraceContext
	// End ends the segment. Calls after the first are ignored.
	End()
	// Ended reports whether End has been called.
	Ended() bool
}

// segment holds the lifecycle state shared by transactions and spans.
type segment struct {
	tracer  *Tracer
	id      SpanID
	traceID TraceID
	start   time.Time

	mu         sync.Mutex
	name       string
	ended      bool
	duration   time.Duration
	outcome    model.Outcome
	outcomeSet bool
	failed     bool
	labels     map[string]string
	flow       *flow
}

func (s *segment) init(t *Tracer, name string, start time.Time) {
	if start.IsZero() {
		start = time.Now()
	}
	s.tracer = t
	s.name = name
	s.start = start
}

// finish moves the segment to ended and pops it from its flow. It returns
// false when the segment had already ended.
func (s *segment) finish(self Segment, kind string) bool {
	now := time.Now()

	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		s.tracer.logger.Debug("End called on an ended segment",
			zap.String("kind", kind),
			zap.String("id", s.id.String()))
		return false
	}
	s.ended = true
	s.duration = now.Sub(s.start)
	if s.duration < 0 {
		s.duration = 0
	}
	if !s.outcomeSet {
		s.outcome = model.OutcomeSuccess
		if s.failed {
			s.outcome = model.OutcomeFailure
		}
	}
	s.mu.Unlock()

	s.tracer.store.pop(s.flow, self)
	return true
}

func (s *segment) isEnded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *segment) setOutcome(o model.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	s.outcome = o
	s.outcomeSet = true
}

func (s *segment) markFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.failed = true
	}
}

func (s *segment) setLabel(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return
	}
	if s.labels == nil {
		s.labels = make(map[string]string)
	}
	s.labels[key] = value
}

func (s *segment) setName(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ended {
		s.name = name
	}
}

// snapshot returns the fields copied into the record at end.
func (s *segment) snapshot() (name string, duration time.Duration, outcome model.Outcome, labels map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.name, s.duration, s.outcome, s.labels
}
