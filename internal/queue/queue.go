package queue

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/apmagent/internal/infrastructure/logging"
	"github.com/GriffinCanCode/apmagent/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/apmagent/model"
)

// Policy selects what is dropped when the queue is full.
type Policy int32

const (
	DropNewest Policy = iota
	DropOldest
)

// String returns the config name of the policy
func (p Policy) String() string {
	if p == DropOldest {
		return "oldest"
	}
	return "newest"
}

// ParsePolicy maps a config value to a Policy. Unknown values map to DropNewest.
func ParsePolicy(s string) Policy {
	if strings.EqualFold(s, "oldest") {
		return DropOldest
	}
	return DropNewest
}

// Stats is a point-in-time view of queue counters.
type Stats struct {
	Len      int
	Cap      int
	Enqueued uint64
	// Dropped counts events lost to overflow, indexed by model.Kind.
	Dropped [4]uint64
}

// TotalDropped sums dropped events over all kinds.
func (s Stats) TotalDropped() uint64 {
	var n uint64
	for _, d := range s.Dropped {
		n += d
	}
	return n
}

// Queue is a bounded, multi-producer single-consumer FIFO of events.
type Queue struct {
	events chan model.Event
	wake   chan struct{}
	policy atomic.Int32

	enqueued atomic.Uint64
	dropped  [4]atomic.Uint64

	metrics *monitoring.Metrics
	warn    *logging.Throttled
}

// Option configures a Queue.
type Option func(*Queue)

// WithMetrics reports enqueue and drop counts to m.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(q *Queue) { q.metrics = m }
}

// WithLogger reports drops through a throttled warning.
func WithLogger(l *logging.Logger) Option {
	return func(q *Queue) { q.warn = logging.NewThrottled(l, time.Minute) }
}

// New creates a queue holding at most capacity events.
func New(capacity int, policy Policy, opts ...Option) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	q := &Queue{
		events: make(chan model.Event, capacity),
		wake:   make(chan struct{}, 1),
	}
	q.policy.Store(int32(policy))
	for _, opt := range opts {
		opt(q)
	}
	if q.warn == nil {
		q.warn = logging.NewThrottled(logging.NewNop(), time.Minute)
	}
	return q
}

// SetPolicy changes the overflow policy for subsequent enqueues.
func (q *Queue) SetPolicy(p Policy) {
	q.policy.Store(int32(p))
}

// Policy returns the current overflow policy.
func (q *Queue) Policy() Policy {
	return Policy(q.policy.Load())
}

// Enqueue adds ev without blocking. It reports whether ev was accepted.
func (q *Queue) Enqueue(ev model.Event) bool {
	select {
	case q.events <- ev:
		q.accepted(ev)
		return true
	default:
	}

	if q.Policy() == DropOldest {
		select {
		case old := <-q.events:
			q.drop(old, monitoring.ReasonQueueEvicted)
		default:
		}
		select {
		case q.events <- ev:
			q.accepted(ev)
			return true
		default:
			// Lost the slot to a concurrent producer.
		}
	}

	q.drop(ev, monitoring.ReasonQueueFull)
	return false
}

func (q *Queue) accepted(ev model.Event) {
	q.enqueued.Add(1)
	q.metrics.RecordEnqueued(ev.Kind.String())
}

func (q *Queue) drop(ev model.Event, reason string) {
	if int(ev.Kind) < len(q.dropped) {
		q.dropped[ev.Kind].Add(1)
	}
	q.metrics.RecordEventDropped(ev.Kind.String(), reason)
	q.warn.Warn("queue."+reason, "Event queue full, dropping event",
		zap.String("kind", ev.Kind.String()),
		zap.String("reason", reason),
		zap.Int("capacity", cap(q.events)))
}

// DequeueBatch blocks until maxItems events are collected, maxWait elapses,
// Wake is called, or ctx is done, and returns what it collected. It may
// return an empty batch. A non-positive maxWait does not block.
func (q *Queue) DequeueBatch(ctx context.Context, maxItems int, maxWait time.Duration) []model.Event {
	if maxItems <= 0 {
		maxItems = 1
	}
	if maxWait <= 0 {
		return q.TryDequeue(maxItems)
	}

	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	batch := make([]model.Event, 0, maxItems)
	for len(batch) < maxItems {
		select {
		case ev := <-q.events:
			batch = append(batch, ev)
			continue
		default:
		}

		select {
		case ev := <-q.events:
			batch = append(batch, ev)
		case <-q.wake:
			return q.drainInto(batch, maxItems)
		case <-timer.C:
			return batch
		case <-ctx.Done():
			return batch
		}
	}
	return batch
}

// TryDequeue returns up to maxItems ready events without blocking.
func (q *Queue) TryDequeue(maxItems int) []model.Event {
	return q.drainInto(make([]model.Event, 0, min(maxItems, len(q.events))), maxItems)
}

func (q *Queue) drainInto(batch []model.Event, maxItems int) []model.Event {
	for len(batch) < maxItems {
		select {
		case ev := <-q.events:
			batch = append(batch, ev)
		default:
			return batch
		}
	}
	return batch
}

// Wake makes a pending or the next DequeueBatch return immediately.
func (q *Queue) Wake() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of queued events.
func (q *Queue) Len() int {
	return len(q.events)
}

// Cap returns the queue capacity.
func (q *Queue) Cap() int {
	return cap(q.events)
}

// Stats returns the current counters.
func (q *Queue) Stats() Stats {
	s := Stats{
		Len:      q.Len(),
		Cap:      q.Cap(),
		Enqueued: q.enqueued.Load(),
	}
	for i := range q.dropped {
		s.Dropped[i] = q.dropped[i].Load()
	}
	return s
}
