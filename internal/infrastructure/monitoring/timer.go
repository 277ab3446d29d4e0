package monitoring

import (
	"time"
)

// Timer measures a batch send attempt
type Timer struct {
	start   time.Time
	metrics *Metrics
}

// NewTimer creates a new timer
func NewTimer(metrics *Metrics) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
	}
}

// Elapsed returns the time since the timer started
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// Sent records a successful send of events and returns the elapsed time
func (t *Timer) Sent(events int) time.Duration {
	d := t.Elapsed()
	t.metrics.RecordBatchSent(events, d)
	return d
}

// Failed records a failed attempt and returns the elapsed time
func (t *Timer) Failed() time.Duration {
	d := t.Elapsed()
	t.metrics.RecordSendAttempt(d)
	return d
}
