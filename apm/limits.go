package apm

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
)

// roundSampleRate rounds rate to four decimal places and clamps it to [0, 1].
func roundSampleRate(rate float64) float64 {
	if math.IsNaN(rate) || rate <= 0 {
		return 0
	}
	if rate >= 1 {
		return 1
	}
	return math.Round(rate*10000) / 10000
}

// DecideSampling reports whether a trace is sampled at rate. The decision is
// a pure function of the trace id and the rounded rate.
func DecideSampling(traceID TraceID, rate float64) bool {
	rate = roundSampleRate(rate)
	switch rate {
	case 0:
		return false
	case 1:
		return true
	}
	threshold := uint64(rate * math.MaxUint64)
	return xxhash.Sum64(traceID[:]) < threshold
}

// spanLimit counts the child spans of one transaction.
type spanLimit struct {
	max     int
	started atomic.Int64
	dropped atomic.Int64
}

// TryRegister claims a slot for a new child span. Once max spans have been
// started it counts the span as dropped and returns false. A negative max
// is unlimited.
func (l *spanLimit) TryRegister() bool {
	if l.max < 0 {
		l.started.Add(1)
		return true
	}
	for {
		n := l.started.Load()
		if n >= int64(l.max) {
			l.dropped.Add(1)
			return false
		}
		if l.started.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

// Started returns the number of registered spans.
func (l *spanLimit) Started() int { return int(l.started.Load()) }

// Dropped returns the number of rejected spans.
func (l *spanLimit) Dropped() int { return int(l.dropped.Load()) }

// ShouldCaptureStackTrace reports whether a span that took duration gets a
// stack trace. A negative threshold disables capture.
func ShouldCaptureStackTrace(duration, threshold time.Duration) bool {
	if threshold < 0 {
		return false
	}
	return duration >= threshold
}
