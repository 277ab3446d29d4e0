package logging

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
)

// Throttled rate-limits repetitive warnings per key. Drop and overflow
// diagnostics can fire on every event; only one line per key per interval
// reaches the log, annotated with how many were suppressed.
type Throttled struct {
	logger   *Logger
	interval time.Duration

	mu       sync.Mutex
	limiters map[string]*throttleEntry
}

type throttleEntry struct {
	limiter    *rate.Limiter
	suppressed atomic.Uint64
}

// NewThrottled creates a throttled logger emitting at most one line per key
// per interval.
func NewThrottled(logger *Logger, interval time.Duration) *Throttled {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Throttled{
		logger:   logger,
		interval: interval,
		limiters: make(map[string]*throttleEntry),
	}
}

// Warn logs msg under key unless key already logged within the interval.
func (t *Throttled) Warn(key, msg string, fields ...zap.Field) {
	t.log(key, zapcore.WarnLevel, msg, fields...)
}

// Error logs msg at error level under the same throttling as Warn.
func (t *Throttled) Error(key, msg string, fields ...zap.Field) {
	t.log(key, zapcore.ErrorLevel, msg, fields...)
}

func (t *Throttled) log(key string, level zapcore.Level, msg string, fields ...zap.Field) {
	entry := t.entry(key)
	if !entry.limiter.Allow() {
		entry.suppressed.Add(1)
		return
	}
	if n := entry.suppressed.Swap(0); n > 0 {
		fields = append(fields, zap.Uint64("suppressed", n))
	}
	if ce := t.logger.Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}

func (t *Throttled) entry(key string) *throttleEntry {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.limiters[key]
	if !ok {
		e = &throttleEntry{limiter: rate.NewLimiter(rate.Every(t.interval), 1)}
		t.limiters[key] = e
	}
	return e
}
