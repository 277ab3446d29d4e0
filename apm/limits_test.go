package apm

import (
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/GriffinCanCode/apmagent/internal/shared/id"
)

func TestDecideSamplingBounds(t *testing.T) {
	gen := id.NewGenerator()
	for i := 0; i < 100; i++ {
		traceID := gen.NewTraceID()
		assert.False(t, DecideSampling(traceID, 0))
		assert.True(t, DecideSampling(traceID, 1))
		assert.False(t, DecideSampling(traceID, -0.5))
		assert.True(t, DecideSampling(traceID, 2))
	}
}

func TestDecideSamplingIsDeterministic(t *testing.T) {
	gen := id.NewGenerator()
	sampled := 0
	for i := 0; i < 2000; i++ {
		traceID := gen.NewTraceID()
		first := DecideSampling(traceID, 0.5)
		for j := 0; j < 3; j++ {
			assert.Equal(t, first, DecideSampling(traceID, 0.5))
		}
		if first {
			sampled++
		}
	}
	assert.InDelta(t, 1000, sampled, 200)
}

func TestRoundSampleRate(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{0, 0},
		{-1, 0},
		{math.NaN(), 0},
		{1, 1},
		{3, 1},
		{0.5, 0.5},
		{0.123456, 0.1235},
		{0.00001, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, roundSampleRate(tt.in), "rate %v", tt.in)
	}
}

func TestSpanLimitConcurrent(t *testing.T) {
	l := &spanLimit{max: 50}

	var wg sync.WaitGroup
	for g := 0; g < 100; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				l.TryRegister()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, l.Started())
	assert.Equal(t, 950, l.Dropped())
}

func TestSpanLimitUnlimitedAndZero(t *testing.T) {
	unlimited := &spanLimit{max: -1}
	for i := 0; i < 1000; i++ {
		assert.True(t, unlimited.TryRegister())
	}
	assert.Equal(t, 1000, unlimited.Started())
	assert.Equal(t, 0, unlimited.Dropped())

	none := &spanLimit{max: 0}
	assert.False(t, none.TryRegister())
	assert.Equal(t, 1, none.Dropped())
}

func TestShouldCaptureStackTrace(t *testing.T) {
	tests := []struct {
		name      string
		duration  time.Duration
		threshold time.Duration
		want      bool
	}{
		{"disabled", time.Hour, -1, false},
		{"always", 0, 0, true},
		{"below", 4 * time.Millisecond, 5 * time.Millisecond, false},
		{"equal", 5 * time.Millisecond, 5 * time.Millisecond, true},
		{"above", 6 * time.Millisecond, 5 * time.Millisecond, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldCaptureStackTrace(tt.duration, tt.threshold))
		})
	}
}
