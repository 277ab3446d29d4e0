// Package testutil provides test doubles shared by the agent's packages.
package testutil

import (
	"bufio"
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/apmagent/transport"
)

// RecordingTransport records every payload it accepts. Calls can be scripted
// to fail with a sequence of errors before it starts succeeding.
type RecordingTransport struct {
	mu       sync.Mutex
	payloads []*transport.Payload
	script   []error
	calls    int
	delay    time.Duration
	notify   chan struct{}
}

// NewRecordingTransport creates a transport that returns errs in order, one
// per call, and succeeds once they are used up.
func NewRecordingTransport(errs ...error) *RecordingTransport {
	return &RecordingTransport{
		script: errs,
		notify: make(chan struct{}, 1024),
	}
}

// SetDelay makes every Send block for d or until its context is done.
func (t *RecordingTransport) SetDelay(d time.Duration) {
	t.mu.Lock()
	t.delay = d
	t.mu.Unlock()
}

// Send implements transport.Transport.
func (t *RecordingTransport) Send(ctx context.Context, p *transport.Payload) error {
	t.mu.Lock()
	delay := t.delay
	t.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}

	t.mu.Lock()
	var err error
	if t.calls < len(t.script) {
		err = t.script[t.calls]
	}
	t.calls++
	if err == nil {
		t.payloads = append(t.payloads, p)
	}
	t.mu.Unlock()

	select {
	case t.notify <- struct{}{}:
	default:
	}
	return err
}

// Calls returns how many times Send was invoked.
func (t *RecordingTransport) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// Payloads returns the accepted payloads in arrival order.
func (t *RecordingTransport) Payloads() []*transport.Payload {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*transport.Payload(nil), t.payloads...)
}

// Lines decodes every accepted uncompressed intake payload and returns the
// event lines, skipping metadata, keyed by their record type.
func (t *RecordingTransport) Lines(tb testing.TB) []Line {
	tb.Helper()
	var out []Line
	for _, p := range t.Payloads() {
		out = append(out, DecodeIntake(tb, p.Body)...)
	}
	return out
}

// Records returns the decoded records of kind across all payloads.
func (t *RecordingTransport) Records(tb testing.TB, kind string) []map[string]interface{} {
	tb.Helper()
	var out []map[string]interface{}
	for _, l := range t.Lines(tb) {
		if l.Kind == kind {
			out = append(out, l.Fields)
		}
	}
	return out
}

// WaitForCalls blocks until Send has been called at least n times or the
// timeout elapses, and reports whether the count was reached.
func (t *RecordingTransport) WaitForCalls(n int, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for t.Calls() < n {
		select {
		case <-t.notify:
		case <-deadline.C:
			return t.Calls() >= n
		}
	}
	return true
}

// Line is one decoded intake event line.
type Line struct {
	Kind   string
	Fields map[string]interface{}
}

// DecodeIntake splits an uncompressed NDJSON intake body into event lines.
// The metadata line is dropped.
func DecodeIntake(tb testing.TB, body []byte) []Line {
	tb.Helper()
	var out []Line
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var raw map[string]map[string]interface{}
		require.NoError(tb, sonic.Unmarshal(scanner.Bytes(), &raw))
		for kind, fields := range raw {
			if kind == "metadata" {
				continue
			}
			out = append(out, Line{Kind: kind, Fields: fields})
		}
	}
	require.NoError(tb, scanner.Err())
	return out
}

var _ transport.Transport = (*RecordingTransport)(nil)
