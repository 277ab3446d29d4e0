package transport

import (
	"context"
	"errors"
	"fmt"
)

// Payload is one encoded batch ready to send.
type Payload struct {
	// Path is appended to the transport's base URL.
	Path            string
	ContentType     string
	ContentEncoding string
	Body            []byte
	// Events is the number of records in Body.
	Events int
}

// Transport delivers payloads to a collector. Send must be safe to call from
// one goroutine at a time; the dispatcher never calls it concurrently.
type Transport interface {
	Send(ctx context.Context, p *Payload) error
}

// Func adapts a function to the Transport interface.
type Func func(ctx context.Context, p *Payload) error

// Send calls f
func (f Func) Send(ctx context.Context, p *Payload) error {
	return f(ctx, p)
}

// Discard accepts and drops every payload.
var Discard Transport = Func(func(context.Context, *Payload) error { return nil })

// ErrorKind classifies a send failure.
type ErrorKind int

const (
	// Transient failures may succeed on retry
	Transient ErrorKind = iota
	// Fatal failures will never succeed for this payload
	Fatal
)

// String returns the string representation of the kind
func (k ErrorKind) String() string {
	if k == Fatal {
		return "fatal"
	}
	return "transient"
}

// Error is a classified send failure.
type Error struct {
	Kind       ErrorKind
	StatusCode int    // 0 when no response was received
	Message    string // collector response body, truncated
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("%s send error: status %d: %s", e.Kind, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s send error: status %d", e.Kind, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s send error: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s send error", e.Kind)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewTransient wraps err as a retryable failure
func NewTransient(statusCode int, err error) *Error {
	return &Error{Kind: Transient, StatusCode: statusCode, Err: err}
}

// NewFatal wraps err as a non-retryable failure
func NewFatal(statusCode int, err error) *Error {
	return &Error{Kind: Fatal, StatusCode: statusCode, Err: err}
}

// IsFatal reports whether err is a fatal send failure. Errors that are not
// *Error are transient.
func IsFatal(err error) bool {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind == Fatal
	}
	return false
}

// StatusCode extracts the collector status code from err, or 0.
func StatusCode(err error) int {
	var te *Error
	if errors.As(err, &te) {
		return te.StatusCode
	}
	return 0
}
