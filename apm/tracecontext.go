package apm

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// TraceparentHeader is the W3C trace-context header.
	TraceparentHeader = "Traceparent"
	// TracestateHeader carries vendor state alongside traceparent.
	TracestateHeader = "Tracestate"
	// ElasticTraceparentHeader is the legacy header read when traceparent
	// is absent.
	ElasticTraceparentHeader = "Elastic-Apm-Traceparent"

	traceparentVersion = 0
	traceparentLen     = 55
)

var (
	// ErrInvalidTraceparent is returned for a malformed traceparent header.
	ErrInvalidTraceparent = errors.New("invalid traceparent header")
)

// TraceOptions holds the trace-context flags.
type TraceOptions uint8

const traceOptionsRecordedFlag TraceOptions = 0x01

// Recorded reports whether the sampled flag is set.
func (o TraceOptions) Recorded() bool {
	return o&traceOptionsRecordedFlag != 0
}

// WithRecorded returns o with the sampled flag set to recorded.
func (o TraceOptions) WithRecorded(recorded bool) TraceOptions {
	if recorded {
		return o | traceOptionsRecordedFlag
	}
	return o &^ traceOptionsRecordedFlag
}

// TraceContext is the propagated identity of a segment: the trace it belongs
// to, its own id as the remote parent, and the sampling decision.
type TraceContext struct {
	Trace   TraceID
	Span    SpanID
	Options TraceOptions
	State   TraceState
}

// Valid reports whether both ids are non-zero.
func (tc TraceContext) Valid() bool {
	return !tc.Trace.IsZero() && !tc.Span.IsZero()
}

// ParseTraceparentHeader parses a W3C traceparent value of the form
// 00-<trace id>-<parent id>-<flags>. Future versions are accepted as long as
// the version 00 prefix is intact.
func ParseTraceparentHeader(h string) (TraceContext, error) {
	var tc TraceContext
	h = strings.TrimSpace(h)
	if len(h) < traceparentLen || h[2] != '-' || h[35] != '-' || h[52] != '-' {
		return tc, ErrInvalidTraceparent
	}

	version, err := hex.DecodeString(h[:2])
	if err != nil || version[0] == 0xff {
		return tc, fmt.Errorf("%w: bad version %q", ErrInvalidTraceparent, h[:2])
	}
	if version[0] == traceparentVersion && len(h) != traceparentLen {
		return tc, fmt.Errorf("%w: trailing data", ErrInvalidTraceparent)
	}
	if len(h) > traceparentLen && h[traceparentLen] != '-' {
		return tc, fmt.Errorf("%w: trailing data", ErrInvalidTraceparent)
	}

	if _, err := hex.Decode(tc.Trace[:], []byte(h[3:35])); err != nil {
		return TraceContext{}, fmt.Errorf("%w: trace id: %v", ErrInvalidTraceparent, err)
	}
	if _, err := hex.Decode(tc.Span[:], []byte(h[36:52])); err != nil {
		return TraceContext{}, fmt.Errorf("%w: parent id: %v", ErrInvalidTraceparent, err)
	}
	if !isLowerHex(h[3:52]) {
		return TraceContext{}, fmt.Errorf("%w: uppercase hex", ErrInvalidTraceparent)
	}
	if tc.Trace.IsZero() || tc.Span.IsZero() {
		return TraceContext{}, fmt.Errorf("%w: zero id", ErrInvalidTraceparent)
	}

	var flags [1]byte
	if _, err := hex.Decode(flags[:], []byte(h[53:55])); err != nil {
		return TraceContext{}, fmt.Errorf("%w: flags: %v", ErrInvalidTraceparent, err)
	}
	tc.Options = TraceOptions(flags[0])
	return tc, nil
}

// FormatTraceparentHeader formats tc as a version 00 traceparent value.
func FormatTraceparentHeader(tc TraceContext) string {
	var b strings.Builder
	b.Grow(traceparentLen)
	b.WriteString("00-")
	b.WriteString(tc.Trace.String())
	b.WriteByte('-')
	b.WriteString(tc.Span.String())
	b.WriteByte('-')
	b.WriteString(hex.EncodeToString([]byte{byte(tc.Options)}))
	return b.String()
}

func isLowerHex(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '-' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') {
			continue
		}
		return false
	}
	return true
}

// TraceState is the opaque W3C tracestate list. The agent owns only the
// "es" entry, which carries the sample rate as es=s:<rate>.
type TraceState string

const elasticTraceStateKey = "es"

// NewTraceState returns other with its es entry replaced by one recording
// rate. The es entry goes first, as the most recently updated entry.
func NewTraceState(rate float64, other TraceState) TraceState {
	entry := elasticTraceStateKey + "=s:" + formatSampleRate(rate)
	rest := other.without(elasticTraceStateKey)
	if rest == "" {
		return TraceState(entry)
	}
	return TraceState(entry + "," + rest)
}

// SampleRate returns the rate carried by the es entry, if any.
func (ts TraceState) SampleRate() (float64, bool) {
	for _, member := range strings.Split(string(ts), ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(member), "=")
		if !ok || key != elasticTraceStateKey {
			continue
		}
		for _, attr := range strings.Split(value, ";") {
			k, v, ok := strings.Cut(attr, ":")
			if !ok || k != "s" {
				continue
			}
			rate, err := strconv.ParseFloat(v, 64)
			if err != nil || rate < 0 || rate > 1 {
				return 0, false
			}
			return rate, true
		}
	}
	return 0, false
}

// String returns the header value.
func (ts TraceState) String() string { return string(ts) }

func (ts TraceState) without(key string) string {
	if ts == "" {
		return ""
	}
	var kept []string
	for _, member := range strings.Split(string(ts), ",") {
		member = strings.TrimSpace(member)
		if member == "" {
			continue
		}
		if k, _, _ := strings.Cut(member, "="); k == key {
			continue
		}
		kept = append(kept, member)
	}
	return strings.Join(kept, ",")
}

func formatSampleRate(rate float64) string {
	return strconv.FormatFloat(roundSampleRate(rate), 'f', -1, 64)
}
