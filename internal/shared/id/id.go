// Package id provides trace and span identifier generation for the agent.
//
// Trace ids are ULIDs:
//   - 16 bytes, matching the W3C trace-context trace-id width
//   - K-sortable: the leading 48 bits are a millisecond timestamp
//   - Random tail from a cryptographically secure source
//
// Span ids (transactions, spans, errors) are 8 random bytes.
//
// Generation is guarded by a single entropy mutex. Tests can supply a
// deterministic entropy source with NewGeneratorWithEntropy.
package id

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// TraceID identifies a whole distributed trace.
type TraceID [16]byte

// SpanID identifies a single transaction, span or error.
type SpanID [8]byte

// String returns the lowercase hex encoding.
func (id TraceID) String() string { return hex.EncodeToString(id[:]) }

// String returns the lowercase hex encoding.
func (id SpanID) String() string { return hex.EncodeToString(id[:]) }

// IsZero reports whether the id is all zeroes, which is invalid on the wire.
func (id TraceID) IsZero() bool { return id == TraceID{} }

// IsZero reports whether the id is all zeroes, which is invalid on the wire.
func (id SpanID) IsZero() bool { return id == SpanID{} }

// Generator generates trace and span ids
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the process-wide generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a generator backed by crypto/rand
func NewGenerator() *Generator {
	return &Generator{
		entropy: rand.Reader,
	}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Useful for testing with deterministic entropy
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// NewTraceID returns a fresh ULID-backed trace id. It never returns the zero id.
func (g *Generator) NewTraceID() TraceID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	for {
		u, err := ulid.New(ulid.Timestamp(time.Now()), g.entropy)
		if err != nil {
			// Exhausted or broken entropy; fall back to crypto/rand.
			g.entropy = rand.Reader
			continue
		}
		if tid := TraceID(u); !tid.IsZero() {
			return tid
		}
	}
}

// NewSpanID returns 8 random bytes. It never returns the zero id.
func (g *Generator) NewSpanID() SpanID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return g.readSpanID()
}

// NewSpanIDs generates count span ids under a single lock acquisition
func (g *Generator) NewSpanIDs(count int) []SpanID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	ids := make([]SpanID, count)
	for i := range ids {
		ids[i] = g.readSpanID()
	}
	return ids
}

// readSpanID must be called with entropyMu held.
func (g *Generator) readSpanID() SpanID {
	for {
		var sid SpanID
		if _, err := io.ReadFull(g.entropy, sid[:]); err != nil {
			g.entropy = rand.Reader
			continue
		}
		if !sid.IsZero() {
			return sid
		}
	}
}

// ParseTraceID decodes a 32 character hex trace id.
func ParseTraceID(s string) (TraceID, error) {
	var tid TraceID
	if err := decodeHex(s, tid[:]); err != nil {
		return TraceID{}, fmt.Errorf("invalid trace id %q: %w", s, err)
	}
	if tid.IsZero() {
		return TraceID{}, fmt.Errorf("invalid trace id %q: all zeroes", s)
	}
	return tid, nil
}

// ParseSpanID decodes a 16 character hex span id.
func ParseSpanID(s string) (SpanID, error) {
	var sid SpanID
	if err := decodeHex(s, sid[:]); err != nil {
		return SpanID{}, fmt.Errorf("invalid span id %q: %w", s, err)
	}
	if sid.IsZero() {
		return SpanID{}, fmt.Errorf("invalid span id %q: all zeroes", s)
	}
	return sid, nil
}

// Timestamp extracts the generation time from a ULID-backed trace id.
// Trace ids received from other agents carry arbitrary bytes, so the result
// is only meaningful for ids generated in-process.
func Timestamp(tid TraceID) time.Time {
	return ulid.Time(ulid.ULID(tid).Time())
}

func decodeHex(s string, dst []byte) error {
	if len(s) != hex.EncodedLen(len(dst)) {
		return fmt.Errorf("expected %d hex characters, got %d", hex.EncodedLen(len(dst)), len(s))
	}
	_, err := hex.Decode(dst, []byte(s))
	return err
}
