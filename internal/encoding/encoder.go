package encoding

import (
	"bytes"
	"fmt"

	"github.com/GriffinCanCode/apmagent/model"
	"github.com/GriffinCanCode/apmagent/transport"
)

// Protocol paths and content types.
const (
	IntakePath        = "/intake/v2/events"
	IntakeContentType = "application/x-ndjson"
	OTLPPath          = "/v1/traces"
	OTLPContentType   = "application/x-protobuf"
)

// codec writes the uncompressed body for a batch and returns the number of
// events it actually carried.
type codec interface {
	encode(buf *bytes.Buffer, md *model.Metadata, events []model.Event) (int, error)
	path() string
	contentType() string
}

// Encoder turns batches into transport payloads.
type Encoder struct {
	codec    codec
	compress compressor
	buf      bytes.Buffer
}

// New creates an encoder for protocol ("intake" or "otlp") and compression
// ("gzip", "zstd" or "none").
func New(protocol, compression string) (*Encoder, error) {
	var c codec
	switch protocol {
	case "", "intake":
		c = intakeCodec{}
	case "otlp":
		c = otlpCodec{}
	default:
		return nil, fmt.Errorf("unknown protocol %q", protocol)
	}

	comp, err := newCompressor(compression)
	if err != nil {
		return nil, err
	}
	return &Encoder{codec: c, compress: comp}, nil
}

// Encode serializes events into a payload. The payload body is a fresh copy
// and stays valid after the next call. Payload.Events reports how many
// events the body carries; zero means there is nothing to send.
func (e *Encoder) Encode(md *model.Metadata, events []model.Event) (*transport.Payload, error) {
	e.buf.Reset()
	n, err := e.codec.encode(&e.buf, md, events)
	if err != nil {
		return nil, err
	}

	body, err := e.compress.Compress(e.buf.Bytes())
	if err != nil {
		return nil, err
	}

	return &transport.Payload{
		Path:            e.codec.path(),
		ContentType:     e.codec.contentType(),
		ContentEncoding: e.compress.Encoding(),
		Body:            append([]byte(nil), body...),
		Events:          n,
	}, nil
}
