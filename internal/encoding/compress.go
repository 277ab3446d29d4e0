package encoding

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// compressor compresses a complete body. The returned slice is only valid
// until the next call.
type compressor interface {
	Compress(body []byte) ([]byte, error)
	Encoding() string
}

func newCompressor(name string) (compressor, error) {
	switch name {
	case "", "none":
		return identity{}, nil
	case "gzip":
		w, err := gzip.NewWriterLevel(nil, gzip.DefaultCompression)
		if err != nil {
			return nil, err
		}
		return &gzipCompressor{w: w}, nil
	case "zstd":
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, err
		}
		return &zstdCompressor{enc: enc}, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", name)
	}
}

type identity struct{}

func (identity) Compress(body []byte) ([]byte, error) { return body, nil }
func (identity) Encoding() string                     { return "" }

type gzipCompressor struct {
	w   *gzip.Writer
	buf bytes.Buffer
}

func (c *gzipCompressor) Compress(body []byte) ([]byte, error) {
	c.buf.Reset()
	c.w.Reset(&c.buf)
	if _, err := c.w.Write(body); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	if err := c.w.Close(); err != nil {
		return nil, fmt.Errorf("gzip: %w", err)
	}
	return c.buf.Bytes(), nil
}

func (c *gzipCompressor) Encoding() string { return "gzip" }

type zstdCompressor struct {
	enc *zstd.Encoder
	out []byte
}

func (c *zstdCompressor) Compress(body []byte) ([]byte, error) {
	c.out = c.enc.EncodeAll(body, c.out[:0])
	return c.out, nil
}

func (c *zstdCompressor) Encoding() string { return "zstd" }
