package core

// streaming.go wraps raw CSV input for constant-memory processing:
//
//   - CountingReader tracks raw bytes consumed for progress reporting
//   - NewDecodingReader converts the source charset to UTF-8, skipping a
//     UTF-8 BOM and replacing invalid sequences with U+FFFD
//
// Use WrapForStreaming to apply both in the correct order.

import (
	"fmt"
	"io"
	"strings"
	"sync/atomic"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Supported CSV source encodings.
const (
	EncodingUTF8        = "utf-8"
	EncodingWindows1252 = "windows-1252"
	EncodingISO88591    = "iso-8859-1"
)

// CountingReader counts bytes read from the underlying reader. Count is
// safe to call from another goroutine while reads are in progress.
type CountingReader struct {
	reader io.Reader
	count  atomic.Int64
}

// NewCountingReader creates a CountingReader.
func NewCountingReader(r io.Reader) *CountingReader {
	return &CountingReader{reader: r}
}

func (c *CountingReader) Read(p []byte) (int, error) {
	n, err := c.reader.Read(p)
	c.count.Add(int64(n))
	return n, err
}

// Count returns the number of bytes read so far.
func (c *CountingReader) Count() int64 {
	return c.count.Load()
}

func decoderFor(name string) (*encoding.Decoder, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", EncodingUTF8, "utf8":
		return unicode.UTF8.NewDecoder(), nil
	case EncodingWindows1252, "cp1252":
		return charmap.Windows1252.NewDecoder(), nil
	case EncodingISO88591, "latin1":
		return charmap.ISO8859_1.NewDecoder(), nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", name)
	}
}

// NewDecodingReader returns a reader producing UTF-8 from r, which is encoded
// in the named charset. A leading UTF-8 BOM is always dropped.
func NewDecodingReader(r io.Reader, encodingName string) (io.Reader, error) {
	dec, err := decoderFor(encodingName)
	if err != nil {
		return nil, err
	}
	// BOMOverride switches to UTF-8 (or UTF-16) when a BOM is present and
	// otherwise falls through to dec.
	return transform.NewReader(r, unicode.BOMOverride(dec)), nil
}

// WrapForStreaming counts raw bytes and then decodes them to UTF-8. The
// returned CountingReader reports progress against the on-disk file size.
func WrapForStreaming(r io.Reader, encodingName string) (io.Reader, *CountingReader, error) {
	counter := NewCountingReader(r)
	decoded, err := NewDecodingReader(counter, encodingName)
	if err != nil {
		return nil, nil, err
	}
	return decoded, counter, nil
}
