// Package zippipe composes the per-entry decode and encode pipelines: an
// optional cipher filter, a compression codec, and a CRC32 accumulator,
// chained the way xenking-zipstream's crcReader wraps its decompressor.
package zippipe

import (
	"bufio"
	"compress/bzip2"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/flate"
)

// Compression method IDs, per APPNOTE.TXT section 4.4.5.
const (
	MethodStore   uint16 = 0
	MethodDeflate uint16 = 8
	MethodBzip2   uint16 = 12
)

// crcReader wraps an io.Reader, accumulating a running CRC32 over every
// byte read and comparing it against want once the underlying reader
// reports EOF.
type crcReader struct {
	r     io.Reader
	hash  uint32
	want  uint32
	check bool
}

// NewCRCReader returns a reader that accumulates CRC32 over r and, once r
// is exhausted, compares the accumulated value against want. The mismatch
// is reported as ErrChecksum on the Read call that observes EOF.
func NewCRCReader(r io.Reader, want uint32) io.Reader {
	return &crcReader{r: r, want: want}
}

// ErrChecksum is returned when a decoded entry's CRC32 doesn't match the
// value recorded in its header or data descriptor.
var ErrChecksum = fmt.Errorf("zippipe: checksum mismatch")

func (c *crcReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.hash = crc32.Update(c.hash, crc32.IEEETable, p[:n])
	}
	if err == io.EOF && !c.check {
		c.check = true
		if c.hash != c.want {
			return n, ErrChecksum
		}
	}
	return n, err
}

// CRCWriter accumulates a running CRC32 over everything written, for the
// encode side where the checksum isn't known until the entry's data has
// been fully produced.
type CRCWriter struct {
	w    io.Writer
	hash uint32
}

// NewCRCWriter returns a writer that tees through w while tracking a
// running CRC32, retrievable via Sum once writing is complete.
func NewCRCWriter(w io.Writer) *CRCWriter {
	return &CRCWriter{w: w}
}

func (c *CRCWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	if n > 0 {
		c.hash = crc32.Update(c.hash, crc32.IEEETable, p[:n])
	}
	return n, err
}

// Sum returns the CRC32 accumulated so far.
func (c *CRCWriter) Sum() uint32 { return c.hash }

// Decompressor returns a reader that decodes r according to method, or an
// error if the method isn't supported for reading.
func Decompressor(method uint16, r io.Reader) (io.Reader, error) {
	switch method {
	case MethodStore:
		return r, nil
	case MethodDeflate:
		fr := flate.NewReader(r)
		return fr, nil
	case MethodBzip2:
		return bzip2.NewReader(r), nil
	default:
		return nil, fmt.Errorf("zippipe: unsupported compression method %d", method)
	}
}

// Compressor wraps w so that bytes written to the result are encoded
// according to method and emitted to w. The returned io.WriteCloser's
// Close flushes any buffered codec state but does not close w.
func Compressor(method uint16, level int, w io.Writer) (io.WriteCloser, error) {
	switch method {
	case MethodStore:
		return nopWriteCloser{w}, nil
	case MethodDeflate:
		fw, err := flate.NewWriter(w, level)
		if err != nil {
			return nil, err
		}
		return fw, nil
	case MethodBzip2:
		return nil, fmt.Errorf("zippipe: bzip2 encoding is not supported (%w)", errUnsupportedWrite)
	default:
		return nil, fmt.Errorf("zippipe: unsupported compression method %d", method)
	}
}

var errUnsupportedWrite = fmt.Errorf("no third-party bzip2 encoder available")

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// BufferedReader wraps r in a bufio.Reader sized generously enough to
// amortize the small reads compression codecs and cipher filters tend to
// issue against the underlying archive backing store.
func BufferedReader(r io.Reader) *bufio.Reader {
	return bufio.NewReaderSize(r, 32*1024)
}
