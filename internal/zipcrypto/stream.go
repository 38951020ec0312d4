package zipcrypto

import (
	"io"
)

// HeaderSize is the length of the random header that precedes
// ZipCrypto-encrypted entry data.
const HeaderSize = 12

// Writer encrypts a ZipCrypto stream, emitting the 12-byte random header on
// the first write.
type Writer struct {
	dst         io.Writer
	keys        Keys
	wroteHeader bool
	header      [HeaderSize]byte
}

// NewWriter wraps dst with ZipCrypto encryption using password. header must
// be HeaderSize random bytes whose last byte has already been set to the
// check byte (see HeaderCheckByte); callers own randomness so the same
// cipher can be driven deterministically in tests.
func NewWriter(dst io.Writer, password []byte, header [HeaderSize]byte) *Writer {
	return &Writer{dst: dst, keys: NewKeys(password), header: header}
}

func (w *Writer) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		var enc [HeaderSize]byte
		for i, c := range w.header {
			enc[i] = w.keys.EncryptByte(c)
		}
		if _, err := w.dst.Write(enc[:]); err != nil {
			return 0, err
		}
		w.wroteHeader = true
	}
	out := make([]byte, len(p))
	for i, c := range p {
		out[i] = w.keys.EncryptByte(c)
	}
	n, err := w.dst.Write(out)
	return n, err
}
