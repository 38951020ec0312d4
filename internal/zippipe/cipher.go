package zippipe

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/zvault/zvault/internal/zipcrypto"
)

// Encryption identifies which cipher filter, if any, wraps an entry's
// compressed data.
type Encryption int

const (
	EncryptionNone Encryption = iota
	EncryptionZipCrypto
	EncryptionAES128
	EncryptionAES192
	EncryptionAES256
)

func (e Encryption) aesBits() int {
	switch e {
	case EncryptionAES128:
		return 128
	case EncryptionAES192:
		return 192
	case EncryptionAES256:
		return 256
	default:
		return 0
	}
}

// ErrAuthentication is returned by DecryptReader/DecryptAESReader when the
// password fails the check byte or verifier, and by the verify func that
// DecryptAESReader returns when the authentication tag doesn't match.
var ErrAuthentication = fmt.Errorf("zippipe: authentication failed")

// aesTailReader buffers the final AuthTagSize bytes of src so the stream
// it exposes never includes the trailing HMAC tag, which arrives
// interleaved with ciphertext in a single-pass read.
type aesTailReader struct {
	src  io.Reader
	buf  []byte // holds up to AuthTagSize+readahead unread bytes
	err  error
}

func newAESTailReader(src io.Reader) *aesTailReader {
	return &aesTailReader{src: src}
}

func (r *aesTailReader) fill(need int) {
	if r.err != nil {
		return
	}
	chunk := make([]byte, 32*1024)
	for len(r.buf) < need {
		n, err := r.src.Read(chunk)
		r.buf = append(r.buf, chunk[:n]...)
		if err != nil {
			r.err = err
			return
		}
	}
}

// Read returns plaintext bytes while always keeping the last AuthTagSize
// bytes of the source buffered as the (not-yet-confirmed) tag.
func (r *aesTailReader) Read(p []byte) (int, error) {
	const tag = 10 // zipcrypto.AuthTagSize
	r.fill(len(p) + tag)
	avail := len(r.buf) - tag
	if avail <= 0 {
		if r.err != nil && r.err != io.EOF {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := avail
	if n > len(p) {
		n = len(p)
	}
	copy(p, r.buf[:n])
	r.buf = r.buf[n:]
	return n, nil
}

// Tag returns the trailing AuthTagSize bytes once the stream is drained.
func (r *aesTailReader) Tag() []byte {
	r.fill(10)
	if len(r.buf) < 10 {
		return r.buf
	}
	return r.buf[len(r.buf)-10:]
}

// DecryptReader wraps raw (the bytes following the local header, before
// any decompression) with the cipher filter appropriate to enc, returning
// the plaintext-of-compressed-data stream and a verify function to call
// after the stream has been fully read (EOF observed).
//
// The ZipCrypto check byte is validated here, eagerly, rather than on the
// stream's first Read: deferring it into the Read path would let a
// downstream decompressor (flate in particular) observe the resulting
// error first and report its own "corrupt input" instead, masking the
// real cause. Checking it upfront matches DecryptAESReader's eager
// verifier check below and guarantees ErrAuthentication is what callers
// see for a wrong password.
func DecryptReader(enc Encryption, password []byte, checkByte byte, raw io.Reader) (io.Reader, func() error, error) {
	switch enc {
	case EncryptionNone:
		return raw, func() error { return nil }, nil
	case EncryptionZipCrypto:
		var header [zipcrypto.HeaderSize]byte
		if _, err := io.ReadFull(raw, header[:]); err != nil {
			return nil, nil, err
		}
		keys := zipcrypto.NewKeys(password)
		var last byte
		for _, c := range header {
			last = keys.DecryptByte(c)
		}
		if last != checkByte {
			return nil, nil, ErrAuthentication
		}
		return &zipCryptoBodyReader{src: raw, keys: keys}, func() error { return nil }, nil
	case EncryptionAES128, EncryptionAES192, EncryptionAES256:
		return nil, nil, fmt.Errorf("zippipe: AES decrypt requires salt; use DecryptAESReader")
	default:
		return nil, nil, fmt.Errorf("zippipe: unknown encryption method")
	}
}

// zipCryptoBodyReader decrypts a ZipCrypto stream whose random header has
// already been consumed and verified by DecryptReader.
type zipCryptoBodyReader struct {
	src  io.Reader
	keys zipcrypto.Keys
}

func (r *zipCryptoBodyReader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	for i := 0; i < n; i++ {
		p[i] = r.keys.DecryptByte(p[i])
	}
	return n, err
}

// DecryptAESReader reads the salt and 2-byte verifier from raw, derives
// keys, and returns a plaintext stream plus a verify function that
// checks the trailing HMAC tag once called after EOF.
func DecryptAESReader(bits int, password []byte, raw io.Reader) (io.Reader, func() error, error) {
	salt := make([]byte, zipcrypto.SaltSize(bits))
	if _, err := io.ReadFull(raw, salt); err != nil {
		return nil, nil, err
	}
	var verifier [2]byte
	if _, err := io.ReadFull(raw, verifier[:]); err != nil {
		return nil, nil, err
	}
	keys, err := zipcrypto.Derive(password, salt, bits)
	if err != nil {
		return nil, nil, err
	}
	if !zipcrypto.CheckVerifier(verifier, keys) {
		return nil, nil, ErrAuthentication
	}
	tailed := newAESTailReader(raw)
	cryptReader, err := zipcrypto.NewWinZipAESReader(tailed, keys)
	if err != nil {
		return nil, nil, err
	}
	verify := func() error {
		tag := tailed.Tag()
		if !cryptReader.CheckTag(tag) {
			return ErrAuthentication
		}
		return nil
	}
	return cryptReader, verify, nil
}

// EncryptZipCryptoWriter wraps dst with ZipCrypto encryption, writing a
// freshly randomized 12-byte header whose last byte is the check byte.
func EncryptZipCryptoWriter(password []byte, checkByte byte, dst io.Writer) (io.Writer, error) {
	var header [zipcrypto.HeaderSize]byte
	if _, err := rand.Read(header[:]); err != nil {
		return nil, err
	}
	header[zipcrypto.HeaderSize-1] = checkByte
	return zipcrypto.NewWriter(dst, password, header), nil
}

// AESWriter wraps dst with WinZip AES encryption: it writes the salt and
// verifier immediately, encrypts everything subsequently written, and
// exposes Tag (to be appended by the caller) once writing is done.
type AESWriter struct {
	dst io.Writer
	w   *zipcrypto.WinZipAESWriter
}

// NewAESWriter derives fresh keys from password and a random salt sized
// for bits, writes [salt|verifier] to dst, and returns an AESWriter for the
// ciphertext; after the last Write the caller appends its Tag() to dst.
func NewAESWriter(bits int, password []byte, dst io.Writer) (*AESWriter, error) {
	salt := make([]byte, zipcrypto.SaltSize(bits))
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	keys, err := zipcrypto.Derive(password, salt, bits)
	if err != nil {
		return nil, err
	}
	if _, err := dst.Write(salt); err != nil {
		return nil, err
	}
	if _, err := dst.Write(keys.Verifier[:]); err != nil {
		return nil, err
	}
	w, err := zipcrypto.NewWinZipAESWriter(dst, keys)
	if err != nil {
		return nil, err
	}
	return &AESWriter{dst: dst, w: w}, nil
}

func (a *AESWriter) Write(p []byte) (int, error) { return a.w.Write(p) }

// Tag returns the 10-byte authentication tag; the caller must append it
// to the output stream after the last Write.
func (a *AESWriter) Tag() []byte { return a.w.Tag() }
