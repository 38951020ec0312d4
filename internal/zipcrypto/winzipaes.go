package zipcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha1"
	"errors"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

// AuthTagSize is the length of the truncated HMAC-SHA1 authentication tag
// appended after a WinZip AES entry's ciphertext.
const AuthTagSize = 10

// ErrAESAuthentication is returned when the password verifier or the
// authentication tag doesn't match.
var ErrAESAuthentication = errors.New("zipcrypto: winzip aes authentication failed")

// SaltSize returns the PBKDF2 salt length for a given AES key size in bits
// (128/192/256), or 0 if bits isn't one of those.
func SaltSize(bits int) int {
	switch bits {
	case 128:
		return 8
	case 192:
		return 12
	case 256:
		return 16
	default:
		return 0
	}
}

// DerivedKeys is the PBKDF2 output for a WinZip AES password: the AES
// encryption key, the HMAC-SHA1 authentication key, and the 2-byte
// password verifier.
type DerivedKeys struct {
	CipherKey []byte
	MACKey    []byte
	Verifier  [2]byte
}

// Derive runs PBKDF2-HMAC-SHA1 with 1000 iterations over password and salt,
// producing 2*(bits/8)+2 bytes split into cipher key, MAC key, and
// verifier, per the AE-1/AE-2 specification.
func Derive(password, salt []byte, bits int) (DerivedKeys, error) {
	keyBytes := bits / 8
	total := 2*keyBytes + 2
	out := pbkdf2.Key(password, salt, 1000, total, sha1.New)
	var d DerivedKeys
	d.CipherKey = out[:keyBytes]
	d.MACKey = out[keyBytes : 2*keyBytes]
	copy(d.Verifier[:], out[2*keyBytes:])
	return d, nil
}

// counterStream runs the little-endian 128-bit counter WinZip AES uses,
// starting at 1 and incrementing per 16-byte block. crypto/cipher's CTR
// mode increments its counter as a big-endian blob, so we maintain the
// counter ourselves and feed a fresh cipher.Block+iv pair each block.
type counterStream struct {
	block   cipher.Block
	counter uint64 // little-endian block counter, starts at 1
	buf     [aes.BlockSize]byte
	pos     int // consumed bytes within buf (0 means buf needs a refill)
}

func newCounterStream(block cipher.Block) *counterStream {
	return &counterStream{block: block, counter: 1, pos: aes.BlockSize}
}

func (s *counterStream) XORKeyStream(dst, src []byte) {
	for len(src) > 0 {
		if s.pos == aes.BlockSize {
			var iv [aes.BlockSize]byte
			// little-endian counter, low 8 bytes only (matches the AE-1/
			// AE-2 spec and every known interoperable implementation).
			c := s.counter
			for i := 0; i < 8; i++ {
				iv[i] = byte(c)
				c >>= 8
			}
			s.block.Encrypt(s.buf[:], iv[:])
			s.counter++
			s.pos = 0
		}
		n := aes.BlockSize - s.pos
		if n > len(src) {
			n = len(src)
		}
		for i := 0; i < n; i++ {
			dst[i] = src[i] ^ s.buf[s.pos+i]
		}
		dst = dst[n:]
		src = src[n:]
		s.pos += n
	}
}

// WinZipAESReader decrypts and authenticates a WinZip AES entry stream.
// The caller must have already consumed the salt and 2-byte verifier from
// the underlying stream and validated the verifier via CheckVerifier;
// WinZipAESReader then decrypts the ciphertext portion, and CheckTag
// validates the trailing 10-byte HMAC tag once the stream is drained.
type WinZipAESReader struct {
	src    io.Reader
	stream *counterStream
	mac    hmac_
}

type hmac_ interface {
	io.Writer
	Sum(b []byte) []byte
}

// NewWinZipAESReader wraps src (positioned right after the verifier, i.e.
// at the start of ciphertext) with AES-CTR decryption and HMAC accumulation.
func NewWinZipAESReader(src io.Reader, keys DerivedKeys) (*WinZipAESReader, error) {
	block, err := aes.NewCipher(keys.CipherKey)
	if err != nil {
		return nil, err
	}
	return &WinZipAESReader{
		src:    src,
		stream: newCounterStream(block),
		mac:    hmac.New(sha1.New, keys.MACKey),
	}, nil
}

// CheckVerifier reports whether the 2-byte verifier read from the stream
// matches the derived keys.
func CheckVerifier(got [2]byte, keys DerivedKeys) bool {
	return got == keys.Verifier
}

func (r *WinZipAESReader) Read(p []byte) (int, error) {
	n, err := r.src.Read(p)
	if n > 0 {
		r.mac.Write(p[:n])
		r.stream.XORKeyStream(p[:n], p[:n])
	}
	return n, err
}

// CheckTag compares tag (the 10 bytes following the ciphertext) against the
// accumulated HMAC.
func (r *WinZipAESReader) CheckTag(tag []byte) bool {
	sum := r.mac.Sum(nil)[:AuthTagSize]
	return hmac.Equal(sum, tag)
}

// WinZipAESWriter encrypts and authenticates a WinZip AES entry stream.
// Callers write the salt+verifier themselves (they're not part of the
// ciphertext HMAC domain); WinZipAESWriter covers only the ciphertext.
type WinZipAESWriter struct {
	dst    io.Writer
	stream *counterStream
	mac    hmac_
}

// NewWinZipAESWriter wraps dst with AES-CTR encryption and HMAC
// accumulation over ciphertext bytes.
func NewWinZipAESWriter(dst io.Writer, keys DerivedKeys) (*WinZipAESWriter, error) {
	block, err := aes.NewCipher(keys.CipherKey)
	if err != nil {
		return nil, err
	}
	return &WinZipAESWriter{
		dst:    dst,
		stream: newCounterStream(block),
		mac:    hmac.New(sha1.New, keys.MACKey),
	}, nil
}

func (w *WinZipAESWriter) Write(p []byte) (int, error) {
	enc := make([]byte, len(p))
	w.stream.XORKeyStream(enc, p)
	w.mac.Write(enc)
	return w.dst.Write(enc)
}

// Tag returns the final 10-byte authentication tag for everything written
// so far.
func (w *WinZipAESWriter) Tag() []byte {
	return w.mac.Sum(nil)[:AuthTagSize]
}
