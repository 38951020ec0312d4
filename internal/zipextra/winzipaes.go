package zipextra

import (
	"errors"

	"github.com/zvault/zvault/internal/zipbyte"
)

// WinZip AES strength codes, as stored in the extra field.
const (
	AESStrength128 uint8 = 1
	AESStrength192 uint8 = 2
	AESStrength256 uint8 = 3
)

// WinZipAES is the WinZip AES extra field (id 0x9901): AE-x version,
// vendor id ("AE"), key strength, and the real compression method that was
// masked by the 99 marker in the local/CD compression-method field.
type WinZipAES struct {
	Version        uint16 // 1 (AE-1, CRC checked) or 2 (AE-2, CRC zeroed)
	Vendor         [2]byte
	Strength       uint8
	RealMethod     uint16
}

func (WinZipAES) HeaderID() uint16 { return IDWinZipAES }

// KeyBits returns the AES key size in bits for this field's strength code,
// or 0 if the strength code is not recognized.
func (f WinZipAES) KeyBits() int {
	switch f.Strength {
	case AESStrength128:
		return 128
	case AESStrength192:
		return 192
	case AESStrength256:
		return 256
	default:
		return 0
	}
}

func decodeWinZipAES(payload []byte) (Field, error) {
	if len(payload) < 7 {
		return nil, errors.New("zipextra: winzip aes record too short")
	}
	b := zipbyte.ReadBuf(payload)
	var f WinZipAES
	f.Version = b.Uint16()
	copy(f.Vendor[:], b.Bytes(2))
	f.Strength = b.Uint8()
	f.RealMethod = b.Uint16()
	if f.Vendor != [2]byte{'A', 'E'} {
		return nil, errors.New("zipextra: winzip aes record has unexpected vendor id")
	}
	return f, nil
}

func encodeWinZipAES(f WinZipAES) []byte {
	out := make([]byte, 7)
	b := zipbyte.WriteBuf(out)
	b.Uint16(f.Version)
	if f.Vendor == ([2]byte{}) {
		f.Vendor = [2]byte{'A', 'E'}
	}
	b.Bytes(f.Vendor[:])
	b.Uint8(f.Strength)
	b.Uint16(f.RealMethod)
	return out
}
