package zipextra

import (
	"errors"

	"github.com/zvault/zvault/internal/zipbyte"
)

// UnicodePath is the Info-ZIP Unicode Path extra field (id 0x7075): a
// version byte, the CRC32 of the stored (possibly non-UTF-8) name, and the
// UTF-8 override name itself. The reader only honors the override when the
// CRC matches the actual stored name (see spec Open Question).
type UnicodePath struct {
	Version  uint8
	NameCRC32 uint32
	Name     string
}

func (UnicodePath) HeaderID() uint16 { return IDUnicodePath }

func decodeUnicodePath(payload []byte) (Field, error) {
	if len(payload) < 5 {
		return nil, errors.New("zipextra: unicode path record too short")
	}
	b := zipbyte.ReadBuf(payload)
	var u UnicodePath
	u.Version = b.Uint8()
	u.NameCRC32 = b.Uint32()
	u.Name = string(b.Bytes(b.Len()))
	return u, nil
}

func encodeUnicodePath(u UnicodePath) []byte {
	out := make([]byte, 5+len(u.Name))
	b := zipbyte.WriteBuf(out)
	b.Uint8(u.Version)
	b.Uint32(u.NameCRC32)
	b.Bytes([]byte(u.Name))
	return out
}
