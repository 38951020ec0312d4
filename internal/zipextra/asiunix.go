package zipextra

import (
	"errors"

	"github.com/zvault/zvault/internal/zipbyte"
)

// ASIUnix is the ASi Unix extra field (id 0x756E): a CRC32 of the link
// target bytes (or zero for regular files), Unix mode, uid/gid, and,
// for symlinks, the link target itself.
type ASIUnix struct {
	CRC32      uint32
	Mode       uint16
	UID, GID   uint32
	LinkTarget []byte
}

func (ASIUnix) HeaderID() uint16 { return IDASIUnix }

func decodeASIUnix(payload []byte) (Field, error) {
	if len(payload) < 14 {
		return nil, errors.New("zipextra: asi unix record too short")
	}
	b := zipbyte.ReadBuf(payload)
	var a ASIUnix
	a.CRC32 = b.Uint32()
	a.Mode = b.Uint16()
	linkLen := b.Uint32()
	a.UID = uint32(b.Uint16())
	a.GID = uint32(b.Uint16())
	if int(linkLen) > b.Len() {
		return nil, errors.New("zipextra: asi unix link target truncated")
	}
	if linkLen > 0 {
		a.LinkTarget = append([]byte(nil), b.Bytes(int(linkLen))...)
	}
	return a, nil
}

func encodeASIUnix(a ASIUnix) []byte {
	out := make([]byte, 14+len(a.LinkTarget))
	b := zipbyte.WriteBuf(out)
	b.Uint32(a.CRC32)
	b.Uint16(a.Mode)
	b.Uint32(uint32(len(a.LinkTarget)))
	b.Uint16(uint16(a.UID))
	b.Uint16(uint16(a.GID))
	b.Bytes(a.LinkTarget)
	return out
}
