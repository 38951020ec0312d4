package zipextra

import (
	"errors"
	"time"

	"github.com/zvault/zvault/internal/zipbyte"
)

// OldUnix is the legacy (PKWARE id 0x5855) Unix extra field: Unix mtime and
// atime, and optionally uid/gid (only present in the local-header record).
type OldUnix struct {
	Atime, Mtime time.Time
	HasOwner     bool
	UID, GID     uint16
}

func (OldUnix) HeaderID() uint16 { return IDOldUnix }

func decodeOldUnix(payload []byte) (Field, error) {
	if len(payload) < 8 {
		return nil, errors.New("zipextra: old unix record too short")
	}
	b := zipbyte.ReadBuf(payload)
	var u OldUnix
	u.Atime = time.Unix(int64(int32(b.Uint32())), 0).UTC()
	u.Mtime = time.Unix(int64(int32(b.Uint32())), 0).UTC()
	if b.Len() >= 4 {
		u.UID = b.Uint16()
		u.GID = b.Uint16()
		u.HasOwner = true
	}
	return u, nil
}

func encodeOldUnix(u OldUnix) []byte {
	n := 8
	if u.HasOwner {
		n += 4
	}
	out := make([]byte, n)
	b := zipbyte.WriteBuf(out)
	b.Uint32(uint32(u.Atime.Unix()))
	b.Uint32(uint32(u.Mtime.Unix()))
	if u.HasOwner {
		b.Uint16(u.UID)
		b.Uint16(u.GID)
	}
	return out
}
