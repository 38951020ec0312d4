package zipextra

import (
	"errors"
	"time"

	"github.com/zvault/zvault/internal/zipbyte"
)

const ntfsTimeTag = 0x0001

// ntfsEpoch is 1601-01-01 UTC, the origin of Windows FILETIME 100ns ticks.
var ntfsEpoch = time.Date(1601, 1, 1, 0, 0, 0, 0, time.UTC)

// NTFS is the 0x000A extra field: a reserved 4-byte prefix followed by a
// sequence of tagged sub-blocks. Only tag 0x0001 (mtime/atime/ctime as
// 100ns ticks since the NTFS epoch) is meaningful here; other tags are
// preserved as opaque trailing bytes so a re-encode round-trips them.
type NTFS struct {
	Mtime, Atime, Ctime time.Time
	Trailing            []byte
}

func (NTFS) HeaderID() uint16 { return IDNTFS }

func decodeNTFS(payload []byte) (Field, error) {
	if len(payload) < 4 {
		return nil, errors.New("zipextra: ntfs record too short")
	}
	b := zipbyte.ReadBuf(payload)
	b.Uint32() // reserved
	var n NTFS
	found := false
	for b.Len() >= 4 {
		tag := b.Uint16()
		size := b.Uint16()
		if int(size) > b.Len() {
			break
		}
		data := b.Bytes(int(size))
		if tag == ntfsTimeTag && size >= 24 {
			db := zipbyte.ReadBuf(data)
			n.Mtime = ticksToTime(db.Uint64())
			n.Atime = ticksToTime(db.Uint64())
			n.Ctime = ticksToTime(db.Uint64())
			found = true
		} else {
			head := make([]byte, 4)
			hb := zipbyte.WriteBuf(head)
			hb.Uint16(tag)
			hb.Uint16(size)
			n.Trailing = append(n.Trailing, head...)
			n.Trailing = append(n.Trailing, data...)
		}
	}
	if !found {
		return nil, errors.New("zipextra: ntfs record missing timestamp tag")
	}
	return n, nil
}

func encodeNTFS(n NTFS) []byte {
	out := make([]byte, 4) // reserved
	head := make([]byte, 4)
	b := zipbyte.WriteBuf(head)
	b.Uint16(ntfsTimeTag)
	b.Uint16(24)
	out = append(out, head...)
	var times [24]byte
	tb := zipbyte.WriteBuf(times[:])
	tb.Uint64(timeToTicks(n.Mtime))
	tb.Uint64(timeToTicks(n.Atime))
	tb.Uint64(timeToTicks(n.Ctime))
	out = append(out, times[:]...)
	out = append(out, n.Trailing...)
	return out
}

func ticksToTime(ticks uint64) time.Time {
	return ntfsEpoch.Add(time.Duration(ticks) * 100 * time.Nanosecond)
}

func timeToTicks(t time.Time) uint64 {
	d := t.Sub(ntfsEpoch)
	if d < 0 {
		return 0
	}
	return uint64(d / (100 * time.Nanosecond))
}
