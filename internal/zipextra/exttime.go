package zipextra

import (
	"errors"
	"time"

	"github.com/zvault/zvault/internal/zipbyte"
)

const (
	extTimeHasMtime = 1 << 0
	extTimeHasAtime = 1 << 1
	extTimeHasCtime = 1 << 2
)

// ExtTime is the Info-ZIP Extended Timestamp extra field: a flag byte
// followed by up to three little-endian Unix timestamps. Local-header
// records always carry all flagged timestamps; central-directory records
// conventionally carry only mtime even when the flag byte claims more
// (many writers truncate it there), so decoding never requires atime/ctime
// to be present even when their flag bits are set.
type ExtTime struct {
	HasMtime, HasAtime, HasCtime bool
	Mtime, Atime, Ctime          time.Time
}

func (ExtTime) HeaderID() uint16 { return IDExtTime }

func decodeExtTime(payload []byte, ctx Context) (Field, error) {
	if len(payload) < 1 {
		return nil, errors.New("zipextra: extended timestamp record empty")
	}
	b := zipbyte.ReadBuf(payload)
	flags := b.Uint8()
	var t ExtTime
	if flags&extTimeHasMtime != 0 && b.Len() >= 4 {
		t.Mtime = time.Unix(int64(int32(b.Uint32())), 0).UTC()
		t.HasMtime = true
	}
	// Central-directory records conventionally stop after mtime even when
	// the local record (and its flag byte) carries atime/ctime too.
	if ctx.Local {
		if flags&extTimeHasAtime != 0 && b.Len() >= 4 {
			t.Atime = time.Unix(int64(int32(b.Uint32())), 0).UTC()
			t.HasAtime = true
		}
		if flags&extTimeHasCtime != 0 && b.Len() >= 4 {
			t.Ctime = time.Unix(int64(int32(b.Uint32())), 0).UTC()
			t.HasCtime = true
		}
	}
	return t, nil
}

func encodeExtTime(t ExtTime) []byte {
	var flags byte
	if t.HasMtime {
		flags |= extTimeHasMtime
	}
	if t.HasAtime {
		flags |= extTimeHasAtime
	}
	if t.HasCtime {
		flags |= extTimeHasCtime
	}
	out := make([]byte, 1, 13)
	out[0] = flags
	var tmp [4]byte
	if t.HasMtime {
		b := zipbyte.WriteBuf(tmp[:])
		b.Uint32(uint32(t.Mtime.Unix()))
		out = append(out, tmp[:]...)
	}
	if t.HasAtime {
		b := zipbyte.WriteBuf(tmp[:])
		b.Uint32(uint32(t.Atime.Unix()))
		out = append(out, tmp[:]...)
	}
	if t.HasCtime {
		b := zipbyte.WriteBuf(tmp[:])
		b.Uint32(uint32(t.Ctime.Unix()))
		out = append(out, tmp[:]...)
	}
	return out
}
