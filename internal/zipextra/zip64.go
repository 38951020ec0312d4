package zipextra

import (
	"errors"

	"github.com/zvault/zvault/internal/zipbyte"
)

// Zip64 carries the 64-bit size/offset fields that don't fit in the
// corresponding 32-bit central-directory or local-header slots. Which
// subset is present depends on which 32-bit fields were sentinels; the Has*
// flags record that so callers can tell a zero value from an absent one.
type Zip64 struct {
	UncompressedSize uint64
	CompressedSize   uint64
	LocalHeaderOffset uint64
	DiskStart         uint32

	HasUncompressedSize bool
	HasCompressedSize   bool
	HasLocalHeaderOffset bool
	HasDiskStart         bool
}

func (Zip64) HeaderID() uint16 { return IDZip64 }

func decodeZip64(payload []byte, ctx Context) (Field, error) {
	b := zipbyte.ReadBuf(payload)
	var z Zip64

	if ctx.Local {
		// Local-form Zip64 records are present only when BOTH size fields
		// were already the sentinel; per APPNOTE they always carry both
		// sizes (never the offset or disk fields) when present.
		if b.Len() < 16 {
			return nil, errors.New("zipextra: zip64 local record too short")
		}
		z.UncompressedSize = b.Uint64()
		z.CompressedSize = b.Uint64()
		z.HasUncompressedSize = true
		z.HasCompressedSize = true
		return z, nil
	}

	// Central-directory form: fields are present in a fixed order, but only
	// for slots whose 32-bit sibling was the sentinel.
	if ctx.Zip64Sizes {
		if b.Len() < 8 {
			return nil, errors.New("zipextra: zip64 record too short for uncompressed size")
		}
		z.UncompressedSize = b.Uint64()
		z.HasUncompressedSize = true
		if b.Len() < 8 {
			return nil, errors.New("zipextra: zip64 record too short for compressed size")
		}
		z.CompressedSize = b.Uint64()
		z.HasCompressedSize = true
	}
	if ctx.Zip64Offset {
		if b.Len() < 8 {
			return nil, errors.New("zipextra: zip64 record too short for local header offset")
		}
		z.LocalHeaderOffset = b.Uint64()
		z.HasLocalHeaderOffset = true
	}
	if ctx.Zip64Disk {
		if b.Len() < 4 {
			return nil, errors.New("zipextra: zip64 record too short for disk start")
		}
		z.DiskStart = b.Uint32()
		z.HasDiskStart = true
	}
	return z, nil
}

func encodeZip64(z Zip64) []byte {
	var out []byte
	var tmp [8]byte
	if z.HasUncompressedSize {
		b := zipbyte.WriteBuf(tmp[:8])
		b.Uint64(z.UncompressedSize)
		out = append(out, tmp[:8]...)
	}
	if z.HasCompressedSize {
		b := zipbyte.WriteBuf(tmp[:8])
		b.Uint64(z.CompressedSize)
		out = append(out, tmp[:8]...)
	}
	if z.HasLocalHeaderOffset {
		b := zipbyte.WriteBuf(tmp[:8])
		b.Uint64(z.LocalHeaderOffset)
		out = append(out, tmp[:8]...)
	}
	if z.HasDiskStart {
		b := zipbyte.WriteBuf(tmp[:4])
		b.Uint32(z.DiskStart)
		out = append(out, tmp[:4]...)
	}
	return out
}
