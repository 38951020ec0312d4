// Package zipbyte provides the little-endian scalar codecs and DOS
// date/time conversions shared by the zvault reader and writer.
package zipbyte

import (
	"encoding/binary"
	"time"
)

// WriteBuf is a cursor over a byte slice used to pack little-endian
// scalars in sequence, one field at a time.
type WriteBuf []byte

func (b *WriteBuf) Uint8(v uint8) {
	(*b)[0] = v
	*b = (*b)[1:]
}

func (b *WriteBuf) Uint16(v uint16) {
	binary.LittleEndian.PutUint16(*b, v)
	*b = (*b)[2:]
}

func (b *WriteBuf) Uint32(v uint32) {
	binary.LittleEndian.PutUint32(*b, v)
	*b = (*b)[4:]
}

func (b *WriteBuf) Uint64(v uint64) {
	binary.LittleEndian.PutUint64(*b, v)
	*b = (*b)[8:]
}

func (b *WriteBuf) Bytes(v []byte) {
	copy(*b, v)
	*b = (*b)[len(v):]
}

// ReadBuf is the read-side counterpart of WriteBuf.
type ReadBuf []byte

func (b *ReadBuf) Uint8() uint8 {
	v := (*b)[0]
	*b = (*b)[1:]
	return v
}

func (b *ReadBuf) Uint16() uint16 {
	v := binary.LittleEndian.Uint16(*b)
	*b = (*b)[2:]
	return v
}

func (b *ReadBuf) Uint32() uint32 {
	v := binary.LittleEndian.Uint32(*b)
	*b = (*b)[4:]
	return v
}

func (b *ReadBuf) Uint64() uint64 {
	v := binary.LittleEndian.Uint64(*b)
	*b = (*b)[8:]
	return v
}

func (b *ReadBuf) Bytes(n int) []byte {
	v := (*b)[:n]
	*b = (*b)[n:]
	return v
}

func (b *ReadBuf) Len() int { return len(*b) }

// DOSTimeToTime converts a packed MS-DOS date/time pair into a time.Time in
// the given location. The resolution is 2 seconds.
func DOSTimeToTime(date, dosTime uint16, loc *time.Location) time.Time {
	return time.Date(
		int(date>>9)+1980,
		time.Month(date>>5&0xf),
		int(date&0x1f),
		int(dosTime>>11),
		int(dosTime>>5&0x3f),
		int(dosTime&0x1f)*2,
		0,
		loc,
	)
}

// TimeToDOSTime packs a time.Time into the MS-DOS date/time representation,
// truncating sub-2-second resolution. Times before 1980 or after 2107
// saturate to the representable range.
func TimeToDOSTime(t time.Time) (date, dosTime uint16) {
	year := t.Year()
	switch {
	case year < 1980:
		return 0x21, 0 // 1980-01-01
	case year > 2107:
		year = 2107
	}
	date = uint16(t.Day() + int(t.Month())<<5 + (year-1980)<<9)
	dosTime = uint16(t.Second()/2 + t.Minute()<<5 + t.Hour()<<11)
	return
}
