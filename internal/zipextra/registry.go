// Package zipextra implements decode/encode codecs for the well-known ZIP
// extra-field records (Zip64, WinZip AES, Unicode Path, NTFS, Info-ZIP
// Extended Timestamp, Old Unix, ASI Unix) plus an opaque fallback for
// unrecognized header ids.
//
// Each field is represented by a concrete Go type implementing Field.
// Decoding a byte blob for an unknown id yields an Opaque field that
// preserves the bytes verbatim; a decode error for a known id is reported to
// the caller so it can fall back to treating the record as opaque, matching
// the "skip the field, never abort the parse" policy of the spec this
// package implements.
package zipextra

import "github.com/zvault/zvault/internal/zipbyte"

// Header ids for the extra-field records this registry understands.
const (
	IDZip64       uint16 = 0x0001
	IDNTFS        uint16 = 0x000A
	IDUnicodePath uint16 = 0x7075
	IDExtTime     uint16 = 0x5455
	IDOldUnix     uint16 = 0x5855
	IDASIUnix     uint16 = 0x756E
	IDWinZipAES   uint16 = 0x9901
	IDAlignment   uint16 = 0xd935
)

// Field is the common interface implemented by every decoded extra-field
// record.
type Field interface {
	HeaderID() uint16
}

// Opaque preserves an unrecognized (or malformed-and-skipped) extra field
// verbatim.
type Opaque struct {
	ID   uint16
	Data []byte
}

func (o Opaque) HeaderID() uint16 { return o.ID }

// Fields is an ordered collection of extra-field records, as they occur in
// the extra-field area of a local or central-directory record. Decode keeps
// every record it finds, so one area may hold several records with the same
// header id; lookups return the first match rather than assuming
// uniqueness. The local and CD views may also differ (e.g. a central-only
// Zip64 record, or a local-only WinZip AES record); callers that
// maintain separate local/CD Fields values get that distinction for free.
type Fields []Field

// Get returns the first field with the given header id.
func (fs Fields) Get(id uint16) (Field, bool) {
	for _, f := range fs {
		if f.HeaderID() == id {
			return f, true
		}
	}
	return nil, false
}

// Set replaces (or appends) the field with the same header id as f.
func (fs Fields) Set(f Field) Fields {
	for i, existing := range fs {
		if existing.HeaderID() == f.HeaderID() {
			fs[i] = f
			return fs
		}
	}
	return append(fs, f)
}

// GetAs returns the first field in fs with the given header id, asserted
// to concrete type T. It reports false both when no field has that id and
// when the field under that id isn't a T (which shouldn't happen for the
// well-known ids this package decodes, but guards against a caller mixing
// up local vs. central-directory Fields values).
func GetAs[T Field](fs Fields, id uint16) (T, bool) {
	f, ok := fs.Get(id)
	if !ok {
		var zero T
		return zero, false
	}
	v, ok := f.(T)
	return v, ok
}

// Remove drops any field with the given header id.
func (fs Fields) Remove(id uint16) Fields {
	out := fs[:0]
	for _, f := range fs {
		if f.HeaderID() != id {
			out = append(out, f)
		}
	}
	return out
}

// Context carries the ambient information extra-field codecs need beyond
// the raw bytes: whether the 32-bit size/offset fields read as the Zip64
// sentinel (0xFFFFFFFF), needed to tell how many u64s the Zip64 record
// carries.
type Context struct {
	Zip64Sizes  bool // uncompressed/compressed size fields were 0xFFFFFFFF
	Zip64Offset bool // local header offset field was 0xFFFFFFFF
	Zip64Disk   bool // disk-start field was 0xFFFF
	Local       bool // decoding the local-header extra area, not central directory
}

// Decode parses the extra-field area (as it appears after the name in a
// local or central-directory record) into a Fields collection. A decode
// failure for one record skips just that record (preserved as Opaque over
// its raw bytes) rather than aborting the parse, per spec.
func Decode(data []byte, ctx Context) Fields {
	var out Fields
	for len(data) >= 4 {
		b := zipbyte.ReadBuf(data)
		id := b.Uint16()
		size := b.Uint16()
		if int(size) > b.Len() {
			// Truncated/malformed trailing record: stop, nothing more to
			// salvage from this blob.
			break
		}
		payload := b.Bytes(int(size))
		data = data[4+int(size):]

		field, err := decodeOne(id, payload, ctx)
		if err != nil || field == nil {
			out = append(out, Opaque{ID: id, Data: append([]byte(nil), payload...)})
			continue
		}
		out = append(out, field)
	}
	return out
}

func decodeOne(id uint16, payload []byte, ctx Context) (Field, error) {
	switch id {
	case IDZip64:
		return decodeZip64(payload, ctx)
	case IDNTFS:
		return decodeNTFS(payload)
	case IDUnicodePath:
		return decodeUnicodePath(payload)
	case IDExtTime:
		return decodeExtTime(payload, ctx)
	case IDOldUnix:
		return decodeOldUnix(payload)
	case IDASIUnix:
		return decodeASIUnix(payload)
	case IDWinZipAES:
		return decodeWinZipAES(payload)
	default:
		return Opaque{ID: id, Data: append([]byte(nil), payload...)}, nil
	}
}

// Encode serializes a Fields collection back into an extra-field area.
func Encode(fields Fields) []byte {
	var out []byte
	for _, f := range fields {
		var payload []byte
		switch v := f.(type) {
		case Zip64:
			payload = encodeZip64(v)
		case NTFS:
			payload = encodeNTFS(v)
		case UnicodePath:
			payload = encodeUnicodePath(v)
		case ExtTime:
			payload = encodeExtTime(v)
		case OldUnix:
			payload = encodeOldUnix(v)
		case ASIUnix:
			payload = encodeASIUnix(v)
		case WinZipAES:
			payload = encodeWinZipAES(v)
		case Opaque:
			payload = v.Data
		default:
			continue
		}
		head := make([]byte, 4)
		b := zipbyte.WriteBuf(head)
		b.Uint16(f.HeaderID())
		b.Uint16(uint16(len(payload)))
		out = append(out, head...)
		out = append(out, payload...)
	}
	return out
}
