package zipextra

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	fields := Fields{
		Zip64{
			UncompressedSize:    1 << 40,
			HasUncompressedSize: true,
			CompressedSize:      1 << 32,
			HasCompressedSize:   true,
		},
		NTFS{},
		Opaque{ID: 0xbeef, Data: []byte{1, 2, 3}},
	}

	encoded := Encode(fields)
	ctx := Context{Zip64Sizes: true}
	decoded := Decode(encoded, ctx)

	if len(decoded) != len(fields) {
		t.Fatalf("Decode produced %d fields, want %d", len(decoded), len(fields))
	}

	z, ok := GetAs[Zip64](decoded, IDZip64)
	if !ok {
		t.Fatal("GetAs[Zip64] after round-trip: not found")
	}
	if z.UncompressedSize != 1<<40 || !z.HasUncompressedSize {
		t.Errorf("round-tripped Zip64.UncompressedSize = %d, want %d", z.UncompressedSize, uint64(1)<<40)
	}

	op, ok := GetAs[Opaque](decoded, 0xbeef)
	if !ok {
		t.Fatal("GetAs[Opaque] after round-trip: not found")
	}
	if !bytes.Equal(op.Data, []byte{1, 2, 3}) {
		t.Errorf("round-tripped Opaque.Data = %v, want %v", op.Data, []byte{1, 2, 3})
	}
}

func TestGetAsMissing(t *testing.T) {
	fields := Fields{Opaque{ID: 1, Data: nil}}
	if _, ok := GetAs[Zip64](fields, IDZip64); ok {
		t.Error("GetAs found a Zip64 field that was never set")
	}
}

func TestGetAsWrongType(t *testing.T) {
	// A field stored under IDZip64's id but decoded as something other than
	// Zip64 (shouldn't happen via Decode, but Get/Set operate on raw header
	// ids) must report false rather than panic.
	fields := Fields{Opaque{ID: IDZip64, Data: nil}}
	if _, ok := GetAs[Zip64](fields, IDZip64); ok {
		t.Error("GetAs asserted an Opaque value to Zip64 and reported ok")
	}
}

func TestFieldsSetReplacesExisting(t *testing.T) {
	fields := Fields{NTFS{}}
	fields = fields.Set(NTFS{})
	if len(fields) != 1 {
		t.Errorf("Set with a duplicate header id grew the collection to %d entries, want 1", len(fields))
	}
}

func TestFieldsRemove(t *testing.T) {
	fields := Fields{NTFS{}, Opaque{ID: 9, Data: nil}}
	fields = fields.Remove(IDNTFS)
	if _, ok := fields.Get(IDNTFS); ok {
		t.Error("Remove left the NTFS field in place")
	}
	if _, ok := fields.Get(9); !ok {
		t.Error("Remove dropped an unrelated field")
	}
}

func TestDecodeTruncatedRecordStops(t *testing.T) {
	// header claims a 10-byte payload but only 2 bytes follow.
	data := []byte{0x01, 0x00, 0x0a, 0x00, 0xAA, 0xBB}
	decoded := Decode(data, Context{})
	if len(decoded) != 0 {
		t.Errorf("Decode on a truncated record returned %d fields, want 0", len(decoded))
	}
}
