package zippipe

import (
	"bytes"
	"hash/crc32"
	"io"
	"testing"
)

func TestCompressorDecompressorRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog\n"), 200)

	for _, method := range []uint16{MethodStore, MethodDeflate} {
		var buf bytes.Buffer
		w, err := Compressor(method, -1, &buf)
		if err != nil {
			t.Fatalf("method %d: Compressor: %v", method, err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatalf("method %d: Write: %v", method, err)
		}
		if err := w.Close(); err != nil {
			t.Fatalf("method %d: Close: %v", method, err)
		}

		r, err := Decompressor(method, &buf)
		if err != nil {
			t.Fatalf("method %d: Decompressor: %v", method, err)
		}
		got, err := io.ReadAll(r)
		if err != nil {
			t.Fatalf("method %d: ReadAll: %v", method, err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("method %d: round-tripped data mismatch", method)
		}
	}
}

func TestCompressorRejectsBzip2(t *testing.T) {
	if _, err := Compressor(MethodBzip2, -1, &bytes.Buffer{}); err == nil {
		t.Error("Compressor(MethodBzip2, ...) succeeded, want an error (no encoder available)")
	}
}

func TestCompressorExplicitLevelZeroMeansNoCompression(t *testing.T) {
	data := bytes.Repeat([]byte{0x42}, 4096)

	var storeBuf, level0Buf bytes.Buffer
	sw, _ := Compressor(MethodStore, -1, &storeBuf)
	sw.Write(data)
	sw.Close()

	lw, err := Compressor(MethodDeflate, 0, &level0Buf)
	if err != nil {
		t.Fatalf("Compressor at level 0: %v", err)
	}
	lw.Write(data)
	lw.Close()

	// Level 0 (NoCompression) must not silently become DefaultCompression:
	// on this kind of maximally-repetitive input, an actual no-compression
	// DEFLATE stream is close in size to the stored form (a handful of
	// block headers), while DefaultCompression would shrink it drastically.
	if level0Buf.Len() < storeBuf.Len() {
		t.Fatalf("level-0 output (%d bytes) smaller than stored output (%d bytes); level 0 may have been remapped to DefaultCompression", level0Buf.Len(), storeBuf.Len())
	}
}

func TestCRCReaderDetectsMismatch(t *testing.T) {
	data := []byte("hello, crc")
	want := crc32.ChecksumIEEE(data)

	ok := NewCRCReader(bytes.NewReader(data), want)
	if _, err := io.ReadAll(ok); err != nil {
		t.Errorf("CRC reader with correct checksum: %v", err)
	}

	bad := NewCRCReader(bytes.NewReader(data), want+1)
	if _, err := io.ReadAll(bad); err != ErrChecksum {
		t.Errorf("CRC reader with wrong checksum: err = %v, want ErrChecksum", err)
	}
}

func TestCRCWriterSum(t *testing.T) {
	data := []byte("checksum me")
	w := NewCRCWriter(io.Discard)
	if _, err := w.Write(data); err != nil {
		t.Fatal(err)
	}
	if got, want := w.Sum(), crc32.ChecksumIEEE(data); got != want {
		t.Errorf("Sum() = %#x, want %#x", got, want)
	}
}
