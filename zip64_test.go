package zvault

import (
	"bytes"
	"io"
	"testing"

	"go4.org/readerutil"
)

// repeatByte is an io.ReaderAt that serves an infinite run of a single byte
// without allocating, letting a test construct a multi-gigabyte backing
// store without materializing it.
type repeatByte struct {
	b byte
}

func (r *repeatByte) ReadAt(p []byte, off int64) (int, error) {
	for i := range p {
		p[i] = r.b
	}
	return len(p), nil
}

// largeBackref composes a synthetic ReaderAt of the given total size out of
// a repeated-byte run plus a short distinguishing tail, using
// go4.org/readerutil.NewMultiReaderAt the way the source this package was
// adapted from built oversized test fixtures without buffering them.
func largeBackref(size int64) readerutil.SizeReaderAt {
	const tail = "END\n"
	return readerutil.NewMultiReaderAt(
		io.NewSectionReader(&repeatByte{b: 0x5a}, 0, size-int64(len(tail))),
		bytes.NewReader([]byte(tail)),
	)
}

// hugeEntry inserts into ar a Store-method entry named name whose content is
// a size-byte synthetic backref, without ever reading that content into
// memory: entryContentReaderAt's copy-through path re-emits a backref's
// bytes via io.NewSectionReader rather than buffering them, so Build can
// assemble a multi-gigabyte Image cheaply.
func hugeEntry(t *testing.T, ar *Archive, name string, size int64) {
	t.Helper()
	e := NewEntry(name)
	e.Method = Store
	e.UncompressedSize64 = uint64(size)
	e.CompressedSize64 = uint64(size)
	e.setBackref(largeBackref(size), 0, nil)
	if err := ar.Insert(e); err != nil {
		t.Fatalf("Insert(%q): %v", name, err)
	}
}

// TestZip64PromotionForLargeBackrefEntry builds an archive whose sole entry
// is larger than uint32max and confirms the resulting Image round-trips
// through the reader with its full 64-bit sizes intact, i.e. that both the
// per-entry Zip64 extra and the Zip64 end-of-central-directory record the
// archive needs overall were actually written and are parsed back.
func TestZip64PromotionForLargeBackrefEntry(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping large-archive test in short mode")
	}

	const largeSize = int64(uint32max) + 4096

	ar := NewArchive()
	hugeEntry(t, ar, "huge.bin", largeSize)

	img, err := ar.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if img.Size() < largeSize {
		t.Fatalf("image size %d smaller than its one entry's content (%d)", img.Size(), largeSize)
	}

	rd, err := openReader(img, img.Size(), Options{})
	if err != nil {
		t.Fatalf("openReader on a >4GiB image: %v", err)
	}
	i, ok := rd.names["huge.bin"]
	if !ok {
		t.Fatal("huge.bin missing from the round-tripped archive")
	}
	e := rd.entries[i]
	if e.CompressedSize64 != uint64(largeSize) {
		t.Errorf("round-tripped CompressedSize64 = %d, want %d (Zip64 extra was not written or not parsed)", e.CompressedSize64, largeSize)
	}
	if e.UncompressedSize64 != uint64(largeSize) {
		t.Errorf("round-tripped UncompressedSize64 = %d, want %d", e.UncompressedSize64, largeSize)
	}
	if !sizesNeedZip64(e) {
		t.Error("sizesNeedZip64 is false for an entry above the uint32 boundary")
	}
}

// TestZip64NotNeededForSmallArchive is the control: an ordinary small
// archive's entry sizes stay well under the Zip64 threshold, and the
// resulting image is plainly smaller than anything that would require it.
func TestZip64NotNeededForSmallArchive(t *testing.T) {
	ar := NewArchive()
	if _, err := ar.Add("small.txt", []byte("not much data here")); err != nil {
		t.Fatal(err)
	}
	img, err := ar.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if img.Size() >= int64(uint32max) {
		t.Fatalf("small archive unexpectedly has a >4GiB image (%d bytes)", img.Size())
	}

	rd, err := openReader(img, img.Size(), Options{})
	if err != nil {
		t.Fatalf("openReader: %v", err)
	}
	i, ok := rd.names["small.txt"]
	if !ok {
		t.Fatal("small.txt missing from the round-tripped archive")
	}
	if e := rd.entries[i]; sizesNeedZip64(e) {
		t.Error("sizesNeedZip64 is true for a tiny entry")
	}
}
