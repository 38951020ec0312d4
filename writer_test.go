// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zvault

import (
	"bytes"
	"io"
	"testing"
)

type writeTest struct {
	name     string
	data     []byte
	method   uint16
	password []byte
	enc      EncryptionMethod
}

var writeTests = []writeTest{
	{
		name:   "foo",
		data:   []byte("Rabbits, guinea pigs, gophers, marsupial rats, and quolls."),
		method: Store,
	},
	{
		name:   "bar",
		data:   bytes.Repeat([]byte("gophers!"), 4096),
		method: Deflate,
	},
	{
		name:     "zipcrypto",
		data:     []byte("traditional pkware encryption"),
		method:   Deflate,
		password: []byte("sesame"),
		enc:      EncryptionZipCrypto,
	},
	{
		name:     "aes128",
		data:     []byte("winzip aes128"),
		method:   Store,
		password: []byte("sesame"),
		enc:      EncryptionAES128,
	},
	{
		name:     "aes256",
		data:     []byte("winzip aes256, somewhat longer content to exercise more than one cipher block"),
		method:   Deflate,
		password: []byte("hunter2"),
		enc:      EncryptionAES256,
	},
}

func TestWriter(t *testing.T) {
	ar := NewArchive()
	for _, wt := range writeTests {
		e, err := ar.Add(wt.name, wt.data, wt.method)
		if err != nil {
			t.Fatalf("Add(%q): %v", wt.name, err)
		}
		if len(wt.password) > 0 {
			e.SetPassword(wt.password, wt.enc)
		}
	}

	b, err := ar.SaveToBytes()
	if err != nil {
		t.Fatalf("SaveToBytes: %v", err)
	}

	rar, err := OpenFromBytes(b, Options{})
	if err != nil {
		t.Fatalf("OpenFromBytes: %v", err)
	}
	defer rar.Close()

	for _, wt := range writeTests {
		if !rar.Contains(wt.name) {
			t.Errorf("entry %q missing after round-trip", wt.name)
			continue
		}
		if len(wt.password) > 0 {
			if err := rar.SetPasswordFor(wt.name, wt.password); err != nil {
				t.Errorf("%q: SetPasswordFor: %v", wt.name, err)
				continue
			}
		}
		got, err := rar.Read(wt.name)
		if err != nil {
			t.Errorf("%q: Read: %v", wt.name, err)
			continue
		}
		if !bytes.Equal(got, wt.data) {
			t.Errorf("%q: round-tripped content mismatch: got %d bytes, want %d", wt.name, len(got), len(wt.data))
		}
	}
}

func TestWriterWrongPassword(t *testing.T) {
	ar := NewArchive()
	e, err := ar.Add("secret", []byte("top secret payload"), Deflate)
	if err != nil {
		t.Fatal(err)
	}
	e.SetPassword([]byte("correct"), EncryptionAES256)

	b, err := ar.SaveToBytes()
	if err != nil {
		t.Fatalf("SaveToBytes: %v", err)
	}

	rar, err := OpenFromBytes(b, Options{})
	if err != nil {
		t.Fatalf("OpenFromBytes: %v", err)
	}
	defer rar.Close()

	if err := rar.SetPasswordFor("secret", []byte("wrong")); err != nil {
		t.Fatalf("SetPasswordFor: %v", err)
	}
	if _, err := rar.Read("secret"); err == nil {
		t.Fatal("Read succeeded with wrong password, want AuthenticationError")
	}
}

func TestWriterDirectory(t *testing.T) {
	ar := NewArchive()
	if _, err := ar.AddDir("dir"); err != nil {
		t.Fatal(err)
	}

	b, err := ar.SaveToBytes()
	if err != nil {
		t.Fatalf("SaveToBytes: %v", err)
	}
	rar, err := OpenFromBytes(b, Options{})
	if err != nil {
		t.Fatalf("OpenFromBytes: %v", err)
	}
	defer rar.Close()

	e, err := rar.EntryInfo("dir/")
	if err != nil {
		t.Fatalf("EntryInfo: %v", err)
	}
	if !e.IsDirectory() {
		t.Errorf("entry %q: IsDirectory() = false, want true", e.Name)
	}
	if e.CompressedSize64 != 0 || e.UncompressedSize64 != 0 {
		t.Errorf("directory entry has nonzero size: compressed=%d uncompressed=%d", e.CompressedSize64, e.UncompressedSize64)
	}
}

func TestWriterStream(t *testing.T) {
	data := bytes.Repeat([]byte("streamed content, no upfront size\n"), 1000)
	ar := NewArchive()
	if _, err := ar.AddStream(bytes.NewReader(data), "stream.bin", Deflate); err != nil {
		t.Fatal(err)
	}

	b, err := ar.SaveToBytes()
	if err != nil {
		t.Fatalf("SaveToBytes: %v", err)
	}
	rar, err := OpenFromBytes(b, Options{})
	if err != nil {
		t.Fatalf("OpenFromBytes: %v", err)
	}
	defer rar.Close()

	got, err := rar.Read("stream.bin")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("round-tripped stream content mismatch: got %d bytes, want %d", len(got), len(data))
	}
}

func TestSizesNeedZip64(t *testing.T) {
	e := NewEntry("big")
	e.UncompressedSize64 = uint32max
	if !sizesNeedZip64(e) {
		t.Error("sizesNeedZip64 = false for a size at the uint32 sentinel, want true")
	}
	e.UncompressedSize64 = 100
	e.CompressedSize64 = 100
	if sizesNeedZip64(e) {
		t.Error("sizesNeedZip64 = true for small sizes, want false")
	}
}

func TestAlignPadding(t *testing.T) {
	if pad := alignPadding(512, 512); pad != nil {
		t.Errorf("alignPadding at an already-aligned offset = %v, want nil", pad)
	}
	pad := alignPadding(510, 512)
	if pad == nil {
		t.Fatal("alignPadding returned nil for an unaligned offset")
	}
	if len(pad) < 4 {
		t.Fatalf("alignPadding returned a record shorter than the minimum 4-byte header: %d", len(pad))
	}
}

func TestEntryContentReaderAtZeroesCRCForAES(t *testing.T) {
	e := NewEntry("aes-entry")
	e.SetBytes([]byte("authenticated by HMAC, not CRC32"))
	e.SetPassword([]byte("pw"), EncryptionAES256)
	if err := prepareEntry(e); err != nil {
		t.Fatal(err)
	}

	if _, err := entryContentReaderAt(e); err != nil {
		t.Fatalf("entryContentReaderAt: %v", err)
	}
	if e.CRC32 != 0 {
		t.Errorf("AE-2 entry CRC32 = %#x, want 0 (authenticated by the HMAC tag instead)", e.CRC32)
	}
}

func TestEntryContentReaderAtKeepsCRCForPlain(t *testing.T) {
	e := NewEntry("plain-entry")
	e.SetBytes([]byte("no encryption here"))
	if err := prepareEntry(e); err != nil {
		t.Fatal(err)
	}
	if _, err := entryContentReaderAt(e); err != nil {
		t.Fatalf("entryContentReaderAt: %v", err)
	}
	if e.CRC32 == 0 {
		t.Error("plain entry CRC32 = 0, want the computed checksum")
	}
}

func TestImageReadAt(t *testing.T) {
	ar := NewArchive()
	if _, err := ar.Add("a", []byte("aaa"), Store); err != nil {
		t.Fatal(err)
	}
	img, err := ar.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	buf := make([]byte, img.Size())
	if _, err := img.ReadAt(buf, 0); err != nil && err != io.EOF {
		t.Fatalf("ReadAt: %v", err)
	}
	if len(buf) == 0 {
		t.Error("built image is empty")
	}
	if img.ETag() == "" {
		t.Error("ETag() is empty")
	}
}
