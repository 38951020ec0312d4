package zvault

import (
	"bytes"
	"testing"
)

func TestArchiveInsertRenameDelete(t *testing.T) {
	ar := NewArchive()
	if _, err := ar.Add("a.txt", []byte("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := ar.Add("b.txt", []byte("b")); err != nil {
		t.Fatal(err)
	}

	if !ar.Contains("a.txt") || !ar.Contains("b.txt") {
		t.Fatal("inserted entries not found via Contains")
	}

	if err := ar.Rename("a.txt", "c.txt"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if ar.Contains("a.txt") {
		t.Error("Rename left the old name in place")
	}
	if !ar.Contains("c.txt") {
		t.Error("Rename did not register the new name")
	}

	if err := ar.Rename("c.txt", "b.txt"); err != ErrAlreadyExists {
		t.Errorf("Rename onto an existing name = %v, want ErrAlreadyExists", err)
	}

	if err := ar.Rename("missing", "x"); err != ErrNotFound {
		t.Errorf("Rename of a missing entry = %v, want ErrNotFound", err)
	}

	ar.Delete("b.txt")
	if ar.Contains("b.txt") {
		t.Error("Delete did not remove the entry")
	}
	ar.Delete("also-missing") // must not panic
}

func TestArchivePreservesSlotOnRename(t *testing.T) {
	ar := NewArchive()
	for _, n := range []string{"first", "second", "third"} {
		if _, err := ar.Add(n, []byte(n)); err != nil {
			t.Fatal(err)
		}
	}
	if err := ar.Rename("second", "renamed"); err != nil {
		t.Fatal(err)
	}
	names := make([]string, 0, 3)
	for _, e := range ar.Entries() {
		names = append(names, e.Name)
	}
	want := []string{"first", "renamed", "third"}
	for i, n := range want {
		if names[i] != n {
			t.Errorf("Entries()[%d] = %q, want %q (rename must preserve emission slot)", i, names[i], n)
		}
	}
}

func TestArchiveDeleteByGlob(t *testing.T) {
	ar := NewArchive()
	for _, n := range []string{"a/one.txt", "a/two.txt", "b/one.txt", "readme.md"} {
		if _, err := ar.Add(n, []byte(n)); err != nil {
			t.Fatal(err)
		}
	}
	if err := ar.DeleteByGlob("a/*.txt"); err != nil {
		t.Fatalf("DeleteByGlob: %v", err)
	}
	if ar.Contains("a/one.txt") || ar.Contains("a/two.txt") {
		t.Error("DeleteByGlob left matching entries behind")
	}
	if !ar.Contains("b/one.txt") || !ar.Contains("readme.md") {
		t.Error("DeleteByGlob removed non-matching entries")
	}
}

func TestArchiveDeleteByRegex(t *testing.T) {
	ar := NewArchive()
	for _, n := range []string{"build/out.o", "src/main.go", "src/util.go"} {
		if _, err := ar.Add(n, []byte(n)); err != nil {
			t.Fatal(err)
		}
	}
	if err := ar.DeleteByRegex(`\.o$`); err != nil {
		t.Fatalf("DeleteByRegex: %v", err)
	}
	if ar.Contains("build/out.o") {
		t.Error("DeleteByRegex left a matching entry behind")
	}
	if !ar.Contains("src/main.go") || !ar.Contains("src/util.go") {
		t.Error("DeleteByRegex removed non-matching entries")
	}

	if err := ar.DeleteByRegex("(("); err == nil {
		t.Error("DeleteByRegex with an invalid pattern succeeded, want InvalidArgument")
	}
}

func TestArchiveComment(t *testing.T) {
	ar := NewArchive()
	if err := ar.SetComment("hello archive"); err != nil {
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
	if rar.comment != "hello archive" {
		t.Errorf("comment = %q, want %q", rar.comment, "hello archive")
	}
}

func TestArchiveExtractTo(t *testing.T) {
	ar := NewArchive()
	if _, err := ar.Add("file.txt", []byte("contents")); err != nil {
		t.Fatal(err)
	}
	if _, err := ar.AddDir("sub"); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	if err := ar.ExtractTo(dir); err != nil {
		t.Fatalf("ExtractTo: %v", err)
	}
}

func TestOpenRejectsTruncatedData(t *testing.T) {
	if _, err := OpenFromBytes([]byte("not a zip archive"), Options{}); err == nil {
		t.Error("OpenFromBytes on garbage data succeeded, want an error")
	}
}

func TestArchiveRoundTripPreservesBytes(t *testing.T) {
	ar := NewArchive()
	payload := bytes.Repeat([]byte{0xAB, 0xCD, 0xEF, 0x01}, 8192)
	if _, err := ar.Add("blob.bin", payload, Deflate); err != nil {
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
	got, err := rar.Read("blob.bin")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("round-tripped DEFLATE content does not match original")
	}
}
