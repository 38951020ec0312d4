package zvault

import (
	"bytes"
	"testing"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	ar := NewArchive()
	if _, err := ar.Add("a.txt", []byte("original a")); err != nil {
		t.Fatal(err)
	}
	if _, err := ar.Add("b.txt", []byte("original b")); err != nil {
		t.Fatal(err)
	}
	if err := ar.SetComment("original comment"); err != nil {
		t.Fatal(err)
	}
	b, err := ar.SaveToBytes()
	if err != nil {
		t.Fatal(err)
	}
	rar, err := OpenFromBytes(b, Options{})
	if err != nil {
		t.Fatal(err)
	}
	return rar
}

func TestUnchangeEntry(t *testing.T) {
	ar := openTestArchive(t)
	defer ar.Close()

	e, err := ar.EntryInfo("a.txt")
	if err != nil {
		t.Fatal(err)
	}
	e.SetBytes([]byte("modified a"))

	if err := ar.UnchangeEntry("a.txt"); err != nil {
		t.Fatalf("UnchangeEntry: %v", err)
	}

	got, err := ar.Read("a.txt")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, []byte("original a")) {
		t.Errorf("content after UnchangeEntry = %q, want %q", got, "original a")
	}

	if err := ar.UnchangeEntry("nonexistent"); err != ErrNotFound {
		t.Errorf("UnchangeEntry on a missing name = %v, want ErrNotFound", err)
	}
}

func TestUnchangeAll(t *testing.T) {
	ar := openTestArchive(t)
	defer ar.Close()

	if _, err := ar.Add("c.txt", []byte("new entry")); err != nil {
		t.Fatal(err)
	}
	ar.Delete("b.txt")

	ar.UnchangeAll()

	if ar.Contains("c.txt") {
		t.Error("UnchangeAll kept an entry added after open")
	}
	if !ar.Contains("b.txt") {
		t.Error("UnchangeAll did not restore an entry deleted after open")
	}
	got, err := ar.Read("a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("original a")) {
		t.Errorf("a.txt content after UnchangeAll = %q, want %q", got, "original a")
	}
}

func TestUnchangeArchiveComment(t *testing.T) {
	ar := openTestArchive(t)
	defer ar.Close()

	if err := ar.SetComment("changed"); err != nil {
		t.Fatal(err)
	}
	ar.UnchangeArchiveComment()
	if ar.comment != "original comment" {
		t.Errorf("comment after UnchangeArchiveComment = %q, want %q", ar.comment, "original comment")
	}
}

func TestRewrite(t *testing.T) {
	ar := openTestArchive(t)
	defer ar.Close()

	e, err := ar.EntryInfo("a.txt")
	if err != nil {
		t.Fatal(err)
	}
	e.SetBytes([]byte("rewritten a"))

	if err := ar.Rewrite(); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}

	got, err := ar.Read("a.txt")
	if err != nil {
		t.Fatalf("Read after Rewrite: %v", err)
	}
	if !bytes.Equal(got, []byte("rewritten a")) {
		t.Errorf("content after Rewrite = %q, want %q", got, "rewritten a")
	}

	// UnchangeEntry now restores to the rewritten state, not the original
	// open, since Rewrite replaces the archive's source.
	e, err = ar.EntryInfo("a.txt")
	if err != nil {
		t.Fatal(err)
	}
	e.SetBytes([]byte("modified again"))
	if err := ar.UnchangeEntry("a.txt"); err != nil {
		t.Fatal(err)
	}
	got, err = ar.Read("a.txt")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("rewritten a")) {
		t.Errorf("content after post-Rewrite UnchangeEntry = %q, want %q", got, "rewritten a")
	}
}

func TestUnchangeIsNoopOnFreshArchive(t *testing.T) {
	ar := NewArchive()
	if _, err := ar.Add("x.txt", []byte("x")); err != nil {
		t.Fatal(err)
	}
	if err := ar.UnchangeEntry("x.txt"); err != nil {
		t.Fatalf("UnchangeEntry on a source-less archive returned an error: %v", err)
	}
	ar.UnchangeAll()
	ar.UnchangeArchiveComment()
	if !ar.Contains("x.txt") {
		t.Error("UnchangeAll on a source-less archive dropped entries")
	}
}
