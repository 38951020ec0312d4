// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

/*
Package zvault reads, mutates, and writes ZIP archives: STORED/DEFLATE/BZIP2
compression, ZipCrypto and WinZip AES encryption, Zip64 size/offset
extension, and zip-align style alignment padding.

See: https://www.pkware.com/appnote, https://golang.org/pkg/archive/zip/

This package does not support disk spanning.
*/
package zvault

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/gobwas/glob"
)

// Options configures how an archive is opened. It is also embedded in
// Archive and carried across unchange/rewrite so repeated re-reads use the
// same charset/alignment defaults.
// (Options is defined in reader.go; Archive reuses it.)

// Archive is the mutable, in-memory working copy of a ZIP archive: an
// ordered list of entries plus archive-wide comment and alignment. It is
// built fresh (Open/OpenFromBytes/OpenFromPath for existing bytes, or a
// zero Archive literal for a brand-new one) and mutated with Insert/
// Rename/Delete/Add*/Set*, then serialized with SaveTo*.
type Archive struct {
	entries []*Entry
	names   map[string]int
	comment string

	// alignment pads STORED entries so their data begins at a multiple
	// of this many bytes; zero disables padding. See SetAlignment.
	alignment int

	opts Options

	// source is the backing parsed view this archive was opened from,
	// if any. UnchangeEntry/UnchangeAll/UnchangeArchiveComment consult
	// it; a freshly-constructed Archive has a nil source, and those
	// operations become no-ops. Rewrite replaces it.
	source *Reader

	// closer, if non-nil, is closed by Archive.Close. Set when the
	// archive owns the underlying byte source (OpenFromPath).
	closer io.Closer
}

// NewArchive returns an empty archive ready to receive entries via Add*.
func NewArchive() *Archive {
	return &Archive{names: make(map[string]int)}
}

// Open parses an existing archive from r, which must expose exactly size
// bytes.
func Open(r io.ReaderAt, size int64, opts Options) (*Archive, error) {
	rd, err := openReader(r, size, opts)
	if err != nil {
		return nil, err
	}
	return archiveFromReader(rd), nil
}

// OpenFromBytes parses an existing archive held entirely in memory.
func OpenFromBytes(b []byte, opts Options) (*Archive, error) {
	return Open(bytes.NewReader(b), int64(len(b)), opts)
}

// OpenFromPath opens the file at path and parses it as an archive. The
// file is kept open for the lifetime of the Archive (entry bytes are read
// from it lazily); call Close when done.
func OpenFromPath(path string, opts Options) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	ar, err := Open(f, info.Size(), opts)
	if err != nil {
		f.Close()
		return nil, err
	}
	ar.closer = f
	return ar, nil
}

// archiveFromReader clones rd's entries into a fresh mutable Archive,
// retaining rd as the archive's unchange/rewrite source.
func archiveFromReader(rd *Reader) *Archive {
	ar := &Archive{
		names:     make(map[string]int, len(rd.entries)),
		comment:   rd.comment,
		alignment: rd.opts.Alignment,
		opts:      rd.opts,
		source:    rd,
	}
	for _, e := range rd.entries {
		clone := cloneEntry(e)
		ar.names[clone.Name] = len(ar.entries)
		ar.entries = append(ar.entries, clone)
	}
	return ar
}

// cloneEntry returns a shallow copy of e suitable for an archive's working
// set: value fields are copied, slices/maps that the mutation API replaces
// wholesale (rather than mutating in place) are safe to share.
func cloneEntry(e *Entry) *Entry {
	c := *e
	return &c
}

// Close releases the archive's backing byte source, if Archive opened it
// itself (OpenFromPath). It is a no-op otherwise.
func (ar *Archive) Close() error {
	if ar.closer != nil {
		err := ar.closer.Close()
		ar.closer = nil
		return err
	}
	return nil
}

// Insert adds e to the archive, replacing any existing entry of the same
// name in place (preserving its slot and emission order).
func (ar *Archive) Insert(e *Entry) error {
	if e.Name == "" {
		return &InvalidArgument{Field: "name", Reason: "must not be empty"}
	}
	if len(e.Name) > uint16max {
		return &InvalidArgument{Field: "name", Reason: "exceeds 65535 bytes"}
	}
	if ar.names == nil {
		ar.names = make(map[string]int)
	}
	if i, ok := ar.names[e.Name]; ok {
		ar.entries[i] = e
		return nil
	}
	ar.names[e.Name] = len(ar.entries)
	ar.entries = append(ar.entries, e)
	return nil
}

// Rename changes an entry's name in place, preserving its slot. It fails
// with ErrNotFound if old does not exist, or ErrAlreadyExists if new
// collides with a different entry.
func (ar *Archive) Rename(old, new string) error {
	i, ok := ar.names[old]
	if !ok {
		return ErrNotFound
	}
	if new == old {
		return nil
	}
	if _, collides := ar.names[new]; collides {
		return ErrAlreadyExists
	}
	e := ar.entries[i]
	if err := e.SetName(new); err != nil {
		return err
	}
	delete(ar.names, old)
	ar.names[new] = i
	return nil
}

// Delete removes the named entry. It is a no-op if the name is absent.
func (ar *Archive) Delete(name string) {
	i, ok := ar.names[name]
	if !ok {
		return
	}
	ar.removeAt(i)
}

// removeAt removes the entry at index i, shifting later entries down and
// reindexing names.
func (ar *Archive) removeAt(i int) {
	name := ar.entries[i].Name
	ar.entries = append(ar.entries[:i], ar.entries[i+1:]...)
	delete(ar.names, name)
	for n, idx := range ar.names {
		if idx > i {
			ar.names[n] = idx - 1
		}
	}
}

// DeleteByGlob removes every entry whose name matches the shell-style glob
// pattern pat (as interpreted by github.com/gobwas/glob, with '/' as a
// path separator). It fails only if pat does not compile; no entry
// matching is not an error.
func (ar *Archive) DeleteByGlob(pat string) error {
	g, err := glob.Compile(pat, '/')
	if err != nil {
		return &InvalidArgument{Field: "pattern", Reason: err.Error()}
	}
	ar.deleteWhere(g.Match)
	return nil
}

// DeleteByRegex removes every entry whose name matches the regular
// expression pat. It never fails once pat compiles, even if no entry
// matches.
func (ar *Archive) DeleteByRegex(pat string) error {
	re, err := regexp.Compile(pat)
	if err != nil {
		return &InvalidArgument{Field: "pattern", Reason: err.Error()}
	}
	ar.deleteWhere(re.MatchString)
	return nil
}

func (ar *Archive) deleteWhere(match func(string) bool) {
	kept := ar.entries[:0]
	for _, e := range ar.entries {
		if match(e.Name) {
			delete(ar.names, e.Name)
			continue
		}
		kept = append(kept, e)
	}
	ar.entries = kept
	for i, e := range ar.entries {
		ar.names[e.Name] = i
	}
}

// SetComment sets the archive-wide comment.
func (ar *Archive) SetComment(text string) error {
	if len(text) > uint16max {
		return &InvalidArgument{Field: "comment", Reason: "exceeds 65535 bytes"}
	}
	ar.comment = text
	return nil
}

// SetAlignment sets the byte alignment STORED entries' data is padded to
// on save; zero disables padding.
func (ar *Archive) SetAlignment(n int) error {
	if n < 0 {
		return &InvalidArgument{Field: "alignment", Reason: "must be >= 0"}
	}
	ar.alignment = n
	return nil
}

// Entries returns the archive's entries in emission order. The returned
// slice and its Entry pointers are owned by the archive; mutate entries
// through the Set*/Rename/Delete methods, not by assigning through these
// pointers behind the archive's back, if consistent name indexing matters.
func (ar *Archive) Entries() []*Entry {
	out := make([]*Entry, len(ar.entries))
	copy(out, ar.entries)
	return out
}

// Contains reports whether an entry named name exists.
func (ar *Archive) Contains(name string) bool {
	_, ok := ar.names[name]
	return ok
}

// EntryInfo returns the named entry, or ErrNotFound.
func (ar *Archive) EntryInfo(name string) (*Entry, error) {
	i, ok := ar.names[name]
	if !ok {
		return nil, ErrNotFound
	}
	return ar.entries[i], nil
}

// Add creates (or replaces) an entry named name with in-memory content
// data, using method (Store if omitted).
func (ar *Archive) Add(name string, data []byte, method ...uint16) (*Entry, error) {
	e := NewEntry(name)
	if len(method) > 0 {
		if err := e.SetCompressionMethod(method[0]); err != nil {
			return nil, err
		}
	}
	e.SetBytes(data)
	if err := ar.Insert(e); err != nil {
		return nil, err
	}
	return e, nil
}

// AddFile creates an entry whose content is read lazily from the local
// file at path when the archive is saved. If name is empty, the file's
// base name is used.
func (ar *Archive) AddFile(path string, name string, method ...uint16) (*Entry, error) {
	if name == "" {
		name = filepath.Base(path)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	e := NewEntry(name)
	e.Modified = info.ModTime()
	e.SetMode(info.Mode())
	if len(method) > 0 {
		if err := e.SetCompressionMethod(method[0]); err != nil {
			return nil, err
		}
	}
	e.SetFilePath(path)
	e.UncompressedSize64 = uint64(info.Size())
	if err := ar.Insert(e); err != nil {
		return nil, err
	}
	return e, nil
}

// AddStream creates an entry whose content is read once, lazily, from r
// when the archive is saved. Since the size is not known up front, the
// entry is written in data-descriptor mode.
func (ar *Archive) AddStream(r io.Reader, name string, method ...uint16) (*Entry, error) {
	e := NewEntry(name)
	if len(method) > 0 {
		if err := e.SetCompressionMethod(method[0]); err != nil {
			return nil, err
		}
	}
	e.SetStream(r)
	if err := ar.Insert(e); err != nil {
		return nil, err
	}
	return e, nil
}

// AddDir creates a directory entry named name, appending a trailing slash
// if not already present.
func (ar *Archive) AddDir(name string) (*Entry, error) {
	if len(name) == 0 || name[len(name)-1] != '/' {
		name += "/"
	}
	e := NewEntry(name)
	e.SetMode(os.ModeDir | 0755)
	if err := ar.Insert(e); err != nil {
		return nil, err
	}
	return e, nil
}

// SetPassword enables archive-wide encryption: every current entry gets
// password and method (EncryptionAES256 if method is omitted). Entries
// added afterwards are unaffected; call SetPasswordFor individually, or
// call SetPassword again once more entries exist.
func (ar *Archive) SetPassword(password []byte, method ...EncryptionMethod) {
	for _, e := range ar.entries {
		e.SetPassword(password, method...)
	}
}

// SetPasswordFor enables encryption on a single entry.
func (ar *Archive) SetPasswordFor(name string, password []byte, method ...EncryptionMethod) error {
	e, err := ar.EntryInfo(name)
	if err != nil {
		return err
	}
	e.SetPassword(password, method...)
	return nil
}

// DisableEncryption clears password/encryption on every entry.
func (ar *Archive) DisableEncryption() {
	for _, e := range ar.entries {
		e.SetPassword(nil)
	}
}

// DisableEncryptionFor clears password/encryption on a single entry.
func (ar *Archive) DisableEncryptionFor(name string) error {
	e, err := ar.EntryInfo(name)
	if err != nil {
		return err
	}
	e.SetPassword(nil)
	return nil
}

// SetCompressionLevel sets the DEFLATE compression level for every entry.
func (ar *Archive) SetCompressionLevel(level int) error {
	for _, e := range ar.entries {
		if err := e.SetCompressionLevel(level); err != nil {
			return err
		}
	}
	return nil
}

// SetCompressionLevelFor sets the DEFLATE compression level for a single
// entry.
func (ar *Archive) SetCompressionLevelFor(name string, level int) error {
	e, err := ar.EntryInfo(name)
	if err != nil {
		return err
	}
	return e.SetCompressionLevel(level)
}

// SetCompressionMethodFor sets the compression method for a single entry.
func (ar *Archive) SetCompressionMethodFor(name string, method uint16) error {
	e, err := ar.EntryInfo(name)
	if err != nil {
		return err
	}
	return e.SetCompressionMethod(method)
}

// Read returns the fully decoded, decrypted content of the named entry.
func (ar *Archive) Read(name string) ([]byte, error) {
	rc, err := ar.OpenEntry(name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// OpenEntry returns a streaming reader over the named entry's decoded,
// decrypted content. The returned ReadCloser must be closed once done.
func (ar *Archive) OpenEntry(name string) (io.ReadCloser, error) {
	e, err := ar.EntryInfo(name)
	if err != nil {
		return nil, err
	}
	if e.IsDirectory() {
		return io.NopCloser(bytes.NewReader(nil)), nil
	}
	if e.data.kind != sourceBackref {
		return nil, fmt.Errorf("zvault: entry %q has no readable backing data (not yet saved)", name)
	}
	return openEntryStream(e, e.data.backrefPassword)
}

// ExtractTo writes every entry (or, if names is non-empty, only the named
// entries) to dir, recreating the archive's directory structure.
func (ar *Archive) ExtractTo(dir string, names ...string) error {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	for _, e := range ar.entries {
		if len(names) > 0 && !want[e.Name] {
			continue
		}
		target := filepath.Join(dir, filepath.FromSlash(e.Name))
		if e.IsDirectory() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return err
		}
		if err := extractEntryTo(e, target); err != nil {
			return fmt.Errorf("zvault: extracting %q: %w", e.Name, err)
		}
	}
	return nil
}

func extractEntryTo(e *Entry, target string) error {
	var src io.Reader = bytes.NewReader(nil)
	if e.data.kind == sourceBackref {
		rc, err := openEntryStream(e, e.data.backrefPassword)
		if err != nil {
			return err
		}
		defer rc.Close()
		src = rc
	} else if plain, closer, err := openPlainSource(e); err != nil {
		return err
	} else if plain != nil {
		if closer != nil {
			defer closer.Close()
		}
		src = plain
	}

	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, e.UnixMode().Perm())
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, src)
	return err
}

// SaveToPath builds the archive and writes it to the file at path,
// creating or truncating it.
func (ar *Archive) SaveToPath(path string) error {
	img, err := ar.Build()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, io.NewSectionReader(img, 0, img.Size()))
	return err
}

// SaveToStream builds the archive and writes it to w.
func (ar *Archive) SaveToStream(w io.Writer) error {
	img, err := ar.Build()
	if err != nil {
		return err
	}
	_, err = io.Copy(w, io.NewSectionReader(img, 0, img.Size()))
	return err
}

// SaveToBytes builds the archive and returns it as an in-memory byte
// slice.
func (ar *Archive) SaveToBytes() ([]byte, error) {
	img, err := ar.Build()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, img.Size())
	if _, err := img.ReadAt(buf, 0); err != nil && err != io.EOF {
		return nil, err
	}
	return buf, nil
}
