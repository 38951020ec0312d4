// Copyright 2010 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zvault

import (
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/zvault/zvault/internal/zipbyte"
	"github.com/zvault/zvault/internal/zipextra"
)

// Compression methods, as stored in an Entry's Method field.
const (
	Store         uint16 = 0  // no compression
	Deflate       uint16 = 8  // DEFLATE compressed
	Bzip2         uint16 = 12 // BZIP2 compressed
	winZipMarker  uint16 = 99 // real method masked behind a WinZip AES extra
)

// EncryptionMethod identifies how an entry's data is encrypted.
type EncryptionMethod int

const (
	EncryptionNone EncryptionMethod = iota
	EncryptionZipCrypto
	EncryptionAES128
	EncryptionAES192
	EncryptionAES256
)

func (e EncryptionMethod) aesStrength() uint8 {
	switch e {
	case EncryptionAES128:
		return zipextra.AESStrength128
	case EncryptionAES192:
		return zipextra.AESStrength192
	case EncryptionAES256:
		return zipextra.AESStrength256
	default:
		return 0
	}
}

// sourceKind distinguishes the polymorphic shapes an Entry's pending data
// may take before it is written.
type sourceKind int

const (
	sourceNone sourceKind = iota
	sourceBytes
	sourcePath
	sourceStream
	sourceBackref
)

// dataSource is the Entry.data sum type: none, in-memory bytes, a local
// file path, an open byte stream, or a back-reference into a source
// archive's backing bytes (set by the reader for entries it parsed,
// enabling copy-through on save).
type dataSource struct {
	kind   sourceKind
	bytes  []byte
	path   string
	stream io.Reader

	// backref fields, valid when kind == sourceBackref.
	backing         io.ReaderAt
	backrefOffset   int64
	backrefMethod   uint16
	backrefEnc      EncryptionMethod
	backrefPassword []byte
}

// Entry describes a single file (or directory) within an Archive. It
// mirrors the on-disk local/central header fields plus the in-memory-only
// bookkeeping (password, pending data source) that the archive mutation
// API manipulates.
type Entry struct {
	// Name is the entry's path within the archive. It must be non-empty,
	// use forward slashes, and not start with "/" or "\". A trailing
	// slash marks a directory entry.
	Name string

	// Comment is an optional per-entry comment, at most 65535 bytes.
	Comment string

	// Charset, if non-empty, names a legacy codepage (see
	// internal/zipbyte.Lookup) used to decode/encode Name and Comment
	// when the UTF-8 flag is not set. Empty means UTF-8 when the flag is
	// set, otherwise CP-437-compatible ASCII.
	Charset string

	CreatedOS, ExtractedOS uint8
	CreatorVersion         uint16
	ReaderVersion          uint16

	// Method is the compression method. Store if zero.
	Method uint16

	// Flags holds the general-purpose bit flags (gpbf).
	Flags uint16

	// Modified is the entry's modification time. The legacy MS-DOS date
	// field is derived from it; an Extended Timestamp extra is emitted
	// alongside for sub-minute precision and timezone independence.
	Modified time.Time

	// CRC32 is the checksum of the uncompressed data. UnknownCRC32 marks
	// it unknown until the entry is written (data-descriptor mode).
	CRC32 uint32

	CompressedSize64   uint64
	UncompressedSize64 uint64

	InternalAttrs uint16
	ExternalAttrs uint32

	LocalHeaderOffset uint64

	// CDExtras and LocalExtras hold extra-field records that appeared in
	// (or will be emitted to) the central directory and local header
	// respectively. The two may disagree — some fields (Zip64 sizes,
	// WinZip AES) conventionally live only in the local header.
	CDExtras    zipextra.Fields
	LocalExtras zipextra.Fields

	// Password, when non-empty, enables encryption on write. It is never
	// persisted; it exists only for the lifetime of the in-process
	// Entry. Archive.Read/OpenEntry/ExtractTo also use it to decrypt the
	// entry's stored bytes when they are encrypted.
	Password []byte

	Encryption EncryptionMethod

	// CompressionLevel is -1 (default) or 0-9. Only meaningful for
	// Deflate.
	CompressionLevel int

	data dataSource
}

// UnknownCRC32 marks CRC32 (or a size field) as not yet known; the writer
// must use a data descriptor in this case.
const UnknownCRC32 = 0

// NewEntry returns an Entry with sane defaults (Store, no encryption,
// default compression level, current time).
func NewEntry(name string) *Entry {
	return &Entry{
		Name:             name,
		CompressionLevel: -1,
		Modified:         time.Now(),
	}
}

// IsDirectory reports whether the entry's name ends in a slash.
func (e *Entry) IsDirectory() bool {
	return strings.HasSuffix(e.Name, "/")
}

// SetName renames the entry in place. It strips any Unicode Path extra
// (which would otherwise disagree with the new name) and recomputes
// whatever name-derived state the entry carries.
func (e *Entry) SetName(name string) error {
	if name == "" {
		return &InvalidArgument{Field: "name", Reason: "must not be empty"}
	}
	if len(name) > uint16max {
		return &InvalidArgument{Field: "name", Reason: "exceeds 65535 bytes"}
	}
	e.Name = name
	e.CDExtras = e.CDExtras.Remove(zipextra.IDUnicodePath)
	e.LocalExtras = e.LocalExtras.Remove(zipextra.IDUnicodePath)
	return nil
}

// SetCompressionMethod changes the compression method used on next write.
// Only Store, Deflate, and Bzip2 (decode-only for write, see
// internal/zippipe) are accepted.
func (e *Entry) SetCompressionMethod(method uint16) error {
	switch method {
	case Store, Deflate, Bzip2:
		e.Method = method
		return nil
	default:
		return &InvalidArgument{Field: "method", Reason: "unsupported compression method"}
	}
}

// SetCompressionLevel sets the DEFLATE compression level (-1 for default,
// 0-9 otherwise) and updates the gpbf level bits that get written
// alongside it.
func (e *Entry) SetCompressionLevel(level int) error {
	if level < -1 || level > 9 {
		return &InvalidArgument{Field: "level", Reason: "must be in [-1, 9]"}
	}
	e.CompressionLevel = level
	e.Flags &^= 0x6 // clear bits 1-2
	switch {
	case level == 9:
		e.Flags |= 0x2 // maximum
	case level >= 1 && level <= 2:
		e.Flags |= 0x4 // fast
	case level == 0:
		e.Flags |= 0x6 // superfast
	}
	return nil
}

// SetPassword enables or disables per-entry encryption. A nil or empty
// password disables encryption (clearing the WinZip AES extra field, if
// any); a non-empty password enables encryption, defaulting to
// EncryptionAES256 unless method is given explicitly.
func (e *Entry) SetPassword(password []byte, method ...EncryptionMethod) {
	if len(password) == 0 {
		e.Password = nil
		e.Encryption = EncryptionNone
		e.CDExtras = e.CDExtras.Remove(zipextra.IDWinZipAES)
		e.LocalExtras = e.LocalExtras.Remove(zipextra.IDWinZipAES)
		e.Flags &^= 0x1
		return
	}
	e.Password = password
	if len(method) > 0 {
		e.Encryption = method[0]
	} else {
		e.Encryption = EncryptionAES256
	}
	e.Flags |= 0x1
}

// AddExtraField adds (or replaces, by header id) an extra-field record to
// both the central-directory and local-header extra sets.
func (e *Entry) AddExtraField(f zipextra.Field) {
	e.CDExtras = e.CDExtras.Set(f)
	e.LocalExtras = e.LocalExtras.Set(f)
}

// SetBytes attaches in-memory content as the entry's pending data.
func (e *Entry) SetBytes(b []byte) {
	e.data = dataSource{kind: sourceBytes, bytes: b}
	e.UncompressedSize64 = uint64(len(b))
}

// SetFilePath attaches a local file path as the entry's pending data; it
// is opened lazily when the archive is saved.
func (e *Entry) SetFilePath(p string) {
	e.data = dataSource{kind: sourcePath, path: p}
}

// SetStream attaches an open byte stream as the entry's pending data. The
// size fields are left at UnknownCRC32 until the stream is fully read
// during save, forcing data-descriptor mode.
func (e *Entry) SetStream(r io.Reader) {
	e.data = dataSource{kind: sourceStream, stream: r}
	e.CRC32 = UnknownCRC32
	e.CompressedSize64 = 0
	e.UncompressedSize64 = 0
	e.Flags |= 0x8
}

// setBackref marks the entry's data as an unread reference into source's
// backing bytes — used by the reader when it parses an existing archive,
// and preserved across saves that don't touch this entry (copy-through).
// password is the one the archive was opened with, kept only so a later
// change to the entry's method/encryption can still decode the original
// bytes for recoding.
func (e *Entry) setBackref(backing io.ReaderAt, offset int64, password []byte) {
	e.data = dataSource{
		kind:            sourceBackref,
		backing:         backing,
		backrefOffset:   offset,
		backrefMethod:   e.Method,
		backrefEnc:      e.Encryption,
		backrefPassword: password,
	}
}

// isCopyThrough reports whether e's pending data is still the original
// back-reference with nothing observable changed, meaning the writer may
// re-emit the compressed bytes verbatim instead of recoding.
func (e *Entry) isCopyThrough() bool {
	return e.data.kind == sourceBackref &&
		e.data.backrefMethod == e.Method &&
		e.data.backrefEnc == e.Encryption &&
		len(e.Password) == 0
}

// MTime returns the entry's modification time, preferring the NTFS
// extra, then Extended Timestamp, then Old Unix, then falling back to the
// legacy DOS time (mtime only, 2s resolution).
func (e *Entry) MTime() time.Time {
	if f, ok := zipextra.GetAs[zipextra.NTFS](e.CDExtras, zipextra.IDNTFS); ok {
		return f.Mtime
	}
	if f, ok := zipextra.GetAs[zipextra.NTFS](e.LocalExtras, zipextra.IDNTFS); ok {
		return f.Mtime
	}
	if f, ok := extTime(e, zipextra.IDExtTime); ok && f.HasMtime {
		return f.Mtime
	}
	if f, ok := zipextra.GetAs[zipextra.OldUnix](e.CDExtras, zipextra.IDOldUnix); ok {
		return f.Mtime
	}
	return e.Modified
}

// ATime returns the entry's access time if an NTFS, Extended Timestamp, or
// Old Unix extra records one; the zero time otherwise.
func (e *Entry) ATime() time.Time {
	if f, ok := zipextra.GetAs[zipextra.NTFS](e.CDExtras, zipextra.IDNTFS); ok {
		return f.Atime
	}
	if f, ok := extTime(e, zipextra.IDExtTime); ok && f.HasAtime {
		return f.Atime
	}
	if f, ok := zipextra.GetAs[zipextra.OldUnix](e.CDExtras, zipextra.IDOldUnix); ok {
		return f.Atime
	}
	return time.Time{}
}

// CTime returns the entry's creation/change time if an NTFS or Extended
// Timestamp extra records one; the zero time otherwise.
func (e *Entry) CTime() time.Time {
	if f, ok := zipextra.GetAs[zipextra.NTFS](e.CDExtras, zipextra.IDNTFS); ok {
		return f.Ctime
	}
	if f, ok := extTime(e, zipextra.IDExtTime); ok && f.HasCtime {
		return f.Ctime
	}
	return time.Time{}
}

func extTime(e *Entry, id uint16) (zipextra.ExtTime, bool) {
	if f, ok := zipextra.GetAs[zipextra.ExtTime](e.LocalExtras, id); ok {
		return f, true
	}
	return zipextra.GetAs[zipextra.ExtTime](e.CDExtras, id)
}

// UnixMode returns the Unix permission/type bits for the entry: from
// ExternalAttrs when CreatedOS is Unix, from an ASI Unix extra if
// present, or a directory/file default otherwise.
func (e *Entry) UnixMode() os.FileMode {
	if e.CreatedOS == creatorUnix || e.CreatedOS == creatorMacOSX {
		return unixModeToFileMode(e.ExternalAttrs >> 16)
	}
	if f, ok := zipextra.GetAs[zipextra.ASIUnix](e.CDExtras, zipextra.IDASIUnix); ok {
		return unixModeToFileMode(uint32(f.Mode))
	}
	if e.IsDirectory() {
		return os.ModeDir | 0755
	}
	return 0644
}

// IsSymlink reports whether the entry's Unix mode bits mark it as a
// symbolic link (its content is then the link target, per this project's
// resolution of the symlink-content open question in DESIGN.md).
func (e *Entry) IsSymlink() bool {
	return e.UnixMode()&os.ModeSymlink != 0
}

// SetMode sets the Unix permission/type bits, switching CreatedOS to Unix.
func (e *Entry) SetMode(mode os.FileMode) {
	e.CreatedOS = creatorUnix
	e.CreatorVersion = e.CreatorVersion&0xff | creatorUnix<<8
	e.ExternalAttrs = fileModeToUnixMode(mode) << 16
	if mode&os.ModeDir != 0 {
		e.ExternalAttrs |= msdosDir
	}
	if mode&0200 == 0 {
		e.ExternalAttrs |= msdosReadOnly
	}
}

// dosModified packs e.Modified as an MS-DOS date/time pair.
func (e *Entry) dosModified() (date, t uint16) {
	return zipbyte.TimeToDOSTime(e.Modified)
}

// baseName returns the final path component of the entry's name, for
// os.FileInfo compatibility.
func (e *Entry) baseName() string { return path.Base(e.Name) }
