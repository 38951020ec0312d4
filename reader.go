// Copyright 2010 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zvault

import (
	"fmt"
	"hash/crc32"
	"io"
	"strings"
	"time"

	"github.com/zvault/zvault/internal/zipbyte"
	"github.com/zvault/zvault/internal/zipcrypto"
	"github.com/zvault/zvault/internal/zipextra"
	"github.com/zvault/zvault/internal/zippipe"
)

// Options configures how an archive is opened.
type Options struct {
	// ReadCharset names a legacy codepage (internal/zipbyte.Lookup) used to
	// decode entry names/comments when the UTF-8 flag bit is unset. Empty
	// means CP-437-compatible ASCII.
	ReadCharset string

	// Alignment seeds Archive.alignment (see SetAlignment); zero disables
	// alignment padding on save.
	Alignment int
}

// Reader holds the immutable, freshly-parsed view of an opened archive: its
// pristine entries, comment, and backing byte source. Archive clones this
// view into its mutable working copy; UnchangeEntry/UnchangeAll/
// UnchangeArchiveComment consult it to discard pending edits, and Rewrite
// replaces it with a view of the just-written bytes.
type Reader struct {
	source  io.ReaderAt
	size    int64
	opts    Options
	entries []*Entry
	names   map[string]int
	comment string
}

const maxEOCDCommentSize = 65535

// openReader parses r (size bytes long) as a ZIP archive.
func openReader(r io.ReaderAt, size int64, opts Options) (*Reader, error) {
	eocdOff, eocd, err := findEOCD(r, size)
	if err != nil {
		return nil, err
	}

	cdEntries := uint64(eocd.entriesTotal)
	cdSize := uint64(eocd.cdSize)
	cdOffset := uint64(eocd.cdOffset)

	if z64off := eocdOff - directory64LocLen; z64off >= 0 {
		var locBuf [directory64LocLen]byte
		if _, err := r.ReadAt(locBuf[:], z64off); err == nil {
			lb := zipbyte.ReadBuf(locBuf[:])
			if lb.Uint32() == directory64LocSignature {
				lb.Uint32() // disk with zip64 EOCD
				z64eocdOff := int64(lb.Uint64())
				var recBuf [directory64EndLen]byte
				if _, err := r.ReadAt(recBuf[:], z64eocdOff); err == nil {
					rb := zipbyte.ReadBuf(recBuf[:])
					if rb.Uint32() == directory64EndSignature {
						rb.Uint64() // record size
						rb.Uint16() // version made by
						rb.Uint16() // version needed
						rb.Uint32() // disk number
						rb.Uint32() // disk with CD start
						rb.Uint64() // entries this disk
						cdEntries = rb.Uint64()
						cdSize = rb.Uint64()
						cdOffset = rb.Uint64()
					}
				}
			}
		}
	}

	if eocd.diskNumber != 0 || eocd.entriesThisDisk != eocd.entriesTotal {
		return nil, fmt.Errorf("%w: split archives are not supported", ErrUnsupportedFeature)
	}

	cdBuf := make([]byte, cdSize)
	if _, err := r.ReadAt(cdBuf, int64(cdOffset)); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: reading central directory: %v", ErrCorruptArchive, err)
	}

	rd := &Reader{
		source:  r,
		size:    size,
		opts:    opts,
		comment: eocd.comment,
		names:   make(map[string]int, cdEntries),
	}

	cursor := cdBuf
	for i := uint64(0); i < cdEntries; i++ {
		e, n, err := parseCDEntry(cursor, opts)
		if err != nil {
			return nil, err
		}
		cursor = cursor[n:]
		e.setBackref(r, 0, nil) // offset finalized below once local header is confirmed
		rd.names[e.Name] = len(rd.entries)
		rd.entries = append(rd.entries, e)
	}

	for _, e := range rd.entries {
		if err := confirmLocalHeader(r, e); err != nil {
			return nil, err
		}
	}

	return rd, nil
}

type eocdRecord struct {
	diskNumber      uint16
	entriesThisDisk uint16
	entriesTotal    uint16
	cdSize          uint32
	cdOffset        uint32
	comment         string
}

// findEOCD scans backward for the end-of-central-directory signature,
// which may be preceded by up to 65535 bytes of archive comment.
func findEOCD(r io.ReaderAt, size int64) (int64, eocdRecord, error) {
	if size < directoryEndLen {
		return 0, eocdRecord{}, fmt.Errorf("%w: too small to be a zip archive", ErrCorruptArchive)
	}
	window := int64(directoryEndLen + maxEOCDCommentSize)
	if window > size {
		window = size
	}
	buf := make([]byte, window)
	start := size - window
	if _, err := r.ReadAt(buf, start); err != nil && err != io.EOF {
		return 0, eocdRecord{}, fmt.Errorf("%w: %v", ErrCorruptArchive, err)
	}

	for i := len(buf) - directoryEndLen; i >= 0; i-- {
		b := zipbyte.ReadBuf(buf[i:])
		if b.Uint32() != directoryEndSignature {
			continue
		}
		var eocd eocdRecord
		eocd.diskNumber = b.Uint16()
		b.Uint16() // disk with CD start
		eocd.entriesThisDisk = b.Uint16()
		eocd.entriesTotal = b.Uint16()
		eocd.cdSize = b.Uint32()
		eocd.cdOffset = b.Uint32()
		commentLen := int(b.Uint16())
		commentStart := i + directoryEndLen
		if commentStart+commentLen <= len(buf) {
			eocd.comment = string(buf[commentStart : commentStart+commentLen])
		}
		return start + int64(i), eocd, nil
	}
	return 0, eocdRecord{}, fmt.Errorf("%w: end of central directory record not found", ErrCorruptArchive)
}

// parseCDEntry decodes one central-directory record from buf, returning the
// entry and the number of bytes consumed.
func parseCDEntry(buf []byte, opts Options) (*Entry, int, error) {
	if len(buf) < directoryHeaderLen {
		return nil, 0, fmt.Errorf("%w: truncated central directory record", ErrCorruptArchive)
	}
	b := zipbyte.ReadBuf(buf)
	if sig := b.Uint32(); sig != directoryHeaderSignature {
		return nil, 0, fmt.Errorf("%w: bad central directory signature", ErrCorruptArchive)
	}

	e := &Entry{}
	creatorVersion := b.Uint16()
	e.CreatorVersion = creatorVersion
	e.CreatedOS = uint8(creatorVersion >> 8)
	e.ReaderVersion = b.Uint16()
	e.Flags = b.Uint16()
	method := b.Uint16()
	dosTime := b.Uint16()
	dosDate := b.Uint16()
	e.CRC32 = b.Uint32()
	compSize := uint64(b.Uint32())
	uncompSize := uint64(b.Uint32())
	nameLen := int(b.Uint16())
	extraLen := int(b.Uint16())
	commentLen := int(b.Uint16())
	b.Uint16() // disk number start
	e.InternalAttrs = b.Uint16()
	e.ExternalAttrs = b.Uint32()
	offset := uint64(b.Uint32())

	need := nameLen + extraLen + commentLen
	if b.Len() < need {
		return nil, 0, fmt.Errorf("%w: truncated central directory record", ErrCorruptArchive)
	}
	rawName := b.Bytes(nameLen)
	rawExtra := append([]byte(nil), b.Bytes(extraLen)...)
	rawComment := b.Bytes(commentLen)

	ctx := zipextra.Context{
		Zip64Sizes:  compSize >= uint32max || uncompSize >= uint32max,
		Zip64Offset: offset >= uint32max,
	}
	e.CDExtras = zipextra.Decode(rawExtra, ctx)
	if z, ok := zipextra.GetAs[zipextra.Zip64](e.CDExtras, zipextra.IDZip64); ok {
		if z.HasUncompressedSize {
			uncompSize = z.UncompressedSize
		}
		if z.HasCompressedSize {
			compSize = z.CompressedSize
		}
		if z.HasLocalHeaderOffset {
			offset = z.LocalHeaderOffset
		}
	}

	e.Method = method
	e.Modified = zipbyte.DOSTimeToTime(dosDate, dosTime, time.UTC)
	e.CompressedSize64 = compSize
	e.UncompressedSize64 = uncompSize
	e.LocalHeaderOffset = offset

	e.Name = decodeEntryText(rawName, e.Flags, opts.ReadCharset)
	e.Comment = decodeEntryText(rawComment, e.Flags, opts.ReadCharset)
	if up, ok := zipextra.GetAs[zipextra.UnicodePath](e.CDExtras, zipextra.IDUnicodePath); ok {
		if up.NameCRC32 == crc32.ChecksumIEEE(rawName) {
			candidate := up.Name
			if strings.Count(candidate, "/") == strings.Count(e.Name, "\\")+strings.Count(e.Name, "/") {
				e.Name = candidate
			}
		}
	}

	if e.Flags&0x1 != 0 {
		if method == winZipMarker {
			if aes, ok := zipextra.GetAs[zipextra.WinZipAES](e.CDExtras, zipextra.IDWinZipAES); ok {
				e.Method = aes.RealMethod
				e.Encryption = aesEncryptionMethod(aes.KeyBits())
			}
		} else {
			e.Encryption = EncryptionZipCrypto
		}
	}
	if e.Flags&0x40 != 0 {
		return nil, 0, fmt.Errorf("%w: PKWARE strong encryption", ErrUnsupportedFeature)
	}

	return e, directoryHeaderLen + need, nil
}

func aesEncryptionMethod(bits int) EncryptionMethod {
	switch bits {
	case 128:
		return EncryptionAES128
	case 192:
		return EncryptionAES192
	case 256:
		return EncryptionAES256
	default:
		return EncryptionAES256
	}
}

// decodeEntryText decodes a raw name/comment byte string per the UTF-8 gpbf
// bit and, failing that, the configured legacy codepage.
func decodeEntryText(raw []byte, flags uint16, charset string) string {
	if flags&0x800 != 0 {
		return string(raw)
	}
	if charset != "" {
		if cp, ok := zipbyte.Lookup(charset); ok {
			return cp.Decode(raw)
		}
	}
	return string(raw)
}

// confirmLocalHeader re-reads the local header that a central-directory
// record points to, to compute the data offset and pick up any local-only
// extras (Zip64 sizes, WinZip AES) that the CD record omitted.
func confirmLocalHeader(r io.ReaderAt, e *Entry) error {
	var buf [fileHeaderLen]byte
	if _, err := r.ReadAt(buf[:], int64(e.LocalHeaderOffset)); err != nil {
		return fmt.Errorf("%w: reading local header for %q: %v", ErrCorruptArchive, e.Name, err)
	}
	b := zipbyte.ReadBuf(buf[:])
	if sig := b.Uint32(); sig != fileHeaderSignature {
		return fmt.Errorf("%w: bad local header signature for %q", ErrCorruptArchive, e.Name)
	}
	b.Uint16() // version needed
	b.Uint16() // flags
	b.Uint16() // method
	b.Uint16() // time
	b.Uint16() // date
	b.Uint32() // crc32
	b.Uint32() // compressed size
	b.Uint32() // uncompressed size
	nameLen := int(b.Uint16())
	extraLen := int(b.Uint16())

	extraBuf := make([]byte, extraLen)
	if extraLen > 0 {
		if _, err := r.ReadAt(extraBuf, int64(e.LocalHeaderOffset)+fileHeaderLen+int64(nameLen)); err != nil {
			return fmt.Errorf("%w: reading local extra for %q: %v", ErrCorruptArchive, e.Name, err)
		}
	}
	ctx := zipextra.Context{
		Zip64Sizes:  e.CompressedSize64 >= uint32max || e.UncompressedSize64 >= uint32max,
		Zip64Offset: false,
		Local:       true,
	}
	e.LocalExtras = zipextra.Decode(extraBuf, ctx)
	if z, ok := zipextra.GetAs[zipextra.Zip64](e.LocalExtras, zipextra.IDZip64); ok {
		if z.HasUncompressedSize {
			e.UncompressedSize64 = z.UncompressedSize
		}
		if z.HasCompressedSize {
			e.CompressedSize64 = z.CompressedSize
		}
	}
	if e.Encryption != EncryptionNone && e.Encryption != EncryptionZipCrypto {
		if aes, ok := zipextra.GetAs[zipextra.WinZipAES](e.LocalExtras, zipextra.IDWinZipAES); ok {
			e.Method = aes.RealMethod
			e.Encryption = aesEncryptionMethod(aes.KeyBits())
		}
	}

	dataOffset := int64(e.LocalHeaderOffset) + fileHeaderLen + int64(nameLen) + int64(extraLen)
	backing := e.data.backing
	e.data = dataSource{
		kind:            sourceBackref,
		backing:         backing,
		backrefOffset:   dataOffset,
		backrefMethod:   e.Method,
		backrefEnc:      e.Encryption,
		backrefPassword: e.data.backrefPassword,
	}
	return nil
}

// openEntryStream builds the decode pipeline for reading e's plaintext
// content: decrypt (if encrypted), decompress, and verify CRC32 (skipped
// for WinZip AES v2, whose CRC field is conventionally zeroed). An empty
// password falls back to e.Password.
func openEntryStream(e *Entry, password []byte) (io.ReadCloser, error) {
	if e.data.kind != sourceBackref {
		return nil, fmt.Errorf("zvault: entry %q has no backing data to stream", e.Name)
	}
	compSize := int64(e.CompressedSize64)
	raw := io.NewSectionReader(e.data.backing, e.data.backrefOffset, compSize)

	var src io.Reader = raw
	verify := func() error { return nil }
	aesVerified := false
	if len(password) == 0 {
		password = e.Password
	}

	// Decode with the encryption and method the stored bytes were written
	// with, not any pending change to the entry's write settings.
	switch e.data.backrefEnc {
	case EncryptionNone:
	case EncryptionZipCrypto:
		_, dosTime := e.dosModified()
		checkByte := zipcrypto.HeaderCheckByte(e.CRC32, dosTime, e.Flags&0x8 != 0)
		r, v, err := zippipe.DecryptReader(zippipe.EncryptionZipCrypto, password, checkByte, src)
		if err != nil {
			if err == zippipe.ErrAuthentication {
				return nil, &AuthenticationError{Name: e.Name}
			}
			return nil, err
		}
		src, verify = r, v
	case EncryptionAES128, EncryptionAES192, EncryptionAES256:
		r, v, err := zippipe.DecryptAESReader(aesBits(e.data.backrefEnc), password, src)
		if err != nil {
			if err == zippipe.ErrAuthentication {
				return nil, &AuthenticationError{Name: e.Name}
			}
			return nil, err
		}
		src, verify = r, v
		aesVerified = true
	}

	decompressed, err := zippipe.Decompressor(e.data.backrefMethod, zippipe.BufferedReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFeature, err)
	}

	// WinZip AES v2 zeroes CRC32 (the HMAC tag authenticates instead); only
	// verify the checksum when it's actually meaningful.
	var out io.Reader = decompressed
	if !aesVerified || e.CRC32 != 0 {
		out = &crcVerifyReader{r: decompressed, want: e.CRC32, name: e.Name}
	}
	return &entryReadCloser{r: out, verify: verify, name: e.Name}, nil
}

// crcVerifyReader accumulates a running CRC32 over everything read and
// compares it against want once the wrapped reader reports EOF.
type crcVerifyReader struct {
	r    io.Reader
	want uint32
	name string
	hash uint32
	done bool
}

func (c *crcVerifyReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.hash = crc32.Update(c.hash, crc32.IEEETable, p[:n])
	}
	if err == io.EOF && !c.done {
		c.done = true
		if c.hash != c.want {
			return n, &Crc32MismatchError{Name: c.name, Expected: c.want, Actual: c.hash}
		}
	}
	return n, err
}

type entryReadCloser struct {
	r       io.Reader
	verify  func() error
	name    string
	checked bool
}

func (rc *entryReadCloser) Read(p []byte) (int, error) {
	n, err := rc.r.Read(p)
	if err == io.EOF && !rc.checked {
		rc.checked = true
		if verr := rc.verify(); verr != nil {
			if verr == zippipe.ErrAuthentication {
				return n, &AuthenticationError{Name: rc.name}
			}
			return n, verr
		}
	}
	return n, err
}

func (rc *entryReadCloser) Close() error { return nil }
