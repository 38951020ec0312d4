// Copyright 2011 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zvault

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"time"
	"unicode/utf8"

	"github.com/zvault/zvault/internal/zipbyte"
	"github.com/zvault/zvault/internal/zipcrypto"
	"github.com/zvault/zvault/internal/zipextra"
	"github.com/zvault/zvault/internal/zippipe"
)

var (
	errLongName  = errors.New("zvault: entry name too long")
	errLongExtra = errors.New("zvault: extra field data too long")
)

// Image is the built, seekable byte image of an Archive: local headers,
// entry data (copy-through or recoded), central directory, and the EOCD
// record, composed as a ReaderAt without requiring the whole archive to be
// buffered in memory. It is what SaveTo* and zvaulthttp serve from.
type Image struct {
	parts      multiReaderAt
	createTime time.Time
	etag       string
}

// Size returns the size of the built archive in bytes.
func (img *Image) Size() int64 { return img.parts.Size() }

// ReadAt implements io.ReaderAt over the built archive bytes.
func (img *Image) ReadAt(p []byte, off int64) (int, error) {
	return img.parts.ReadAt(p, off)
}

// ReadAtContext is like ReadAt but threads ctx through to any entry whose
// backing ReaderAt honors it (see ReaderAt).
func (img *Image) ReadAtContext(ctx context.Context, p []byte, off int64) (int, error) {
	return img.parts.ReadAtContext(ctx, p, off)
}

// ETag returns a content hash suitable for an HTTP ETag header.
func (img *Image) ETag() string { return img.etag }

// CreateTime returns the latest Modified time among the archive's entries.
func (img *Image) CreateTime() time.Time { return img.createTime }

func bufferView(content func(w io.Writer) error) (sizeReaderAt, error) {
	var buf bytes.Buffer
	if err := content(&buf); err != nil {
		return nil, err
	}
	return bytes.NewReader(buf.Bytes()), nil
}

// preparedEntry carries the per-entry state computed while building the
// image: its final local-header offset plus the central-directory extras
// after Zip64 promotion has been folded in.
type preparedEntry struct {
	*Entry
	offset  uint64
	cdExtra []byte
}

// Build assembles the archive's current mutation state into an Image.
func (ar *Archive) Build() (*Image, error) {
	if len(ar.comment) > uint16max {
		return nil, &InvalidArgument{Field: "comment", Reason: "exceeds 65535 bytes"}
	}

	img := new(Image)
	dir := make([]*preparedEntry, 0, len(ar.entries))
	etagHash := md5.New()
	var maxTime time.Time

	for _, e := range ar.entries {
		if err := prepareEntry(e); err != nil {
			return nil, fmt.Errorf("zvault: preparing entry %q: %w", e.Name, err)
		}

		// Resolve the entry's final bytes (and CRC32/size fields) before
		// the local header is written, so a size that turns out to need
		// Zip64 can still promote ReaderVersion in time.
		content, err := entryContentReaderAt(e)
		if err != nil {
			return nil, fmt.Errorf("zvault: encoding entry %q: %w", e.Name, err)
		}
		if sizesNeedZip64(e) && e.ReaderVersion < zipVersion45 {
			e.ReaderVersion = zipVersion45
		}

		pe := &preparedEntry{Entry: e, offset: uint64(img.parts.size)}

		localExtra, err := buildLocalExtra(e, ar.alignment, img.parts.size)
		if err != nil {
			return nil, err
		}

		header, err := bufferView(func(w io.Writer) error {
			return writeLocalHeader(w, e, localExtra)
		})
		if err != nil {
			return nil, err
		}
		img.parts.addSizeReaderAt(header)
		io.Copy(etagHash, io.NewSectionReader(header, 0, header.Size()))

		if !e.IsDirectory() {
			if content != nil {
				img.parts.addSizeReaderAt(content)
			}
			descriptor := makeDataDescriptor(e)
			img.parts.addSizeReaderAt(bytes.NewReader(descriptor))
			etagHash.Write(descriptor)
		}

		cdExtra, err := buildCDExtra(e, pe.offset)
		if err != nil {
			return nil, err
		}
		pe.cdExtra = cdExtra
		dir = append(dir, pe)

		if e.Modified.After(maxTime) {
			maxTime = e.Modified
		}
	}

	cdOffset := img.parts.size
	comment := ar.comment
	centralDirectory, err := bufferView(func(w io.Writer) error {
		return writeCentralDirectory(cdOffset, dir, w, comment)
	})
	if err != nil {
		return nil, err
	}
	img.parts.addSizeReaderAt(centralDirectory)
	io.Copy(etagHash, io.NewSectionReader(centralDirectory, 0, centralDirectory.Size()))

	img.createTime = maxTime
	img.etag = fmt.Sprintf("%q", hex.EncodeToString(etagHash.Sum(nil)))
	return img, nil
}

// entryContentReaderAt returns a ReaderAt over e's final compressed (and
// possibly encrypted) bytes, filling in e.CRC32/CompressedSize64/
// UncompressedSize64 as a side effect. It returns a nil reader for entries
// with no content (directories, empty streams).
func entryContentReaderAt(e *Entry) (sizeReaderAt, error) {
	if e.isCopyThrough() {
		size := int64(e.CompressedSize64)
		if size == 0 {
			return nil, nil
		}
		return io.NewSectionReader(e.data.backing, e.data.backrefOffset, size), nil
	}

	plain, closer, err := openPlainSource(e)
	if err != nil {
		return nil, err
	}
	if closer != nil {
		defer closer.Close()
	}
	if plain == nil {
		e.CRC32 = 0
		e.CompressedSize64 = 0
		e.UncompressedSize64 = 0
		return nil, nil
	}

	var buf bytes.Buffer
	crc, uncompSize, err := encodeEntryBody(e, plain, &buf)
	if err != nil {
		return nil, err
	}
	switch e.Encryption {
	case EncryptionAES128, EncryptionAES192, EncryptionAES256:
		// AE-2 zeroes CRC32; the HMAC tag authenticates the data instead.
		e.CRC32 = 0
	default:
		e.CRC32 = crc
	}
	e.UncompressedSize64 = uncompSize
	e.CompressedSize64 = uint64(buf.Len())
	if buf.Len() == 0 {
		return nil, nil
	}
	return bytes.NewReader(buf.Bytes()), nil
}

// openPlainSource opens e's pending plaintext data source, returning an
// optional Closer the caller must close once done reading.
func openPlainSource(e *Entry) (io.Reader, io.Closer, error) {
	switch e.data.kind {
	case sourceNone:
		return nil, nil, nil
	case sourceBytes:
		return bytes.NewReader(e.data.bytes), nil, nil
	case sourcePath:
		f, err := os.Open(e.data.path)
		if err != nil {
			return nil, nil, err
		}
		return f, f, nil
	case sourceStream:
		return e.data.stream, nil, nil
	case sourceBackref:
		r, err := openBackrefPlain(e)
		if err != nil {
			return nil, nil, err
		}
		return r, nil, nil
	default:
		return nil, nil, fmt.Errorf("zvault: entry %q has no data source", e.Name)
	}
}

// openBackrefPlain decodes a backref entry's stored bytes back to
// plaintext: decrypt (using the password the entry was originally read
// with) then decompress. It's used when an entry's method, encryption, or
// password has changed since it was read, so a verbatim copy-through is no
// longer possible and the content must be recoded.
func openBackrefPlain(e *Entry) (io.Reader, error) {
	compSize := int64(e.CompressedSize64)
	var raw io.Reader = io.NewSectionReader(e.data.backing, e.data.backrefOffset, compSize)
	verify := func() error { return nil }

	switch e.data.backrefEnc {
	case EncryptionNone:
	case EncryptionZipCrypto:
		_, dosTime := e.dosModified()
		checkByte := zipcrypto.HeaderCheckByte(e.CRC32, dosTime, e.Flags&0x8 != 0)
		r, v, err := zippipe.DecryptReader(zippipe.EncryptionZipCrypto, e.data.backrefPassword, checkByte, raw)
		if err != nil {
			return nil, err
		}
		raw, verify = r, v
	case EncryptionAES128, EncryptionAES192, EncryptionAES256:
		r, v, err := zippipe.DecryptAESReader(aesBits(e.data.backrefEnc), e.data.backrefPassword, raw)
		if err != nil {
			return nil, err
		}
		raw, verify = r, v
	}

	plain, err := zippipe.Decompressor(e.data.backrefMethod, zippipe.BufferedReader(raw))
	if err != nil {
		return nil, err
	}
	return &verifyReader{r: plain, verify: verify}, nil
}

// verifyReader runs verify once the wrapped reader reports EOF, surfacing
// an authentication failure as the error of the Read call that saw it.
type verifyReader struct {
	r       io.Reader
	verify  func() error
	checked bool
}

func (v *verifyReader) Read(p []byte) (int, error) {
	n, err := v.r.Read(p)
	if err == io.EOF && !v.checked {
		v.checked = true
		if verr := v.verify(); verr != nil {
			return n, verr
		}
	}
	return n, err
}

// encodeEntryBody runs plain through the compress-then-encrypt write
// pipeline, writing the result to dst and returning the CRC32 and
// uncompressed size of plain.
func encodeEntryBody(e *Entry, plain io.Reader, dst io.Writer) (crc uint32, uncompSize uint64, err error) {
	if effectiveMethod(e) == Bzip2 {
		return 0, 0, fmt.Errorf("%w: BZIP2 compression on write", ErrUnsupportedFeature)
	}
	var cipherDst io.Writer = dst
	var aesWriter *zippipe.AESWriter

	switch e.Encryption {
	case EncryptionZipCrypto:
		_, dosTime := e.dosModified()
		checkByte := zipcrypto.HeaderCheckByte(0, dosTime, true)
		w, werr := zippipe.EncryptZipCryptoWriter(e.Password, checkByte, dst)
		if werr != nil {
			return 0, 0, werr
		}
		cipherDst = w
	case EncryptionAES128, EncryptionAES192, EncryptionAES256:
		aw, werr := zippipe.NewAESWriter(aesBits(e.Encryption), e.Password, dst)
		if werr != nil {
			return 0, 0, werr
		}
		aesWriter = aw
		cipherDst = aw
	}

	compressor, cerr := zippipe.Compressor(effectiveMethod(e), e.CompressionLevel, cipherDst)
	if cerr != nil {
		return 0, 0, cerr
	}

	counting := &countingReader{r: plain}
	if _, err = io.Copy(compressor, counting); err != nil {
		return 0, 0, err
	}
	if err = compressor.Close(); err != nil {
		return 0, 0, err
	}
	if aesWriter != nil {
		if _, err = dst.Write(aesWriter.Tag()); err != nil {
			return 0, 0, err
		}
	}
	return counting.crc, counting.n, nil
}

func aesBits(enc EncryptionMethod) int {
	switch enc {
	case EncryptionAES128:
		return 128
	case EncryptionAES192:
		return 192
	case EncryptionAES256:
		return 256
	default:
		return 0
	}
}

func effectiveMethod(e *Entry) uint16 {
	if e.IsDirectory() {
		return Store
	}
	return e.Method
}

// countingReader wraps an io.Reader, tracking bytes read and their running
// CRC32, mirroring archive/zip's own approach of computing the checksum as
// content streams through rather than buffering first.
type countingReader struct {
	r   io.Reader
	n   uint64
	crc uint32
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.n += uint64(n)
		c.crc = crc32.Update(c.crc, crc32.IEEETable, p[:n])
	}
	return n, err
}

// detectUTF8 reports whether s is a valid UTF-8 string, and whether the
// string must be considered UTF-8 encoding (i.e., not compatible with
// CP-437, ASCII, or any other common encoding).
func detectUTF8(s string) (valid, require bool) {
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		// Officially, ZIP uses CP-437, but many readers use the system's
		// local character encoding. Most encodings are compatible with a
		// large subset of CP-437, which itself is ASCII-like.
		//
		// Forbid 0x7e and 0x5c since EUC-KR and Shift-JIS replace those
		// characters with localized currency and overline characters.
		if r < 0x20 || r > 0x7d || r == 0x5c {
			if !utf8.ValidRune(r) || (r == utf8.RuneError && size == 1) {
				return false, false
			}
			require = true
		}
	}
	return true, require
}

// prepareEntry finalizes flags/version fields right before e is written.
func prepareEntry(e *Entry) error {
	if len(e.Name) == 0 || len(e.Name) > uint16max {
		return &InvalidArgument{Field: "name", Reason: "must be 1-65535 bytes"}
	}

	utf8Valid1, utf8Require1 := detectUTF8(e.Name)
	utf8Valid2, utf8Require2 := detectUTF8(e.Comment)
	switch {
	case e.Charset != "":
		e.Flags &^= 0x800
	case (utf8Require1 || utf8Require2) && utf8Valid1 && utf8Valid2:
		e.Flags |= 0x800
	}

	e.CreatorVersion = e.CreatorVersion&0xff00 | zipVersion20
	e.ReaderVersion = zipVersion20
	if e.Method == Bzip2 {
		e.ReaderVersion = zipVersion46
	}

	if e.Encryption != EncryptionNone {
		e.Flags |= 0x1
		if e.Encryption != EncryptionZipCrypto && e.ReaderVersion < zipVersion51 {
			e.ReaderVersion = zipVersion51
		}
	} else {
		e.Flags &^= 0x1
	}

	if e.IsDirectory() {
		e.Method = Store
		e.Flags &^= 0x8
		e.CompressedSize64 = 0
		e.UncompressedSize64 = 0
		e.ExternalAttrs |= msdosDir
	} else {
		e.Flags |= 0x8
	}

	// Use "extended timestamp" format since this is what Info-ZIP uses.
	// Nearly every major ZIP implementation uses a different format, but
	// at least most seem to be able to understand the other formats.
	e.AddExtraField(zipextra.ExtTime{
		HasMtime: true,
		Mtime:    time.Unix(e.Modified.Unix(), 0).UTC(),
	})
	return nil
}

func writeLocalHeader(w io.Writer, e *Entry, localExtra []byte) error {
	if len(e.Name) > uint16max {
		return errLongName
	}
	if len(localExtra) > uint16max {
		return errLongExtra
	}

	date, t := e.dosModified()
	method := e.Method
	if e.Encryption != EncryptionNone && e.Encryption != EncryptionZipCrypto {
		method = winZipMarker
	}

	var buf [fileHeaderLen]byte
	b := zipbyte.WriteBuf(buf[:])
	b.Uint32(fileHeaderSignature)
	b.Uint16(e.ReaderVersion)
	b.Uint16(e.Flags)
	b.Uint16(method)
	b.Uint16(t)
	b.Uint16(date)
	b.Uint32(0) // since we always write a data descriptor, crc32,
	b.Uint32(0) // compressed size,
	b.Uint32(0) // and uncompressed size are left zero here
	b.Uint16(uint16(len(e.Name)))
	b.Uint16(uint16(len(localExtra)))
	if _, err := w.Write(buf[:]); err != nil {
		return err
	}
	if _, err := io.WriteString(w, e.Name); err != nil {
		return err
	}
	_, err := w.Write(localExtra)
	return err
}

// buildLocalExtra encodes e's local extras plus, for Store-method entries
// when alignment is requested, an opaque filler record sized so the entry
// data starts on an alignment boundary.
func buildLocalExtra(e *Entry, alignment int, baseOffset int64) ([]byte, error) {
	fields := append(zipextra.Fields{}, e.LocalExtras...)
	if e.Encryption != EncryptionNone && e.Encryption != EncryptionZipCrypto {
		fields = fields.Set(zipextra.WinZipAES{
			Version:    aesVersion(e),
			Strength:   e.Encryption.aesStrength(),
			RealMethod: e.Method,
		})
	}
	encoded := zipextra.Encode(fields)

	alignable := alignment > 0 && effectiveMethod(e) == Store && !e.IsDirectory()
	if !alignable {
		return encoded, nil
	}
	preAlignOffset := baseOffset + fileHeaderLen + int64(len(e.Name)) + int64(len(encoded))
	pad := alignPadding(preAlignOffset, alignment)
	if pad == nil {
		return encoded, nil
	}
	return append(encoded, pad...), nil
}

// aesVersion is always AE-2 (CRC32 zeroed, authenticity relies solely on
// the HMAC tag); AE-1 is accepted on read but never produced on write.
func aesVersion(*Entry) uint16 { return 2 }

// alignPadding returns a complete opaque extra-field record (header plus
// filler) that pads offset up to the next multiple of align, or nil if
// offset is already aligned. The minimum extra-field record is 4 bytes
// (2-byte id + 2-byte length), so a remainder smaller than that bumps by a
// full alignment period instead.
func alignPadding(offset int64, align int) []byte {
	if align <= 0 {
		return nil
	}
	rem := offset % int64(align)
	if rem == 0 {
		return nil
	}
	pad := int64(align) - rem
	for pad < 4 {
		pad += int64(align)
	}
	return zipextra.Encode(zipextra.Fields{zipextra.Opaque{
		ID:   zipextra.IDAlignment,
		Data: make([]byte, pad-4),
	}})
}

func sizesNeedZip64(e *Entry) bool {
	return e.CompressedSize64 >= uint32max || e.UncompressedSize64 >= uint32max
}

// buildCDExtra encodes e's central-directory extras, adding a WinZip AES
// record (if encrypted with AES) and a Zip64 record (if any of the size or
// offset fields overflow 32 bits).
func buildCDExtra(e *Entry, offset uint64) ([]byte, error) {
	fields := append(zipextra.Fields{}, e.CDExtras...)
	if e.Encryption != EncryptionNone && e.Encryption != EncryptionZipCrypto {
		fields = fields.Set(zipextra.WinZipAES{
			Version:    aesVersion(e),
			Strength:   e.Encryption.aesStrength(),
			RealMethod: e.Method,
		})
	}
	if sizesNeedZip64(e) || offset >= uint32max {
		fields = fields.Set(zipextra.Zip64{
			HasUncompressedSize:  true,
			UncompressedSize:     e.UncompressedSize64,
			HasCompressedSize:    true,
			CompressedSize:       e.CompressedSize64,
			HasLocalHeaderOffset: true,
			LocalHeaderOffset:    offset,
		})
	}
	return zipextra.Encode(fields), nil
}

type countWriter struct {
	w     io.Writer
	count int64
}

func (w *countWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	w.count += int64(n)
	return n, err
}

func writeCentralDirectory(start int64, dir []*preparedEntry, writer io.Writer, comment string) error {
	cw := &countWriter{w: writer}
	for _, pe := range dir {
		e := pe.Entry
		date, t := e.dosModified()
		method := e.Method
		if e.Encryption != EncryptionNone && e.Encryption != EncryptionZipCrypto {
			method = winZipMarker
		}

		var buf [directoryHeaderLen]byte
		b := zipbyte.WriteBuf(buf[:])
		b.Uint32(directoryHeaderSignature)
		b.Uint16(e.CreatorVersion)
		b.Uint16(e.ReaderVersion)
		b.Uint16(e.Flags)
		b.Uint16(method)
		b.Uint16(t)
		b.Uint16(date)
		b.Uint32(e.CRC32)
		if pe.offset >= uint32max || sizesNeedZip64(e) {
			b.Uint32(uint32max)
			b.Uint32(uint32max)
		} else {
			b.Uint32(uint32(e.CompressedSize64))
			b.Uint32(uint32(e.UncompressedSize64))
		}
		b.Uint16(uint16(len(e.Name)))
		b.Uint16(uint16(len(pe.cdExtra)))
		b.Uint16(uint16(len(e.Comment)))
		b.Uint16(0) // disk number start
		b.Uint16(e.InternalAttrs)
		b.Uint32(e.ExternalAttrs)
		if pe.offset >= uint32max {
			b.Uint32(uint32max)
		} else {
			b.Uint32(uint32(pe.offset))
		}
		if _, err := cw.Write(buf[:]); err != nil {
			return err
		}
		if _, err := io.WriteString(cw, e.Name); err != nil {
			return err
		}
		if _, err := cw.Write(pe.cdExtra); err != nil {
			return err
		}
		if _, err := io.WriteString(cw, e.Comment); err != nil {
			return err
		}
	}

	size := uint64(cw.count)
	end := uint64(start) + size
	records := uint64(len(dir))
	offset := uint64(start)

	if records >= uint16max || size >= uint32max || offset >= uint32max {
		var buf [directory64EndLen + directory64LocLen]byte
		b := zipbyte.WriteBuf(buf[:])

		// zip64 end of central directory record
		b.Uint32(directory64EndSignature)
		b.Uint64(directory64EndLen - 12)
		b.Uint16(zipVersion45)
		b.Uint16(zipVersion45)
		b.Uint32(0)
		b.Uint32(0)
		b.Uint64(records)
		b.Uint64(records)
		b.Uint64(size)
		b.Uint64(offset)

		// zip64 end of central directory locator
		b.Uint32(directory64LocSignature)
		b.Uint32(0)
		b.Uint64(end)
		b.Uint32(1)

		if _, err := cw.Write(buf[:]); err != nil {
			return err
		}

		records = uint16max
		size = uint32max
		offset = uint32max
	}

	var buf [directoryEndLen]byte
	b := zipbyte.WriteBuf(buf[:])
	b.Uint32(directoryEndSignature)
	b.Uint16(0) // number of this disk
	b.Uint16(0) // disk with the start of the central directory
	b.Uint16(uint16(records))
	b.Uint16(uint16(records))
	b.Uint32(uint32(size))
	b.Uint32(uint32(offset))
	b.Uint16(uint16(len(comment)))
	if _, err := cw.Write(buf[:]); err != nil {
		return err
	}
	_, err := io.WriteString(cw, comment)
	return err
}

// makeDataDescriptor encodes the trailing descriptor that follows an
// entry's data, since the local header always carries zeroed crc32/size
// placeholders (see writeLocalHeader).
func makeDataDescriptor(e *Entry) []byte {
	var buf []byte
	if sizesNeedZip64(e) {
		buf = make([]byte, dataDescriptor64Len)
	} else {
		buf = make([]byte, dataDescriptorLen)
	}
	b := zipbyte.WriteBuf(buf)
	b.Uint32(dataDescriptorSignature) // de-facto standard, required by OS X
	b.Uint32(e.CRC32)
	if sizesNeedZip64(e) {
		b.Uint64(e.CompressedSize64)
		b.Uint64(e.UncompressedSize64)
	} else {
		b.Uint32(uint32(e.CompressedSize64))
		b.Uint32(uint32(e.UncompressedSize64))
	}
	return buf
}
