package zvault

import "bytes"

// UnchangeEntry discards pending edits on the named entry by replacing it
// with a fresh clone of the entry as it was originally parsed from the
// archive's source, restoring its original password/encryption state and
// content back-reference. It is a no-op if the archive has no source (a
// freshly-constructed Archive) or the source never had the entry; it
// returns ErrNotFound if the name doesn't currently exist.
func (ar *Archive) UnchangeEntry(name string) error {
	if ar.source == nil {
		return nil
	}
	i, ok := ar.names[name]
	if !ok {
		return ErrNotFound
	}
	orig, ok := ar.source.names[name]
	if !ok {
		return nil
	}
	ar.entries[i] = cloneEntry(ar.source.entries[orig])
	return nil
}

// UnchangeAll discards all pending edits, restoring every entry that
// existed in the archive's source to its original state and dropping any
// entry that was added since. It is a no-op if the archive has no source.
func (ar *Archive) UnchangeAll() {
	if ar.source == nil {
		return
	}
	ar.entries = ar.entries[:0]
	ar.names = make(map[string]int, len(ar.source.entries))
	for _, e := range ar.source.entries {
		clone := cloneEntry(e)
		ar.names[clone.Name] = len(ar.entries)
		ar.entries = append(ar.entries, clone)
	}
}

// UnchangeArchiveComment restores the archive-wide comment to the value it
// had in the archive's source. It is a no-op if the archive has no source.
func (ar *Archive) UnchangeArchiveComment() {
	if ar.source == nil {
		return
	}
	ar.comment = ar.source.comment
}

// Rewrite builds the archive and re-parses the result, replacing the
// archive's source and every entry's content back-reference with the
// just-written bytes. Subsequent UnchangeEntry/UnchangeAll calls then
// restore to this last-saved state rather than the state the archive was
// originally opened from. The previous source, if any, is closed.
func (ar *Archive) Rewrite() error {
	b, err := ar.SaveToBytes()
	if err != nil {
		return err
	}
	rd, err := openReader(bytes.NewReader(b), int64(len(b)), ar.opts)
	if err != nil {
		return err
	}
	fresh := archiveFromReader(rd)

	prevCloser := ar.closer
	*ar = *fresh
	if prevCloser != nil {
		prevCloser.Close()
	}
	return nil
}
