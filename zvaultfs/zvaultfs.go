// Package zvaultfs populates a zvault.Archive from a local directory tree,
// and extracts filtered subsets of an archive back to disk. It mirrors the
// directory-walk archive-building idiom used throughout the pack's
// HTTP-serving examples, generalized to support include/exclude filtering
// by glob or regular expression.
package zvaultfs

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/gobwas/glob"
	"github.com/zvault/zvault"
)

// Filter reports whether the entry at relpath (forward-slash, archive-style
// path) should be included. A nil Filter includes everything.
type Filter func(relpath string) bool

// GlobFilter returns a Filter that includes only paths matching pat, as
// interpreted by github.com/gobwas/glob with '/' as the path separator.
func GlobFilter(pat string) (Filter, error) {
	g, err := glob.Compile(pat, '/')
	if err != nil {
		return nil, fmt.Errorf("zvaultfs: %w", err)
	}
	return g.Match, nil
}

// RegexFilter returns a Filter that includes only paths matching pat.
func RegexFilter(pat string) (Filter, error) {
	re, err := regexp.Compile(pat)
	if err != nil {
		return nil, fmt.Errorf("zvaultfs: %w", err)
	}
	return re.MatchString, nil
}

// AddDirRecursive walks root and adds every regular file, directory, and
// symlink it finds to ar, with archive entry names relative to root. It
// follows filepath.Walk's default traversal (symlinked subdirectories
// are added as symlink entries, not descended into). If include is
// non-nil, only paths for which it returns true are added.
func AddDirRecursive(ar *zvault.Archive, root string, include Filter) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		relpath, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		relpath = filepath.ToSlash(relpath)

		switch {
		case info.Mode()&os.ModeSymlink != 0:
			if include != nil && !include(relpath) {
				return nil
			}
			return addSymlink(ar, path, relpath, info)
		case info.Mode().IsDir():
			if include != nil && !include(relpath) {
				return nil
			}
			_, addErr := ar.AddDir(relpath)
			return addErr
		case info.Mode().IsRegular():
			if include != nil && !include(relpath) {
				return nil
			}
			return addFile(ar, path, relpath, info)
		default:
			// Sockets, devices, named pipes: not representable in a ZIP
			// archive, skipped.
			return nil
		}
	})
}

func addFile(ar *zvault.Archive, path, relpath string, info os.FileInfo) error {
	// CRC32 is computed by the writer at save time (encodeEntryBody), so
	// unlike the teacher's upfront-header model, content is left unread
	// here; AddFile wires it up as a lazy file-backed source.
	_, err := ar.AddFile(path, relpath)
	return err
}

func addSymlink(ar *zvault.Archive, path, relpath string, info os.FileInfo) error {
	target, err := os.Readlink(path)
	if err != nil {
		return err
	}
	e, err := ar.Add(relpath, []byte(target))
	if err != nil {
		return err
	}
	e.Modified = info.ModTime()
	e.SetMode(os.ModeSymlink | 0777)
	return nil
}

// ExtractFiltered writes every entry in ar matching include to dir,
// recreating the archive's directory structure. A nil include extracts
// everything (equivalent to Archive.ExtractTo with no names).
func ExtractFiltered(ar *zvault.Archive, dir string, include Filter) error {
	if include == nil {
		return ar.ExtractTo(dir)
	}
	var names []string
	for _, e := range ar.Entries() {
		if include(e.Name) {
			names = append(names, e.Name)
		}
	}
	return ar.ExtractTo(dir, names...)
}
