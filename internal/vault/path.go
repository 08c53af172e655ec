package vault

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// DirPath returns the directory part of a slash-separated remote path with
// empty segments removed. The result always ends with "/"; a path with no
// directory yields "/".
func DirPath(p string) string {
	atoms := strings.Split(p, "/")

	dirs := make([]string, 0, len(atoms))
	for _, a := range atoms[:len(atoms)-1] {
		if a != "" {
			dirs = append(dirs, a)
		}
	}

	return strings.Join(dirs, "/") + "/"
}

// Basename returns the last slash-separated segment of p.
func Basename(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}

	return p
}

// unsafeChars are replaced in every name written to the vault. "/" is added
// unless the caller allows slashes.
const unsafeChars = `*"\<>:|?`

// SanitizeFilename replaces characters that are invalid in vault file names
// with "_" and NFC-normalizes the result, so names decomposed by the tablet
// or macOS compare equal to what Obsidian shows.
func SanitizeFilename(name string, allowSlashes bool) string {
	name = norm.NFC.String(name)

	return strings.Map(func(r rune) rune {
		if strings.ContainsRune(unsafeChars, r) || (r == '/' && !allowSlashes) {
			return '_'
		}

		return r
	}, name)
}

// Destination is where one remote document lands in the vault. Paths are
// slash-separated and relative to the vault root.
type Destination struct {
	Folder   string // always ends with "/"
	PDF      string
	Markdown string
}

// Resolve maps a remote document path to its vault destination under
// syncFolder. Every directory segment and the file name are sanitized, and
// "." and ".." segments are dropped so nothing lands outside syncFolder.
func Resolve(syncFolder, remotePath string) Destination {
	rel := dropDotSegments(DirPath(remotePath))

	var folder string
	if strings.HasPrefix(rel, "/") {
		folder = syncFolder + rel
	} else {
		folder = syncFolder + "/" + rel
	}

	// Slashes are the separators here; only the segment content is cleaned.
	folder = SanitizeFilename(folder, true)

	name := SanitizeFilename(Basename(remotePath), false)

	return Destination{
		Folder:   folder,
		PDF:      folder + name + ".pdf",
		Markdown: folder + name + ".md",
	}
}

// dropDotSegments removes "." and ".." from a DirPath result.
func dropDotSegments(dir string) string {
	segs := strings.Split(strings.TrimSuffix(dir, "/"), "/")

	kept := segs[:0]
	for _, seg := range segs {
		if seg != "." && seg != ".." {
			kept = append(kept, seg)
		}
	}

	return strings.Join(kept, "/") + "/"
}
