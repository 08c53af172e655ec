// Package archive unpacks the zip bundles the server produces for a synced
// document: one rendered PDF (required) and one Markdown export of the
// highlights (optional).
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
)

// ErrMissingRequiredEntry is returned when the bundle has no PDF entry.
var ErrMissingRequiredEntry = errors.New("archive: missing required PDF entry")

// ErrEntryTooLarge is returned when an entry decompresses past the limit.
var ErrEntryTooLarge = errors.New("archive: entry exceeds size limit")

var (
	pdfPattern      = regexp.MustCompile(`_remarks(-only)?\.pdf$`)
	markdownPattern = regexp.MustCompile(`_obsidian\.md$`)
)

// Contents holds the extracted entries. Markdown is nil when the bundle has
// no Markdown entry.
type Contents struct {
	PDFName      string
	PDF          []byte
	MarkdownName string
	Markdown     []byte
}

// HasMarkdown reports whether a Markdown entry was present.
func (c *Contents) HasMarkdown() bool {
	return c.Markdown != nil
}

// Extract reads a zip bundle from data. When several entries match a pattern
// the first in archive order wins. maxEntrySize <= 0 disables the per-entry
// decompressed size cap.
func Extract(data []byte, maxEntrySize int64) (*Contents, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("archive: opening zip: %w", err)
	}

	pdf := find(zr, pdfPattern)
	if pdf == nil {
		return nil, ErrMissingRequiredEntry
	}

	out := &Contents{PDFName: pdf.Name}

	if out.PDF, err = readEntry(pdf, maxEntrySize); err != nil {
		return nil, err
	}

	if md := find(zr, markdownPattern); md != nil {
		out.MarkdownName = md.Name

		if out.Markdown, err = readEntry(md, maxEntrySize); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func find(zr *zip.Reader, pattern *regexp.Regexp) *zip.File {
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}

		if pattern.MatchString(f.Name) {
			return f
		}
	}

	return nil
}

func readEntry(f *zip.File, limit int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("archive: opening %s: %w", f.Name, err)
	}
	defer rc.Close()

	var r io.Reader = rc
	if limit > 0 {
		r = io.LimitReader(rc, limit+1)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("archive: reading %s: %w", f.Name, err)
	}

	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s", ErrEntryTooLarge, f.Name)
	}

	if data == nil {
		data = []byte{}
	}

	return data, nil
}
