package archive

import (
	"archive/zip"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildZip returns a zip holding the given name/content pairs in order.
func buildZip(t *testing.T, entries ...string) []byte {
	t.Helper()
	require.Zero(t, len(entries)%2)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for i := 0; i < len(entries); i += 2 {
		w, err := zw.Create(entries[i])
		require.NoError(t, err)
		_, err = w.Write([]byte(entries[i+1]))
		require.NoError(t, err)
	}

	require.NoError(t, zw.Close())

	return buf.Bytes()
}

func TestExtract_PDFAndMarkdown(t *testing.T) {
	t.Parallel()

	data := buildZip(t,
		"Notes.rmdoc/meta.json", "{}",
		"Notes_remarks.pdf", "%PDF-1.7",
		"Notes_obsidian.md", "# Highlights",
	)

	c, err := Extract(data, 0)
	require.NoError(t, err)
	assert.Equal(t, "Notes_remarks.pdf", c.PDFName)
	assert.Equal(t, "%PDF-1.7", string(c.PDF))
	assert.True(t, c.HasMarkdown())
	assert.Equal(t, "# Highlights", string(c.Markdown))
}

func TestExtract_RemarksOnlyVariant(t *testing.T) {
	t.Parallel()

	c, err := Extract(buildZip(t, "out/Doc_remarks-only.pdf", "pdf"), 0)
	require.NoError(t, err)
	assert.Equal(t, "pdf", string(c.PDF))
	assert.False(t, c.HasMarkdown())
}

func TestExtract_MissingPDF(t *testing.T) {
	t.Parallel()

	_, err := Extract(buildZip(t, "Notes_obsidian.md", "# only markdown"), 0)
	require.ErrorIs(t, err, ErrMissingRequiredEntry)
}

func TestExtract_FirstMatchWins(t *testing.T) {
	t.Parallel()

	c, err := Extract(buildZip(t, "a_remarks.pdf", "first", "b_remarks.pdf", "second"), 0)
	require.NoError(t, err)
	assert.Equal(t, "first", string(c.PDF))
}

func TestExtract_EmptyMarkdownIsPresent(t *testing.T) {
	t.Parallel()

	c, err := Extract(buildZip(t, "a_remarks.pdf", "pdf", "a_obsidian.md", ""), 0)
	require.NoError(t, err)
	assert.True(t, c.HasMarkdown())
	assert.Empty(t, c.Markdown)
}

func TestExtract_EntryTooLarge(t *testing.T) {
	t.Parallel()

	_, err := Extract(buildZip(t, "a_remarks.pdf", "0123456789"), 5)
	require.ErrorIs(t, err, ErrEntryTooLarge)
}

func TestExtract_NotAZip(t *testing.T) {
	t.Parallel()

	_, err := Extract([]byte("<html>not found</html>"), 0)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMissingRequiredEntry)
}
