package archive

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePreviewFile(t *testing.T, dir, rel, content string) string {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadCSVPreviews(t *testing.T) {
	dir := t.TempDir()
	csvPath := writePreviewFile(t, dir, "processed-csv/rentroll.csv",
		utf8BOM+"unit,rent\n101,950\n102,1000\n103,1100\n")

	previews := ReadCSVPreviews([]string{csvPath}, 2, DefaultInlineMaxBytes)
	require.Len(t, previews, 1)

	p := previews[0]
	assert.Equal(t, "rentroll.csv", p.EntryName)
	assert.Equal(t, csvPath, p.LocalPath)
	assert.Equal(t, []string{"unit", "rent"}, p.Header)
	require.Len(t, p.Rows, 2)
	assert.Equal(t, map[string]string{"unit": "101", "rent": "950"}, p.Rows[0])
	assert.Equal(t, map[string]string{"unit": "102", "rent": "1000"}, p.Rows[1])

	// Inlined text drops the BOM.
	assert.Equal(t, "unit,rent\n101,950\n102,1000\n103,1100\n", p.InlineCSV)
}

func TestReadCSVPreviewsInlineThreshold(t *testing.T) {
	dir := t.TempDir()
	csvPath := writePreviewFile(t, dir, "processed-csv/big.csv", "unit,rent\n101,950\n")

	previews := ReadCSVPreviews([]string{csvPath}, 10, 4)
	require.Len(t, previews, 1)
	assert.Empty(t, previews[0].InlineCSV)
	assert.Equal(t, []string{"unit", "rent"}, previews[0].Header)
}

func TestReadCSVPreviewsFiltersPaths(t *testing.T) {
	dir := t.TempDir()
	outside := writePreviewFile(t, dir, "other/table.csv", "a,b\n1,2\n")
	nonCSV := writePreviewFile(t, dir, "processed-csv/notes.txt", "hello")
	missing := filepath.Join(dir, "processed-csv", "gone.csv")

	previews := ReadCSVPreviews([]string{outside, nonCSV, missing}, 10, DefaultInlineMaxBytes)
	assert.Empty(t, previews)
}

func TestReadCSVPreviewsRaggedRows(t *testing.T) {
	dir := t.TempDir()
	csvPath := writePreviewFile(t, dir, "processed-csv/ragged.csv", "a,b,c\n1,2\n3,4,5,6\n")

	previews := ReadCSVPreviews([]string{csvPath}, 10, 0)
	require.Len(t, previews, 1)
	require.Len(t, previews[0].Rows, 2)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, previews[0].Rows[0])
	assert.Equal(t, map[string]string{"a": "3", "b": "4", "c": "5"}, previews[0].Rows[1])
}

func TestReadCSVPreviewsMalformedHeader(t *testing.T) {
	dir := t.TempDir()
	csvPath := writePreviewFile(t, dir, "processed-csv/bad.csv", "\"unterminated\n1,2\n")

	previews := ReadCSVPreviews([]string{csvPath}, 10, DefaultInlineMaxBytes)
	require.Len(t, previews, 1)
	assert.Empty(t, previews[0].Header)
	assert.Empty(t, previews[0].Rows)
}
