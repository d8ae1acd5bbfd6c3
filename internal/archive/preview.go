package archive

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"
)

const (
	// DefaultPreviewRows bounds how many records a preview carries.
	DefaultPreviewRows = 200
	// DefaultInlineMaxBytes is the ceiling below which a preview inlines the
	// whole file text.
	DefaultInlineMaxBytes = 250_000

	previewDirMarker = "processed-csv"
	utf8BOM          = "\xef\xbb\xbf"
)

// CSVPreview is a bounded, readable summary of one extracted tabular file.
type CSVPreview struct {
	EntryName string              `json:"entry_name"`
	LocalPath string              `json:"local_path"`
	SizeBytes int64               `json:"size_bytes"`
	Header    []string            `json:"header"`
	Rows      []map[string]string `json:"preview_rows"`
	InlineCSV string              `json:"inline_csv,omitempty"`
}

// ReadCSVPreviews builds previews for extracted CSV files that live under a
// processed-csv path segment. Unreadable files still yield an entry with an
// empty header rather than failing the run; files small enough are inlined
// whole so downstream consumers can work without filesystem access.
func ReadCSVPreviews(paths []string, maxRows int, inlineMaxBytes int64) []CSVPreview {
	if maxRows <= 0 {
		maxRows = DefaultPreviewRows
	}
	if inlineMaxBytes <= 0 {
		inlineMaxBytes = DefaultInlineMaxBytes
	}

	var previews []CSVPreview
	for _, p := range paths {
		if !strings.EqualFold(filepath.Ext(p), ".csv") {
			continue
		}
		if !underPreviewDir(p) {
			continue
		}
		info, err := os.Stat(p)
		if err != nil {
			continue
		}

		preview := CSVPreview{
			EntryName: filepath.Base(p),
			LocalPath: p,
			SizeBytes: info.Size(),
			Header:    []string{},
			Rows:      []map[string]string{},
		}

		if header, rows, err := readCSVHead(p, maxRows); err == nil {
			preview.Header = header
			preview.Rows = rows
		}
		if info.Size() <= inlineMaxBytes {
			if data, err := os.ReadFile(p); err == nil {
				preview.InlineCSV = strings.TrimPrefix(string(data), utf8BOM)
			}
		}
		previews = append(previews, preview)
	}
	return previews
}

func underPreviewDir(path string) bool {
	normalized := strings.ReplaceAll(path, `\`, "/")
	for _, segment := range strings.Split(normalized, "/") {
		if segment == previewDirMarker {
			return true
		}
	}
	return false
}

func readCSVHead(path string, maxRows int) ([]string, []map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	if bom, err := br.Peek(3); err == nil && string(bom) == utf8BOM {
		br.Discard(3)
	}

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, nil, err
	}

	rows := make([]map[string]string, 0, maxRows)
	for len(rows) < maxRows {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		rows = append(rows, row)
	}
	return header, rows, nil
}
