package archive

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		name     string
		entry    string
		patterns []string
		want     bool
	}{
		{"empty pattern list matches nothing", "processed-csv/a.csv", nil, false},
		{"double star matches everything", "deep/nested/file.bin", []string{"**"}, true},
		{"double star slash star matches everything", "a.txt", []string{"**/*"}, true},
		{"dir globstar matches direct child", "processed-csv/a.csv", []string{"processed-csv/**"}, true},
		{"dir globstar matches nested child", "processed-csv/nested/b.csv", []string{"processed-csv/**"}, true},
		{"dir globstar matches the prefix itself", "processed-csv", []string{"processed-csv/**"}, true},
		{"dir globstar rejects sibling prefix", "other/processed-csv-like/c.csv", []string{"processed-csv/**"}, false},
		{"dir globstar rejects file with similar name", "processed-csv.txt", []string{"processed-csv/**"}, false},
		{"single segment glob", "report.csv", []string{"*.csv"}, true},
		{"single segment glob does not cross separators", "out/report.csv", []string{"*.csv"}, false},
		{"question mark matches one character", "a1.csv", []string{"a?.csv"}, true},
		{"or across patterns", "logs/run.txt", []string{"*.csv", "logs/*.txt"}, true},
		{"backslashes normalized", `processed-csv\a.csv`, []string{"processed-csv/**"}, true},
		{"leading slash stripped", "/processed-csv/a.csv", []string{"processed-csv/**"}, true},
		{"blank pattern ignored", "a.csv", []string{"", "*.csv"}, true},
		{"bad pattern ignored", "a.csv", []string{"[", "*.csv"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.entry, tt.patterns))
		})
	}
}
