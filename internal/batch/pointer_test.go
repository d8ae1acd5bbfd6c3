package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolvePointer(t *testing.T) {
	tests := []struct {
		name   string
		status Status
		want   Pointer
	}{
		{
			name: "canonical pointer with expiry",
			status: Status{
				Outputs:            &Outputs{DownloadURL: "https://storage.example.com/batch.zip?X-Amz-Signature=abc"},
				PresignedURLExpiry: "2026-01-02T15:04:05Z",
			},
			want: Pointer{
				URL:       "https://storage.example.com/batch.zip?X-Amz-Signature=abc",
				ExpiresAt: "2026-01-02T15:04:05Z",
			},
		},
		{
			name: "canonical wins over legacy list",
			status: Status{
				Outputs: &Outputs{DownloadURL: "https://storage.example.com/canonical.zip"},
				BatchDownloads: []Download{
					{Type: "zip", DownloadURL: "https://storage.example.com/legacy.zip", ExpiresAt: "2025-01-01T00:00:00Z"},
				},
			},
			want: Pointer{URL: "https://storage.example.com/canonical.zip"},
		},
		{
			name: "canonical without expiry does not consult legacy",
			status: Status{
				Outputs: &Outputs{DownloadURL: "https://storage.example.com/canonical.zip"},
				BatchDownloads: []Download{
					{Type: "zip", DownloadURL: "https://storage.example.com/legacy.zip", ExpiresAt: "2025-01-01T00:00:00Z"},
				},
			},
			want: Pointer{URL: "https://storage.example.com/canonical.zip"},
		},
		{
			name: "blank canonical falls back to legacy",
			status: Status{
				Outputs: &Outputs{DownloadURL: "   "},
				BatchDownloads: []Download{
					{Type: "ZIP", DownloadURL: "https://storage.example.com/legacy.zip", ExpiresAt: "2025-01-01T00:00:00Z"},
				},
			},
			want: Pointer{URL: "https://storage.example.com/legacy.zip", ExpiresAt: "2025-01-01T00:00:00Z"},
		},
		{
			name: "legacy prefers zip-typed entry over earlier non-zip",
			status: Status{
				BatchDownloads: []Download{
					{Type: "csv", DownloadURL: "https://storage.example.com/report.csv"},
					{Type: "Zip", DownloadURL: "https://storage.example.com/results.zip"},
				},
			},
			want: Pointer{URL: "https://storage.example.com/results.zip"},
		},
		{
			name: "legacy falls back to .zip suffix when no typed entry",
			status: Status{
				BatchDownloads: []Download{
					{Type: "csv", DownloadURL: "https://storage.example.com/report.csv"},
					{Type: "archive", DownloadURL: "https://storage.example.com/RESULTS.ZIP"},
				},
			},
			want: Pointer{URL: "https://storage.example.com/RESULTS.ZIP"},
		},
		{
			name: "legacy entry without url yields empty pointer",
			status: Status{
				BatchDownloads: []Download{
					{Type: "zip", ExpiresAt: "2025-01-01T00:00:00Z"},
				},
			},
			want: Pointer{},
		},
		{
			name:   "no sources yields empty pointer",
			status: Status{},
			want:   Pointer{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolvePointer(tt.status))
		})
	}
}

func TestPointerEmpty(t *testing.T) {
	assert.True(t, Pointer{}.Empty())
	assert.False(t, Pointer{URL: "https://example.com/a.zip"}.Empty())
}
