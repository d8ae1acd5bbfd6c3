package archive

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"batchfetch/internal/batch"
)

func TestIsPresignedURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://bucket.s3.amazonaws.com/results.zip", true},
		{"https://host/results.zip?X-Amz-Signature=abc", true},
		{"https://api.example.com/download/abc", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsPresignedURL(tt.url), tt.url)
	}
}

func TestFetchSuccess(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("archive-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := NewFetcher(zap.NewNop())
	path, err := f.Fetch(context.Background(), srv.URL+"/results.zip", "secret", dir)
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, dir, filepath.Dir(path))
	assert.True(t, strings.HasSuffix(path, ".zip"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "archive-bytes", string(data))
}

func TestFetchWithholdsBearerForPresignedURL(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := NewFetcher(zap.NewNop())
	path, err := f.Fetch(context.Background(), srv.URL+"/results.zip?X-Amz-Signature=abc", "secret", t.TempDir())
	require.NoError(t, err)
	defer os.Remove(path)

	assert.Empty(t, gotAuth)
}

func TestFetchPermissionDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("signature expired"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := NewFetcher(zap.NewNop())
	_, err := f.Fetch(context.Background(), srv.URL, "secret", dir)
	require.Error(t, err)

	var be *batch.Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, batch.KindPermissionDenied, be.Kind)
	assert.Equal(t, http.StatusForbidden, be.HTTPStatus)
	assert.Contains(t, be.Detail, "signature expired")

	// The temp file must not survive a failed download.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestFetchRemoteError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewFetcher(zap.NewNop())
	_, err := f.Fetch(context.Background(), srv.URL, "", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, batch.KindRemoteAPI, batch.KindOf(err))
}

func TestFetchNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	dir := t.TempDir()
	f := NewFetcher(zap.NewNop())
	_, err := f.Fetch(context.Background(), url, "", dir)
	require.Error(t, err)
	assert.Equal(t, batch.KindNetwork, batch.KindOf(err))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestDeriveFilename(t *testing.T) {
	withDisposition := func(v string) http.Header {
		h := http.Header{}
		h.Set("Content-Disposition", v)
		return h
	}

	tests := []struct {
		name   string
		header http.Header
		url    string
		want   string
	}{
		{
			"content-disposition header wins",
			withDisposition(`attachment; filename="batch-results.zip"`),
			"https://host/downloads/other.zip",
			"batch-results.zip",
		},
		{
			"unquoted disposition filename",
			withDisposition(`attachment; filename=results.zip; size=42`),
			"https://host/download",
			"results.zip",
		},
		{
			"disposition path components stripped",
			withDisposition(`attachment; filename="../../evil.zip"`),
			"https://host/download",
			"evil.zip",
		},
		{
			"presigned query disposition",
			nil,
			"https://bucket.s3.amazonaws.com/k?response-content-disposition=attachment%3B%20filename%3D%22monthly.zip%22&X-Amz-Signature=x",
			"monthly.zip",
		},
		{
			"url path segment",
			nil,
			"https://host/downloads/batch-7.zip?token=x",
			"batch-7.zip",
		},
		{
			"path segment without extension falls through",
			nil,
			"https://host/download",
			fallbackArchiveName,
		},
		{
			"no signal at all",
			nil,
			"",
			fallbackArchiveName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := tt.header
			if header == nil {
				header = http.Header{}
			}
			assert.Equal(t, tt.want, DeriveFilename(header, tt.url))
		})
	}
}

func TestFetchNamed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="monthly-results.zip"`)
		w.Write([]byte("archive-bytes"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := NewFetcher(zap.NewNop())
	path, err := f.FetchNamed(context.Background(), srv.URL+"/anonymous", "", dir)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "monthly-results.zip"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "archive-bytes", string(data))

	// The anonymous temp file was renamed, not copied.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestFetchNamedFallsBackToURLPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	dir := t.TempDir()
	f := NewFetcher(zap.NewNop())
	path, err := f.FetchNamed(context.Background(), srv.URL+"/batch-7.zip", "", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "batch-7.zip"), path)
}

func TestFetchNamedRequiresDir(t *testing.T) {
	f := NewFetcher(zap.NewNop())
	_, err := f.FetchNamed(context.Background(), "https://host/a.zip", "", "")
	require.Error(t, err)
	assert.Equal(t, batch.KindValidation, batch.KindOf(err))
}

func TestFetchRequiresURL(t *testing.T) {
	f := NewFetcher(zap.NewNop())
	_, err := f.Fetch(context.Background(), "  ", "", "")
	require.Error(t, err)
	assert.Equal(t, batch.KindValidation, batch.KindOf(err))
}
