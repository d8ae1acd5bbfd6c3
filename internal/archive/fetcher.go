package archive

import (
	"context"
	"errors"
	"io"
	"net/http"
	neturl "net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"batchfetch/internal/batch"
	"batchfetch/pkg/telemetry"
)

const (
	fetchTimeout   = 2 * time.Minute
	copyChunkBytes = 128 * 1024
	errBodyLimit   = 1000

	fallbackArchiveName = "results.zip"
)

// IsPresignedURL reports whether the URL already carries storage-level
// authorization in its query string. Attaching a bearer credential to such
// a URL causes a signature mismatch at the storage layer, so the header
// must be withheld structurally rather than suppressed on error.
func IsPresignedURL(url string) bool {
	return strings.Contains(url, "X-Amz-") || strings.Contains(url, "amazonaws.com")
}

// Fetcher downloads remote result archives to local temporary files.
type Fetcher struct {
	http *http.Client
	log  *zap.Logger
}

// NewFetcher creates a Fetcher with a traced HTTP transport.
func NewFetcher(log *zap.Logger) *Fetcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Fetcher{
		http: &http.Client{
			Timeout:   fetchTimeout,
			Transport: telemetry.Transport(nil),
		},
		log: log,
	}
}

// Fetch streams the archive at url into a uniquely named temporary file and
// returns its path. The file is allocated before any network activity so a
// partial failure always has a concrete artifact to clean up; on any failure
// it is removed. On success the file is fully written and closed, and the
// caller owns its deletion.
//
// dir selects where the temporary file is created; "" means the OS default.
// bearer is attached as an Authorization header only for non pre-signed URLs.
func (f *Fetcher) Fetch(ctx context.Context, url, bearer, dir string) (string, error) {
	p, _, err := f.download(ctx, url, bearer, dir)
	return p, err
}

// FetchNamed downloads like Fetch but keeps the archive under a filename
// derived from the response (see DeriveFilename) instead of an anonymous
// temporary name. It is for callers that want the download to persist; dir
// is required. An existing file with the derived name is overwritten.
func (f *Fetcher) FetchNamed(ctx context.Context, url, bearer, dir string) (string, error) {
	if dir == "" {
		return "", &batch.Error{Kind: batch.KindValidation, Message: "destination directory is required"}
	}

	tmpPath, header, err := f.download(ctx, url, bearer, dir)
	if err != nil {
		return "", err
	}

	final := filepath.Join(dir, DeriveFilename(header, url))
	if final == tmpPath {
		return final, nil
	}
	if err := os.Rename(tmpPath, final); err != nil {
		os.Remove(tmpPath)
		return "", &batch.Error{Kind: batch.KindFilesystem, Message: "place archive file", Err: err}
	}
	return final, nil
}

func (f *Fetcher) download(ctx context.Context, url, bearer, dir string) (string, http.Header, error) {
	if strings.TrimSpace(url) == "" {
		return "", nil, &batch.Error{Kind: batch.KindValidation, Message: "archive URL is required"}
	}
	if dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", nil, &batch.Error{Kind: batch.KindFilesystem, Message: "create download directory", Err: err}
		}
	}

	tmp, err := os.CreateTemp(dir, "batchfetch-*.zip")
	if err != nil {
		return "", nil, &batch.Error{Kind: batch.KindFilesystem, Message: "allocate temp file", Err: err}
	}
	tmpPath := tmp.Name()

	discard := func() {
		tmp.Close()
		if rmErr := os.Remove(tmpPath); rmErr != nil && !os.IsNotExist(rmErr) {
			f.log.Warn("failed to remove partial download", zap.String("path", tmpPath), zap.Error(rmErr))
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		discard()
		return "", nil, &batch.Error{Kind: batch.KindValidation, Message: "build archive request", Err: err}
	}
	if bearer != "" && !IsPresignedURL(url) {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := f.http.Do(req)
	if err != nil {
		discard()
		return "", nil, &batch.Error{Kind: batch.KindNetwork, Message: "archive download", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		excerpt := readExcerpt(resp.Body, errBodyLimit)
		discard()
		kind := batch.KindRemoteAPI
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			kind = batch.KindPermissionDenied
		}
		return "", nil, &batch.Error{
			Kind:       kind,
			Message:    "archive download failed",
			Detail:     excerpt,
			HTTPStatus: resp.StatusCode,
		}
	}

	if _, err := io.CopyBuffer(tmp, resp.Body, make([]byte, copyChunkBytes)); err != nil {
		discard()
		kind := batch.KindNetwork
		if isFilesystemErr(err) {
			kind = batch.KindFilesystem
		}
		return "", nil, &batch.Error{Kind: kind, Message: "stream archive to disk", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", nil, &batch.Error{Kind: batch.KindFilesystem, Message: "finalize archive file", Err: err}
	}

	f.log.Debug("archive downloaded", zap.String("path", tmpPath))
	return tmpPath, resp.Header, nil
}

var (
	dispositionFilename = regexp.MustCompile(`filename\*?=["']?([^"';]+)`)
	queryFilename       = regexp.MustCompile(`filename="?([^"&]+)"?`)
)

// DeriveFilename picks a filename for a downloaded archive, in priority
// order: the Content-Disposition response header, a disposition embedded in
// the URL query (pre-signed storage URLs carry response-content-disposition),
// the last URL path segment when it looks like a filename, then a fixed
// fallback. The result is always a bare file name.
func DeriveFilename(header http.Header, rawURL string) string {
	if cd := header.Get("Content-Disposition"); cd != "" {
		if m := dispositionFilename.FindStringSubmatch(cd); m != nil {
			if name := bareFilename(m[1]); name != "" {
				return name
			}
		}
	}

	if parsed, err := neturl.Parse(rawURL); err == nil {
		if query, err := neturl.QueryUnescape(parsed.RawQuery); err == nil {
			if m := queryFilename.FindStringSubmatch(query); m != nil {
				if name := bareFilename(m[1]); name != "" {
					return name
				}
			}
		}
		if base := path.Base(parsed.Path); strings.Contains(base, ".") {
			if name := bareFilename(base); name != "" {
				return name
			}
		}
	}

	return fallbackArchiveName
}

// bareFilename strips any directory components from a derived name so a
// crafted disposition cannot point outside the download directory.
func bareFilename(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), `\`, "/"))
	if name == "." || name == ".." || name == "/" {
		return ""
	}
	return name
}

func isFilesystemErr(err error) bool {
	var pathErr *os.PathError
	return errors.As(err, &pathErr)
}

func readExcerpt(r io.Reader, limit int64) string {
	data, err := io.ReadAll(io.LimitReader(r, limit))
	if err != nil {
		return ""
	}
	return string(data)
}
