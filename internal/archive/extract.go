package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"

	"batchfetch/internal/batch"
)

const (
	// Warning types recorded for skipped archive members.
	WarnZipSlipSkipped = "zip_slip_skipped"

	reasonUnsafeMemberName = "unsafe_member_name"
	reasonPathEscapesDest  = "path_escapes_destination"
)

// Entry describes one archive member in archive order.
type Entry struct {
	Name                string `json:"name" yaml:"name"`
	SizeBytes           uint64 `json:"sizeBytes" yaml:"size_bytes"`
	CompressedSizeBytes uint64 `json:"compressedSizeBytes" yaml:"compressed_size_bytes"`
	IsDirectory         bool   `json:"isDirectory" yaml:"is_directory"`
}

// Manifest enumerates archive members independent of extraction, plus the
// subset matching the caller's patterns.
type Manifest struct {
	Entries []Entry `json:"entries"`
	Matched []Entry `json:"matchedEntries"`
}

// Outcome is the result of one extraction pass: the absolute paths written,
// in archive order, and the warnings for members that were skipped or
// redirected. A warning never aborts the pass.
type Outcome struct {
	ExtractedPaths []string        `json:"extractedFiles"`
	Warnings       []batch.Warning `json:"warnings"`
}

func openArchive(path string) (*zip.ReadCloser, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, &batch.Error{Kind: batch.KindMalformedArchive, Message: "open archive", Err: err}
	}
	r.RegisterDecompressor(zip.Deflate, func(rd io.Reader) io.ReadCloser {
		return flate.NewReader(rd)
	})
	return r, nil
}

// ReadManifest enumerates the members of the archive at path and marks the
// subset matching patterns.
func ReadManifest(path string, patterns []string) (*Manifest, error) {
	r, err := openArchive(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	m := &Manifest{}
	for _, f := range r.File {
		name := strings.ReplaceAll(f.Name, `\`, "/")
		entry := Entry{
			Name:                name,
			SizeBytes:           f.UncompressedSize64,
			CompressedSizeBytes: f.CompressedSize64,
			IsDirectory:         f.FileInfo().IsDir(),
		}
		m.Entries = append(m.Entries, entry)
		if Match(name, patterns) {
			m.Matched = append(m.Matched, entry)
		}
	}
	return m, nil
}

// safeMemberName normalizes a stored member path and rejects anything that
// could place a file outside the destination: empty names, absolute-looking
// names, drive-letter prefixes, and parent-directory segments. Rejection
// happens before any filesystem operation for the member.
func safeMemberName(name string) (string, bool) {
	n := strings.ReplaceAll(name, `\`, "/")
	if n == "" || strings.HasPrefix(n, "/") {
		return "", false
	}
	if first, _, _ := strings.Cut(n, "/"); strings.Contains(first, ":") {
		return "", false
	}
	var parts []string
	for _, part := range strings.Split(n, "/") {
		if part == "" || part == "." {
			continue
		}
		if part == ".." {
			return "", false
		}
		parts = append(parts, part)
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "/"), true
}

// Extract materializes the non-directory members of the archive at zipPath
// that match patterns under destDir, refusing any member whose path would
// escape it.
//
// The destination is resolved to an absolute, symlink-free form once, up
// front; that resolved root is the boundary for every member. Member names
// failing safeMemberName are skipped with a warning, and the joined
// destination path is re-verified against the resolved root before anything
// is written. Explicit directory members and pattern-filtered members are
// skipped silently: absence from the warnings list is how callers
// distinguish filtered members from unsafe ones.
func Extract(ctx context.Context, zipPath string, patterns []string, destDir string) (*Outcome, error) {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, &batch.Error{Kind: batch.KindFilesystem, Message: "create destination directory", Err: err}
	}
	root, err := filepath.Abs(destDir)
	if err != nil {
		return nil, &batch.Error{Kind: batch.KindFilesystem, Message: "resolve destination directory", Err: err}
	}
	root, err = filepath.EvalSymlinks(root)
	if err != nil {
		return nil, &batch.Error{Kind: batch.KindFilesystem, Message: "resolve destination directory", Err: err}
	}

	r, err := openArchive(zipPath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	out := &Outcome{}
	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw := strings.ReplaceAll(f.Name, `\`, "/")
		safe, ok := safeMemberName(raw)
		if !ok {
			out.Warnings = append(out.Warnings, batch.Warning{
				Type:   WarnZipSlipSkipped,
				Entry:  raw,
				Reason: reasonUnsafeMemberName,
			})
			continue
		}

		if f.FileInfo().IsDir() || strings.HasSuffix(raw, "/") {
			continue
		}
		if !Match(safe, patterns) {
			continue
		}

		dest := filepath.Join(root, filepath.FromSlash(safe))
		if !withinRoot(root, dest) {
			out.Warnings = append(out.Warnings, batch.Warning{
				Type:   WarnZipSlipSkipped,
				Entry:  raw,
				Reason: reasonPathEscapesDest,
			})
			continue
		}

		if err := writeMember(f, dest); err != nil {
			return nil, err
		}
		out.ExtractedPaths = append(out.ExtractedPaths, dest)
	}
	return out, nil
}

func withinRoot(root, candidate string) bool {
	candidate = filepath.Clean(candidate)
	if candidate == root {
		return true
	}
	return strings.HasPrefix(candidate, root+string(filepath.Separator))
}

func writeMember(f *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return &batch.Error{Kind: batch.KindFilesystem, Message: fmt.Sprintf("create parent for %q", f.Name), Err: err}
	}
	src, err := f.Open()
	if err != nil {
		return &batch.Error{Kind: batch.KindMalformedArchive, Message: fmt.Sprintf("open member %q", f.Name), Err: err}
	}
	defer src.Close()

	dst, err := os.Create(dest)
	if err != nil {
		return &batch.Error{Kind: batch.KindFilesystem, Message: fmt.Sprintf("create %q", dest), Err: err}
	}
	if _, err := io.CopyBuffer(dst, src, make([]byte, copyChunkBytes)); err != nil {
		dst.Close()
		os.Remove(dest)
		return &batch.Error{Kind: batch.KindMalformedArchive, Message: fmt.Sprintf("extract member %q", f.Name), Err: err}
	}
	if err := dst.Close(); err != nil {
		os.Remove(dest)
		return &batch.Error{Kind: batch.KindFilesystem, Message: fmt.Sprintf("finalize %q", dest), Err: err}
	}
	return nil
}
