package batch

import "strings"

// Pointer locates the batch result archive. ExpiresAt is only set when URL
// is set.
type Pointer struct {
	URL       string `json:"url,omitempty"`
	ExpiresAt string `json:"expiresAt,omitempty"`
}

// Empty reports whether the pointer carries no usable URL.
func (p Pointer) Empty() bool {
	return p.URL == ""
}

// ResolvePointer extracts the result archive pointer from a status snapshot.
//
// The canonical outputs.download_url always wins when present, paired with
// the sibling presigned_url_expiry field; the legacy batchDownloads list is
// consulted only when the canonical field is absent. Within the legacy list
// the first entry typed "zip" is preferred, then the first entry whose URL
// ends in ".zip". An empty pointer is not an error; callers decide how to
// react.
//
// Resolution is a pure function of the snapshot and never caches. Callers
// needing a fresh pointer must re-query status and re-resolve.
func ResolvePointer(s Status) Pointer {
	if s.Outputs != nil && strings.TrimSpace(s.Outputs.DownloadURL) != "" {
		p := Pointer{URL: s.Outputs.DownloadURL}
		if strings.TrimSpace(s.PresignedURLExpiry) != "" {
			p.ExpiresAt = s.PresignedURLExpiry
		}
		return p
	}

	entry := legacyZipDownload(s.BatchDownloads)
	if entry == nil {
		return Pointer{}
	}

	var p Pointer
	if strings.TrimSpace(entry.DownloadURL) != "" {
		p.URL = entry.DownloadURL
		if strings.TrimSpace(entry.ExpiresAt) != "" {
			p.ExpiresAt = entry.ExpiresAt
		}
	}
	return p
}

func legacyZipDownload(downloads []Download) *Download {
	for i := range downloads {
		if strings.EqualFold(strings.TrimSpace(downloads[i].Type), "zip") {
			return &downloads[i]
		}
	}
	for i := range downloads {
		if strings.HasSuffix(strings.ToLower(downloads[i].DownloadURL), ".zip") {
			return &downloads[i]
		}
	}
	return nil
}
