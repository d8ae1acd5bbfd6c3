package batch

import "strings"

// Status is one snapshot of remote processing state for a batch. A fresh
// snapshot is produced on every status query and supersedes the previous one;
// snapshots are never mutated in place.
type Status struct {
	BatchID         string         `json:"batchId"`
	State           string         `json:"status"`
	FileCount       int            `json:"fileCount"`
	FilesCompleted  int            `json:"filesCompleted"`
	FilesInProgress int            `json:"filesInProgress"`
	FilesFailed     int            `json:"filesFailed"`
	PercentComplete int            `json:"percentComplete"`
	Files           []FileStatus   `json:"files"`
	ErrorMessage    string         `json:"errorMessage"`
	Summary         map[string]any `json:"summary"`
	CreatedAt       string         `json:"createdAt"`
	UpdatedAt       string         `json:"updatedAt"`

	// Canonical artifact pointer fields.
	Outputs            *Outputs `json:"outputs"`
	PresignedURLExpiry string   `json:"presigned_url_expiry"`

	// Legacy per-type download list, kept during the upstream format
	// transition.
	BatchDownloads []Download `json:"batchDownloads"`
}

// FileStatus reports per-file progress within a batch.
type FileStatus struct {
	FileID       string `json:"fileId"`
	FileName     string `json:"fileName"`
	Status       string `json:"status"`
	DownloadURL  string `json:"downloadUrl,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Outputs carries the canonical result archive location.
type Outputs struct {
	DownloadURL string `json:"download_url"`
}

// Download is one entry of the legacy batchDownloads list.
type Download struct {
	Type        string `json:"type"`
	DownloadURL string `json:"downloadUrl"`
	ExpiresAt   string `json:"expiresAt"`
}

var terminalStates = map[string]struct{}{
	"complete":            {},
	"completed":           {},
	"failed":              {},
	"partially complete":  {},
	"partially completed": {},
}

// NormalizeState lowercases and trims a remote status string for comparison.
func NormalizeState(state string) string {
	return strings.ToLower(strings.TrimSpace(state))
}

// IsTerminal reports whether the remote batch state will no longer change.
func IsTerminal(state string) bool {
	_, ok := terminalStates[NormalizeState(state)]
	return ok
}

// Terminal reports whether this snapshot describes a finished batch.
func (s Status) Terminal() bool {
	return IsTerminal(s.State)
}

// Failed reports whether this snapshot describes a wholly failed batch.
func (s Status) Failed() bool {
	return NormalizeState(s.State) == "failed"
}
