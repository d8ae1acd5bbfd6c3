package workflow

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"batchfetch/internal/api"
	"batchfetch/internal/archive"
	"batchfetch/internal/batch"
	"batchfetch/internal/inventory"
)

// State names the stage a workflow invocation is in. A failing invocation
// returns an error alongside a Result whose State is the stage that failed;
// StateTimedOut is reachable only from StatePolling.
type State string

const (
	StateUploading             State = "UPLOADING"
	StatePolling               State = "POLLING"
	StateResolvingPointer      State = "RESOLVING_POINTER"
	StateFetchingManifest      State = "FETCHING_MANIFEST"
	StateFetchingAndExtracting State = "FETCHING_AND_EXTRACTING"
	StateDone                  State = "DONE"
	StateTimedOut              State = "TIMED_OUT"
)

// Mode selects what the workflow produces after the batch completes.
type Mode string

const (
	// ModePointer returns the batch id, terminal status, and resolved
	// artifact pointer only.
	ModePointer Mode = "pointer"
	// ModeManifest additionally lists archive entries without writing files.
	ModeManifest Mode = "manifest"
	// ModeExtract writes matched entries to a directory and builds row
	// previews for extracted tabular files.
	ModeExtract Mode = "extract"
)

// ParseMode validates a mode string from the CLI.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModePointer, ModeManifest, ModeExtract:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown result mode %q (want pointer, manifest, or extract)", s)
}

// BatchAPI is the remote API surface the workflow depends on.
type BatchAPI interface {
	Upload(ctx context.Context, paths []string, notify api.Notification) (api.UploadResult, error)
	Status(ctx context.Context, batchID string) (batch.Status, error)
}

// ArchiveFetcher retrieves a remote archive to a local file.
type ArchiveFetcher interface {
	Fetch(ctx context.Context, url, bearer, dir string) (string, error)
}

// ArtifactMirror uploads extracted artifacts to object storage.
type ArtifactMirror interface {
	PutFile(ctx context.Context, bucket, key, path string) error
}

// Deps are the collaborators a Runner is bound to.
type Deps struct {
	API     BatchAPI
	Fetcher ArchiveFetcher
	Mirror  ArtifactMirror
	APIKey  string
	Log     *zap.Logger

	// Overridable for tests.
	Now   func() time.Time
	Sleep func(context.Context, time.Duration) error
}

// Options configure one workflow invocation.
type Options struct {
	Files          []string
	Notify         api.Notification
	Mode           Mode
	PollInterval   time.Duration
	Timeout        time.Duration
	Patterns       []string
	DestDir        string
	PreviewRows    int
	InlineMaxBytes int64
	MirrorBucket   string
	MirrorPrefix   string
}

const (
	DefaultPollInterval = 7500 * time.Millisecond
	DefaultTimeout      = 15 * time.Minute
)

// DefaultPatterns selects the processed tabular outputs of a batch.
var DefaultPatterns = []string{"processed-csv/**"}

func (o Options) withDefaults() Options {
	if o.Mode == "" {
		o.Mode = ModePointer
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if len(o.Patterns) == 0 {
		o.Patterns = append([]string(nil), DefaultPatterns...)
	}
	if o.PreviewRows <= 0 {
		o.PreviewRows = archive.DefaultPreviewRows
	}
	if o.InlineMaxBytes <= 0 {
		o.InlineMaxBytes = archive.DefaultInlineMaxBytes
	}
	return o
}

// Result is the externally visible outcome of one workflow invocation. It
// is constructed once per run and not mutated after being returned; terminal
// failures return it alongside the error so partial progress and warnings
// are never discarded.
type Result struct {
	BatchID        string               `json:"batchId"`
	State          State                `json:"state"`
	BatchState     string               `json:"status,omitempty"`
	Pointer        batch.Pointer        `json:"pointer"`
	Summary        map[string]any       `json:"summary,omitempty"`
	Manifest       *archive.Manifest    `json:"manifest,omitempty"`
	DestDir        string               `json:"destDir,omitempty"`
	ExtractedPaths []string             `json:"extractedFiles,omitempty"`
	Previews       []archive.CSVPreview `json:"processedCSV,omitempty"`
	InventoryPath  string               `json:"inventoryPath,omitempty"`
	MirroredKeys   []string             `json:"mirroredKeys,omitempty"`
	Warnings       []batch.Warning      `json:"warnings"`
	Success        bool                 `json:"success"`
}

// Runner drives upload, bounded polling, pointer resolution, and the
// optional manifest/extract stages as one deterministic operation. Each
// invocation owns its temporary files; concurrent invocations share no
// mutable state.
type Runner struct {
	api     BatchAPI
	fetcher ArchiveFetcher
	mirror  ArtifactMirror
	apiKey  string
	log     *zap.Logger
	now     func() time.Time
	sleep   func(context.Context, time.Duration) error
}

// NewRunner creates a Runner bound to the provided dependencies.
func NewRunner(deps Deps) (*Runner, error) {
	if deps.API == nil {
		return nil, errors.New("batch API is required")
	}
	if deps.Fetcher == nil {
		return nil, errors.New("archive fetcher is required")
	}
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Sleep == nil {
		deps.Sleep = sleepContext
	}
	return &Runner{
		api:     deps.API,
		fetcher: deps.Fetcher,
		mirror:  deps.Mirror,
		apiKey:  deps.APIKey,
		log:     deps.Log,
		now:     deps.Now,
		sleep:   deps.Sleep,
	}, nil
}

// Run executes the workflow end to end. Upload failures are terminal and
// never retried here; a failed status query during polling is terminal;
// reaching the polling deadline without a terminal remote status yields a
// timeout-kind error with Result.State == StateTimedOut. The only retry in
// this core is the single pointer refresh on a permission-denied fetch.
func (r *Runner) Run(ctx context.Context, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	res := &Result{State: StateUploading, Warnings: []batch.Warning{}}

	up, err := r.api.Upload(ctx, opts.Files, opts.Notify)
	if err != nil {
		return res, err
	}
	if up.BatchID == "" {
		return res, &batch.Error{Kind: batch.KindRemoteAPI, Message: "upload response missing batch id"}
	}
	res.BatchID = up.BatchID

	res.State = StatePolling
	last, err := r.poll(ctx, res, opts)
	if err != nil {
		return res, err
	}

	res.State = StateResolvingPointer
	res.Pointer = batch.ResolvePointer(last)
	res.Summary = last.Summary
	res.Warnings = append(res.Warnings, failedFileWarnings(last)...)

	if opts.Mode == ModePointer {
		res.State = StateDone
		res.Success = true
		return res, nil
	}

	if res.Pointer.Empty() {
		return res, &batch.Error{
			Kind:    batch.KindArtifactMissing,
			Message: fmt.Sprintf("batch %s finished (%s) but no result archive is available", res.BatchID, last.State),
		}
	}

	switch opts.Mode {
	case ModeManifest:
		res.State = StateFetchingManifest
		if err := r.runManifest(ctx, res, opts); err != nil {
			return res, err
		}
	case ModeExtract:
		res.State = StateFetchingAndExtracting
		if err := r.runExtract(ctx, res, opts); err != nil {
			return res, err
		}
	}

	res.State = StateDone
	res.Success = true
	return res, nil
}

// poll queries status at a fixed interval until the batch reaches a
// terminal state or the wall-clock deadline, computed once up front,
// elapses. The deadline is the only cancellation built into the design;
// context cancellation is honored between queries as well.
func (r *Runner) poll(ctx context.Context, res *Result, opts Options) (batch.Status, error) {
	deadline := r.now().Add(opts.Timeout)
	for {
		st, err := r.api.Status(ctx, res.BatchID)
		if err != nil {
			return batch.Status{}, err
		}
		res.BatchState = st.State
		if st.Terminal() {
			r.log.Info("batch reached terminal status",
				zap.String("batch_id", res.BatchID),
				zap.String("status", st.State),
			)
			return st, nil
		}
		if !r.now().Before(deadline) {
			res.State = StateTimedOut
			return batch.Status{}, &batch.Error{
				Kind:    batch.KindTimeout,
				Message: fmt.Sprintf("batch %s did not reach a terminal status within %s", res.BatchID, opts.Timeout),
			}
		}
		if err := r.sleep(ctx, opts.PollInterval); err != nil {
			return batch.Status{}, err
		}
	}
}

// fetchWithRefresh downloads the archive behind the current pointer. When
// storage rejects the pointer as expired (permission-denied class), it
// re-queries status exactly once, re-resolves, and retries with the fresh
// pointer. No further attempts follow regardless of outcome: the retry cost
// is capped at one extra round trip, and a persistently broken pointer is
// surfaced rather than masked.
func (r *Runner) fetchWithRefresh(ctx context.Context, res *Result, dir string) (string, error) {
	archivePath, err := r.fetcher.Fetch(ctx, res.Pointer.URL, r.apiKey, dir)
	if err == nil || batch.KindOf(err) != batch.KindPermissionDenied {
		return archivePath, err
	}

	r.log.Warn("artifact pointer rejected, refreshing once",
		zap.String("batch_id", res.BatchID),
		zap.Error(err),
	)
	st, stErr := r.api.Status(ctx, res.BatchID)
	if stErr != nil {
		return "", err
	}
	fresh := batch.ResolvePointer(st)
	if fresh.Empty() {
		return "", err
	}
	res.Pointer = fresh
	res.Warnings = append(res.Warnings, batch.Warning{
		Type:   "pointer_refreshed",
		Reason: "authorization expired, pointer re-resolved once",
	})
	return r.fetcher.Fetch(ctx, fresh.URL, r.apiKey, dir)
}

func (r *Runner) runManifest(ctx context.Context, res *Result, opts Options) error {
	archivePath, err := r.fetchWithRefresh(ctx, res, "")
	if err != nil {
		return err
	}
	defer os.Remove(archivePath)

	manifest, err := archive.ReadManifest(archivePath, opts.Patterns)
	if err != nil {
		return err
	}
	res.Manifest = manifest
	return nil
}

func (r *Runner) runExtract(ctx context.Context, res *Result, opts Options) error {
	destDir, warnings, err := resolveDestDir(opts.DestDir)
	if err != nil {
		return err
	}
	res.Warnings = append(res.Warnings, warnings...)
	res.DestDir = destDir

	archivePath, err := r.fetchWithRefresh(ctx, res, destDir)
	if err != nil {
		return err
	}
	defer os.Remove(archivePath)

	manifest, err := archive.ReadManifest(archivePath, opts.Patterns)
	if err != nil {
		return err
	}
	res.Manifest = manifest

	outcome, err := archive.Extract(ctx, archivePath, opts.Patterns, destDir)
	if err != nil {
		return err
	}
	res.ExtractedPaths = outcome.ExtractedPaths
	res.Warnings = append(res.Warnings, outcome.Warnings...)
	res.Previews = archive.ReadCSVPreviews(outcome.ExtractedPaths, opts.PreviewRows, opts.InlineMaxBytes)

	if len(outcome.ExtractedPaths) == 0 {
		return nil
	}

	artifacts, err := inventory.Collect(ctx, destDir, outcome.ExtractedPaths)
	if err != nil {
		res.Warnings = append(res.Warnings, batch.Warning{Type: "inventory_failed", Reason: err.Error()})
		return nil
	}
	invPath, err := inventory.Write(destDir, inventory.Inventory{
		BatchID:   res.BatchID,
		Artifacts: artifacts,
	})
	if err != nil {
		res.Warnings = append(res.Warnings, batch.Warning{Type: "inventory_failed", Reason: err.Error()})
	} else {
		res.InventoryPath = invPath
	}

	if opts.MirrorBucket != "" && r.mirror != nil {
		res.MirroredKeys = r.mirrorArtifacts(ctx, res, opts, destDir, artifacts)
	}
	return nil
}

// mirrorArtifacts uploads extracted artifacts to object storage. Individual
// upload failures become warnings, not errors: the local extraction already
// succeeded.
func (r *Runner) mirrorArtifacts(ctx context.Context, res *Result, opts Options, destDir string, artifacts []inventory.Artifact) []string {
	var keys []string
	for _, art := range artifacts {
		key := path.Join(opts.MirrorPrefix, res.BatchID, art.Path)
		local := filepath.Join(destDir, filepath.FromSlash(art.Path))
		if err := r.mirror.PutFile(ctx, opts.MirrorBucket, key, local); err != nil {
			res.Warnings = append(res.Warnings, batch.Warning{
				Type:   "mirror_upload_failed",
				Entry:  art.Path,
				Reason: err.Error(),
			})
			continue
		}
		keys = append(keys, key)
	}
	return keys
}

// resolveDestDir validates a requested destination directory, falling back
// to a fresh temp directory (with a warning) when the request is unusable.
// The directory is created idempotently and never exclusively locked.
func resolveDestDir(requested string) (string, []batch.Warning, error) {
	var warnings []batch.Warning
	if requested != "" {
		switch {
		case !filepath.IsAbs(requested):
			warnings = append(warnings, batch.Warning{
				Type:   "dest_dir_fallback",
				Entry:  requested,
				Reason: "destination is not an absolute path",
			})
		default:
			if err := os.MkdirAll(requested, 0o755); err != nil {
				warnings = append(warnings, batch.Warning{
					Type:   "dest_dir_fallback",
					Entry:  requested,
					Reason: err.Error(),
				})
			} else {
				return requested, warnings, nil
			}
		}
	}

	tmp, err := os.MkdirTemp("", "batchfetch-")
	if err != nil {
		return "", warnings, &batch.Error{Kind: batch.KindFilesystem, Message: "create destination directory", Err: err}
	}
	return tmp, warnings, nil
}

func failedFileWarnings(st batch.Status) []batch.Warning {
	if st.FilesFailed == 0 {
		return nil
	}
	var warnings []batch.Warning
	for _, f := range st.Files {
		if batch.NormalizeState(f.Status) == "failed" {
			warnings = append(warnings, batch.Warning{
				Type:   "file_failed",
				Entry:  f.FileName,
				Reason: f.ErrorMessage,
			})
		}
	}
	warnings = append(warnings, batch.Warning{
		Type:   "batch_failed_files",
		Reason: fmt.Sprintf("%d file(s) failed", st.FilesFailed),
	})
	return warnings
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
