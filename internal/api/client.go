package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"batchfetch/internal/batch"
	"batchfetch/pkg/telemetry"
)

const (
	uploadPath       = "/api/external/v1/upload"
	statusPathFormat = "/api/external/v1/job/%s/status"

	// MaxFilesPerBatch is the upstream per-batch file-count ceiling.
	MaxFilesPerBatch = 20
	// MaxFileSizeBytes is the upstream per-file size ceiling.
	MaxFileSizeBytes = 2 * 1024 * 1024

	requestTimeout = 2 * time.Minute
	errBodyLimit   = 1000
)

var contentTypes = map[string]string{
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xls":  "application/vnd.ms-excel",
	".xlsm": "application/vnd.ms-excel.sheet.macroEnabled.12",
	".csv":  "text/csv",
	".ods":  "application/vnd.oasis.opendocument.spreadsheet",
}

// SupportedExtension reports whether the upload endpoint accepts files with
// this extension.
func SupportedExtension(ext string) bool {
	_, ok := contentTypes[strings.ToLower(ext)]
	return ok
}

func contentTypeFor(ext string) string {
	if ct, ok := contentTypes[strings.ToLower(ext)]; ok {
		return ct
	}
	return "application/octet-stream"
}

// Notification describes where batch completion events are delivered.
type Notification struct {
	Email      string
	WebhookURL string
}

type notificationMethod struct {
	Type  string `json:"type"`
	Entry string `json:"entry"`
}

func (n Notification) methods() []notificationMethod {
	methods := []notificationMethod{{Type: "email", Entry: n.Email}}
	if n.WebhookURL != "" {
		methods = append(methods, notificationMethod{Type: "webhook", Entry: n.WebhookURL})
	}
	return methods
}

// UploadResult is the upload endpoint's acknowledgement of a new batch.
type UploadResult struct {
	BatchID                    string `json:"batchId"`
	State                      string `json:"status"`
	FilesUploaded              int    `json:"filesUploaded"`
	FilesQueued                int    `json:"filesQueued"`
	EstimatedCompletionMinutes int    `json:"estimatedCompletionMinutes"`
	TrackingURL                string `json:"trackingUrl"`
}

// Client talks to the remote batch-processing API.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     *zap.Logger
}

// NewClient creates a Client for the given API base URL. The key may be
// empty for flows that only touch pre-signed storage URLs; operations that
// require it fail with a validation error.
func NewClient(baseURL, apiKey string, log *zap.Logger) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("api base url is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http: &http.Client{
			Timeout:   requestTimeout,
			Transport: telemetry.Transport(nil),
		},
		log: log,
	}, nil
}

// Upload submits local files for processing and returns the new batch id.
// Input validation failures (file type, size, count) are never retried and
// surface immediately as validation errors.
func (c *Client) Upload(ctx context.Context, paths []string, notify Notification) (UploadResult, error) {
	if c.apiKey == "" {
		return UploadResult{}, &batch.Error{Kind: batch.KindValidation, Message: "missing API key"}
	}
	if strings.TrimSpace(notify.Email) == "" {
		return UploadResult{}, &batch.Error{Kind: batch.KindValidation, Message: "notification email is required"}
	}
	if err := validateFiles(paths); err != nil {
		return UploadResult{}, err
	}

	body, contentType, err := buildUploadBody(paths, notify)
	if err != nil {
		return UploadResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+uploadPath, body)
	if err != nil {
		return UploadResult{}, &batch.Error{Kind: batch.KindValidation, Message: "build upload request", Err: err}
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return UploadResult{}, &batch.Error{Kind: batch.KindNetwork, Message: "upload request", Err: err}
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
	default:
		return UploadResult{}, &batch.Error{
			Kind:       batch.KindRemoteAPI,
			Message:    "upload rejected",
			Detail:     readExcerpt(resp.Body),
			HTTPStatus: resp.StatusCode,
		}
	}

	var result UploadResult
	if err := decodePayload(resp.Body, &result); err != nil {
		return UploadResult{}, &batch.Error{Kind: batch.KindRemoteAPI, Message: "decode upload response", Err: err}
	}
	if result.FilesUploaded == 0 {
		result.FilesUploaded = len(paths)
	}

	c.log.Info("batch uploaded",
		zap.String("batch_id", result.BatchID),
		zap.Int("files", len(paths)),
	)
	return result, nil
}

// Status fetches the current processing snapshot for a batch.
func (c *Client) Status(ctx context.Context, batchID string) (batch.Status, error) {
	if c.apiKey == "" {
		return batch.Status{}, &batch.Error{Kind: batch.KindValidation, Message: "missing API key"}
	}
	if _, err := uuid.Parse(batchID); err != nil {
		return batch.Status{}, &batch.Error{Kind: batch.KindValidation, Message: fmt.Sprintf("invalid batch id %q", batchID), Err: err}
	}

	url := c.baseURL + fmt.Sprintf(statusPathFormat, batchID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return batch.Status{}, &batch.Error{Kind: batch.KindValidation, Message: "build status request", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return batch.Status{}, &batch.Error{Kind: batch.KindNetwork, Message: "status request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return batch.Status{}, &batch.Error{
			Kind:       batch.KindRemoteAPI,
			Message:    fmt.Sprintf("batch %s not found", batchID),
			HTTPStatus: resp.StatusCode,
		}
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return batch.Status{}, &batch.Error{
			Kind:       batch.KindRemoteAPI,
			Message:    "status query failed",
			Detail:     readExcerpt(resp.Body),
			HTTPStatus: resp.StatusCode,
		}
	}

	var st batch.Status
	if err := decodePayload(resp.Body, &st); err != nil {
		return batch.Status{}, &batch.Error{Kind: batch.KindRemoteAPI, Message: "decode status response", Err: err}
	}
	if st.BatchID == "" {
		st.BatchID = batchID
	}
	return st, nil
}

func validateFiles(paths []string) error {
	if len(paths) == 0 {
		return &batch.Error{Kind: batch.KindValidation, Message: "no files provided"}
	}
	if len(paths) > MaxFilesPerBatch {
		return &batch.Error{
			Kind:    batch.KindValidation,
			Message: fmt.Sprintf("too many files (%d); maximum %d per batch", len(paths), MaxFilesPerBatch),
		}
	}

	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return &batch.Error{Kind: batch.KindValidation, Message: fmt.Sprintf("file does not exist: %s", p), Err: err}
		}
		if !info.Mode().IsRegular() {
			return &batch.Error{Kind: batch.KindValidation, Message: fmt.Sprintf("not a regular file: %s", p)}
		}
		ext := filepath.Ext(p)
		if !SupportedExtension(ext) {
			return &batch.Error{
				Kind:    batch.KindValidation,
				Message: fmt.Sprintf("unsupported file type %q for %s", ext, filepath.Base(p)),
			}
		}
		if info.Size() > MaxFileSizeBytes {
			return &batch.Error{
				Kind:    batch.KindValidation,
				Message: fmt.Sprintf("file too large: %s is %d bytes, maximum %d", filepath.Base(p), info.Size(), MaxFileSizeBytes),
			}
		}
	}
	return nil
}

func buildUploadBody(paths []string, notify Notification) (*bytes.Buffer, string, error) {
	// Per-file sizes are capped at 2 MiB by validation, so an in-memory
	// multipart body stays small.
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)

	methodsJSON, err := json.Marshal(notify.methods())
	if err != nil {
		return nil, "", &batch.Error{Kind: batch.KindValidation, Message: "encode notification method", Err: err}
	}
	if err := w.WriteField("notificationMethod", string(methodsJSON)); err != nil {
		return nil, "", &batch.Error{Kind: batch.KindValidation, Message: "write notification field", Err: err}
	}

	for _, p := range paths {
		part, err := w.CreatePart(filePartHeader(filepath.Base(p), contentTypeFor(filepath.Ext(p))))
		if err != nil {
			return nil, "", &batch.Error{Kind: batch.KindValidation, Message: "create multipart section", Err: err}
		}
		file, err := os.Open(p)
		if err != nil {
			return nil, "", &batch.Error{Kind: batch.KindValidation, Message: fmt.Sprintf("open %s", p), Err: err}
		}
		_, err = io.Copy(part, file)
		file.Close()
		if err != nil {
			return nil, "", &batch.Error{Kind: batch.KindFilesystem, Message: fmt.Sprintf("read %s", p), Err: err}
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", &batch.Error{Kind: batch.KindValidation, Message: "finalize multipart body", Err: err}
	}
	return buf, w.FormDataContentType(), nil
}

func filePartHeader(filename, contentType string) textproto.MIMEHeader {
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, filename))
	h.Set("Content-Type", contentType)
	return h
}

// decodePayload unwraps the optional {"data": {...}} envelope the API uses
// and decodes the payload into dest.
func decodePayload(r io.Reader, dest any) error {
	body, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	payload := body
	if err := json.Unmarshal(body, &envelope); err == nil {
		if trimmed := bytes.TrimSpace(envelope.Data); len(trimmed) > 0 && trimmed[0] == '{' {
			payload = trimmed
		}
	}
	return json.Unmarshal(payload, dest)
}

func readExcerpt(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, errBodyLimit))
	if err != nil {
		return ""
	}
	return string(data)
}
