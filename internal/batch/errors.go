package batch

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can decide whether a retry at a
// higher level makes sense.
type Kind string

const (
	// KindValidation covers bad input (file type, size, count, identifiers).
	// Never retried.
	KindValidation Kind = "validation"
	// KindNetwork covers transport failures: timeouts, connection errors.
	KindNetwork Kind = "network"
	// KindRemoteAPI covers non-2xx API responses.
	KindRemoteAPI Kind = "remote_api"
	// KindPermissionDenied covers expired or invalid artifact pointers.
	KindPermissionDenied Kind = "permission_denied"
	// KindMalformedArchive covers downloads that are not valid ZIP
	// containers.
	KindMalformedArchive Kind = "malformed_archive"
	// KindArtifactMissing marks a terminal batch with no usable result
	// pointer, usually a completed-but-empty batch.
	KindArtifactMissing Kind = "artifact_missing"
	// KindTimeout marks a polling deadline reached without a terminal
	// remote status.
	KindTimeout Kind = "timeout"
	// KindFilesystem covers local file errors while persisting results.
	KindFilesystem Kind = "filesystem"
)

// Error is a classified failure with enough structure for callers to react:
// the kind, a human message, an optional bounded diagnostic excerpt, and the
// HTTP status when one was observed.
type Error struct {
	Kind       Kind
	Message    string
	Detail     string
	HTTPStatus int
	Err        error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.HTTPStatus != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.HTTPStatus)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind carried by err, or "" when err is not classified.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}

// Warning records a non-fatal condition encountered while producing a
// result: a skipped archive member, a failed file within an otherwise
// successful batch, a pointer that needed refreshing. Warnings never abort
// the overall operation.
type Warning struct {
	Type   string `json:"type"`
	Entry  string `json:"entry,omitempty"`
	Reason string `json:"reason,omitempty"`
}
