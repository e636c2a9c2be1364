package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Decode failures.
var (
	ErrInvalidBase64           = errors.New("invalid base64 payload")
	ErrCorruptImage            = errors.New("unsupported or corrupt image")
	ErrDecodeUnsupportedFormat = errors.New("unsupported image container")
)

// Validation failures.
var (
	ErrUnsupportedFormat = errors.New("image format not allowed")
	ErrImageTooSmall     = errors.New("image too small")
	ErrImageTooLarge     = errors.New("image too large")
)

// Processing failures.
var (
	ErrSegmentationFailed = errors.New("background removal failed")
	ErrNotImplemented     = errors.New("output format not implemented")
	ErrProcessingTimeout  = errors.New("processing timed out")
)

// Request shape failures, rejected before the pipeline starts.
var (
	ErrInvalidRequest  = errors.New("invalid request")
	ErrPayloadTooLarge = errors.New("payload too large")
)

// ErrInternal tags failures outside the taxonomy. It maps to 500.
var ErrInternal = errors.New("internal error")

type Stage string

const (
	StageReceived   Stage = "received"
	StageDecoding   Stage = "decoding"
	StageValidating Stage = "validating"
	StageProcessing Stage = "processing"
	StageEncoding   Stage = "encoding"
	StageCompleted  Stage = "completed"
)

// PipelineError tags a failure with exactly one kind sentinel. Detail is safe
// to show to clients; Cause is kept for logs only.
type PipelineError struct {
	Stage  Stage
	Kind   error
	Detail string
	Cause  error
}

func NewPipelineError(stage Stage, kind error, detail string, cause error) *PipelineError {
	return &PipelineError{Stage: stage, Kind: kind, Detail: detail, Cause: cause}
}

func (e *PipelineError) Error() string {
	msg := e.Kind.Error()
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s (%v)", msg, e.Cause)
	}
	return msg
}

func (e *PipelineError) Unwrap() error {
	return e.Kind
}

type errorInfo struct {
	code   string
	status int
}

var errorTable = []struct {
	kind error
	info errorInfo
}{
	{ErrInvalidBase64, errorInfo{"InvalidBase64", http.StatusBadRequest}},
	{ErrCorruptImage, errorInfo{"UnsupportedOrCorruptImage", http.StatusBadRequest}},
	{ErrDecodeUnsupportedFormat, errorInfo{"UnsupportedImageContainer", http.StatusBadRequest}},
	{ErrInvalidRequest, errorInfo{"InvalidRequest", http.StatusBadRequest}},
	{ErrPayloadTooLarge, errorInfo{"PayloadTooLarge", http.StatusRequestEntityTooLarge}},
	{ErrUnsupportedFormat, errorInfo{"UnsupportedFormat", http.StatusUnprocessableEntity}},
	{ErrImageTooSmall, errorInfo{"TooSmall", http.StatusUnprocessableEntity}},
	{ErrImageTooLarge, errorInfo{"TooLarge", http.StatusUnprocessableEntity}},
	{ErrSegmentationFailed, errorInfo{"SegmentationFailed", http.StatusInternalServerError}},
	{ErrNotImplemented, errorInfo{"NotImplemented", http.StatusNotImplemented}},
	{ErrProcessingTimeout, errorInfo{"Timeout", http.StatusGatewayTimeout}},
}

func lookup(err error) (errorInfo, bool) {
	for _, row := range errorTable {
		if errors.Is(err, row.kind) {
			return row.info, true
		}
	}
	return errorInfo{}, false
}

// StatusFor maps an error kind to an HTTP status. Unknown errors are 500.
func StatusFor(err error) int {
	if info, ok := lookup(err); ok {
		return info.status
	}
	return http.StatusInternalServerError
}

// CodeFor returns the stable kind name used in error bodies.
func CodeFor(err error) string {
	if info, ok := lookup(err); ok {
		return info.code
	}
	return "InternalError"
}

// MessageFor builds the client-facing message. It never includes Cause.
func MessageFor(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		if pe.Detail != "" {
			return fmt.Sprintf("%s: %s", pe.Kind.Error(), pe.Detail)
		}
		return pe.Kind.Error()
	}
	for _, row := range errorTable {
		if errors.Is(err, row.kind) {
			return row.kind.Error()
		}
	}
	return "internal error"
}
