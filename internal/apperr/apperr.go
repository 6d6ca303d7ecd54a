// Package apperr defines the error taxonomy shared by the upload, dispatch
// and job packages, and how each kind surfaces over HTTP.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindNoFiles            Kind = "no_files_attached"
	KindEmptyPrompt        Kind = "empty_prompt"
	KindUnsupportedFormat  Kind = "unsupported_format"
	KindProviderOverloaded Kind = "provider_overloaded"
	KindProviderNotFound   Kind = "provider_not_found"
	KindConversion         Kind = "conversion_error"
	KindUpload             Kind = "upload_error"
	KindParse              Kind = "parse_error"
	KindIO                 Kind = "io_error"
	KindNotConfigured      Kind = "not_configured"
	KindJobNotFound        Kind = "job_not_found"
	KindJobNotReady        Kind = "job_not_ready"
	KindProcessing         Kind = "processing_error"
)

// Error is a classified failure. Message is safe to show to callers.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind, so errors.Is(err, apperr.ErrEmptyPrompt) works
// for any wrapped error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

var (
	ErrNoFiles            = New(KindNoFiles, "no files attached")
	ErrEmptyPrompt        = New(KindEmptyPrompt, "prompt is empty")
	ErrUnsupportedFormat  = New(KindUnsupportedFormat, "unsupported file format")
	ErrProviderOverloaded = New(KindProviderOverloaded, "the AI provider is overloaded, please retry in a few moments")
	ErrProviderNotFound   = New(KindProviderNotFound, "the configured AI model is not available")
	ErrJobNotFound        = New(KindJobNotFound, "job not found")
	ErrJobNotReady        = New(KindJobNotReady, "report is not ready yet")
)

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindProcessing
}

// HTTPStatus maps err onto a status code reflecting whether a retry can help:
// 503 retryable, 400/404 need different input, 500 unknown.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNoFiles, KindEmptyPrompt, KindUnsupportedFormat, KindConversion, KindParse, KindJobNotReady:
		return http.StatusBadRequest
	case KindProviderOverloaded:
		return http.StatusServiceUnavailable
	case KindProviderNotFound, KindJobNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the caller-facing text for err.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return "failed to process request: " + err.Error()
}
