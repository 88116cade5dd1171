package vision

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies an inference failure
type ErrorKind string

const (
	KindUnauthorized ErrorKind = "unauthorized"
	KindRateLimited  ErrorKind = "rate_limited"
	KindTimeout      ErrorKind = "timeout"
	KindUnavailable  ErrorKind = "unavailable"
	KindUnknown      ErrorKind = "unknown"
)

// Error is a classified inference failure from a provider
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf returns the classification for an inference error. Errors that
// are not *Error are treated as unknown, except context deadline errors,
// which are timeouts.
func KindOf(err error) ErrorKind {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// Retryable reports whether an error of the given kind is worth retrying.
// Unauthorized means the batch-wide credentials are bad, so retrying any
// item cannot help.
func Retryable(kind ErrorKind) bool {
	return kind != KindUnauthorized
}

// kindForStatus maps an HTTP status code from a provider to an error kind
func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindUnauthorized
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return KindTimeout
	case status >= 500:
		return KindUnavailable
	default:
		return KindUnknown
	}
}
