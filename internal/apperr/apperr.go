// Package apperr defines the error kinds shared by every clipwizard component
// and their mapping to HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	BadUpload                Kind = "BAD_UPLOAD"
	InvalidTimeRange         Kind = "INVALID_TIME_RANGE"
	RangeOutOfBounds         Kind = "RANGE_OUT_OF_BOUNDS"
	SourceUnreadable         Kind = "SOURCE_UNREADABLE"
	TranscriptionUnavailable Kind = "TRANSCRIPTION_UNAVAILABLE"
	SuggestionUnavailable    Kind = "SUGGESTION_UNAVAILABLE"
	UnparseableSuggestion    Kind = "UNPARSEABLE_SUGGESTION"
	NotFound                 Kind = "NOT_FOUND"
	TimedOut                 Kind = "TIMED_OUT"
	EncodeFailed             Kind = "ENCODE_FAILED"
	Internal                 Kind = "INTERNAL_ERROR"
)

// Error carries a Kind alongside a caller-safe message. Err, when set, is the
// underlying cause and is not shown to clients.
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

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// MessageOf returns the caller-safe message for err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal server error"
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func HTTPStatus(kind Kind) int {
	switch kind {
	case BadUpload, InvalidTimeRange:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case SourceUnreadable, RangeOutOfBounds, UnparseableSuggestion:
		return http.StatusUnprocessableEntity
	case TranscriptionUnavailable, SuggestionUnavailable:
		return http.StatusBadGateway
	case TimedOut:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
