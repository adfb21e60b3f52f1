package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestKindOf_ThroughWrapping(t *testing.T) {
	base := New(NotFound, "artifact not found")
	wrapped := fmt.Errorf("serve download: %w", base)

	if got := KindOf(wrapped); got != NotFound {
		t.Errorf("KindOf() = %q, want %q", got, NotFound)
	}
	if got := MessageOf(wrapped); got != "artifact not found" {
		t.Errorf("MessageOf() = %q", got)
	}
}

func TestKindOf_PlainError(t *testing.T) {
	if got := KindOf(errors.New("boom")); got != Internal {
		t.Errorf("KindOf() = %q, want %q", got, Internal)
	}
	if got := KindOf(nil); got != "" {
		t.Errorf("KindOf(nil) = %q, want empty", got)
	}
	if got := MessageOf(errors.New("secret detail")); got != "internal server error" {
		t.Errorf("MessageOf() leaked %q", got)
	}
}

func TestWrap_UnwrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(TranscriptionUnavailable, "transcription service unavailable", cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is() = false, want true")
	}
	if !Is(err, TranscriptionUnavailable) {
		t.Error("Is() = false, want true")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{BadUpload, http.StatusBadRequest},
		{InvalidTimeRange, http.StatusBadRequest},
		{NotFound, http.StatusNotFound},
		{SourceUnreadable, http.StatusUnprocessableEntity},
		{TranscriptionUnavailable, http.StatusBadGateway},
		{SuggestionUnavailable, http.StatusBadGateway},
		{TimedOut, http.StatusGatewayTimeout},
		{EncodeFailed, http.StatusInternalServerError},
		{Internal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := HTTPStatus(tt.kind); got != tt.want {
				t.Errorf("HTTPStatus(%s) = %d, want %d", tt.kind, got, tt.want)
			}
		})
	}
}
