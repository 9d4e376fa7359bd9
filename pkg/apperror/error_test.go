package apperror

import (
	"errors"
	"net/http"
	"testing"
)

func TestErrorError(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name: "without internal error",
			err: &Error{
				HTTPStatus: http.StatusNotFound,
				Code:       "not_found",
				Message:    "Resource not found",
			},
			expected: "not_found: Resource not found",
		},
		{
			name: "with internal error",
			err: &Error{
				HTTPStatus: http.StatusInternalServerError,
				Code:       "database_error",
				Message:    "Database operation failed",
				Internal:   errors.New("connection refused"),
			},
			expected: "database_error: Database operation failed (connection refused)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	inner := errors.New("inner")
	err := ErrDatabase.WithInternal(inner)

	if !errors.Is(err, inner) {
		t.Error("errors.Is should find the wrapped internal error")
	}
}

func TestWithInternalDoesNotMutate(t *testing.T) {
	inner := errors.New("boom")
	derived := ErrInternal.WithInternal(inner)

	if ErrInternal.Internal != nil {
		t.Error("WithInternal must not mutate the base error")
	}
	if derived.Internal != inner {
		t.Error("derived error should carry the internal error")
	}
	if derived.Code != ErrInternal.Code {
		t.Errorf("derived code = %q, want %q", derived.Code, ErrInternal.Code)
	}
}

func TestWithMessage(t *testing.T) {
	derived := ErrBadRequest.WithMessage("rcpt_to is required")

	if derived.Message != "rcpt_to is required" {
		t.Errorf("WithMessage() message = %q", derived.Message)
	}
	if ErrBadRequest.Message == derived.Message {
		t.Error("WithMessage must not mutate the base error")
	}
	if derived.HTTPStatus != http.StatusBadRequest {
		t.Errorf("WithMessage() status = %d, want %d", derived.HTTPStatus, http.StatusBadRequest)
	}
}

func TestNewNotFound(t *testing.T) {
	err := NewNotFound("queue", "outgoing_emails")

	if err.HTTPStatus != http.StatusNotFound {
		t.Errorf("status = %d, want %d", err.HTTPStatus, http.StatusNotFound)
	}
	if err.Message != "queue 'outgoing_emails' not found" {
		t.Errorf("message = %q", err.Message)
	}
}
