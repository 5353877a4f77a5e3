package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	err := NewError(ErrNotFound, "workflow wf-1 not found")
	if got := err.Error(); got != "[NOT_FOUND] workflow wf-1 not found" {
		t.Errorf("unexpected error string: %s", got)
	}

	cause := errors.New("disk unavailable")
	wrapped := NewError(ErrInternalError, "persist failed").WithCause(cause)
	if !errors.Is(wrapped, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}

func TestGetErrorCode(t *testing.T) {
	err := NewError(ErrValidation, "bad state")
	if GetErrorCode(err) != ErrValidation {
		t.Errorf("expected VALIDATION, got %s", GetErrorCode(err))
	}

	// Wrapped errors still expose their code.
	wrapped := fmt.Errorf("write: %w", err)
	if !IsCode(wrapped, ErrValidation) {
		t.Error("expected IsCode to match through wrapping")
	}

	if GetErrorCode(errors.New("plain")) != "" {
		t.Error("expected empty code for plain error")
	}
}
