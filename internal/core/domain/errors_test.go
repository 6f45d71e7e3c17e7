package domain

import (
	"errors"
	"testing"
	"time"
)

func TestProxyError_UnwrapAndErrorsIs(t *testing.T) {
	sentinel := errors.New("dial refused")
	pe := NewProxyError("req-1", "http://127.0.0.1:8001/", "GET", "/", 5*time.Millisecond, sentinel)

	if !errors.Is(pe, sentinel) {
		t.Fatal("expected errors.Is to unwrap to the underlying sentinel error")
	}
	if pe.Error() == "" {
		t.Fatal("expected a non-empty error message")
	}
}

func TestStatusPollError_UnwrapAndErrorsIs(t *testing.T) {
	sentinel := errors.New("timeout")
	spe := NewStatusPollError(8001, "http://localhost:8001/~status", sentinel)

	if !errors.Is(spe, sentinel) {
		t.Fatal("expected errors.Is to unwrap to the underlying sentinel error")
	}
}

func TestConfigValidationError_Message(t *testing.T) {
	err := &ConfigValidationError{Field: "sourcePort", Value: -1, Reason: "must be positive"}
	if err.Error() == "" {
		t.Fatal("expected a non-empty error message")
	}
}
