package errs

import (
	"errors"
	"testing"
)

func TestNotFound(t *testing.T) {
	err := NewNotFound("device", "dev-1")
	if !IsNotFound(err) {
		t.Fatalf("expected IsNotFound true")
	}
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected NotFoundError to unwrap to ErrInvalid")
	}
}

func TestConflict(t *testing.T) {
	err := NewConflict("device", "dev-1", "already exists")
	if !IsConflict(err) {
		t.Fatalf("expected IsConflict true")
	}
}

func TestWrapPreservesChain(t *testing.T) {
	wrapped := Wrap("pushing event", ErrUnavailable)
	if !errors.Is(wrapped, ErrUnavailable) {
		t.Fatalf("expected wrapped error to match ErrUnavailable")
	}
	if !IsUnavailable(wrapped) {
		t.Fatalf("expected IsUnavailable true")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap("noop", nil) != nil {
		t.Fatalf("expected nil passthrough")
	}
}
