package apierr

import (
	"errors"
	"testing"
)

func TestErrorUnwrapMatchesSentinel(t *testing.T) {
	err := New(ErrJobNotFound, "job-123")
	if !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected errors.Is to match ErrJobNotFound")
	}
	if errors.Is(err, ErrWorkerNotFound) {
		t.Fatalf("did not expect errors.Is to match ErrWorkerNotFound")
	}
}

func TestErrorMessageIncludesDetail(t *testing.T) {
	err := New(ErrJobNotFound, "job-123")
	want := "job not found: job-123"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestErrorMessageWithoutDetail(t *testing.T) {
	err := New(ErrClaimLost, "")
	if err.Error() != ErrClaimLost.Error() {
		t.Fatalf("Error() = %q, want %q", err.Error(), ErrClaimLost.Error())
	}
}
