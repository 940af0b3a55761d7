package services_test

import (
	"errors"
	"testing"

	"kiln/internal/services"
)

func TestWrapTagsMarker(t *testing.T) {
	cause := errors.New("socket closed")
	err := services.Wrap(services.ErrSubmission, "scheduler", "dispatch", "post prompt", cause)

	if !errors.Is(err, services.ErrSubmission) {
		t.Fatalf("expected wrapped error to match marker, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped error to match cause, got %v", err)
	}
	want := "submission failed: scheduler: dispatch: post prompt: socket closed"
	if err.Error() != want {
		t.Fatalf("unexpected message:\n got %q\nwant %q", err.Error(), want)
	}
}

func TestWrapWithoutCause(t *testing.T) {
	err := services.Wrap(services.ErrUnknownWorkflow, "scheduler", "enqueue", "kind \"gif\" is not supported", nil)
	if !errors.Is(err, services.ErrUnknownWorkflow) {
		t.Fatalf("expected marker match, got %v", err)
	}
	if errors.Is(err, services.ErrValidation) {
		t.Fatal("error should not match unrelated markers")
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrCloudProvider) {
		t.Fatalf("nil marker should default to ErrCloudProvider, got %v", err)
	}
	if err.Error() != "cloud provider error: service failure" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
