package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownWorkflow marks enqueue attempts for unregistered workflow kinds.
	ErrUnknownWorkflow = errors.New("unknown workflow")
	// ErrProvisioning marks pod creation failures after the GPU priority list is exhausted.
	ErrProvisioning = errors.New("provisioning failed")
	// ErrSubmission marks jobs the generation backend rejected or never received.
	ErrSubmission = errors.New("submission failed")
	// ErrExecution marks jobs the generation backend reported as failed.
	ErrExecution = errors.New("execution failed")
	// ErrTimeout marks bounded polls that exhausted their attempts.
	ErrTimeout = errors.New("timeout")
	// ErrCloudProvider marks failures of provider start/stop/terminate/status calls.
	ErrCloudProvider = errors.New("cloud provider error")
	// ErrValidation marks malformed caller input.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration marks unusable configuration discovered at runtime.
	ErrConfiguration = errors.New("configuration error")
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrCloudProvider
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
