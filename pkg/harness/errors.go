// SPDX-License-Identifier: MPL-2.0

package harness

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Dauaaa/super-orchestrator/pkg/engine"
)

var (
	// ErrTimedOut is the sentinel error wrapped by TimeoutError.
	ErrTimedOut = errors.New("timed out waiting for readiness")

	// ErrProcessExited is the sentinel error wrapped by ProcessExitedError.
	ErrProcessExited = errors.New("container process exited")

	// ErrDuplicateDescriptor is the sentinel error wrapped by DuplicateDescriptorError.
	ErrDuplicateDescriptor = errors.New("duplicate descriptor name")

	// ErrGuardReleased is returned when registering a handle with a guard
	// that has already begun releasing.
	ErrGuardReleased = errors.New("cleanup guard already released")

	// ErrInvalidDescriptor is the sentinel error wrapped by InvalidDescriptorError.
	ErrInvalidDescriptor = errors.New("invalid descriptor")
)

type (
	// TimeoutError is returned when a container does not become ready within
	// its deadline.
	TimeoutError struct {
		// Container is the descriptor name of the container that timed out.
		Container string
		// After is the deadline that elapsed.
		After time.Duration
	}

	// ProcessExitedError is returned when a container process terminates
	// while (or instead of) becoming ready. For one-shot containers with an
	// exit-code rule, only a non-zero code produces this error.
	ProcessExitedError struct {
		// Container is the descriptor name of the container that exited.
		Container string
		// Code is the process exit code.
		Code int
	}

	// DuplicateDescriptorError is returned when two descriptors in one run
	// share a name.
	DuplicateDescriptorError struct {
		Name string
	}

	// InvalidDescriptorError is returned when a descriptor fails
	// prevalidation. It wraps the individual field errors for inspection.
	InvalidDescriptorError struct {
		Name      string
		FieldErrs []error
	}

	// ReleaseFailure records one container the cleanup guard could not
	// remove. The id is surfaced so the operator can intervene by hand.
	ReleaseFailure struct {
		Container string
		ID        engine.ContainerID
		Err       error
	}

	// ReleaseError aggregates cleanup failures from one guard release. It is
	// non-fatal by design: the guard attempts every registered handle even
	// when earlier removals fail, and this error names whatever leaked.
	ReleaseError struct {
		Failures []ReleaseFailure
	}

	// OrchestrationError is the failure of one orchestration run. Primary is
	// the first fatal error encountered; Cleanup carries any release
	// failures discovered while tearing down, attached as secondary
	// diagnostics and never masking the primary cause.
	OrchestrationError struct {
		Primary error
		Cleanup error
	}
)

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("container %q: readiness %v after %v", e.Container, ErrTimedOut, e.After)
}

// Unwrap returns ErrTimedOut so callers can use errors.Is.
func (e *TimeoutError) Unwrap() error { return ErrTimedOut }

// Error implements the error interface.
func (e *ProcessExitedError) Error() string {
	return fmt.Sprintf("container %q: %v with code %d", e.Container, ErrProcessExited, e.Code)
}

// Unwrap returns ErrProcessExited so callers can use errors.Is.
func (e *ProcessExitedError) Unwrap() error { return ErrProcessExited }

// Error implements the error interface.
func (e *DuplicateDescriptorError) Error() string {
	return fmt.Sprintf("two descriptors were supplied with the same name %q", e.Name)
}

// Unwrap returns ErrDuplicateDescriptor so callers can use errors.Is.
func (e *DuplicateDescriptorError) Unwrap() error { return ErrDuplicateDescriptor }

// Error implements the error interface.
func (e *InvalidDescriptorError) Error() string {
	return fmt.Sprintf("descriptor %q: %d field error(s)", e.Name, len(e.FieldErrs))
}

// Unwrap returns ErrInvalidDescriptor so callers can use errors.Is.
func (e *InvalidDescriptorError) Unwrap() error { return ErrInvalidDescriptor }

// Error implements the error interface. The message names every leaked
// container id.
func (e *ReleaseError) Error() string {
	ids := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		ids = append(ids, f.ID.Short())
	}
	return fmt.Sprintf("cleanup failed for %d container(s), possibly leaked: %s",
		len(e.Failures), strings.Join(ids, ", "))
}

// Unwrap returns the underlying per-container errors.
func (e *ReleaseError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Error implements the error interface. The primary cause always leads.
func (e *OrchestrationError) Error() string {
	if e.Cleanup == nil {
		return e.Primary.Error()
	}
	return fmt.Sprintf("%v (cleanup: %v)", e.Primary, e.Cleanup)
}

// Unwrap returns the primary cause followed by any cleanup diagnostics, so
// errors.Is and errors.As see through both.
func (e *OrchestrationError) Unwrap() []error {
	if e.Cleanup == nil {
		return []error{e.Primary}
	}
	return []error{e.Primary, e.Cleanup}
}
