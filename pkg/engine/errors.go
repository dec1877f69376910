// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// EngineError is the error type returned by all Engine operations. Transient
// errors (daemon busy, timeouts, network glitches) may succeed on retry;
// permanent errors (image not found, invalid spec) never will.
type EngineError struct {
	// Engine is the backend name ("docker", "podman", "docker-api").
	Engine string
	// Op is the failed operation ("pull", "create", "start", ...).
	Op string
	// Resource is the image reference or container id the operation targeted.
	Resource string
	// Err is the underlying cause.
	Err error
	// Transient marks the error as potentially retryable.
	Transient bool
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	kind := "permanent"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s %s %q: %v (%s)", e.Engine, e.Op, e.Resource, e.Err, kind)
}

// Unwrap returns the underlying cause.
func (e *EngineError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a transient engine error that may
// succeed on retry. Errors that are not *EngineError are never transient.
func IsTransient(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee) && ee.Transient
}

// transientPatterns are daemon output fragments that indicate a transient
// condition: the daemon is reachable but momentarily unable to serve, or the
// network path to a registry hiccuped.
var transientPatterns = []string{
	"Cannot connect to the Docker daemon",
	"connection refused",
	"connection timed out",
	"connection reset by peer",
	"i/o timeout",
	"Temporary failure resolving",
	"Could not resolve host",
	"TLS handshake timeout",
	"too many requests",
	"500 Internal Server Error",
	"error creating overlay mount",
	"error mounting layer",
	"ping_group_range",
	"OCI runtime error",
}

// permanentPatterns are daemon output fragments that indicate the request can
// never succeed as written.
var permanentPatterns = []string{
	"No such image",
	"not found: manifest unknown",
	"manifest unknown",
	"pull access denied",
	"repository does not exist",
	"invalid reference format",
	"No such container",
	"port is already allocated",
	"Conflict. The container name",
}

// classifyTransient decides whether an operation failure may succeed on
// retry, from the error and any captured daemon/CLI output.
//
// Context cancellation and deadline errors are never transient — the caller
// explicitly stopped the operation. Exit code 125 from a CLI backend is a
// generic engine failure and is treated as transient unless the output names
// a permanent condition.
func classifyTransient(err error, output string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	text := output
	if text == "" {
		text = err.Error()
	}
	for _, p := range permanentPatterns {
		if strings.Contains(text, p) {
			return false
		}
	}
	for _, p := range transientPatterns {
		if strings.Contains(text, p) {
			return true
		}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 125 {
		return true
	}

	return false
}

// wrapErr builds an EngineError for op on resource, classifying the failure
// from err and any captured output. A nil err returns nil.
func wrapErr(engine, op, resource string, err error, output string) error {
	if err == nil {
		return nil
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		// Already classified by a lower layer.
		return err
	}
	return &EngineError{
		Engine:    engine,
		Op:        op,
		Resource:  resource,
		Err:       err,
		Transient: classifyTransient(err, output),
	}
}
