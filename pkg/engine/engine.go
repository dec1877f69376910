// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Engine is the contract every container-engine backend satisfies. Callers
// depend only on this interface; which backend is active is decided once at
// configuration time (see New) and never per operation.
//
// All operations talk to an external daemon and may block on daemon I/O;
// every method honors cancellation through its context.
type Engine interface {
	// Name returns the backend name ("docker", "podman", "docker-api").
	Name() string
	// Available reports whether the backend can reach a working daemon.
	Available() bool

	// Pull fetches an image. Pulling an already-present image is a cache
	// hit, not an error.
	Pull(ctx context.Context, image ImageRef) error
	// Create creates a container from spec without starting it.
	Create(ctx context.Context, spec Spec) (ContainerID, error)
	// Start starts a created container.
	Start(ctx context.Context, id ContainerID) error
	// Logs returns a follow-mode stream of the container's combined
	// stdout/stderr. The stream is unbounded until the container exits and
	// is restartable from the current position only. Closing the returned
	// reader releases the underlying daemon connection or child process.
	Logs(ctx context.Context, id ContainerID) (io.ReadCloser, error)
	// Inspect resolves the container's current state, address, and port map.
	Inspect(ctx context.Context, id ContainerID) (Info, error)
	// Wait blocks until the container exits and returns its exit code.
	Wait(ctx context.Context, id ContainerID) (int, error)
	// Stop gracefully stops a running container, escalating to SIGKILL
	// after timeout.
	Stop(ctx context.Context, id ContainerID, timeout time.Duration) error
	// Remove deletes a container. Removing an already-removed container is
	// not an error when force is set.
	Remove(ctx context.Context, id ContainerID, force bool) error

	// EnsureNetwork creates the named bridge network if it does not exist.
	EnsureNetwork(ctx context.Context, name string) error
	// RemoveNetwork removes the named network, ignoring absence.
	RemoveNetwork(ctx context.Context, name string) error
}

// Type identifies a container engine backend.
type Type string

const (
	// TypeDocker is the docker CLI backend.
	TypeDocker Type = "docker"
	// TypePodman is the podman CLI backend.
	TypePodman Type = "podman"
	// TypeDockerAPI is the Docker Engine API backend (daemon socket).
	TypeDockerAPI Type = "docker-api"
)

// ErrNoEngineAvailable is the sentinel error wrapped by NotAvailableError.
var ErrNoEngineAvailable = errors.New("no container engine available")

// NotAvailableError is returned when the requested backend (and any
// fallback) cannot reach a working daemon.
type NotAvailableError struct {
	Engine string
	Reason string
}

// Error implements the error interface.
func (e *NotAvailableError) Error() string {
	return fmt.Sprintf("container engine %q is not available: %s", e.Engine, e.Reason)
}

// Unwrap returns ErrNoEngineAvailable so callers can use errors.Is.
func (e *NotAvailableError) Unwrap() error { return ErrNoEngineAvailable }

// New creates the preferred backend, falling back to the other backends if
// the preferred one cannot reach a daemon. The returned engine is fixed for
// its lifetime; selection is a configuration-time decision.
func New(preferred Type) (Engine, error) {
	switch preferred {
	case TypeDocker:
		return firstAvailable(preferred, NewDockerCLIEngine(), NewPodmanCLIEngine())
	case TypePodman:
		return firstAvailable(preferred, NewPodmanCLIEngine(), NewDockerCLIEngine())
	case TypeDockerAPI:
		api, err := NewAPIEngine()
		if err == nil && api.Available() {
			return api, nil
		}
		return firstAvailable(preferred, NewDockerCLIEngine(), NewPodmanCLIEngine())
	default:
		return nil, fmt.Errorf("unknown container engine type: %s", preferred)
	}
}

// AutoDetect finds any available backend, preferring the Docker Engine API
// when a daemon socket answers, then the docker CLI, then podman.
func AutoDetect() (Engine, error) {
	if api, err := NewAPIEngine(); err == nil && api.Available() {
		return api, nil
	}
	return firstAvailable("any", NewDockerCLIEngine(), NewPodmanCLIEngine())
}

func firstAvailable(requested Type, candidates ...Engine) (Engine, error) {
	for _, e := range candidates {
		if e.Available() {
			return e, nil
		}
	}
	return nil, &NotAvailableError{
		Engine: string(requested),
		Reason: "no candidate backend could reach a container daemon",
	}
}
