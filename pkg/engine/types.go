// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/docker/go-connections/nat"
)

const (
	// PortProtocolTCP is the TCP transport protocol for port mappings.
	PortProtocolTCP PortProtocol = "tcp"
	// PortProtocolUDP is the UDP transport protocol for port mappings.
	PortProtocolUDP PortProtocol = "udp"

	// StateCreated means the container exists but has not been started.
	StateCreated ContainerState = "created"
	// StateRunning means the container process is running.
	StateRunning ContainerState = "running"
	// StateExited means the container process has terminated.
	StateExited ContainerState = "exited"
	// StatePaused means the container process is paused.
	StatePaused ContainerState = "paused"
	// StateRemoving means the container is being removed by the daemon.
	StateRemoving ContainerState = "removing"
	// StateUnknown is reported when the daemon state string is not recognized
	// or the container no longer exists.
	StateUnknown ContainerState = "unknown"
)

var (
	// ErrInvalidImageRef is the sentinel error wrapped by InvalidImageRefError.
	ErrInvalidImageRef = errors.New("invalid image reference")

	// ErrInvalidContainerID is the sentinel error wrapped by InvalidContainerIDError.
	ErrInvalidContainerID = errors.New("invalid container id")

	// ErrInvalidPortMapping is the sentinel error wrapped by InvalidPortMappingError.
	ErrInvalidPortMapping = errors.New("invalid port mapping")

	// ErrInvalidVolumeMount is the sentinel error wrapped by InvalidVolumeMountError.
	ErrInvalidVolumeMount = errors.New("invalid volume mount")

	// ErrInvalidSpec is the sentinel error wrapped by InvalidSpecError.
	ErrInvalidSpec = errors.New("invalid container spec")
)

type (
	// ContainerID is a daemon-assigned container identifier.
	// A valid id must be non-empty and not whitespace-only.
	ContainerID string

	// InvalidContainerIDError is returned when a ContainerID is empty or whitespace-only.
	InvalidContainerIDError struct {
		Value ContainerID
	}

	// ImageRef is an image reference ("postgres:16", "registry.example.com/app:v1").
	// A valid reference must be non-empty and not whitespace-only.
	ImageRef string

	// InvalidImageRefError is returned when an ImageRef is empty or whitespace-only.
	InvalidImageRefError struct {
		Value ImageRef
	}

	// PortProtocol represents a network transport protocol for port mappings.
	// The zero value ("") is valid and means "default to tcp".
	PortProtocol string

	// PortMapping maps a container port to a host port. A zero HostPort asks
	// the daemon to assign a free ephemeral port ("auto").
	PortMapping struct {
		HostPort      uint16
		ContainerPort uint16
		Protocol      PortProtocol
	}

	// InvalidPortMappingError is returned when a PortMapping has one or more
	// invalid fields. It wraps the individual field errors for inspection.
	InvalidPortMappingError struct {
		Value     PortMapping
		FieldErrs []error
	}

	// VolumeMount binds a host path into the container filesystem.
	VolumeMount struct {
		HostPath      string
		ContainerPath string
		ReadOnly      bool
	}

	// InvalidVolumeMountError is returned when a VolumeMount has an empty
	// host or container path.
	InvalidVolumeMountError struct {
		Value VolumeMount
	}

	// ContainerState is the daemon-reported lifecycle state of a container.
	ContainerState string

	// Spec is the engine-level description of one container to create. It is
	// the neutral form both backends consume; higher layers build it from
	// their own descriptor types.
	Spec struct {
		// Name is the container name. Empty lets the daemon generate one.
		Name string
		// Image is the image to create the container from.
		Image ImageRef
		// Command overrides the image command when non-empty.
		Command []string
		// Env holds environment variables. Key order is irrelevant.
		Env map[string]string
		// Ports are the container→host port mappings to publish.
		Ports []PortMapping
		// Volumes are host path bind mounts.
		Volumes []VolumeMount
		// Labels are attached to the container for later identification.
		Labels map[string]string
		// Network is the network to attach the container to. Empty uses the
		// daemon default.
		Network string
		// Hostname sets the container hostname inside its network.
		Hostname string
	}

	// InvalidSpecError is returned when a Spec has one or more invalid fields.
	InvalidSpecError struct {
		FieldErrs []error
	}

	// Info is the resolved runtime state of a container, as reported by the
	// daemon. Both backends normalize their inspect output into this form.
	Info struct {
		ID         ContainerID
		Name       string
		State      ContainerState
		ExitCode   int
		IPAddress  string
		Ports      nat.PortMap
		StartedAt  time.Time
		FinishedAt time.Time
	}
)

// String returns the string representation of the ContainerID.
func (c ContainerID) String() string { return string(c) }

// Short returns the id truncated to the familiar 12-character form.
func (c ContainerID) Short() string {
	if len(c) > 12 {
		return string(c[:12])
	}
	return string(c)
}

// Validate returns an error if the ContainerID is empty or whitespace-only.
func (c ContainerID) Validate() error {
	if strings.TrimSpace(string(c)) == "" {
		return &InvalidContainerIDError{Value: c}
	}
	return nil
}

// Error implements the error interface.
func (e *InvalidContainerIDError) Error() string {
	return fmt.Sprintf("invalid container id %q: must be non-empty", e.Value)
}

// Unwrap returns ErrInvalidContainerID for errors.Is compatibility.
func (e *InvalidContainerIDError) Unwrap() error { return ErrInvalidContainerID }

// String returns the string representation of the ImageRef.
func (r ImageRef) String() string { return string(r) }

// Validate returns an error if the ImageRef is empty or whitespace-only.
func (r ImageRef) Validate() error {
	if strings.TrimSpace(string(r)) == "" {
		return &InvalidImageRefError{Value: r}
	}
	return nil
}

// Error implements the error interface.
func (e *InvalidImageRefError) Error() string {
	return fmt.Sprintf("invalid image reference %q: must be non-empty", e.Value)
}

// Unwrap returns ErrInvalidImageRef for errors.Is compatibility.
func (e *InvalidImageRefError) Unwrap() error { return ErrInvalidImageRef }

// String returns the string representation of the PortProtocol.
func (p PortProtocol) String() string { return string(p) }

// Validate returns an error if the PortProtocol is not a recognized protocol.
// The zero value ("") is valid and means tcp.
func (p PortProtocol) Validate() error {
	switch p {
	case PortProtocolTCP, PortProtocolUDP, "":
		return nil
	default:
		return fmt.Errorf("invalid port protocol %q (valid: tcp, udp)", p)
	}
}

// orTCP returns the protocol, defaulting the zero value to tcp.
func (p PortProtocol) orTCP() PortProtocol {
	if p == "" {
		return PortProtocolTCP
	}
	return p
}

// Validate returns an error if any field of the PortMapping is invalid.
// A zero HostPort is valid (auto-assign); a zero ContainerPort is not.
func (p PortMapping) Validate() error {
	var errs []error
	if p.ContainerPort == 0 {
		errs = append(errs, fmt.Errorf("container port must be greater than zero"))
	}
	if err := p.Protocol.Validate(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return &InvalidPortMappingError{Value: p, FieldErrs: errs}
	}
	return nil
}

// String returns the port mapping in "host:container/protocol" format. An
// auto-assigned host port renders as an empty host part, matching the CLI
// syntax for ephemeral publishing.
func (p PortMapping) String() string {
	host := ""
	if p.HostPort != 0 {
		host = fmt.Sprintf("%d", p.HostPort)
	}
	return fmt.Sprintf("%s:%d/%s", host, p.ContainerPort, p.Protocol.orTCP())
}

// Port returns the container port in nat.Port form ("5432/tcp").
func (p PortMapping) Port() nat.Port {
	return nat.Port(fmt.Sprintf("%d/%s", p.ContainerPort, p.Protocol.orTCP()))
}

// Error implements the error interface.
func (e *InvalidPortMappingError) Error() string {
	return fmt.Sprintf("invalid port mapping %d:%d/%s: %d field error(s)",
		e.Value.HostPort, e.Value.ContainerPort, e.Value.Protocol, len(e.FieldErrs))
}

// Unwrap returns ErrInvalidPortMapping for errors.Is compatibility.
func (e *InvalidPortMappingError) Unwrap() error { return ErrInvalidPortMapping }

// Validate returns an error if the VolumeMount has an empty host or
// container path.
func (v VolumeMount) Validate() error {
	if strings.TrimSpace(v.HostPath) == "" || strings.TrimSpace(v.ContainerPath) == "" {
		return &InvalidVolumeMountError{Value: v}
	}
	return nil
}

// String returns the volume mount in "host:container[:ro]" format.
func (v VolumeMount) String() string {
	s := v.HostPath + ":" + v.ContainerPath
	if v.ReadOnly {
		s += ":ro"
	}
	return s
}

// Error implements the error interface.
func (e *InvalidVolumeMountError) Error() string {
	return fmt.Sprintf("invalid volume mount %q: host and container paths must be non-empty",
		e.Value.String())
}

// Unwrap returns ErrInvalidVolumeMount for errors.Is compatibility.
func (e *InvalidVolumeMountError) Unwrap() error { return ErrInvalidVolumeMount }

// Validate returns an error if any typed field of the Spec is invalid.
func (s Spec) Validate() error {
	var errs []error
	if err := s.Image.Validate(); err != nil {
		errs = append(errs, err)
	}
	for _, p := range s.Ports {
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, v := range s.Volumes {
		if err := v.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &InvalidSpecError{FieldErrs: errs}
	}
	return nil
}

// EnvSlice returns the environment as sorted "KEY=value" pairs. Sorting keeps
// generated daemon requests and CLI argument lists deterministic.
func (s Spec) EnvSlice() []string {
	if len(s.Env) == 0 {
		return nil
	}
	keys := make([]string, 0, len(s.Env))
	for k := range s.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		env = append(env, k+"="+s.Env[k])
	}
	return env
}

// Error implements the error interface.
func (e *InvalidSpecError) Error() string {
	return fmt.Sprintf("invalid container spec: %d field error(s)", len(e.FieldErrs))
}

// Unwrap returns ErrInvalidSpec for errors.Is compatibility.
func (e *InvalidSpecError) Unwrap() error { return ErrInvalidSpec }

// ParseContainerState normalizes a daemon state string into a ContainerState.
func ParseContainerState(s string) ContainerState {
	switch strings.ToLower(s) {
	case "created":
		return StateCreated
	case "running":
		return StateRunning
	case "exited", "stopped", "dead":
		return StateExited
	case "paused":
		return StatePaused
	case "removing":
		return StateRemoving
	default:
		return StateUnknown
	}
}

// Running reports whether the state is running.
func (s ContainerState) Running() bool { return s == StateRunning }

// Exited reports whether the container process has terminated.
func (s ContainerState) Exited() bool { return s == StateExited }

// String returns the string representation of the ContainerState.
func (s ContainerState) String() string { return string(s) }

// HostPortFor resolves the host binding for a container port from the
// resolved port map. The second return is false when the port is unmapped or
// the daemon has not assigned a binding yet.
func (i Info) HostPortFor(containerPort uint16, proto PortProtocol) (uint16, bool) {
	port := nat.Port(fmt.Sprintf("%d/%s", containerPort, proto.orTCP()))
	bindings, ok := i.Ports[port]
	if !ok || len(bindings) == 0 {
		return 0, false
	}
	n, err := nat.ParsePort(bindings[0].HostPort)
	if err != nil || n == 0 {
		return 0, false
	}
	return uint16(n), true
}
