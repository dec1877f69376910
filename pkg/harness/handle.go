// SPDX-License-Identifier: MPL-2.0

package harness

import (
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/Dauaaa/super-orchestrator/pkg/engine"
)

const (
	// HandleCreated means the engine-side container exists but has not been
	// started.
	HandleCreated HandleState = "created"
	// HandleRunning means the container was started and readiness detection
	// is pending or in progress.
	HandleRunning HandleState = "running"
	// HandleReady means the readiness rule resolved successfully.
	HandleReady HandleState = "ready"
	// HandleFailed means readiness detection failed (timeout or process exit).
	HandleFailed HandleState = "failed"
	// HandleRemoved means the cleanup guard tore the container down.
	HandleRemoved HandleState = "removed"
)

// HandleState is the lifecycle state of a Handle.
type HandleState string

// String returns the string representation of the HandleState.
func (s HandleState) String() string { return string(s) }

// Handle is the runtime reference to one provisioned container: its
// engine-assigned id plus the resolved network endpoints. Handles are created
// only by the orchestrator after a successful create; state transitions come
// from readiness detection, and terminal removal from the cleanup guard.
type Handle struct {
	name string
	id   engine.ContainerID

	mu    sync.Mutex
	state HandleState
	info  engine.Info
}

func newHandle(name string, id engine.ContainerID) *Handle {
	return &Handle{name: name, id: id, state: HandleCreated}
}

// Name returns the descriptor name this handle was provisioned for.
func (h *Handle) Name() string { return h.name }

// ID returns the engine-assigned container id.
func (h *Handle) ID() engine.ContainerID { return h.id }

// State returns the current lifecycle state.
func (h *Handle) State() HandleState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handle) setState(s HandleState) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// setInfo records the resolved daemon view of the container (address, port
// map). Called after start and again once ready, when ephemeral host ports
// are known.
func (h *Handle) setInfo(info engine.Info) {
	h.mu.Lock()
	h.info = info
	h.mu.Unlock()
}

// Host returns the host address to reach published ports on. Port bindings
// are published on the wildcard address, so the loopback address is always
// reachable from the test process.
func (h *Handle) Host() string { return "127.0.0.1" }

// IPAddress returns the container's address on its network, for
// container-to-container connections. Empty until the daemon assigns one.
func (h *Handle) IPAddress() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.info.IPAddress
}

// MappedPort resolves the host port bound to the given container TCP port.
// The second return is false when the port was not published or the daemon
// has not assigned a binding yet.
func (h *Handle) MappedPort(containerPort uint16) (uint16, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.info.HostPortFor(containerPort, engine.PortProtocolTCP)
}

// Addr returns a dialable "host:port" address for the given container TCP
// port, e.g. for pointing a database client at the fixture.
func (h *Handle) Addr(containerPort uint16) (string, error) {
	port, ok := h.MappedPort(containerPort)
	if !ok {
		return "", fmt.Errorf("container %q: port %d/tcp has no host binding", h.name, containerPort)
	}
	return net.JoinHostPort(h.Host(), strconv.Itoa(int(port))), nil
}
