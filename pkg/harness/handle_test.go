// SPDX-License-Identifier: MPL-2.0

package harness

import (
	"testing"

	"github.com/docker/go-connections/nat"

	"github.com/Dauaaa/super-orchestrator/pkg/engine"
)

func TestHandle_Addr(t *testing.T) {
	t.Parallel()

	h := newHandle("db", "fake000000000001")
	if _, err := h.Addr(5432); err == nil {
		t.Error("Addr() on unmapped port expected error")
	}

	h.setInfo(engine.Info{
		Ports: nat.PortMap{
			"5432/tcp": []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: "49153"}},
		},
	})
	addr, err := h.Addr(5432)
	if err != nil {
		t.Fatalf("Addr() error = %v", err)
	}
	if addr != "127.0.0.1:49153" {
		t.Errorf("Addr() = %q", addr)
	}
}

func TestHandle_StateTransitions(t *testing.T) {
	t.Parallel()

	h := newHandle("db", "fake000000000001")
	if h.State() != HandleCreated {
		t.Errorf("initial State() = %v, want created", h.State())
	}
	h.setState(HandleRunning)
	h.setState(HandleReady)
	if h.State() != HandleReady {
		t.Errorf("State() = %v, want ready", h.State())
	}
	if h.Name() != "db" || h.ID() != "fake000000000001" {
		t.Errorf("identity = %q/%q", h.Name(), h.ID())
	}
}
