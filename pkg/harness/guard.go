// SPDX-License-Identifier: MPL-2.0

package harness

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/Dauaaa/super-orchestrator/pkg/engine"
)

const (
	// GuardArmed means the guard owns zero or more live handles and will
	// release them on scope exit.
	GuardArmed GuardState = "armed"
	// GuardReleasing means a release is in progress.
	GuardReleasing GuardState = "releasing"
	// GuardReleased is terminal; re-releasing is a no-op.
	GuardReleased GuardState = "released"
)

// GuardState is the lifecycle state of a Guard.
type GuardState string

// String returns the string representation of the GuardState.
func (s GuardState) String() string { return string(s) }

// Guard is the sole owner of every container handle created during one
// orchestration run. It releases (stop+remove) all owned containers on scope
// exit — normal return, early error return, or panic unwind via the caller's
// defer — in reverse registration order, so dependents go down before their
// dependencies. Release is best-effort-complete: every registered handle is
// attempted even when earlier removals fail, and release is idempotent.
type Guard struct {
	eng         engine.Engine
	logger      *log.Logger
	stopTimeout time.Duration

	// mu protects the registration list and state; engine calls during
	// release happen outside the lock.
	mu       sync.Mutex
	state    GuardState
	handles  []*Handle
	networks []string
}

// NewGuard creates an armed guard that tears containers down through eng.
func NewGuard(eng engine.Engine, logger *log.Logger, stopTimeout time.Duration) *Guard {
	if logger == nil {
		logger = log.Default()
	}
	return &Guard{
		eng:         eng,
		logger:      logger,
		stopTimeout: stopTimeout,
		state:       GuardArmed,
	}
}

// Register takes ownership of a handle. Handles must be registered before
// their container is returned to any caller; once registered, a handle stays
// registered until released. Registering on a guard that already began
// releasing fails with ErrGuardReleased.
func (g *Guard) Register(h *Handle) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != GuardArmed {
		return ErrGuardReleased
	}
	g.handles = append(g.handles, h)
	return nil
}

// RegisterNetwork takes ownership of a per-run network, removed after the
// last container during release.
func (g *Guard) RegisterNetwork(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != GuardArmed {
		return ErrGuardReleased
	}
	g.networks = append(g.networks, name)
	return nil
}

// State returns the guard's current state.
func (g *Guard) State() GuardState {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Owned returns the number of handles currently registered.
func (g *Guard) Owned() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.handles)
}

// Release stops and removes every owned container in reverse registration
// order, then removes any per-run networks. Failures are logged and
// aggregated into a *ReleaseError naming the possibly-leaked container ids;
// they never abort the remaining releases. Releasing an already-released (or
// concurrently releasing) guard is a no-op returning nil.
func (g *Guard) Release(ctx context.Context) error {
	g.mu.Lock()
	if g.state != GuardArmed {
		g.mu.Unlock()
		return nil
	}
	g.state = GuardReleasing
	handles := g.handles
	networks := g.networks
	g.mu.Unlock()

	var failures []ReleaseFailure
	for i := len(handles) - 1; i >= 0; i-- {
		h := handles[i]
		if err := g.release(ctx, h); err != nil {
			g.logger.Warn("failed to remove container",
				"container", h.Name(), "id", h.ID().Short(), "err", err)
			failures = append(failures, ReleaseFailure{
				Container: h.Name(),
				ID:        h.ID(),
				Err:       err,
			})
			continue
		}
		h.setState(HandleRemoved)
		g.logger.Debug("removed container", "container", h.Name(), "id", h.ID().Short())
	}

	for i := len(networks) - 1; i >= 0; i-- {
		if err := g.eng.RemoveNetwork(ctx, networks[i]); err != nil {
			// A network with a leaked container attached cannot be removed;
			// the container failure above already names the culprit.
			g.logger.Warn("failed to remove network", "network", networks[i], "err", err)
		}
	}

	g.mu.Lock()
	g.state = GuardReleased
	g.mu.Unlock()

	if len(failures) > 0 {
		return &ReleaseError{Failures: failures}
	}
	return nil
}

// release stops and force-removes one container. A failed stop is not fatal
// on its own: force removal kills the process anyway.
func (g *Guard) release(ctx context.Context, h *Handle) error {
	if err := g.eng.Stop(ctx, h.ID(), g.stopTimeout); err != nil {
		g.logger.Debug("graceful stop failed, forcing removal",
			"container", h.Name(), "id", h.ID().Short(), "err", err)
	}
	return g.eng.Remove(ctx, h.ID(), true)
}
