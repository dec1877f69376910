// SPDX-License-Identifier: MPL-2.0

package harness

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Dauaaa/super-orchestrator/pkg/engine"
)

// Container labels stamped on everything an orchestrator creates, so stray
// fixtures from crashed runs can be found and removed by hand.
const (
	labelManagedBy = "io.orc.managed-by"
	labelRunID     = "io.orc.run-id"

	managedByValue = "super-orchestrator"
)

type (
	// Orchestrator provisions a set of containers described by Descriptors,
	// waits for each to become ready, and guarantees teardown of everything
	// it created through its cleanup Guard. One orchestrator serves one run:
	// Run may be called once, and Close releases whatever the run created.
	Orchestrator struct {
		cfg    Config
		eng    engine.Engine
		logger *log.Logger
		guard  *Guard

		// runID suffixes the per-run network and container names so
		// concurrent runs on one daemon never collide.
		runID   string
		network string

		// teeCtx outlives Run's context so log sinks keep receiving output
		// for the fixture's whole lifetime, not just during provisioning.
		teeCtx    context.Context
		teeCancel context.CancelFunc
		teeWG     sync.WaitGroup

		mu  sync.Mutex
		ran bool
	}

	// Option configures an Orchestrator at construction.
	Option func(*Orchestrator)
)

// WithEngine injects a pre-built engine backend, bypassing configuration-time
// backend selection.
func WithEngine(eng engine.Engine) Option {
	return func(o *Orchestrator) {
		o.eng = eng
	}
}

// WithLogger sets the logger for orchestration and cleanup events.
func WithLogger(logger *log.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithConfig overrides the configuration instead of loading it from the
// environment.
func WithConfig(cfg Config) Option {
	return func(o *Orchestrator) {
		o.cfg = cfg
	}
}

// New creates an orchestrator for one run. Unless overridden by options, the
// configuration comes from LoadConfig and the engine backend from the
// configured preference with fallback.
func New(opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{}
	for _, opt := range opts {
		opt(o)
	}

	if o.cfg == (Config{}) {
		cfg, err := LoadConfig()
		if err != nil {
			return nil, err
		}
		o.cfg = cfg
	} else if err := o.cfg.Validate(); err != nil {
		return nil, err
	}
	if o.logger == nil {
		o.logger = log.Default()
	}
	if o.eng == nil {
		eng, err := engine.New(o.cfg.Engine)
		if err != nil {
			return nil, err
		}
		o.eng = eng
	}

	o.runID = uuid.NewString()
	o.network = fmt.Sprintf("%s-%s", o.cfg.NetworkPrefix, o.runID[:8])
	o.guard = NewGuard(o.eng, o.logger, o.cfg.StopTimeout)
	o.teeCtx, o.teeCancel = context.WithCancel(context.Background())
	return o, nil
}

// Engine returns the backend this orchestrator drives.
func (o *Orchestrator) Engine() engine.Engine { return o.eng }

// Guard returns the cleanup guard owning every container this run created.
// Callers wanting teardown on panic defer Close (or Guard().Release)
// immediately after New.
func (o *Orchestrator) Guard() *Guard { return o.guard }

// RunID returns the unique id of this orchestration run.
func (o *Orchestrator) RunID() string { return o.runID }

// Network returns the name of the per-run network.
func (o *Orchestrator) Network() string { return o.network }

// Run provisions the described containers and blocks until every one is
// ready, in this order: prevalidation of all descriptors, per-run network
// creation, concurrent image pulls, then create, start, and await-ready per
// descriptor in declared order. The returned map is keyed by descriptor name.
//
// The first fatal error stops the run: no further descriptors are attempted,
// everything created so far is released through the guard, and the error is
// returned with any cleanup failures attached as secondary diagnostics in an
// *OrchestrationError. The primary cause is never masked by cleanup noise.
func (o *Orchestrator) Run(ctx context.Context, descriptors ...Descriptor) (map[string]*Handle, error) {
	o.mu.Lock()
	if o.ran {
		o.mu.Unlock()
		return nil, fmt.Errorf("orchestrator already ran")
	}
	o.ran = true
	o.mu.Unlock()

	// Prevalidation rejects the whole set before any engine call, so a bad
	// descriptor never leaves partial state behind.
	seen := make(map[string]struct{}, len(descriptors))
	for _, d := range descriptors {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[d.Name()]; dup {
			return nil, &DuplicateDescriptorError{Name: d.Name()}
		}
		seen[d.Name()] = struct{}{}
	}

	o.logger.Debug("starting orchestration run",
		"run", o.runID[:8], "engine", o.eng.Name(), "containers", len(descriptors))

	if err := o.eng.EnsureNetwork(ctx, o.network); err != nil {
		return nil, o.fail(ctx, fmt.Errorf("create network %s: %w", o.network, err))
	}
	if err := o.guard.RegisterNetwork(o.network); err != nil {
		return nil, o.fail(ctx, err)
	}

	if err := o.pullAll(ctx, descriptors); err != nil {
		return nil, o.fail(ctx, err)
	}

	handles := make(map[string]*Handle, len(descriptors))
	for _, d := range descriptors {
		h, err := o.provision(ctx, d)
		if err != nil {
			return nil, o.fail(ctx, err)
		}
		handles[d.Name()] = h
	}
	return handles, nil
}

// Close tears down everything the run created. It is safe to defer
// immediately after New and to call after a failed Run: release is
// idempotent, so at most one teardown happens.
func (o *Orchestrator) Close(ctx context.Context) error {
	o.teeCancel()
	err := o.guard.Release(ctx)
	o.teeWG.Wait()
	return err
}

// pullAll fetches every distinct image concurrently, retrying transient
// failures per the configured policy. A permanent failure on any image
// aborts the whole pull phase.
func (o *Orchestrator) pullAll(ctx context.Context, descriptors []Descriptor) error {
	images := make(map[engine.ImageRef]struct{}, len(descriptors))
	for _, d := range descriptors {
		images[d.Image()] = struct{}{}
	}

	g, gctx := errgroup.WithContext(ctx)
	for image := range images {
		g.Go(func() error {
			o.logger.Debug("pulling image", "image", image)
			err := engine.Retry(gctx, o.cfg.retryPolicy(), func() error {
				return o.eng.Pull(gctx, image)
			})
			if err != nil {
				return fmt.Errorf("pull %s: %w", image, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// provision creates, starts, and awaits readiness of one container. The
// handle is registered with the guard before start, so even a container that
// wedges during startup is owned and will be torn down.
func (o *Orchestrator) provision(ctx context.Context, d Descriptor) (*Handle, error) {
	containerName := fmt.Sprintf("%s-%s-%s", o.cfg.NetworkPrefix, d.Name(), o.runID[:8])
	labels := map[string]string{
		labelManagedBy: managedByValue,
		labelRunID:     o.runID,
	}

	id, err := o.eng.Create(ctx, d.spec(containerName, o.network, labels))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", d.Name(), err)
	}
	h := newHandle(d.Name(), id)
	if err := o.guard.Register(h); err != nil {
		// Unreachable in normal use: Run happens before any release. Remove
		// the orphan ourselves since the guard refused ownership.
		if rmErr := o.eng.Remove(ctx, id, true); rmErr != nil {
			o.logger.Warn("failed to remove unowned container",
				"container", d.Name(), "id", id.Short(), "err", rmErr)
		}
		return nil, err
	}

	if err := o.eng.Start(ctx, id); err != nil {
		return nil, fmt.Errorf("start %s: %w", d.Name(), err)
	}
	h.setState(HandleRunning)
	o.logger.Debug("started container", "container", d.Name(), "id", id.Short())

	if info, err := o.eng.Inspect(ctx, id); err == nil {
		h.setInfo(info)
	}

	if sink := d.logSink; sink != nil {
		o.teeLogs(h, sink)
	}

	timeout := d.timeout
	if timeout <= 0 {
		timeout = o.cfg.ReadyTimeout
	}
	if err := awaitReady(ctx, o.eng, h, d.readyRule(), timeout); err != nil {
		return nil, err
	}
	o.logger.Debug("container ready",
		"container", d.Name(), "id", id.Short(), "rule", d.readyRule().String())
	return h, nil
}

// teeLogs copies the container's combined output into the descriptor's sink
// for the fixture's whole lifetime. The stream is tied to the orchestrator,
// not to Run's context, and is severed on Close.
func (o *Orchestrator) teeLogs(h *Handle, sink io.Writer) {
	o.teeWG.Add(1)
	go func() {
		defer o.teeWG.Done()
		rc, err := o.eng.Logs(o.teeCtx, h.ID())
		if err != nil {
			o.logger.Warn("failed to attach log sink",
				"container", h.Name(), "err", err)
			return
		}
		defer rc.Close()

		// Severing the tee must unblock the copy even when the stream does
		// not watch the context itself.
		done := make(chan struct{})
		defer close(done)
		go func() {
			select {
			case <-o.teeCtx.Done():
				rc.Close()
			case <-done:
			}
		}()

		if _, err := io.Copy(sink, rc); err != nil && o.teeCtx.Err() == nil {
			o.logger.Debug("log sink stream ended",
				"container", h.Name(), "err", err)
		}
	}()
}

// fail releases everything created so far and shapes the run's error. Cleanup
// failures ride along as secondary diagnostics; the primary cause always
// leads.
func (o *Orchestrator) fail(ctx context.Context, primary error) error {
	o.teeCancel()
	// Release must run even when the run's context is already dead, or a
	// timed-out run would leak every container it created.
	releaseCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		releaseCtx, cancel = context.WithTimeout(context.Background(), releaseTimeout(o.cfg))
		defer cancel()
	}
	cleanupErr := o.guard.Release(releaseCtx)
	o.teeWG.Wait()
	if cleanupErr != nil {
		return &OrchestrationError{Primary: primary, Cleanup: cleanupErr}
	}
	return primary
}

// releaseTimeout bounds emergency cleanup when the run's own context is gone.
func releaseTimeout(cfg Config) time.Duration {
	return cfg.StopTimeout + 30*time.Second
}
