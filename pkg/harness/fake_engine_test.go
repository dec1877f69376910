// SPDX-License-Identifier: MPL-2.0

package harness

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/docker/go-connections/nat"

	"github.com/Dauaaa/super-orchestrator/pkg/engine"
)

type (
	// fakeEngine is an in-memory engine.Engine for exercising orchestration,
	// readiness, and cleanup logic without a daemon. Containers are keyed by
	// hostname, which the orchestrator sets to the descriptor name.
	fakeEngine struct {
		mu sync.Mutex

		nextID     int
		containers map[engine.ContainerID]*fakeContainer
		networks   map[string]struct{}
		// ops records every mutating call as "<op> <name>" in order.
		ops []string

		pullCalls  map[engine.ImageRef]int
		pullFlakes map[engine.ImageRef]int
		pullErr    map[engine.ImageRef]error
		createErr  map[string]error
		startErr   map[string]error
		removeErr  map[string]error
		logScript  map[string][]logEvent
		exitPlan   map[string]exitPlan
		portMap    map[string]nat.PortMap
	}

	fakeContainer struct {
		id      engine.ContainerID
		name    string
		spec    engine.Spec
		state   engine.ContainerState
		started time.Time
	}

	// logEvent is one line emitted on the fake log stream after a delay from
	// stream open.
	logEvent struct {
		after time.Duration
		line  string
	}

	// exitPlan terminates the fake container process after a delay from
	// start: the log stream ends and Wait returns code.
	exitPlan struct {
		after time.Duration
		code  int
	}
)

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		containers: map[engine.ContainerID]*fakeContainer{},
		networks:   map[string]struct{}{},
		pullCalls:  map[engine.ImageRef]int{},
		pullFlakes: map[engine.ImageRef]int{},
		pullErr:    map[engine.ImageRef]error{},
		createErr:  map[string]error{},
		startErr:   map[string]error{},
		removeErr:  map[string]error{},
		logScript:  map[string][]logEvent{},
		exitPlan:   map[string]exitPlan{},
		portMap:    map[string]nat.PortMap{},
	}
}

func (f *fakeEngine) Name() string    { return "fake" }
func (f *fakeEngine) Available() bool { return true }

func (f *fakeEngine) record(op, name string) {
	f.ops = append(f.ops, op+" "+name)
}

// opsOf returns the names passed to every recorded call of op, in order.
func (f *fakeEngine) opsOf(op string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	prefix := op + " "
	for _, entry := range f.ops {
		if len(entry) > len(prefix) && entry[:len(prefix)] == prefix {
			names = append(names, entry[len(prefix):])
		}
	}
	return names
}

// live returns the number of containers not yet removed.
func (f *fakeEngine) live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.containers)
}

func (f *fakeEngine) Pull(_ context.Context, image engine.ImageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pullCalls[image]++
	f.record("pull", string(image))
	if f.pullFlakes[image] > 0 {
		f.pullFlakes[image]--
		return &engine.EngineError{
			Engine: "fake", Op: "pull", Resource: string(image),
			Err: errors.New("connection refused"), Transient: true,
		}
	}
	if err := f.pullErr[image]; err != nil {
		return err
	}
	return nil
}

func (f *fakeEngine) Create(_ context.Context, spec engine.Spec) (engine.ContainerID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := spec.Hostname
	if name == "" {
		name = spec.Name
	}
	f.record("create", name)
	if err := f.createErr[name]; err != nil {
		return "", err
	}
	f.nextID++
	id := engine.ContainerID(fmt.Sprintf("fake%012d", f.nextID))
	f.containers[id] = &fakeContainer{
		id:    id,
		name:  name,
		spec:  spec,
		state: engine.StateCreated,
	}
	return id, nil
}

func (f *fakeEngine) Start(_ context.Context, id engine.ContainerID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return fmt.Errorf("no such container: %s", id)
	}
	f.record("start", c.name)
	if err := f.startErr[c.name]; err != nil {
		return err
	}
	c.state = engine.StateRunning
	c.started = time.Now()
	return nil
}

func (f *fakeEngine) Logs(_ context.Context, id engine.ContainerID) (io.ReadCloser, error) {
	f.mu.Lock()
	c, ok := f.containers[id]
	if !ok {
		f.mu.Unlock()
		return nil, fmt.Errorf("no such container: %s", id)
	}
	script := f.logScript[c.name]
	plan, exits := f.exitPlan[c.name]
	f.mu.Unlock()

	pr, pw := io.Pipe()
	go func() {
		elapsed := time.Duration(0)
		for _, ev := range script {
			if ev.after > elapsed {
				time.Sleep(ev.after - elapsed)
				elapsed = ev.after
			}
			if _, err := fmt.Fprintln(pw, ev.line); err != nil {
				return
			}
		}
		if exits {
			if plan.after > elapsed {
				time.Sleep(plan.after - elapsed)
			}
			pw.Close()
		}
		// A still-running container keeps the stream open; the reader side
		// closes it.
	}()
	return pr, nil
}

func (f *fakeEngine) Inspect(_ context.Context, id engine.ContainerID) (engine.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return engine.Info{}, fmt.Errorf("no such container: %s", id)
	}
	return engine.Info{
		ID:        c.id,
		Name:      c.spec.Name,
		State:     c.state,
		IPAddress: "172.18.0.9",
		Ports:     f.portMap[c.name],
	}, nil
}

func (f *fakeEngine) Wait(ctx context.Context, id engine.ContainerID) (int, error) {
	f.mu.Lock()
	c, ok := f.containers[id]
	if !ok {
		f.mu.Unlock()
		return 0, fmt.Errorf("no such container: %s", id)
	}
	plan, exits := f.exitPlan[c.name]
	started := c.started
	f.mu.Unlock()

	if !exits {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if remaining := time.Until(started.Add(plan.after)); remaining > 0 {
		select {
		case <-time.After(remaining):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
	return plan.code, nil
}

func (f *fakeEngine) Stop(_ context.Context, id engine.ContainerID, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return fmt.Errorf("no such container: %s", id)
	}
	f.record("stop", c.name)
	c.state = engine.StateExited
	return nil
}

func (f *fakeEngine) Remove(_ context.Context, id engine.ContainerID, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		// Mirrors forced removal of an absent container being a no-op.
		return nil
	}
	f.record("remove", c.name)
	if err := f.removeErr[c.name]; err != nil {
		return err
	}
	delete(f.containers, id)
	return nil
}

func (f *fakeEngine) EnsureNetwork(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("network-create", name)
	f.networks[name] = struct{}{}
	return nil
}

func (f *fakeEngine) RemoveNetwork(_ context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("network-remove", name)
	delete(f.networks, name)
	return nil
}

// syncBuffer is a goroutine-safe bytes.Buffer for capturing teed log output.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// get returns the live container with the given name, or nil.
func (f *fakeEngine) get(name string) *fakeContainer {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.containers {
		if c.name == name {
			return c
		}
	}
	return nil
}

// add creates and starts a container directly, bypassing the orchestrator.
// Used by guard and readiness tests that exercise one piece in isolation.
func (f *fakeEngine) add(name string) *Handle {
	id, err := f.Create(context.Background(), engine.Spec{
		Name: name, Image: "fake:latest", Hostname: name,
	})
	if err != nil {
		panic(err)
	}
	if err := f.Start(context.Background(), id); err != nil {
		panic(err)
	}
	h := newHandle(name, id)
	h.setState(HandleRunning)
	return h
}
