// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-connections/nat"
)

type (
	// ExecCommandFunc is the function signature for creating exec.Cmd.
	// This allows injection of mock implementations for testing.
	ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

	// BaseCLIEngineOption configures a BaseCLIEngine.
	BaseCLIEngineOption func(*BaseCLIEngine)

	// BaseCLIEngine provides the common implementation for CLI-based
	// container engines. Docker and Podman engines embed this struct;
	// operations that are identical across CLI engines (Pull, Create, Start,
	// Logs, Inspect, Wait, Stop, Remove, network management) are implemented
	// here, while engine-specific methods (Available, Version) remain on the
	// concrete types.
	BaseCLIEngine struct {
		name        string
		binaryPath  string
		execCommand ExecCommandFunc
	}
)

// WithExecCommand sets a custom exec command function for testing.
func WithExecCommand(fn ExecCommandFunc) BaseCLIEngineOption {
	return func(e *BaseCLIEngine) {
		e.execCommand = fn
	}
}

// NewBaseCLIEngine creates a new base engine driving the given binary.
func NewBaseCLIEngine(name, binaryPath string, opts ...BaseCLIEngineOption) *BaseCLIEngine {
	e := &BaseCLIEngine{
		name:        name,
		binaryPath:  binaryPath,
		execCommand: exec.CommandContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the engine name used in error messages.
func (e *BaseCLIEngine) Name() string { return e.name }

// BinaryPath returns the path to the container engine binary.
func (e *BaseCLIEngine) BinaryPath() string { return e.binaryPath }

// CreateCommand creates an exec.Cmd for the given arguments. Useful when the
// caller needs to customize stdin/stdout/stderr.
func (e *BaseCLIEngine) CreateCommand(ctx context.Context, args ...string) *exec.Cmd {
	return e.execCommand(ctx, e.binaryPath, args...)
}

// runCommand executes a command and returns its stdout. Stderr is captured
// and folded into the returned error for transient/permanent classification.
func (e *BaseCLIEngine) runCommand(ctx context.Context, op, resource string, args ...string) (string, error) {
	cmd := e.CreateCommand(ctx, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// Prefer the context error: a killed child process reports the
		// generic "signal: killed" instead of the real cause.
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		detail := strings.TrimSpace(stderr.String())
		cause := fmt.Errorf("%s %s: %w", e.binaryPath, strings.Join(args, " "), err)
		if detail != "" {
			cause = fmt.Errorf("%s %s: %w: %s", e.binaryPath, strings.Join(args, " "), err, detail)
		}
		return "", wrapErr(e.name, op, resource, cause, detail)
	}
	return stdout.String(), nil
}

// --- Argument Builders ---

// PullArgs constructs arguments for an image pull command.
func (e *BaseCLIEngine) PullArgs(image ImageRef) []string {
	return []string{"pull", string(image)}
}

// CreateArgs constructs arguments for a container create command.
//
// Generated command: <binary> create [options] <image> [command...]
func (e *BaseCLIEngine) CreateArgs(spec Spec) []string {
	args := []string{"create"}

	if spec.Name != "" {
		args = append(args, "--name", spec.Name)
	}
	if spec.Hostname != "" {
		args = append(args, "--hostname", spec.Hostname)
	}
	if spec.Network != "" {
		args = append(args, "--network", spec.Network)
	}
	for _, kv := range spec.EnvSlice() {
		args = append(args, "-e", kv)
	}
	for _, v := range spec.Volumes {
		args = append(args, "-v", v.String())
	}
	for _, p := range spec.Ports {
		args = append(args, "-p", publishArg(p))
	}
	for _, kv := range sortedKV(spec.Labels) {
		args = append(args, "-l", kv)
	}

	args = append(args, string(spec.Image))
	args = append(args, spec.Command...)

	return args
}

// StopArgs constructs arguments for a container stop command.
func (e *BaseCLIEngine) StopArgs(id ContainerID, timeout time.Duration) []string {
	return []string{"stop", "-t", strconv.Itoa(int(timeout.Seconds())), string(id)}
}

// RemoveArgs constructs arguments for a container remove command.
func (e *BaseCLIEngine) RemoveArgs(id ContainerID, force bool) []string {
	args := []string{"rm"}
	if force {
		args = append(args, "-f")
	}
	args = append(args, string(id))
	return args
}

// publishArg renders a PortMapping for the -p flag. A zero host port uses
// the bare container-port syntax so the daemon assigns a free port.
func publishArg(p PortMapping) string {
	if p.HostPort == 0 {
		return fmt.Sprintf("%d/%s", p.ContainerPort, p.Protocol.orTCP())
	}
	return fmt.Sprintf("%d:%d/%s", p.HostPort, p.ContainerPort, p.Protocol.orTCP())
}

// sortedKV renders a map as sorted "key=value" pairs for deterministic
// argument lists.
func sortedKV(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+m[k])
	}
	return out
}

// --- Engine Operations ---

// Pull fetches an image. An already-present image is a cache hit.
func (e *BaseCLIEngine) Pull(ctx context.Context, image ImageRef) error {
	if err := image.Validate(); err != nil {
		return err
	}
	_, err := e.runCommand(ctx, "pull", string(image), e.PullArgs(image)...)
	return err
}

// Create creates a container from spec and returns the daemon-assigned id.
// It validates the spec before executing to catch invalid fields early.
func (e *BaseCLIEngine) Create(ctx context.Context, spec Spec) (ContainerID, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}
	out, err := e.runCommand(ctx, "create", string(spec.Image), e.CreateArgs(spec)...)
	if err != nil {
		return "", err
	}
	id := ContainerID(strings.TrimSpace(out))
	if err := id.Validate(); err != nil {
		return "", wrapErr(e.name, "create", string(spec.Image),
			fmt.Errorf("daemon returned no container id: %w", err), "")
	}
	return id, nil
}

// Start starts a created container.
func (e *BaseCLIEngine) Start(ctx context.Context, id ContainerID) error {
	_, err := e.runCommand(ctx, "start", string(id), "start", string(id))
	return err
}

// Logs returns a follow-mode stream of the container's combined
// stdout/stderr, backed by a `logs --follow` child process. The stream ends
// when the container exits; closing it kills the child.
func (e *BaseCLIEngine) Logs(ctx context.Context, id ContainerID) (io.ReadCloser, error) {
	ctx, cancel := context.WithCancel(ctx)
	cmd := e.CreateCommand(ctx, "logs", "--follow", string(id))

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, wrapErr(e.name, "logs", string(id), err, "")
	}
	go func() {
		// The child exits when the container does; EOF is the normal end of
		// stream, so the wait error is not propagated to readers.
		_ = cmd.Wait()
		_ = pw.Close()
		cancel()
	}()

	return &cliLogStream{pr: pr, cancel: cancel}, nil
}

// Inspect resolves the container's current state, address, and port map.
func (e *BaseCLIEngine) Inspect(ctx context.Context, id ContainerID) (Info, error) {
	out, err := e.runCommand(ctx, "inspect", string(id),
		"inspect", "--format", "{{json .}}", string(id))
	if err != nil {
		return Info{}, err
	}
	return decodeInspect([]byte(out))
}

// Wait blocks until the container exits and returns its exit code, backed by
// the `wait` subcommand.
func (e *BaseCLIEngine) Wait(ctx context.Context, id ContainerID) (int, error) {
	out, err := e.runCommand(ctx, "wait", string(id), "wait", string(id))
	if err != nil {
		return 0, err
	}
	code, convErr := strconv.Atoi(strings.TrimSpace(out))
	if convErr != nil {
		return 0, wrapErr(e.name, "wait", string(id),
			fmt.Errorf("unexpected wait output %q: %w", strings.TrimSpace(out), convErr), "")
	}
	return code, nil
}

// Stop gracefully stops a running container, escalating to SIGKILL after
// timeout.
func (e *BaseCLIEngine) Stop(ctx context.Context, id ContainerID, timeout time.Duration) error {
	_, err := e.runCommand(ctx, "stop", string(id), e.StopArgs(id, timeout)...)
	return err
}

// Remove deletes a container.
func (e *BaseCLIEngine) Remove(ctx context.Context, id ContainerID, force bool) error {
	_, err := e.runCommand(ctx, "remove", string(id), e.RemoveArgs(id, force)...)
	if err != nil && force && strings.Contains(err.Error(), "No such container") {
		// Force-removing an already-removed container is a no-op.
		return nil
	}
	return err
}

// EnsureNetwork creates the named bridge network if it does not exist.
func (e *BaseCLIEngine) EnsureNetwork(ctx context.Context, name string) error {
	if _, err := e.runCommand(ctx, "network-inspect", name, "network", "inspect", name); err == nil {
		return nil
	}
	_, err := e.runCommand(ctx, "network-create", name, "network", "create", name)
	if err != nil && strings.Contains(err.Error(), "already exists") {
		// Lost a creation race with a concurrent run; the network is there.
		return nil
	}
	return err
}

// RemoveNetwork removes the named network, ignoring absence.
func (e *BaseCLIEngine) RemoveNetwork(ctx context.Context, name string) error {
	_, err := e.runCommand(ctx, "network-remove", name, "network", "rm", name)
	if err != nil && (strings.Contains(err.Error(), "No such network") ||
		strings.Contains(err.Error(), "not found")) {
		return nil
	}
	return err
}

// --- Log Stream ---

// cliLogStream adapts a `logs --follow` child process into an io.ReadCloser.
type cliLogStream struct {
	pr     *io.PipeReader
	cancel context.CancelFunc
}

// Read implements io.Reader.
func (s *cliLogStream) Read(p []byte) (int, error) { return s.pr.Read(p) }

// Close kills the follow process and releases the pipe. Safe to call more
// than once.
func (s *cliLogStream) Close() error {
	s.cancel()
	return s.pr.Close()
}

// --- Inspect Decoding ---

// inspectDoc is the subset of the CLI inspect document the engine consumes.
type inspectDoc struct {
	ID    string `json:"Id"`
	Name  string `json:"Name"`
	State struct {
		Status     string `json:"Status"`
		ExitCode   int    `json:"ExitCode"`
		StartedAt  string `json:"StartedAt"`
		FinishedAt string `json:"FinishedAt"`
	} `json:"State"`
	NetworkSettings struct {
		IPAddress string      `json:"IPAddress"`
		Ports     nat.PortMap `json:"Ports"`
		Networks  map[string]struct {
			IPAddress string `json:"IPAddress"`
		} `json:"Networks"`
	} `json:"NetworkSettings"`
}

// decodeInspect normalizes a CLI inspect document into an Info.
func decodeInspect(data []byte) (Info, error) {
	var doc inspectDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return Info{}, fmt.Errorf("decode inspect output: %w", err)
	}

	ip := doc.NetworkSettings.IPAddress
	if ip == "" {
		for _, n := range doc.NetworkSettings.Networks {
			if n.IPAddress != "" {
				ip = n.IPAddress
				break
			}
		}
	}

	startedAt, _ := time.Parse(time.RFC3339Nano, doc.State.StartedAt)
	finishedAt, _ := time.Parse(time.RFC3339Nano, doc.State.FinishedAt)

	return Info{
		ID:         ContainerID(doc.ID),
		Name:       strings.TrimPrefix(doc.Name, "/"),
		State:      ParseContainerState(doc.State.Status),
		ExitCode:   doc.State.ExitCode,
		IPAddress:  ip,
		Ports:      doc.NetworkSettings.Ports,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}, nil
}
