// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// APIEngine implements the Engine interface against the Docker Engine API
// over the daemon socket, using the official client. It honors DOCKER_HOST
// and the other standard environment knobs.
type APIEngine struct {
	client *dockerclient.Client
}

// NewAPIEngine creates a Docker Engine API backend from the environment.
func NewAPIEngine() (*APIEngine, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("docker api client: %w", err)
	}
	return &APIEngine{client: cli}, nil
}

// NewAPIEngineWithClient creates an API backend with a caller-supplied
// client (for testing).
func NewAPIEngineWithClient(cli *dockerclient.Client) *APIEngine {
	return &APIEngine{client: cli}
}

// Name returns the engine name.
func (e *APIEngine) Name() string { return string(TypeDockerAPI) }

// Available reports whether the daemon answers a ping.
func (e *APIEngine) Available() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, err := e.client.Ping(ctx)
	return err == nil
}

// apiErr classifies a daemon error into an EngineError.
func (e *APIEngine) apiErr(op, resource string, err error) error {
	if err == nil {
		return nil
	}
	transient := classifyTransient(err, "")
	if dockerclient.IsErrConnectionFailed(err) {
		transient = true
	}
	if dockerclient.IsErrNotFound(err) {
		transient = false
	}
	return &EngineError{
		Engine:    e.Name(),
		Op:        op,
		Resource:  resource,
		Err:       err,
		Transient: transient,
	}
}

// Pull fetches an image. The progress stream is drained and discarded; an
// already-present image is a cache hit on the daemon side.
func (e *APIEngine) Pull(ctx context.Context, ref ImageRef) error {
	if err := ref.Validate(); err != nil {
		return err
	}
	rc, err := e.client.ImagePull(ctx, string(ref), image.PullOptions{})
	if err != nil {
		return e.apiErr("pull", string(ref), err)
	}
	defer rc.Close()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return e.apiErr("pull", string(ref), err)
	}
	return nil
}

// Create creates a container from spec without starting it.
func (e *APIEngine) Create(ctx context.Context, spec Spec) (ContainerID, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	exposed := make(nat.PortSet, len(spec.Ports))
	bindings := make(nat.PortMap, len(spec.Ports))
	for _, p := range spec.Ports {
		port := p.Port()
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{{
			HostIP:   "0.0.0.0",
			HostPort: strconv.Itoa(int(p.HostPort)),
		}}
	}

	binds := make([]string, 0, len(spec.Volumes))
	for _, v := range spec.Volumes {
		binds = append(binds, v.String())
	}

	containerCfg := &container.Config{
		Image:        string(spec.Image),
		Cmd:          spec.Command,
		Env:          spec.EnvSlice(),
		ExposedPorts: exposed,
		Labels:       spec.Labels,
		Hostname:     spec.Hostname,
	}
	hostCfg := &container.HostConfig{
		PortBindings: bindings,
		Binds:        binds,
	}
	var networkCfg *network.NetworkingConfig
	if spec.Network != "" {
		networkCfg = &network.NetworkingConfig{
			EndpointsConfig: map[string]*network.EndpointSettings{
				spec.Network: {},
			},
		}
	}

	resp, err := e.client.ContainerCreate(ctx, containerCfg, hostCfg, networkCfg, nil, spec.Name)
	if err != nil {
		return "", e.apiErr("create", string(spec.Image), err)
	}
	return ContainerID(resp.ID), nil
}

// Start starts a created container.
func (e *APIEngine) Start(ctx context.Context, id ContainerID) error {
	err := e.client.ContainerStart(ctx, string(id), container.StartOptions{})
	return e.apiErr("start", string(id), err)
}

// Logs returns a follow-mode stream of the container's combined
// stdout/stderr. The daemon multiplexes the two streams; they are demuxed
// into a single pipe so readers see plain log lines.
func (e *APIEngine) Logs(ctx context.Context, id ContainerID) (io.ReadCloser, error) {
	rc, err := e.client.ContainerLogs(ctx, string(id), container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return nil, e.apiErr("logs", string(id), err)
	}

	pr, pw := io.Pipe()
	go func() {
		_, copyErr := stdcopy.StdCopy(pw, pw, rc)
		_ = rc.Close()
		_ = pw.CloseWithError(copyErr)
	}()

	return &apiLogStream{pr: pr, src: rc}, nil
}

// Inspect resolves the container's current state, address, and port map.
func (e *APIEngine) Inspect(ctx context.Context, id ContainerID) (Info, error) {
	inspect, err := e.client.ContainerInspect(ctx, string(id))
	if err != nil {
		return Info{}, e.apiErr("inspect", string(id), err)
	}

	info := Info{
		ID:   ContainerID(inspect.ID),
		Name: strings.TrimPrefix(inspect.Name, "/"),
	}
	if inspect.State != nil {
		info.State = ParseContainerState(inspect.State.Status)
		info.ExitCode = inspect.State.ExitCode
		info.StartedAt, _ = time.Parse(time.RFC3339Nano, inspect.State.StartedAt)
		info.FinishedAt, _ = time.Parse(time.RFC3339Nano, inspect.State.FinishedAt)
	}
	if inspect.NetworkSettings != nil {
		info.Ports = inspect.NetworkSettings.Ports
		info.IPAddress = inspect.NetworkSettings.IPAddress
		if info.IPAddress == "" {
			for _, ep := range inspect.NetworkSettings.Networks {
				if ep.IPAddress != "" {
					info.IPAddress = ep.IPAddress
					break
				}
			}
		}
	}
	return info, nil
}

// Wait blocks until the container exits and returns its exit code.
func (e *APIEngine) Wait(ctx context.Context, id ContainerID) (int, error) {
	respCh, errCh := e.client.ContainerWait(ctx, string(id), container.WaitConditionNotRunning)
	select {
	case resp := <-respCh:
		if resp.Error != nil {
			return 0, e.apiErr("wait", string(id), fmt.Errorf("daemon: %s", resp.Error.Message))
		}
		return int(resp.StatusCode), nil
	case err := <-errCh:
		return 0, e.apiErr("wait", string(id), err)
	}
}

// Stop gracefully stops a running container, escalating to SIGKILL after
// timeout.
func (e *APIEngine) Stop(ctx context.Context, id ContainerID, timeout time.Duration) error {
	seconds := int(timeout.Seconds())
	err := e.client.ContainerStop(ctx, string(id), container.StopOptions{Timeout: &seconds})
	return e.apiErr("stop", string(id), err)
}

// Remove deletes a container. Absence is not an error when force is set.
func (e *APIEngine) Remove(ctx context.Context, id ContainerID, force bool) error {
	err := e.client.ContainerRemove(ctx, string(id), container.RemoveOptions{Force: force})
	if err != nil && force && dockerclient.IsErrNotFound(err) {
		return nil
	}
	return e.apiErr("remove", string(id), err)
}

// EnsureNetwork creates the named bridge network if it does not exist.
func (e *APIEngine) EnsureNetwork(ctx context.Context, name string) error {
	nets, err := e.client.NetworkList(ctx, network.ListOptions{
		Filters: filters.NewArgs(filters.Arg("name", name)),
	})
	if err != nil {
		return e.apiErr("network-inspect", name, err)
	}
	for _, n := range nets {
		if n.Name == name {
			return nil
		}
	}
	_, err = e.client.NetworkCreate(ctx, name, network.CreateOptions{
		Driver:     "bridge",
		Attachable: true,
	})
	if err != nil && strings.Contains(err.Error(), "already exists") {
		return nil
	}
	return e.apiErr("network-create", name, err)
}

// RemoveNetwork removes the named network, ignoring absence.
func (e *APIEngine) RemoveNetwork(ctx context.Context, name string) error {
	err := e.client.NetworkRemove(ctx, name)
	if err != nil && dockerclient.IsErrNotFound(err) {
		return nil
	}
	return e.apiErr("network-remove", name, err)
}

// apiLogStream adapts the demuxed daemon log stream into an io.ReadCloser.
type apiLogStream struct {
	pr  *io.PipeReader
	src io.ReadCloser
}

// Read implements io.Reader.
func (s *apiLogStream) Read(p []byte) (int, error) { return s.pr.Read(p) }

// Close releases the daemon connection. Safe to call more than once.
func (s *apiLogStream) Close() error {
	_ = s.src.Close()
	return s.pr.Close()
}
