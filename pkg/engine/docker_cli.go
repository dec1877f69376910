// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// DockerCLIEngine implements the Engine interface by driving the docker CLI.
// It embeds BaseCLIEngine for all shared operations.
type DockerCLIEngine struct {
	*BaseCLIEngine
}

// NewDockerCLIEngine creates a new docker CLI engine.
func NewDockerCLIEngine(opts ...BaseCLIEngineOption) *DockerCLIEngine {
	path, _ := exec.LookPath("docker")
	return &DockerCLIEngine{
		BaseCLIEngine: NewBaseCLIEngine(string(TypeDocker), path, opts...),
	}
}

// Name returns the engine name.
func (e *DockerCLIEngine) Name() string { return string(TypeDocker) }

// Available checks that the docker binary exists and a daemon answers.
func (e *DockerCLIEngine) Available() bool {
	if e.BinaryPath() == "" {
		return false
	}
	cmd := e.CreateCommand(context.Background(), "version", "--format", "{{.Server.Version}}")
	return cmd.Run() == nil
}

// Version returns the daemon version.
func (e *DockerCLIEngine) Version(ctx context.Context) (string, error) {
	out, err := e.runCommand(ctx, "version", "",
		"version", "--format", "{{.Server.Version}}")
	if err != nil {
		return "", fmt.Errorf("failed to get docker version: %w", err)
	}
	return strings.TrimSpace(out), nil
}
