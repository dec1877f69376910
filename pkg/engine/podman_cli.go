// SPDX-License-Identifier: MPL-2.0

package engine

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// PodmanCLIEngine implements the Engine interface by driving the podman CLI.
// It embeds BaseCLIEngine for all shared operations; podman's docker-compatible
// command surface means only availability and version probing differ.
type PodmanCLIEngine struct {
	*BaseCLIEngine
}

// NewPodmanCLIEngine creates a new podman CLI engine.
func NewPodmanCLIEngine(opts ...BaseCLIEngineOption) *PodmanCLIEngine {
	path, _ := exec.LookPath("podman")
	return &PodmanCLIEngine{
		BaseCLIEngine: NewBaseCLIEngine(string(TypePodman), path, opts...),
	}
}

// Name returns the engine name.
func (e *PodmanCLIEngine) Name() string { return string(TypePodman) }

// Available checks that the podman binary exists and is functional.
func (e *PodmanCLIEngine) Available() bool {
	if e.BinaryPath() == "" {
		return false
	}
	cmd := e.CreateCommand(context.Background(), "version", "--format", "{{.Version}}")
	return cmd.Run() == nil
}

// Version returns the podman version.
func (e *PodmanCLIEngine) Version(ctx context.Context) (string, error) {
	out, err := e.runCommand(ctx, "version", "",
		"version", "--format", "{{.Version}}")
	if err != nil {
		return "", fmt.Errorf("failed to get podman version: %w", err)
	}
	return strings.TrimSpace(out), nil
}
