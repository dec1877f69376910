// SPDX-License-Identifier: MPL-2.0

package harness

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/Dauaaa/super-orchestrator/pkg/engine"
)

type (
	// Descriptor is the immutable specification of one container to
	// provision: image, command override, environment, port and volume
	// bindings, and a readiness rule. Descriptors are built once with
	// NewDescriptor and submitted to an orchestrator; the orchestrator
	// copies what it needs, so later option application has no effect on a
	// running fixture.
	Descriptor struct {
		name    string
		image   engine.ImageRef
		command []string
		env     map[string]string
		ports   []engine.PortMapping
		volumes []engine.VolumeMount
		ready   ReadyRule
		timeout time.Duration
		logSink io.Writer
	}

	// DescriptorOption configures a Descriptor at construction.
	DescriptorOption func(*Descriptor)
)

// NewDescriptor creates a descriptor for one container. The name identifies
// the resulting handle in the orchestrator's output and becomes the
// container's hostname on the per-run network.
func NewDescriptor(name string, image engine.ImageRef, opts ...DescriptorOption) Descriptor {
	d := Descriptor{
		name:  name,
		image: image,
		env:   map[string]string{},
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// WithCommand overrides the image command.
func WithCommand(cmd ...string) DescriptorOption {
	return func(d *Descriptor) {
		d.command = append([]string(nil), cmd...)
	}
}

// WithEnv sets one environment variable. Keys are unique; a repeated key
// overwrites the earlier value. Insertion order is irrelevant.
func WithEnv(key, value string) DescriptorOption {
	return func(d *Descriptor) {
		d.env[key] = value
	}
}

// WithEnvMap merges a map of environment variables.
func WithEnvMap(env map[string]string) DescriptorOption {
	return func(d *Descriptor) {
		for k, v := range env {
			d.env[k] = v
		}
	}
}

// WithPort publishes a container TCP port on an auto-assigned host port. The
// resolved host port is available from the handle after orchestration.
func WithPort(containerPort uint16) DescriptorOption {
	return func(d *Descriptor) {
		d.ports = append(d.ports, engine.PortMapping{ContainerPort: containerPort})
	}
}

// WithPublishedPort publishes a container TCP port on a fixed host port.
// Fixed ports make runs collide when tests run in parallel; prefer WithPort.
func WithPublishedPort(hostPort, containerPort uint16) DescriptorOption {
	return func(d *Descriptor) {
		d.ports = append(d.ports, engine.PortMapping{
			HostPort:      hostPort,
			ContainerPort: containerPort,
		})
	}
}

// WithUDPPort publishes a container UDP port on an auto-assigned host port.
func WithUDPPort(containerPort uint16) DescriptorOption {
	return func(d *Descriptor) {
		d.ports = append(d.ports, engine.PortMapping{
			ContainerPort: containerPort,
			Protocol:      engine.PortProtocolUDP,
		})
	}
}

// WithVolume bind-mounts a host path into the container.
func WithVolume(hostPath, containerPath string) DescriptorOption {
	return func(d *Descriptor) {
		d.volumes = append(d.volumes, engine.VolumeMount{
			HostPath:      hostPath,
			ContainerPath: containerPath,
		})
	}
}

// WithReadOnlyVolume bind-mounts a host path into the container read-only.
func WithReadOnlyVolume(hostPath, containerPath string) DescriptorOption {
	return func(d *Descriptor) {
		d.volumes = append(d.volumes, engine.VolumeMount{
			HostPath:      hostPath,
			ContainerPath: containerPath,
			ReadOnly:      true,
		})
	}
}

// WithReady sets the readiness rule. Each descriptor carries exactly one
// rule; the last WithReady wins. Without one, the container is considered
// ready as soon as it starts (a zero fixed delay).
func WithReady(rule ReadyRule) DescriptorOption {
	return func(d *Descriptor) {
		d.ready = rule
	}
}

// WithStartTimeout bounds readiness detection for this container,
// overriding the configured default.
func WithStartTimeout(timeout time.Duration) DescriptorOption {
	return func(d *Descriptor) {
		d.timeout = timeout
	}
}

// WithLogSink tees the container's combined log stream into w for the
// lifetime of the run, the way the original harness wrote per-container log
// files.
func WithLogSink(w io.Writer) DescriptorOption {
	return func(d *Descriptor) {
		d.logSink = w
	}
}

// Name returns the descriptor name.
func (d Descriptor) Name() string { return d.name }

// Image returns the image reference.
func (d Descriptor) Image() engine.ImageRef { return d.image }

// Validate returns an error if the descriptor cannot be submitted:
// empty or whitespace name, invalid image reference, or invalid port or
// volume bindings.
func (d Descriptor) Validate() error {
	var errs []error
	if strings.TrimSpace(d.name) == "" {
		errs = append(errs, fmt.Errorf("name must be non-empty"))
	}
	if err := d.image.Validate(); err != nil {
		errs = append(errs, err)
	}
	for _, p := range d.ports {
		if err := p.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, v := range d.volumes {
		if err := v.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &InvalidDescriptorError{Name: d.name, FieldErrs: errs}
	}
	return nil
}

// readyRule returns the descriptor's readiness rule, defaulting to a zero
// fixed delay (ready on start).
func (d Descriptor) readyRule() ReadyRule {
	if d.ready == nil {
		return Delay(0)
	}
	return d.ready
}

// spec builds the engine-level container spec for this descriptor within one
// orchestration run.
func (d Descriptor) spec(containerName, network string, labels map[string]string) engine.Spec {
	env := make(map[string]string, len(d.env))
	for k, v := range d.env {
		env[k] = v
	}
	return engine.Spec{
		Name:     containerName,
		Image:    d.image,
		Command:  append([]string(nil), d.command...),
		Env:      env,
		Ports:    append([]engine.PortMapping(nil), d.ports...),
		Volumes:  append([]engine.VolumeMount(nil), d.volumes...),
		Labels:   labels,
		Network:  network,
		Hostname: d.name,
	}
}
