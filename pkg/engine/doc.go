// SPDX-License-Identifier: MPL-2.0

// Package engine provides a unified abstraction over container-engine
// backends for provisioning ephemeral containers.
//
// The Engine interface defines the daemon operations the orchestration layer
// needs: Pull, Create, Start, Logs, Inspect, Wait, Stop, Remove, and network
// management. Three implementations are provided: DockerCLIEngine and
// PodmanCLIEngine drive the respective CLI binaries through a shared
// BaseCLIEngine, while APIEngine talks to the Docker Engine API over the
// daemon socket. All three normalize their results into the same Info and
// nat.PortMap types, so callers never depend on a concrete backend.
//
// Backend selection happens once, at configuration time, via New(Type) with
// availability fallback or AutoDetect(). Failures are classified as
// transient (daemon busy, network glitch — see IsTransient and Retry) or
// permanent (image not found, invalid spec).
package engine
