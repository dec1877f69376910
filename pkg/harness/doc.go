// SPDX-License-Identifier: MPL-2.0

// Package harness provisions ephemeral containers as integration-test
// fixtures: declare the containers a test needs as Descriptors, submit them
// to an Orchestrator, and get back Handles once every container is ready.
// A cleanup Guard owns everything a run creates and tears it down on scope
// exit, so a failing or panicking test never leaks containers onto the
// developer's machine or the CI host.
package harness
