// SPDX-License-Identifier: MPL-2.0

package harness

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/Dauaaa/super-orchestrator/pkg/engine"
)

// defaultProbeInterval is the fixed backoff between port-open probe attempts.
const defaultProbeInterval = 250 * time.Millisecond

// ReadyRule decides, from the signals a started container emits (log output,
// port binding, process exit), when the container is usable. Each descriptor
// carries exactly one rule. Rules hold no engine-level state beyond the
// handle they are evaluating; detection is bounded by the per-descriptor
// deadline imposed in awaitReady.
type ReadyRule interface {
	// await blocks until the container is ready, the rule fails
	// (ProcessExitedError), or ctx ends.
	await(ctx context.Context, eng engine.Engine, h *Handle) error
	// String describes the rule for logs and error messages.
	String() string
}

type (
	logLineRule  struct{ substr string }
	logMatchRule struct{ re *regexp.Regexp }
	delayRule    struct{ d time.Duration }
	portOpenRule struct {
		port     uint16
		interval time.Duration
	}
	exitRule struct{}
)

// LogLine is ready when a log line containing substr is emitted. Matching is
// on the first occurrence, scanning the container's combined stdout/stderr
// from process start.
func LogLine(substr string) ReadyRule {
	return &logLineRule{substr: substr}
}

// LogMatch is ready when a log line matching re is emitted.
func LogMatch(re *regexp.Regexp) ReadyRule {
	return &logMatchRule{re: re}
}

// Delay is ready a fixed duration after start. A zero delay means ready
// immediately.
func Delay(d time.Duration) ReadyRule {
	return &delayRule{d: d}
}

// PortOpen is ready when a TCP connection to the published host binding of
// containerPort succeeds. The probe dials at a fixed interval until the
// deadline elapses.
func PortOpen(containerPort uint16) ReadyRule {
	return &portOpenRule{port: containerPort, interval: defaultProbeInterval}
}

// PortOpenEvery is PortOpen with an explicit probe interval.
func PortOpenEvery(containerPort uint16, interval time.Duration) ReadyRule {
	return &portOpenRule{port: containerPort, interval: interval}
}

// ExitSuccess is ready when the container process exits with code zero; a
// non-zero exit fails readiness. For one-shot containers.
func ExitSuccess() ReadyRule {
	return &exitRule{}
}

// awaitReady runs rule against the started container behind h, bounded by
// timeout. It resolves to Ready (nil), TimeoutError, or ProcessExitedError,
// and records the outcome on the handle. It never blocks past the deadline.
func awaitReady(ctx context.Context, eng engine.Engine, h *Handle, rule ReadyRule, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := rule.await(ctx, eng, h)
	if err == nil {
		h.setState(HandleReady)
		return nil
	}
	h.setState(HandleFailed)
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Container: h.Name(), After: timeout}
	}
	return err
}

func (r *logLineRule) String() string {
	return fmt.Sprintf("log line contains %q", r.substr)
}

func (r *logLineRule) await(ctx context.Context, eng engine.Engine, h *Handle) error {
	return scanLogs(ctx, eng, h, func(line string) bool {
		return strings.Contains(line, r.substr)
	})
}

func (r *logMatchRule) String() string {
	return fmt.Sprintf("log line matches %q", r.re)
}

func (r *logMatchRule) await(ctx context.Context, eng engine.Engine, h *Handle) error {
	return scanLogs(ctx, eng, h, func(line string) bool {
		return r.re.MatchString(line)
	})
}

// scanLogs consumes the container's live log stream line by line until match
// returns true. The stream is pull-based and unbounded, so a watchdog closes
// it when ctx ends; the scan never blocks past the deadline. A stream that
// ends without a match means the process exited, which resolves to
// ProcessExitedError.
func scanLogs(ctx context.Context, eng engine.Engine, h *Handle, match func(string) bool) error {
	rc, err := eng.Logs(ctx, h.ID())
	if err != nil {
		return err
	}
	defer rc.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			rc.Close()
		case <-done:
		}
	}()

	sc := bufio.NewScanner(rc)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if match(sc.Text()) {
			return nil
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := sc.Err(); err != nil {
		return err
	}

	// Clean end of stream: the container exited without emitting the
	// pattern.
	code, err := eng.Wait(ctx, h.ID())
	if err != nil {
		return err
	}
	return &ProcessExitedError{Container: h.Name(), Code: code}
}

func (r *delayRule) String() string {
	return fmt.Sprintf("fixed delay of %v", r.d)
}

func (r *delayRule) await(ctx context.Context, _ engine.Engine, _ *Handle) error {
	if r.d <= 0 {
		return nil
	}
	t := time.NewTimer(r.d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *portOpenRule) String() string {
	return fmt.Sprintf("port %d/tcp accepts connections", r.port)
}

func (r *portOpenRule) await(ctx context.Context, eng engine.Engine, h *Handle) error {
	interval := r.interval
	if interval <= 0 {
		interval = defaultProbeInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		port, ok := h.MappedPort(r.port)
		if !ok {
			// The daemon assigns ephemeral bindings at start; refresh until
			// the mapping shows up.
			if info, err := eng.Inspect(ctx, h.ID()); err == nil {
				h.setInfo(info)
				port, ok = h.MappedPort(r.port)
			}
		}
		if ok {
			addr := net.JoinHostPort(h.Host(), fmt.Sprintf("%d", port))
			conn, err := net.DialTimeout("tcp", addr, interval)
			if err == nil {
				_ = conn.Close()
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *exitRule) String() string {
	return "process exits with code zero"
}

func (r *exitRule) await(ctx context.Context, eng engine.Engine, h *Handle) error {
	code, err := eng.Wait(ctx, h.ID())
	if err != nil {
		return err
	}
	if code != 0 {
		return &ProcessExitedError{Container: h.Name(), Code: code}
	}
	return nil
}
