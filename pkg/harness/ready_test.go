// SPDX-License-Identifier: MPL-2.0

package harness

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
)

func TestLogLine_ReadyWhenPatternAppears(t *testing.T) {
	t.Parallel()
	fake := newFakeEngine()
	fake.logScript["db"] = []logEvent{
		{after: 0, line: "starting up"},
		{after: 100 * time.Millisecond, line: "database system is ready to accept connections"},
	}
	h := fake.add("db")

	err := awaitReady(context.Background(), fake, h, LogLine("ready to accept connections"), 5*time.Second)
	if err != nil {
		t.Fatalf("awaitReady() error = %v", err)
	}
	if h.State() != HandleReady {
		t.Errorf("State() = %v, want ready", h.State())
	}
}

func TestLogMatch_ReadyOnRegexp(t *testing.T) {
	t.Parallel()
	fake := newFakeEngine()
	fake.logScript["web"] = []logEvent{
		{after: 20 * time.Millisecond, line: "listening on port 8080"},
	}
	h := fake.add("web")

	err := awaitReady(context.Background(), fake, h,
		LogMatch(regexp.MustCompile(`listening on port \d+`)), time.Second)
	if err != nil {
		t.Fatalf("awaitReady() error = %v", err)
	}
}

func TestLogLine_TimesOutWithoutBlocking(t *testing.T) {
	t.Parallel()
	fake := newFakeEngine()
	// The container keeps running and never emits the pattern.
	fake.logScript["db"] = []logEvent{{after: 0, line: "starting up"}}
	h := fake.add("db")

	deadline := 300 * time.Millisecond
	start := time.Now()
	err := awaitReady(context.Background(), fake, h, LogLine("never appears"), deadline)
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("awaitReady() = %v, want ErrTimedOut", err)
	}
	var te *TimeoutError
	if !errors.As(err, &te) || te.Container != "db" || te.After != deadline {
		t.Errorf("TimeoutError = %+v", te)
	}
	if elapsed < deadline {
		t.Errorf("returned after %v, before the %v deadline", elapsed, deadline)
	}
	if elapsed > deadline+2*time.Second {
		t.Errorf("returned after %v, long past the %v deadline", elapsed, deadline)
	}
	if h.State() != HandleFailed {
		t.Errorf("State() = %v, want failed", h.State())
	}
}

func TestLogLine_ProcessExitBeforeMatch(t *testing.T) {
	t.Parallel()
	fake := newFakeEngine()
	fake.logScript["job"] = []logEvent{{after: 0, line: "fatal: bad config"}}
	fake.exitPlan["job"] = exitPlan{after: 50 * time.Millisecond, code: 3}
	h := fake.add("job")

	err := awaitReady(context.Background(), fake, h, LogLine("ready"), 5*time.Second)
	if !errors.Is(err, ErrProcessExited) {
		t.Fatalf("awaitReady() = %v, want ErrProcessExited", err)
	}
	var pe *ProcessExitedError
	if !errors.As(err, &pe) || pe.Code != 3 {
		t.Errorf("ProcessExitedError = %+v, want exit code 3", pe)
	}
	if h.State() != HandleFailed {
		t.Errorf("State() = %v, want failed", h.State())
	}
}

func TestExitSuccess(t *testing.T) {
	t.Parallel()

	t.Run("zero exit is ready", func(t *testing.T) {
		t.Parallel()
		fake := newFakeEngine()
		fake.exitPlan["migrate"] = exitPlan{after: 50 * time.Millisecond, code: 0}
		h := fake.add("migrate")

		if err := awaitReady(context.Background(), fake, h, ExitSuccess(), time.Second); err != nil {
			t.Fatalf("awaitReady() error = %v", err)
		}
		if h.State() != HandleReady {
			t.Errorf("State() = %v, want ready", h.State())
		}
	})

	t.Run("non-zero exit fails", func(t *testing.T) {
		t.Parallel()
		fake := newFakeEngine()
		fake.exitPlan["migrate"] = exitPlan{after: 50 * time.Millisecond, code: 2}
		h := fake.add("migrate")

		err := awaitReady(context.Background(), fake, h, ExitSuccess(), time.Second)
		var pe *ProcessExitedError
		if !errors.As(err, &pe) || pe.Code != 2 {
			t.Fatalf("awaitReady() = %v, want ProcessExitedError code 2", err)
		}
	})

	t.Run("never exits times out", func(t *testing.T) {
		t.Parallel()
		fake := newFakeEngine()
		h := fake.add("daemon")

		err := awaitReady(context.Background(), fake, h, ExitSuccess(), 100*time.Millisecond)
		if !errors.Is(err, ErrTimedOut) {
			t.Fatalf("awaitReady() = %v, want ErrTimedOut", err)
		}
	})
}

func TestDelay(t *testing.T) {
	t.Parallel()

	t.Run("elapses within deadline", func(t *testing.T) {
		t.Parallel()
		fake := newFakeEngine()
		h := fake.add("warm")
		if err := awaitReady(context.Background(), fake, h, Delay(50*time.Millisecond), time.Second); err != nil {
			t.Fatalf("awaitReady() error = %v", err)
		}
	})

	t.Run("longer than deadline times out", func(t *testing.T) {
		t.Parallel()
		fake := newFakeEngine()
		h := fake.add("warm")
		err := awaitReady(context.Background(), fake, h, Delay(5*time.Second), 100*time.Millisecond)
		if !errors.Is(err, ErrTimedOut) {
			t.Fatalf("awaitReady() = %v, want ErrTimedOut", err)
		}
	})
}

func TestPortOpen(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	hostPort := ln.Addr().(*net.TCPAddr).Port

	fake := newFakeEngine()
	fake.portMap["db"] = nat.PortMap{
		"5432/tcp": []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(hostPort)}},
	}
	h := fake.add("db")

	// The handle starts with no port info; the rule refreshes it from the
	// engine until the binding shows up.
	if err := awaitReady(context.Background(), fake, h, PortOpenEvery(5432, 10*time.Millisecond), 5*time.Second); err != nil {
		t.Fatalf("awaitReady() error = %v", err)
	}
	port, ok := h.MappedPort(5432)
	if !ok || int(port) != hostPort {
		t.Errorf("MappedPort(5432) = %d, %v, want %d", port, ok, hostPort)
	}
}

func TestPortOpen_NothingListeningTimesOut(t *testing.T) {
	t.Parallel()
	fake := newFakeEngine()
	// Port is mapped but nothing answers on the host side.
	fake.portMap["db"] = nat.PortMap{
		"5432/tcp": []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: "1"}},
	}
	h := fake.add("db")

	err := awaitReady(context.Background(), fake, h, PortOpenEvery(5432, 20*time.Millisecond), 200*time.Millisecond)
	if !errors.Is(err, ErrTimedOut) {
		t.Fatalf("awaitReady() = %v, want ErrTimedOut", err)
	}
}
