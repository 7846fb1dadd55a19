package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"agentbot/pkg/logx"
)

// fakeCLI writes a shell script standing in for the reasoning-tool binary.
func fakeCLI(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-agent")
	script := "#!/bin/sh\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake CLI: %v", err)
	}
	return path
}

func newTestService(t *testing.T, scriptBody string) *Service {
	t.Helper()
	return New(Config{
		Binary:         fakeCLI(t, scriptBody),
		ExtraArgs:      []string{},
		DefaultTimeout: 5 * time.Second,
	}, logx.Nop())
}

func TestInvokeSuccess(t *testing.T) {
	t.Parallel()
	s := newTestService(t, `echo "all done"`)

	res := s.Invoke(context.Background(), Request{Prompt: "ping"})
	if res.Status != StatusSuccess {
		t.Fatalf("Status = %s, want success (err: %s)", res.Status, res.ErrMessage)
	}
	if res.Output != "all done" {
		t.Fatalf("Output = %q", res.Output)
	}
	if res.Duration <= 0 {
		t.Fatal("Duration not recorded")
	}
}

func TestInvokeRateLimited(t *testing.T) {
	t.Parallel()
	s := newTestService(t, `echo "Rate limit exceeded" >&2; exit 1`)

	res := s.Invoke(context.Background(), Request{Prompt: "ping"})
	if res.Status != StatusRateLimited {
		t.Fatalf("Status = %s, want rate_limited", res.Status)
	}
	if res.Output != "" {
		t.Fatalf("rate_limited result must not carry output, got %q", res.Output)
	}
}

func TestInvokeTimeout(t *testing.T) {
	t.Parallel()
	s := newTestService(t, `sleep 10`)

	start := time.Now()
	res := s.Invoke(context.Background(), Request{Prompt: "ping", Timeout: 200 * time.Millisecond})
	if res.Status != StatusTimeout {
		t.Fatalf("Status = %s, want timeout", res.Status)
	}
	if !strings.Contains(res.ErrMessage, "200ms") {
		t.Fatalf("timeout message must name the budget, got %q", res.ErrMessage)
	}
	// Killed well before the script's 10s sleep; the process was reaped.
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("invocation took %v, process not terminated promptly", elapsed)
	}
}

func TestInvokeMissingBinary(t *testing.T) {
	t.Parallel()
	s := New(Config{Binary: "agentbot-no-such-binary", DefaultTimeout: time.Second}, logx.Nop())

	res := s.Invoke(context.Background(), Request{Prompt: "ping"})
	if res.Status != StatusError {
		t.Fatalf("Status = %s, want error", res.Status)
	}
	if !strings.Contains(res.ErrMessage, "not found") {
		t.Fatalf("missing-binary message should be actionable, got %q", res.ErrMessage)
	}
}

func TestCancelAndIsRunning(t *testing.T) {
	t.Parallel()
	s := newTestService(t, `sleep 10`)

	const id = "42"
	resCh := make(chan Result, 1)
	go func() {
		resCh <- s.Invoke(context.Background(), Request{Prompt: "ping", CorrelationID: id})
	}()

	// Wait for the invocation to register.
	deadline := time.After(3 * time.Second)
	for !s.IsRunning(id) {
		select {
		case <-deadline:
			t.Fatal("invocation never registered")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if !s.Cancel(id) {
		t.Fatal("Cancel should report a live invocation")
	}

	select {
	case res := <-resCh:
		if res.Status == StatusSuccess {
			t.Fatalf("canceled invocation should not succeed: %+v", res)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("invocation did not return after cancel")
	}

	if s.IsRunning(id) {
		t.Fatal("IsRunning should be false after cancel")
	}
	if s.Cancel(id) {
		t.Fatal("second Cancel should report nothing running")
	}
}

func TestIsRunningUnknownID(t *testing.T) {
	t.Parallel()
	s := newTestService(t, `echo ok`)
	if s.IsRunning("nope") {
		t.Fatal("unknown correlation id should not be running")
	}
	if s.Cancel("nope") {
		t.Fatal("unknown correlation id should not be cancelable")
	}
}
