package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"agentbot/pkg/logx"
)

// Status classifies the outcome of one invocation.
type Status string

const (
	StatusSuccess     Status = "success"
	StatusError       Status = "error"
	StatusTimeout     Status = "timeout"
	StatusRateLimited Status = "rate_limited"
)

// Config controls how the reasoning-tool CLI is invoked.
type Config struct {
	// Binary is the CLI executable name or path.
	Binary string
	// ExtraArgs are appended after the prompt argument.
	ExtraArgs []string
	// DefaultTimeout applies when a request carries no timeout.
	DefaultTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Binary) == "" {
		c.Binary = "claude"
	}
	if c.ExtraArgs == nil {
		c.ExtraArgs = []string{"--dangerously-skip-permissions", "--output-format", "text"}
	}
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = 5 * time.Minute
	}
	return c
}

// Request describes one invocation. Immutable once created.
type Request struct {
	Prompt        string
	WorkDir       string
	Timeout       time.Duration // 0 means Config.DefaultTimeout
	CorrelationID string        // optional; enables Cancel/IsRunning
}

// Result is the typed outcome of one invocation.
// Success carries Output (possibly empty); every other status carries
// ErrMessage and no Output.
type Result struct {
	Status     Status
	Output     string
	ErrMessage string
	Duration   time.Duration
}

// RunFunc is the invocation seam shared by the queue, the retry scheduler
// and the cron dispatcher.
type RunFunc func(ctx context.Context, req Request) Result

// procHandle pairs a live process with its completion signal so Cancel can
// wait for the exit without racing the invoking goroutine's Wait.
type procHandle struct {
	cmd  *exec.Cmd
	done chan struct{}
}

// Service runs invocations and tracks live processes by correlation id.
type Service struct {
	cfg Config
	log logx.Logger

	mu      sync.Mutex
	running map[string]*procHandle
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:     cfg.withDefaults(),
		log:     log,
		running: map[string]*procHandle{},
	}
}

// Invoke runs one invocation to completion. It never returns an error;
// all failures are captured in the Result status.
func (s *Service) Invoke(ctx context.Context, req Request) Result {
	start := time.Now()
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.cfg.DefaultTimeout
	}

	args := append([]string{"-p", req.Prompt}, s.cfg.ExtraArgs...)
	cmd := exec.Command(s.cfg.Binary, args...)
	cmd.Dir = req.WorkDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		dur := time.Since(start)
		if errors.Is(err, exec.ErrNotFound) {
			return Result{
				Status:     StatusError,
				ErrMessage: fmt.Sprintf("%s CLI not found in PATH; install it (npm install -g @anthropic-ai/claude-code) and retry", s.cfg.Binary),
				Duration:   dur,
			}
		}
		s.log.Error("failed to start invocation", logx.Err(err), logx.String("work_dir", req.WorkDir))
		return Result{Status: StatusError, ErrMessage: "failed to start the reasoning tool", Duration: dur}
	}

	h := &procHandle{cmd: cmd, done: make(chan struct{})}
	s.register(req.CorrelationID, h)
	defer s.deregister(req.CorrelationID, h)

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(h.done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var err error
	select {
	case err = <-waitErr:
	case <-timer.C:
		_ = cmd.Process.Kill()
		<-waitErr // reap; no zombie left behind
		return Result{
			Status:     StatusTimeout,
			ErrMessage: fmt.Sprintf("invocation timed out after %s", timeout),
			Duration:   time.Since(start),
		}
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waitErr
		return Result{
			Status:     StatusError,
			ErrMessage: "invocation canceled",
			Duration:   time.Since(start),
		}
	}

	dur := time.Since(start)
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			status, msg := s.classify(strings.TrimSpace(stderr.String()))
			return Result{Status: status, ErrMessage: msg, Duration: dur}
		}
		s.log.Error("invocation wait failed", logx.Err(err))
		return Result{Status: StatusError, ErrMessage: "unexpected invocation failure", Duration: dur}
	}

	return Result{
		Status:   StatusSuccess,
		Output:   strings.TrimSpace(stdout.String()),
		Duration: dur,
	}
}

// Run is Invoke as a RunFunc.
func (s *Service) Run(ctx context.Context, req Request) Result { return s.Invoke(ctx, req) }

// Cancel kills the live invocation registered under id, waits for the
// process to exit, and reports whether anything was canceled.
func (s *Service) Cancel(id string) bool {
	s.mu.Lock()
	h := s.running[id]
	s.mu.Unlock()
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false // already exited; deregistration is in flight
	default:
	}
	_ = h.cmd.Process.Kill()
	<-h.done
	s.log.Info("invocation canceled", logx.String("correlation_id", id))
	return true
}

// IsRunning reports whether a live invocation is registered under id.
// Pure lookup, no side effects.
func (s *Service) IsRunning(id string) bool {
	s.mu.Lock()
	h := s.running[id]
	s.mu.Unlock()
	if h == nil {
		return false
	}
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (s *Service) register(id string, h *procHandle) {
	if id == "" {
		return
	}
	s.mu.Lock()
	s.running[id] = h
	s.mu.Unlock()
}

// deregister removes the handle only if it is still ours: a newer
// invocation may have replaced the registration for the same id.
func (s *Service) deregister(id string, h *procHandle) {
	if id == "" {
		return
	}
	s.mu.Lock()
	if s.running[id] == h {
		delete(s.running, id)
	}
	s.mu.Unlock()
}
