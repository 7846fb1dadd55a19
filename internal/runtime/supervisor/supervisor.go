package supervisor

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"agentbot/pkg/logx"
)

// Supervisor manages goroutines tied to a shared context.
//   - Named goroutines (for logging/debug)
//   - Panic recovery
//   - Graceful stop with timeout-aware waiting
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	// Counters are best-effort operational metrics.
	started uint64
	active  int64

	log      logx.Logger
	doneOnce sync.Once
	doneCh   chan struct{}
	wg       sync.WaitGroup
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		doneCh: make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Cancel cancels the supervisor context without waiting for goroutines to exit.
func (s *Supervisor) Cancel() { s.cancel() }

// Counters reports best-effort goroutine counts.
func (s *Supervisor) Counters() (active int64, started uint64) {
	if s == nil {
		return 0, 0
	}
	return atomic.LoadInt64(&s.active), atomic.LoadUint64(&s.started)
}

// Go starts a named goroutine under the supervisor context.
// Panics are recovered and logged; they never take down the process.
func (s *Supervisor) Go(name string, fn func(ctx context.Context)) {
	if s == nil || fn == nil {
		return
	}
	atomic.AddUint64(&s.started, 1)
	atomic.AddInt64(&s.active, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer atomic.AddInt64(&s.active, -1)
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in supervised goroutine",
					logx.String("name", name),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())))
			}
		}()
		fn(s.ctx)
	}()
}

// Wait blocks until all goroutines have exited or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	if s == nil {
		return nil
	}
	go s.doneOnce.Do(func() {
		s.wg.Wait()
		close(s.doneCh)
	})
	select {
	case <-s.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop cancels the context and waits for goroutines, bounded by ctx.
func (s *Supervisor) Stop(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.cancel()
	return s.Wait(ctx)
}
