// Package execqueue is the bounded FIFO admission queue for interactive
// invocations.
//
// Submission and execution are decoupled: Submit enqueues without blocking
// and returns a Handle; a pool of N workers dequeues in FIFO order and runs
// at most N invocations concurrently. Business failures (timeout, rate
// limit, tool error) arrive as a Result with a failure status; only
// infrastructure failures (worker panic, shutdown) arrive as Go errors.
package execqueue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"agentbot/internal/services/runner"
	"agentbot/pkg/logx"
)

// Config controls the admission queue and worker pool.
type Config struct {
	Workers   int // concurrency limit, default 1
	QueueSize int // admission capacity, default 10
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 10
	}
	return c
}

type outcome struct {
	res runner.Result
	err error
}

// Handle is the caller's side of one submitted job. The result-slot is
// written exactly once by the worker that processed the job and read by a
// single awaiting caller.
type Handle struct {
	ch   chan outcome
	once sync.Once
}

func newHandle() *Handle {
	return &Handle{ch: make(chan outcome, 1)}
}

func (h *Handle) resolve(res runner.Result, err error) {
	h.once.Do(func() { h.ch <- outcome{res: res, err: err} })
}

// Wait blocks until the job resolves or ctx is done.
func (h *Handle) Wait(ctx context.Context) (runner.Result, error) {
	select {
	case o := <-h.ch:
		return o.res, o.err
	case <-ctx.Done():
		return runner.Result{}, ctx.Err()
	}
}

type job struct {
	req runner.Request
	h   *Handle
}

// Service is the bounded-concurrency execution queue.
type Service struct {
	cfg Config
	log logx.Logger
	run runner.RunFunc

	mu       sync.Mutex
	queue    chan job
	stopCh   chan struct{}
	workerWG sync.WaitGroup

	dropped uint64
}

func New(cfg Config, run runner.RunFunc, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg.withDefaults(), run: run, log: log}
}

// Start launches the worker pool. Calling Start on a running service is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	s.stopCh = make(chan struct{})
	// Fresh queue per run so a stop/start cycle never executes stale jobs.
	s.queue = make(chan job, s.cfg.QueueSize)

	stopCh := s.stopCh
	queue := s.queue

	s.workerWG.Add(s.cfg.Workers)
	for i := 0; i < s.cfg.Workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			s.log.Debug("worker started", logx.Int("worker", idx))
			s.worker(ctx, stopCh, queue)
			s.log.Debug("worker stopped", logx.Int("worker", idx))
		}()
	}
	s.log.Info("execution queue started",
		logx.Int("workers", s.cfg.Workers), logx.Int("queue_size", s.cfg.QueueSize))
}

// Stop shuts the pool down. In-flight invocations finish; jobs still queued
// are resolved with ErrShutdown so no submission is ever lost silently.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	stopCh := s.stopCh
	queue := s.queue
	s.stopCh = nil
	s.queue = nil
	s.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("execution queue stop timed out; workers finish in background")
	}

	// Workers are gone (or abandoned); fail whatever never got dequeued.
	for {
		select {
		case j := <-queue:
			j.h.resolve(runner.Result{}, ErrShutdown)
		default:
			s.log.Info("execution queue stopped")
			return
		}
	}
}

// Submit enqueues a request and returns a handle for its eventual result.
// It never blocks: a full queue fails fast with ErrQueueFull.
func (s *Service) Submit(req runner.Request) (*Handle, error) {
	s.mu.Lock()
	queue := s.queue
	s.mu.Unlock()
	if queue == nil {
		return nil, ErrStopped
	}

	h := newHandle()
	select {
	case queue <- job{req: req, h: h}:
		return h, nil
	default:
		atomic.AddUint64(&s.dropped, 1)
		s.log.Warn("execution queue full; rejecting submission",
			logx.Int("queue_len", len(queue)), logx.Int("queue_cap", cap(queue)))
		return nil, ErrQueueFull
	}
}

// Pending reports the current queue depth (jobs admitted but not yet
// picked up by a worker).
func (s *Service) Pending() int {
	s.mu.Lock()
	queue := s.queue
	s.mu.Unlock()
	if queue == nil {
		return 0
	}
	return len(queue)
}

// Dropped reports the lifetime count of rejected submissions.
func (s *Service) Dropped() uint64 { return atomic.LoadUint64(&s.dropped) }

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan job) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case j := <-queue:
			s.execOne(ctx, j)
		}
	}
}

// execOne runs one job and resolves its handle exactly once. A panic in
// the run function is delivered to the caller instead of crashing the
// worker.
func (s *Service) execOne(ctx context.Context, j job) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic during invocation",
				logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			j.h.resolve(runner.Result{}, fmt.Errorf("invocation panicked: %v", r))
		}
	}()

	res := s.run(ctx, j.req)
	j.h.resolve(res, nil)

	if res.Status == runner.StatusSuccess {
		s.log.Debug("job completed", logx.Duration("dur", time.Since(start)))
	} else {
		s.log.Warn("job completed with failure status",
			logx.String("status", string(res.Status)), logx.Duration("dur", time.Since(start)))
	}
}
