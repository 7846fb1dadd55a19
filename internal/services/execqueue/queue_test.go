package execqueue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"agentbot/internal/services/runner"
	"agentbot/pkg/logx"
)

func TestFIFOOrder(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var order []string
	run := func(ctx context.Context, req runner.Request) runner.Result {
		mu.Lock()
		order = append(order, req.Prompt)
		mu.Unlock()
		return runner.Result{Status: runner.StatusSuccess, Output: req.Prompt}
	}

	s := New(Config{Workers: 1, QueueSize: 10}, run, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	var handles []*Handle
	for _, p := range []string{"A", "B", "C"} {
		h, err := s.Submit(runner.Request{Prompt: p})
		if err != nil {
			t.Fatalf("Submit(%s): %v", p, err)
		}
		handles = append(handles, h)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i, h := range handles {
		res, err := h.Wait(ctx)
		if err != nil {
			t.Fatalf("Wait(%d): %v", i, err)
		}
		if res.Status != runner.StatusSuccess {
			t.Fatalf("job %d status = %s", i, res.Status)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if got := strings.Join(order, ""); got != "ABC" {
		t.Fatalf("execution order = %s, want ABC", got)
	}
}

func TestConcurrencyBound(t *testing.T) {
	t.Parallel()

	for _, workers := range []int{1, 3} {
		workers := workers
		t.Run(fmt.Sprintf("N=%d", workers), func(t *testing.T) {
			t.Parallel()

			var cur, peak int64
			run := func(ctx context.Context, req runner.Request) runner.Result {
				n := atomic.AddInt64(&cur, 1)
				for {
					p := atomic.LoadInt64(&peak)
					if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
						break
					}
				}
				time.Sleep(30 * time.Millisecond)
				atomic.AddInt64(&cur, -1)
				return runner.Result{Status: runner.StatusSuccess}
			}

			s := New(Config{Workers: workers, QueueSize: 20}, run, logx.Nop())
			s.Start(context.Background())
			defer s.Stop(context.Background())

			var handles []*Handle
			for i := 0; i < 12; i++ {
				h, err := s.Submit(runner.Request{Prompt: fmt.Sprint(i)})
				if err != nil {
					t.Fatalf("Submit: %v", err)
				}
				handles = append(handles, h)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			for _, h := range handles {
				if _, err := h.Wait(ctx); err != nil {
					t.Fatalf("Wait: %v", err)
				}
			}

			if got := atomic.LoadInt64(&peak); got > int64(workers) {
				t.Fatalf("peak concurrency = %d, want <= %d", got, workers)
			}
		})
	}
}

func TestQueueFull(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	run := func(ctx context.Context, req runner.Request) runner.Result {
		close(started)
		<-release
		return runner.Result{Status: runner.StatusSuccess}
	}

	s := New(Config{Workers: 1, QueueSize: 2}, run, logx.Nop())
	s.Start(context.Background())
	defer func() {
		close(release)
		s.Stop(context.Background())
	}()

	if _, err := s.Submit(runner.Request{Prompt: "running"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started // worker is busy; the queue itself is empty now

	for i := 0; i < 2; i++ {
		if _, err := s.Submit(runner.Request{Prompt: "queued"}); err != nil {
			t.Fatalf("Submit queued %d: %v", i, err)
		}
	}
	if got := s.Pending(); got != 2 {
		t.Fatalf("Pending = %d, want 2", got)
	}

	_, err := s.Submit(runner.Request{Prompt: "overflow"})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	if s.Dropped() != 1 {
		t.Fatalf("Dropped = %d, want 1", s.Dropped())
	}
}

func TestShutdownResolvesQueuedJobs(t *testing.T) {
	t.Parallel()

	started := make(chan struct{})
	release := make(chan struct{})
	run := func(ctx context.Context, req runner.Request) runner.Result {
		close(started)
		<-release
		return runner.Result{Status: runner.StatusSuccess, Output: "done"}
	}

	s := New(Config{Workers: 1, QueueSize: 5}, run, logx.Nop())
	s.Start(context.Background())

	inflight, err := s.Submit(runner.Request{Prompt: "inflight"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started

	var queued []*Handle
	for i := 0; i < 2; i++ {
		h, err := s.Submit(runner.Request{Prompt: "queued"})
		if err != nil {
			t.Fatalf("Submit queued: %v", err)
		}
		queued = append(queued, h)
	}

	stopDone := make(chan struct{})
	go func() {
		s.Stop(context.Background())
		close(stopDone)
	}()
	close(release) // let the in-flight job finish

	select {
	case <-stopDone:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	res, err := inflight.Wait(ctx)
	if err != nil || res.Output != "done" {
		t.Fatalf("in-flight job: res=%+v err=%v", res, err)
	}
	for i, h := range queued {
		if _, err := h.Wait(ctx); !errors.Is(err, ErrShutdown) {
			t.Fatalf("queued job %d: err = %v, want ErrShutdown", i, err)
		}
	}

	if _, err := s.Submit(runner.Request{Prompt: "late"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("Submit after stop: err = %v, want ErrStopped", err)
	}
}

func TestPanicDeliveredToCaller(t *testing.T) {
	t.Parallel()

	calls := 0
	run := func(ctx context.Context, req runner.Request) runner.Result {
		calls++
		if calls == 1 {
			panic("boom")
		}
		return runner.Result{Status: runner.StatusSuccess}
	}

	s := New(Config{Workers: 1, QueueSize: 5}, run, logx.Nop())
	s.Start(context.Background())
	defer s.Stop(context.Background())

	h, err := s.Submit(runner.Request{Prompt: "explode"})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := h.Wait(ctx); err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Fatalf("err = %v, want panic failure", err)
	}

	// The worker survived the panic and keeps serving.
	h2, err := s.Submit(runner.Request{Prompt: "next"})
	if err != nil {
		t.Fatalf("Submit after panic: %v", err)
	}
	res, err := h2.Wait(ctx)
	if err != nil || res.Status != runner.StatusSuccess {
		t.Fatalf("job after panic: res=%+v err=%v", res, err)
	}
}
