package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func startDispatcher(t *testing.T, queueSize, workers int) *Dispatcher {
	t.Helper()
	d := New(queueSize, workers)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
	})
	return d
}

func TestJob_Key(t *testing.T) {
	j := Job{Type: JobTypeAnalysis, SessionID: "s1"}
	if j.Key() != "analysis-s1" {
		t.Fatalf("key = %q", j.Key())
	}
}

func TestEnqueue_RunsHandler(t *testing.T) {
	d := startDispatcher(t, 8, 2)

	done := make(chan Job, 1)
	d.Register(JobTypeAnalysis, func(ctx context.Context, job Job) error {
		done <- job
		return nil
	})
	d.Start()

	if err := d.Enqueue(context.Background(), Job{Type: JobTypeAnalysis, SessionID: "s1", Priority: true}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	select {
	case job := <-done:
		if job.SessionID != "s1" {
			t.Fatalf("wrong job: %+v", job)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never ran")
	}
}

func TestEnqueue_NoHandler(t *testing.T) {
	d := startDispatcher(t, 8, 1)
	d.Start()
	err := d.Enqueue(context.Background(), Job{Type: JobTypeReport, SessionID: "s1"})
	if !errors.Is(err, ErrNoHandler) {
		t.Fatalf("expected ErrNoHandler, got %v", err)
	}
}

func TestEnqueue_DedupByKey(t *testing.T) {
	d := startDispatcher(t, 8, 1)

	block := make(chan struct{})
	var runs atomic.Int32
	d.Register(JobTypeAnalysis, func(ctx context.Context, job Job) error {
		runs.Add(1)
		<-block
		return nil
	})
	d.Start()

	ctx := context.Background()
	if err := d.Enqueue(ctx, Job{Type: JobTypeAnalysis, SessionID: "s1"}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	// Same key while pending: idempotent no-op.
	if err := d.Enqueue(ctx, Job{Type: JobTypeAnalysis, SessionID: "s1"}); err != nil {
		t.Fatalf("duplicate enqueue: %v", err)
	}
	close(block)

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	// Give a potential duplicate a moment to run.
	time.Sleep(50 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Fatalf("handler ran %d times, want 1", got)
	}
}

func TestEnqueue_QueueFull(t *testing.T) {
	d := New(1, 1) // not started: nothing drains the queue
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
	})
	d.Register(JobTypeAnalysis, func(ctx context.Context, job Job) error { return nil })

	ctx := context.Background()
	if err := d.Enqueue(ctx, Job{Type: JobTypeAnalysis, SessionID: "s1"}); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	err := d.Enqueue(ctx, Job{Type: JobTypeAnalysis, SessionID: "s2"})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
}

func TestCancel_QueuedJobIsDropped(t *testing.T) {
	d := startDispatcher(t, 8, 1)

	block := make(chan struct{})
	var ran sync.Map
	d.Register(JobTypeAnalysis, func(ctx context.Context, job Job) error {
		ran.Store(job.SessionID, true)
		if job.SessionID == "blocker" {
			<-block
		}
		return nil
	})
	d.Start()

	ctx := context.Background()
	// Occupy the single worker.
	if err := d.Enqueue(ctx, Job{Type: JobTypeAnalysis, SessionID: "blocker"}); err != nil {
		t.Fatalf("enqueue blocker: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	// Queue a second job and cancel it before the worker frees up.
	if err := d.Enqueue(ctx, Job{Type: JobTypeAnalysis, SessionID: "victim"}); err != nil {
		t.Fatalf("enqueue victim: %v", err)
	}
	d.Cancel(JobTypeAnalysis, "victim")
	close(block)

	time.Sleep(200 * time.Millisecond)
	if _, ok := ran.Load("victim"); ok {
		t.Fatal("cancelled queued job still ran")
	}
}

func TestCancel_RunningJobContextCancelled(t *testing.T) {
	d := startDispatcher(t, 8, 1)

	started := make(chan struct{})
	cancelled := make(chan struct{})
	d.Register(JobTypeAnalysis, func(ctx context.Context, job Job) error {
		close(started)
		select {
		case <-ctx.Done():
			close(cancelled)
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})
	d.Start()

	if err := d.Enqueue(context.Background(), Job{Type: JobTypeAnalysis, SessionID: "s1"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	<-started
	d.CancelAll("s1")

	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("running job did not observe cancellation")
	}
}

func TestRun_PanicRecovered(t *testing.T) {
	d := startDispatcher(t, 8, 1)

	d.Register(JobTypeTranscode, func(ctx context.Context, job Job) error {
		panic("boom")
	})
	done := make(chan struct{}, 1)
	d.Register(JobTypeAnalysis, func(ctx context.Context, job Job) error {
		done <- struct{}{}
		return nil
	})
	d.Start()

	ctx := context.Background()
	if err := d.Enqueue(ctx, Job{Type: JobTypeTranscode, SessionID: "s1"}); err != nil {
		t.Fatalf("enqueue panicking job: %v", err)
	}
	// Worker pool survives the panic and keeps processing.
	if err := d.Enqueue(ctx, Job{Type: JobTypeAnalysis, SessionID: "s1"}); err != nil {
		t.Fatalf("enqueue follow-up: %v", err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker pool did not survive handler panic")
	}
}

func TestPriorityQueue_DrainedFirst(t *testing.T) {
	d := New(16, 1)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Shutdown(ctx)
	})

	var mu sync.Mutex
	var order []string
	handler := func(ctx context.Context, job Job) error {
		mu.Lock()
		order = append(order, job.SessionID)
		mu.Unlock()
		return nil
	}
	d.Register(JobTypeAnalysis, handler)
	d.Register(JobTypeTranscode, handler)

	// Enqueue before Start so both queues hold work when the worker wakes.
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := d.Enqueue(ctx, Job{Type: JobTypeTranscode, SessionID: "bg-" + string(rune('a'+i))}); err != nil {
			t.Fatalf("enqueue bg: %v", err)
		}
	}
	if err := d.Enqueue(ctx, Job{Type: JobTypeAnalysis, SessionID: "prio", Priority: true}); err != nil {
		t.Fatalf("enqueue prio: %v", err)
	}
	d.Start()

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(order)
		mu.Unlock()
		if n == 4 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 4 {
		t.Fatalf("ran %d jobs, want 4 (%v)", len(order), order)
	}
	if order[0] != "prio" {
		t.Fatalf("priority job ran at position %v, order=%v", order[0], order)
	}
}

func TestShutdown_StopsAcceptingWork(t *testing.T) {
	d := New(8, 1)
	d.Register(JobTypeAnalysis, func(ctx context.Context, job Job) error { return nil })
	d.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := d.Enqueue(context.Background(), Job{Type: JobTypeAnalysis, SessionID: "s1"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped after shutdown, got %v", err)
	}
	// Second shutdown is a no-op.
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("repeat Shutdown: %v", err)
	}
}

func TestShutdown_ConcurrentEnqueueDoesNotPanic(t *testing.T) {
	d := New(64, 2)
	d.Register(JobTypeAnalysis, func(ctx context.Context, job Job) error { return nil })
	d.Start()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; ; j++ {
				select {
				case <-stop:
					return
				default:
				}
				err := d.Enqueue(context.Background(), Job{
					Type:      JobTypeAnalysis,
					SessionID: fmt.Sprintf("s-%d-%d", n, j),
				})
				if err != nil && !errors.Is(err, ErrStopped) && !errors.Is(err, ErrQueueFull) {
					t.Errorf("enqueue: %v", err)
					return
				}
			}
		}(i)
	}

	// Shut down while the enqueuers are mid-flight. A send racing the
	// shutdown must land in the (never closed) buffer or return an error,
	// never panic.
	time.Sleep(10 * time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := d.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	close(stop)
	wg.Wait()
}
