package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type mockResult struct {
	index int
	err   error
}

type mockJob struct {
	index     int
	duration  time.Duration
	shouldErr bool
	executed  *int32
}

func (j *mockJob) Execute(ctx context.Context) mockResult {
	if j.executed != nil {
		atomic.AddInt32(j.executed, 1)
	}
	if j.duration > 0 {
		select {
		case <-time.After(j.duration):
		case <-ctx.Done():
			return mockResult{index: j.index, err: ctx.Err()}
		}
	}
	if j.shouldErr {
		return mockResult{index: j.index, err: errors.New("job error")}
	}
	return mockResult{index: j.index}
}

func TestNewPool(t *testing.T) {
	p1 := NewPool[mockResult](context.Background(), 5)
	if p1.workers != 5 {
		t.Errorf("expected 5 workers, got %d", p1.workers)
	}

	p2 := NewPool[mockResult](context.Background(), 0)
	if p2.workers != 1 {
		t.Errorf("expected default 1 worker for 0 input, got %d", p2.workers)
	}

	p3 := NewPool[mockResult](context.Background(), -1)
	if p3.workers != 1 {
		t.Errorf("expected default 1 worker for negative input, got %d", p3.workers)
	}
}

func TestPool_ExecutionPreservesOrder(t *testing.T) {
	pool := NewPool[mockResult](context.Background(), 3)
	pool.Start()

	var executed int32
	count := 40 // well past the queue buffer

	for i := 0; i < count; i++ {
		// Later jobs finish first
		d := time.Duration(count-i) * 100 * time.Microsecond
		if err := pool.Submit(&mockJob{index: i, duration: d, executed: &executed}); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}

	results := pool.Wait()

	if len(results) != count {
		t.Fatalf("expected %d results, got %d", count, len(results))
	}
	if atomic.LoadInt32(&executed) != int32(count) {
		t.Errorf("expected %d executed jobs, got %d", count, executed)
	}
	for i, r := range results {
		if r.index != i {
			t.Errorf("result %d came from job %d", i, r.index)
		}
	}
}

type concurrencyJob struct {
	start    func()
	end      func()
	duration time.Duration
}

func (j *concurrencyJob) Execute(ctx context.Context) mockResult {
	if j.start != nil {
		j.start()
	}
	time.Sleep(j.duration)
	if j.end != nil {
		j.end()
	}
	return mockResult{}
}

func TestPool_Concurrency(t *testing.T) {
	workers := 10
	pool := NewPool[mockResult](context.Background(), workers)
	pool.Start()

	var current int32
	var maxConcurrent int32
	var completed int32
	var mu sync.Mutex

	totalJobs := 50

	for i := 0; i < totalJobs; i++ {
		_ = pool.Submit(&concurrencyJob{
			start: func() {
				curr := atomic.AddInt32(&current, 1)
				mu.Lock()
				if curr > maxConcurrent {
					maxConcurrent = curr
				}
				mu.Unlock()
			},
			end: func() {
				atomic.AddInt32(&current, -1)
				atomic.AddInt32(&completed, 1)
			},
			duration: 10 * time.Millisecond,
		})
	}

	pool.Wait()

	if atomic.LoadInt32(&completed) != int32(totalJobs) {
		t.Errorf("expected %d completed jobs, got %d", totalJobs, completed)
	}

	mu.Lock()
	max := maxConcurrent
	mu.Unlock()

	if max > int32(workers) {
		t.Errorf("max concurrency %d exceeded workers %d", max, workers)
	}
}

func TestPool_ErrorHandling(t *testing.T) {
	pool := NewPool[mockResult](context.Background(), 2)
	pool.Start()

	_ = pool.Submit(&mockJob{index: 0, shouldErr: true})
	_ = pool.Submit(&mockJob{index: 1})

	results := pool.Wait()
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].err == nil || results[1].err != nil {
		t.Errorf("expected only the first job to fail, got %+v", results)
	}
}

func TestPool_CancelledContextStillRunsJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var executed int32
	pool := NewPool[mockResult](ctx, 2)
	pool.Start()
	for i := 0; i < 5; i++ {
		_ = pool.Submit(&mockJob{index: i, duration: time.Second, executed: &executed})
	}
	results := pool.Wait()

	if atomic.LoadInt32(&executed) != 5 {
		t.Errorf("expected all 5 jobs to run, got %d", executed)
	}
	for _, r := range results {
		if !errors.Is(r.err, context.Canceled) {
			t.Errorf("expected cancelled result, got %v", r.err)
		}
	}
}

func TestPool_SubmitAfterShutdown(t *testing.T) {
	pool := NewPool[mockResult](context.Background(), 2)
	pool.Start()
	pool.Shutdown()

	done := make(chan error, 1)
	go func() {
		done <- pool.Submit(&mockJob{})
	}()

	select {
	case err := <-done:
		if !errors.Is(err, ErrPoolClosed) {
			t.Errorf("expected ErrPoolClosed, got %v", err)
		}
	case <-time.After(1 * time.Second):
		t.Fatal("Submit after shutdown blocked")
	}
}

func TestPool_Shutdown(t *testing.T) {
	pool := NewPool[mockResult](context.Background(), 2)
	pool.Start()

	started := make(chan struct{})
	var once sync.Once
	_ = pool.Submit(JobFunc[mockResult](func(ctx context.Context) mockResult {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return mockResult{err: ctx.Err()}
	}))

	<-started

	done := make(chan struct{})
	go func() {
		pool.Shutdown()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(1 * time.Second):
		t.Fatal("Shutdown timed out")
	}
}

func TestMap(t *testing.T) {
	in := []int{1, 2, 3, 4, 5}
	out := Map(context.Background(), 2, in, func(_ context.Context, n int) int { return n * n })

	want := []int{1, 4, 9, 16, 25}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("Map()[%d] = %d, want %d", i, out[i], want[i])
		}
	}
}
