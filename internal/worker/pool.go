package worker

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolClosed is returned by Submit after Wait or Shutdown
var ErrPoolClosed = errors.New("worker pool closed")

// Job represents a unit of work producing an R
type Job[R any] interface {
	Execute(ctx context.Context) R
}

// JobFunc adapts a function to the Job interface
type JobFunc[R any] func(ctx context.Context) R

func (f JobFunc[R]) Execute(ctx context.Context) R {
	return f(ctx)
}

type queuedJob[R any] struct {
	index int
	job   Job[R]
}

// Pool runs jobs on a fixed number of workers.
// Results come back in submission order. Every submitted job is executed,
// even after the context is cancelled, so jobs can record partial results.
type Pool[R any] struct {
	workers  int
	jobQueue chan queuedJob[R]
	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc

	sendMu sync.RWMutex // Held for reading while sending, for writing while closing
	closed bool

	mu      sync.Mutex
	results []R
	next    int
}

// NewPool creates a pool bound to ctx with the specified number of workers
func NewPool[R any](ctx context.Context, workers int) *Pool[R] {
	if workers <= 0 {
		workers = 1
	}

	ctx, cancel := context.WithCancel(ctx)

	return &Pool[R]{
		workers:  workers,
		jobQueue: make(chan queuedJob[R], workers*2),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the workers
func (p *Pool[R]) Start() {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

func (p *Pool[R]) worker() {
	defer p.wg.Done()

	for qj := range p.jobQueue {
		result := qj.job.Execute(p.ctx)

		p.mu.Lock()
		p.results[qj.index] = result
		p.mu.Unlock()
	}
}

// Submit queues a job. It blocks while the queue is full.
func (p *Pool[R]) Submit(job Job[R]) error {
	p.sendMu.RLock()
	defer p.sendMu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	p.mu.Lock()
	index := p.next
	p.next++
	var zero R
	p.results = append(p.results, zero)
	p.mu.Unlock()

	p.jobQueue <- queuedJob[R]{index: index, job: job}
	return nil
}

// Wait closes the queue, waits for every job and returns results in submission order
func (p *Pool[R]) Wait() []R {
	p.close()
	p.wg.Wait()
	p.cancel()

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.results
}

// Shutdown cancels running jobs and waits for the workers to drain the queue
func (p *Pool[R]) Shutdown() {
	p.cancel()
	p.close()
	p.wg.Wait()
}

func (p *Pool[R]) close() {
	p.sendMu.Lock()
	defer p.sendMu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.jobQueue)
	}
}

// Map runs fn over items with bounded parallelism and returns results in input order
func Map[T, R any](ctx context.Context, workers int, items []T, fn func(ctx context.Context, item T) R) []R {
	pool := NewPool[R](ctx, workers)
	pool.Start()

	for _, item := range items {
		item := item
		_ = pool.Submit(JobFunc[R](func(ctx context.Context) R {
			return fn(ctx, item)
		}))
	}

	return pool.Wait()
}
