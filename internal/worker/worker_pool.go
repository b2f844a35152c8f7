// ============================================================================
// Worker Pool - concurrent job run executor
// ============================================================================
//
// Package: internal/worker
// File: worker_pool.go
//
// Architecture:
//   ┌──────────────┐
//   │   Registry   │ --Launch()--> taskCh
//   └──────────────┘
//          ↑
//     Finish(result)        (controller result loop)
//          ↑
//   ┌──────────────┐
//   │    Pool      │
//   │  ┌────────┐  │
//   │  │Worker 1│←── taskCh
//   │  │Worker 2│←── taskCh   ──→ resultCh
//   │  │Worker 3│←── taskCh
//   │  └────────┘  │
//   └──────────────┘
//
// Lifecycle:
//   1. NewPool()        create channels
//   2. Start(n)         start n worker goroutines
//   3. Launch / Submit  hand a run to the workers, never blocks
//   4. ReceiveResult()  read finished runs
//   5. Stop()           close taskCh, wait for the workers
//
// Submit holds the pool mutex across its non-blocking send, so Stop can
// never close taskCh under a concurrent send.
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ChuLiYu/depot-reserve/pkg/types"
)

var log = slog.Default()

var (
	// ErrPoolClosed means the pool has been stopped.
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrPoolNotStarted means Start has not been called.
	ErrPoolNotStarted = errors.New("worker pool not started")
	// ErrPoolBusy means the task buffer is full.
	ErrPoolBusy = errors.New("worker pool is busy")
)

// Pool runs job bodies on a fixed set of worker goroutines.
type Pool struct {
	workers  []*Worker
	taskCh   chan Task
	resultCh chan Result
	stopCh   chan struct{}
	wg       sync.WaitGroup
	started  bool
	stopped  bool
	mu       sync.Mutex

	bodies  *Bodies
	feed    Feed
	timeout time.Duration
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithFeed sets where bodies write progress lines.
func WithFeed(f Feed) PoolOption {
	return func(p *Pool) { p.feed = f }
}

// WithRunTimeout bounds every run.
func WithRunTimeout(d time.Duration) PoolOption {
	return func(p *Pool) { p.timeout = d }
}

// NewPool creates a pool whose task and result buffers hold bufferSize runs.
func NewPool(bufferSize int, bodies *Bodies, opts ...PoolOption) *Pool {
	p := &Pool{
		workers:  make([]*Worker, 0),
		taskCh:   make(chan Task, bufferSize),
		resultCh: make(chan Result, bufferSize),
		stopCh:   make(chan struct{}),
		bodies:   bodies,
		feed:     discardFeed{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches workerCount workers.
func (p *Pool) Start(workerCount int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return errors.New("pool already started")
	}

	for i := 0; i < workerCount; i++ {
		w := newWorker(i, p.taskCh, p.resultCh, p.bodies, p.feed)
		p.workers = append(p.workers, w)

		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Run()
		}(w)
	}

	p.started = true
	log.Info("worker pool started", "workers", workerCount)
	return nil
}

// Submit queues a task without blocking.
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolClosed
	}

	select {
	case p.taskCh <- task:
		return nil
	default:
		return ErrPoolBusy
	}
}

// Launch hands a scheduled job run to the workers. ctx is the run context
// that the registry cancels on interrupt.
func (p *Pool) Launch(ctx context.Context, job types.ScheduledJob) error {
	return p.Submit(Task{
		JobID:   job.ID,
		Name:    job.Name,
		Ctx:     ctx,
		Timeout: p.timeout,
	})
}

// Results exposes the result channel for select loops. It is closed by Stop
// once every worker has exited.
func (p *Pool) Results() <-chan Result {
	return p.resultCh
}

// ReceiveResult blocks until a run finishes or the pool stops.
func (p *Pool) ReceiveResult() (Result, error) {
	select {
	case result, ok := <-p.resultCh:
		if !ok {
			return Result{}, ErrPoolClosed
		}
		return result, nil
	case <-p.stopCh:
		return Result{}, ErrPoolClosed
	}
}

// Stop closes the task channel and waits for in-flight runs to return.
// Callers must cancel long runs first or keep draining results.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.taskCh)
	p.mu.Unlock()

	p.wg.Wait()
	close(p.stopCh)
	close(p.resultCh)
	log.Info("worker pool stopped")
}

// GetWorkerCount returns the number of started workers.
func (p *Pool) GetWorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// IsStarted reports whether Start has been called.
func (p *Pool) IsStarted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started
}
