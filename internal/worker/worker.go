// ============================================================================
// Worker - job run execution unit
// ============================================================================
//
// Package: internal/worker
// File: worker.go
//
// Each Worker is an independent goroutine running this loop until taskCh
// is closed:
//
//   for task := range taskCh
//     ├─ ctx := task.Ctx (+ timeout when set)
//     ├─ body := bodies.Lookup(task.JobID)
//     ├─ err := body(ctx, run)
//     └─ resultCh <- Result
//
// Cancellation is cooperative. Interrupting a job cancels task.Ctx; the body
// notices at its next check and returns. A worker never abandons a body, so
// every task produces exactly one Result.
//
// ============================================================================

package worker

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Worker executes job runs taken from the pool's task channel.
type Worker struct {
	id       int
	taskCh   <-chan Task
	resultCh chan<- Result
	bodies   *Bodies
	feed     Feed
}

func newWorker(id int, taskCh <-chan Task, resultCh chan<- Result, bodies *Bodies, feed Feed) *Worker {
	return &Worker{
		id:       id,
		taskCh:   taskCh,
		resultCh: resultCh,
		bodies:   bodies,
		feed:     feed,
	}
}

// Run is the worker main loop.
func (w *Worker) Run() {
	for task := range w.taskCh {
		w.resultCh <- w.runTask(task)
	}
}

func (w *Worker) runTask(task Task) Result {
	start := time.Now()

	ctx := task.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	var cancel context.CancelFunc
	if task.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, task.Timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	err := w.execute(ctx, task)

	result := Result{
		JobID:    task.JobID,
		Success:  err == nil,
		Error:    err,
		Duration: time.Since(start),
	}
	// Interrupted only when the caller cancelled, not on our own timeout.
	if err != nil && task.Ctx != nil && errors.Is(task.Ctx.Err(), context.Canceled) {
		result.Interrupted = true
	}

	log.Debug("job run done", "worker", w.id, "jobID", task.JobID,
		"success", result.Success, "interrupted", result.Interrupted, "duration", result.Duration)
	return result
}

// execute runs the body and turns a panic into an error.
func (w *Worker) execute(ctx context.Context, task Task) (err error) {
	body, err := w.bodies.Lookup(task.JobID)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job body panicked: %v", r)
		}
	}()

	if err := ctx.Err(); err != nil {
		return err
	}
	return body(ctx, Run{JobID: task.JobID, Name: task.Name, Feed: w.feed})
}
