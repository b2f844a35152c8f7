package worker

// ============================================================================
// Worker Pool Test File
// Purpose: Verify run execution, cooperative interruption, graceful shutdown
// ============================================================================

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ChuLiYu/depot-reserve/pkg/types"
)

// lineFeed collects feed lines.
type lineFeed struct {
	mu    sync.Mutex
	lines []string
}

func (f *lineFeed) Logf(format string, args ...any) {
	f.mu.Lock()
	f.lines = append(f.lines, fmt.Sprintf(format, args...))
	f.mu.Unlock()
}

func (f *lineFeed) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.lines...)
}

func okBody(context.Context, Run) error { return nil }

// blockingBody waits for cancellation and closes started first.
func blockingBody(started chan<- struct{}) Body {
	return func(ctx context.Context, run Run) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}
}

func newStartedPool(t *testing.T, workers int, bodies *Bodies, opts ...PoolOption) *Pool {
	t.Helper()
	pool := NewPool(16, bodies, opts...)
	require.NoError(t, pool.Start(workers))
	t.Cleanup(pool.Stop)
	return pool
}

// ============================================================================
// Basic Functionality Tests
// ============================================================================

func TestNewPool(t *testing.T) {
	pool := NewPool(10, NewBodies())
	assert.NotNil(t, pool)
	assert.Equal(t, 0, pool.GetWorkerCount())
	assert.False(t, pool.IsStarted())
}

func TestPoolStart(t *testing.T) {
	pool := NewPool(10, NewBodies())

	require.NoError(t, pool.Start(4))
	assert.Equal(t, 4, pool.GetWorkerCount())
	assert.True(t, pool.IsStarted())

	assert.Error(t, pool.Start(2))
	pool.Stop()
}

func TestBodies(t *testing.T) {
	b := NewBodies()
	require.NoError(t, b.Register("a", okBody))
	assert.ErrorIs(t, b.Register("a", okBody), ErrBodyExists)

	_, err := b.Lookup("b")
	assert.ErrorIs(t, err, ErrNoBody)

	b.SetFallback(okBody)
	body, err := b.Lookup("b")
	require.NoError(t, err)
	assert.NoError(t, body(context.Background(), Run{}))
}

func TestLaunchRunsBody(t *testing.T) {
	bodies := NewBodies()
	require.NoError(t, bodies.Register("ok", okBody))
	require.NoError(t, bodies.Register("fail", func(context.Context, Run) error {
		return errors.New("host unreachable")
	}))
	pool := newStartedPool(t, 2, bodies)

	require.NoError(t, pool.Launch(context.Background(), types.ScheduledJob{ID: "ok"}))
	require.NoError(t, pool.Launch(context.Background(), types.ScheduledJob{ID: "fail"}))

	results := map[types.JobID]Result{}
	for i := 0; i < 2; i++ {
		r, err := pool.ReceiveResult()
		require.NoError(t, err)
		results[r.JobID] = r
	}

	assert.True(t, results["ok"].Success)
	assert.False(t, results["fail"].Success)
	assert.EqualError(t, results["fail"].Error, "host unreachable")
	assert.False(t, results["fail"].Interrupted)
}

func TestMissingBodyFailsRun(t *testing.T) {
	pool := newStartedPool(t, 1, NewBodies())
	require.NoError(t, pool.Launch(context.Background(), types.ScheduledJob{ID: "nobody"}))

	r, err := pool.ReceiveResult()
	require.NoError(t, err)
	assert.ErrorIs(t, r.Error, ErrNoBody)
}

func TestPanicIsReportedAsError(t *testing.T) {
	bodies := NewBodies()
	require.NoError(t, bodies.Register("boom", func(context.Context, Run) error { panic("nil map") }))
	pool := newStartedPool(t, 1, bodies)

	require.NoError(t, pool.Launch(context.Background(), types.ScheduledJob{ID: "boom"}))
	r, err := pool.ReceiveResult()
	require.NoError(t, err)
	assert.False(t, r.Success)
	assert.Contains(t, r.Error.Error(), "panicked")
}

// ============================================================================
// Cooperative interruption
// ============================================================================

func TestInterruptIsCooperative(t *testing.T) {
	started := make(chan struct{})
	bodies := NewBodies()
	require.NoError(t, bodies.Register("long", blockingBody(started)))
	pool := newStartedPool(t, 1, bodies)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, pool.Launch(ctx, types.ScheduledJob{ID: "long"}))
	<-started

	select {
	case <-pool.Results():
		t.Fatal("run finished before it was interrupted")
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	r, err := pool.ReceiveResult()
	require.NoError(t, err)
	assert.True(t, r.Interrupted)
	assert.ErrorIs(t, r.Error, context.Canceled)
}

func TestRunTimeoutIsNotAnInterrupt(t *testing.T) {
	started := make(chan struct{})
	bodies := NewBodies()
	require.NoError(t, bodies.Register("long", blockingBody(started)))
	pool := newStartedPool(t, 1, bodies, WithRunTimeout(20*time.Millisecond))

	require.NoError(t, pool.Launch(context.Background(), types.ScheduledJob{ID: "long"}))
	r, err := pool.ReceiveResult()
	require.NoError(t, err)
	assert.False(t, r.Interrupted)
	assert.ErrorIs(t, r.Error, context.DeadlineExceeded)
}

func TestSimulatedBody(t *testing.T) {
	feed := &lineFeed{}
	body := SimulatedBody(SimulationConfig{Batches: 2, BatchTime: time.Millisecond})

	require.NoError(t, body(context.Background(), Run{JobID: "sync", Feed: feed}))
	lines := feed.snapshot()
	require.Len(t, lines, 5)
	assert.Equal(t, "sync: fetching batch 1/2", lines[0])
	assert.Equal(t, "sync: run complete", lines[4])

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := SimulatedBody(SimulationConfig{Batches: 3, BatchTime: time.Second})(ctx, Run{JobID: "sync", Feed: feed})
	assert.ErrorIs(t, err, context.Canceled)

	failing := SimulatedBody(SimulationConfig{Batches: 1, FailRate: 1})
	assert.Error(t, failing(context.Background(), Run{JobID: "sync", Feed: feed}))
}

func TestFeedReceivesLines(t *testing.T) {
	feed := &lineFeed{}
	bodies := NewBodies()
	bodies.SetFallback(SimulatedBody(SimulationConfig{Batches: 1}))
	pool := newStartedPool(t, 1, bodies, WithFeed(feed))

	require.NoError(t, pool.Launch(context.Background(), types.ScheduledJob{ID: "any"}))
	_, err := pool.ReceiveResult()
	require.NoError(t, err)
	assert.Contains(t, feed.snapshot(), "any: run complete")
}

// ============================================================================
// Concurrency and shutdown
// ============================================================================

func TestConcurrentLaunch(t *testing.T) {
	bodies := NewBodies()
	bodies.SetFallback(okBody)
	pool := NewPool(100, bodies)
	require.NoError(t, pool.Start(4))
	defer pool.Stop()

	const runs = 50
	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, pool.Launch(context.Background(), types.ScheduledJob{ID: types.JobID(fmt.Sprintf("job-%d", i))}))
		}(i)
	}
	wg.Wait()

	seen := map[types.JobID]bool{}
	for i := 0; i < runs; i++ {
		r, err := pool.ReceiveResult()
		require.NoError(t, err)
		seen[r.JobID] = true
	}
	assert.Len(t, seen, runs)
}

func TestSubmitBusy(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	bodies := NewBodies()
	bodies.SetFallback(func(ctx context.Context, run Run) error {
		if run.JobID == "first" {
			close(started)
		}
		<-release
		return nil
	})
	pool := NewPool(1, bodies)
	require.NoError(t, pool.Start(1))

	require.NoError(t, pool.Submit(Task{JobID: "first"}))
	<-started
	require.NoError(t, pool.Submit(Task{JobID: "buffered"}))
	assert.ErrorIs(t, pool.Submit(Task{JobID: "overflow"}), ErrPoolBusy)

	close(release)
	for i := 0; i < 2; i++ {
		_, err := pool.ReceiveResult()
		require.NoError(t, err)
	}
	pool.Stop()
}

func TestSubmitBeforeStartAndAfterStop(t *testing.T) {
	pool := NewPool(10, NewBodies())
	assert.Equal(t, ErrPoolNotStarted, pool.Submit(Task{JobID: "x"}))

	require.NoError(t, pool.Start(2))
	pool.Stop()
	assert.Equal(t, ErrPoolClosed, pool.Submit(Task{JobID: "x"}))

	_, err := pool.ReceiveResult()
	assert.Equal(t, ErrPoolClosed, err)
}

func TestStopBeforeStart(t *testing.T) {
	pool := NewPool(10, NewBodies())
	assert.NotPanics(t, pool.Stop)
}

func TestStopWaitsForRunningBodies(t *testing.T) {
	var finished sync.WaitGroup
	bodies := NewBodies()
	bodies.SetFallback(func(ctx context.Context, run Run) error {
		defer finished.Done()
		return sleepCtx(ctx, 20*time.Millisecond)
	})
	pool := NewPool(10, bodies)
	require.NoError(t, pool.Start(2))

	for i := 0; i < 4; i++ {
		finished.Add(1)
		require.NoError(t, pool.Submit(Task{JobID: types.JobID(fmt.Sprintf("job-%d", i))}))
	}
	pool.Stop()

	done := make(chan struct{})
	go func() { finished.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop returned before bodies finished")
	}
}

// ============================================================================
// Benchmark Tests
// ============================================================================

func BenchmarkLaunch(b *testing.B) {
	bodies := NewBodies()
	bodies.SetFallback(okBody)
	pool := NewPool(1024, bodies)
	_ = pool.Start(4)
	defer pool.Stop()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := pool.Launch(context.Background(), types.ScheduledJob{ID: "bench"}); err != nil {
			b.Fatal(err)
		}
		<-pool.Results()
	}
}
