package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/ChuLiYu/depot-reserve/pkg/types"
)

var (
	// ErrBodyExists is returned when a body is registered twice for one job.
	ErrBodyExists = errors.New("job body already registered")
	// ErrNoBody is returned when a job has no body and no fallback is set.
	ErrNoBody = errors.New("no body registered for job")
)

// Run describes the run a body is executing.
type Run struct {
	JobID types.JobID
	Name  string
	Feed  Feed
}

// Body is the long-running work of a scheduled job. It must return soon
// after ctx is cancelled; it is never killed.
type Body func(ctx context.Context, run Run) error

// Bodies maps job ids to their bodies.
type Bodies struct {
	mu       sync.RWMutex
	bodies   map[types.JobID]Body
	fallback Body
}

// NewBodies creates an empty body table.
func NewBodies() *Bodies {
	return &Bodies{bodies: make(map[types.JobID]Body)}
}

// Register binds a body to a job id.
func (b *Bodies) Register(id types.JobID, body Body) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.bodies[id]; exists {
		return fmt.Errorf("%w: %s", ErrBodyExists, id)
	}
	b.bodies[id] = body
	return nil
}

// SetFallback sets the body used for jobs without their own.
func (b *Bodies) SetFallback(body Body) {
	b.mu.Lock()
	b.fallback = body
	b.mu.Unlock()
}

// Lookup returns the body for id, or the fallback.
func (b *Bodies) Lookup(id types.JobID) (Body, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if body, ok := b.bodies[id]; ok {
		return body, nil
	}
	if b.fallback != nil {
		return b.fallback, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNoBody, id)
}

// SimulationConfig shapes a SimulatedBody.
type SimulationConfig struct {
	Batches   int           // fetch/process rounds per run
	BatchTime time.Duration // upper bound of one round
	FailRate  float64       // probability that a run fails, 0..1
}

// SimulatedBody fetches and processes batches with random delays and
// reports progress on the feed. It checks ctx between every step.
func SimulatedBody(cfg SimulationConfig) Body {
	return func(ctx context.Context, run Run) error {
		for batch := 1; batch <= cfg.Batches; batch++ {
			run.Feed.Logf("%s: fetching batch %d/%d", run.JobID, batch, cfg.Batches)
			if err := sleepCtx(ctx, jitter(cfg.BatchTime)); err != nil {
				run.Feed.Logf("%s: interrupted while fetching batch %d", run.JobID, batch)
				return err
			}

			run.Feed.Logf("%s: processing batch %d/%d", run.JobID, batch, cfg.Batches)
			if err := sleepCtx(ctx, jitter(cfg.BatchTime)); err != nil {
				run.Feed.Logf("%s: interrupted while processing batch %d", run.JobID, batch)
				return err
			}
		}

		if cfg.FailRate > 0 && rand.Float64() < cfg.FailRate {
			run.Feed.Logf("%s: run failed", run.JobID)
			return errors.New("simulated execution failure")
		}
		run.Feed.Logf("%s: run complete", run.JobID)
		return nil
	}
}

func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
