package worker

import (
	"context"
	"time"

	"github.com/ChuLiYu/depot-reserve/pkg/types"
)

// Task is one job run handed to the pool.
type Task struct {
	JobID   types.JobID     // job being run
	Name    string          // display name, used in feed lines
	Ctx     context.Context // cancelled when the run is interrupted
	Timeout time.Duration   // zero means no limit
}

// Result is the outcome of one run.
type Result struct {
	JobID       types.JobID
	Success     bool
	Error       error
	Interrupted bool // the run context was cancelled before the body returned
	Duration    time.Duration
}

// Feed receives human-readable progress lines from running bodies.
type Feed interface {
	Logf(format string, args ...any)
}

type discardFeed struct{}

func (discardFeed) Logf(string, ...any) {}
