// Package status builds the read-only projection the administrative console
// polls: per-job visual state, counts per state and the execution feed.
package status

import (
	"context"
	"time"

	"github.com/ChuLiYu/depot-reserve/internal/jobmanager"
	"github.com/ChuLiYu/depot-reserve/pkg/types"
)

// JobLister is the registry view the reporter needs.
type JobLister interface {
	List() []types.ScheduledJob
}

// JobSummary is one row of the console job table.
type JobSummary struct {
	ID               types.JobID       `json:"id"`
	Name             string            `json:"name"`
	Trigger          string            `json:"trigger"`
	State            types.VisualState `json:"state"`
	Color            string            `json:"color"`
	LastErrorMessage string            `json:"last_error_message,omitempty"`
	LastRunAt        *time.Time        `json:"last_run_at,omitempty"`
	NextRunAt        *time.Time        `json:"next_run_at,omitempty"`
}

// Report is one poll result.
type Report struct {
	GeneratedAt time.Time                 `json:"generated_at"`
	Jobs        []JobSummary              `json:"jobs"`
	Counts      map[types.VisualState]int `json:"counts"`
	Lines       []string                  `json:"lines"`
}

// Reporter projects registry state into reports. It never mutates the
// registry.
type Reporter struct {
	jobs     JobLister
	feed     *Feed
	maxLines int
	now      func() time.Time
}

// ReporterOption configures a Reporter.
type ReporterOption func(*Reporter)

// WithFeed attaches the execution feed whose lines go into each report.
func WithFeed(f *Feed) ReporterOption {
	return func(r *Reporter) { r.feed = f }
}

// WithMaxLines caps the number of feed lines per report.
func WithMaxLines(n int) ReporterOption {
	return func(r *Reporter) { r.maxLines = n }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) ReporterOption {
	return func(r *Reporter) { r.now = now }
}

// NewReporter creates a reporter over jobs.
func NewReporter(jobs JobLister, opts ...ReporterOption) *Reporter {
	r := &Reporter{
		jobs:     jobs,
		maxLines: 50,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Snapshot builds a report from the current published job states. Every
// visual state appears in Counts, with zero when no job is in it.
func (r *Reporter) Snapshot() Report {
	jobs := r.jobs.List()

	rep := Report{
		GeneratedAt: r.now(),
		Jobs:        make([]JobSummary, 0, len(jobs)),
		Counts:      make(map[types.VisualState]int, len(types.AllVisualStates)),
		Lines:       []string{},
	}
	for _, s := range types.AllVisualStates {
		rep.Counts[s] = 0
	}

	for _, j := range jobs {
		state := jobmanager.VisualStateOf(j)
		rep.Counts[state]++
		rep.Jobs = append(rep.Jobs, JobSummary{
			ID:               j.ID,
			Name:             j.Name,
			Trigger:          j.Trigger.String(),
			State:            state,
			Color:            state.Color(),
			LastErrorMessage: j.LastErrorMessage,
			LastRunAt:        j.LastRunAt,
			NextRunAt:        j.NextRunAt,
		})
	}

	if r.feed != nil {
		rep.Lines = r.feed.Tail(r.maxLines)
	}
	return rep
}

// Watch emits a report immediately and then once per interval until ctx is
// done. Each consumer gets its own ticker. A report is dropped when the
// consumer has not taken the previous one yet.
func (r *Reporter) Watch(ctx context.Context, interval time.Duration) <-chan Report {
	out := make(chan Report, 1)

	go func() {
		defer close(out)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		out <- r.Snapshot()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case out <- r.Snapshot():
				default:
				}
			}
		}
	}()
	return out
}
