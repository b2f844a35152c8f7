// ============================================================================
// Scheduled Job Registry - guarded lifecycle of recurring jobs
// ============================================================================
//
// Package: internal/jobmanager
// File: registry.go
//
// Design:
//   Each job lives in its own entry with its own mutex. The registry map is
//   guarded by an RWMutex that only protects membership, so commands on
//   unrelated jobs never contend:
//
//     Registry.mu (RWMutex)   map[JobID]*entry   add / lookup
//     entry.mu    (Mutex)     entry.job          every field of one job
//     entry.published         atomic copy        lock-free reads
//
//   Every mutation runs as guard -> journal -> commit -> publish. A guard
//   failure or journal failure leaves the job untouched.
//
// Command table:
//
//   ENABLE       not enabled          enabled, next run computed
//   DISABLE      not running          disabled, next run cleared
//   EXECUTE      enabled, not running running, handed to the Launcher
//   INTERRUPT    running              interruptRequested, run ctx cancelled
//   CLEAR_ERROR  lastResult == ERROR  lastResult NONE, message cleared
//   DELETE       not running          deleted marker set, record kept
//   FINISH       running              run acknowledged (OK / ERROR / interrupted)
//
// Execution is never performed here. ExecuteNow hands a cancellable context
// to the Launcher and returns; the execution pipeline reports back through
// Finish. Interrupt only cancels that context and sets the flag; the job
// stays running until Finish is called.
//
// ============================================================================

package jobmanager

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ChuLiYu/depot-reserve/pkg/types"
)

var log = slog.Default()

// Command names a registry transition. Values double as journal event types.
type Command string

const (
	CmdCreate          Command = "CREATE"
	CmdEnable          Command = "ENABLE"
	CmdDisable         Command = "DISABLE"
	CmdExecute         Command = "EXECUTE"
	CmdInterrupt       Command = "INTERRUPT"
	CmdClearError      Command = "CLEAR_ERROR"
	CmdDelete          Command = "DELETE"
	CmdRestoreDefaults Command = "RESTORE_DEFAULTS"
	CmdFinish          Command = "FINISH"
	CmdRecover         Command = "RECOVER"
)

// MessageLostOnRestart is recorded on runs that were in flight when the
// process stopped.
const MessageLostOnRestart = "execution lost on restart"

// Transition is one committed change of a job, carrying the full state after
// the change.
type Transition struct {
	Command Command            `json:"command"`
	JobID   types.JobID        `json:"job_id"`
	Job     types.ScheduledJob `json:"job"`
	At      time.Time          `json:"at"`
}

// Launcher hands a run to the execution pipeline. Launch must return without
// waiting for the run and must not call back into the registry synchronously.
type Launcher interface {
	Launch(ctx context.Context, job types.ScheduledJob) error
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, job types.ScheduledJob) error

func (f LauncherFunc) Launch(ctx context.Context, job types.ScheduledJob) error {
	return f(ctx, job)
}

// Journal durably records transitions before they become visible.
type Journal interface {
	Record(t Transition) error
}

type entry struct {
	mu        sync.Mutex
	job       types.ScheduledJob
	cancel    context.CancelFunc // set while a run is in flight
	published atomic.Pointer[types.ScheduledJob]
}

func (e *entry) publish() {
	e.published.Store(cloneJob(e.job))
}

func (e *entry) load() types.ScheduledJob {
	return *cloneJob(*e.published.Load())
}

// Registry is the single authoritative record of scheduled jobs.
type Registry struct {
	mu       sync.RWMutex
	entries  map[types.JobID]*entry
	defaults []types.JobDefinition

	launcher Launcher
	journal  Journal
	observer func(Transition)
	now      func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithLauncher sets where ExecuteNow hands runs.
func WithLauncher(l Launcher) Option {
	return func(r *Registry) { r.launcher = l }
}

// WithJournal sets the transition journal.
func WithJournal(j Journal) Option {
	return func(r *Registry) { r.journal = j }
}

// WithObserver registers a callback invoked after every committed
// transition. It runs under the job lock and must be quick.
func WithObserver(fn func(Transition)) Option {
	return func(r *Registry) { r.observer = fn }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// WithDefaults sets the built-in job set used by RestoreDefaults.
func WithDefaults(defs []types.JobDefinition) Option {
	return func(r *Registry) {
		r.defaults = append([]types.JobDefinition(nil), defs...)
	}
}

// NewRegistry creates an empty registry. Call RestoreDefaults or Restore to
// populate it.
//
// Concurrency: the returned registry is safe for concurrent use.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries:  make(map[types.JobID]*entry),
		launcher: LauncherFunc(func(context.Context, types.ScheduledJob) error { return nil }),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ============================================================================
// Internal helpers
// ============================================================================

func (r *Registry) lookup(id types.JobID) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok || e.published.Load() == nil {
		return nil, notFound(id)
	}
	return e, nil
}

// commit journals next and makes it the job's state. Caller holds e.mu.
func (r *Registry) commit(e *entry, cmd Command, next types.ScheduledJob) error {
	t := Transition{Command: cmd, JobID: next.ID, Job: *cloneJob(next), At: r.now()}
	if r.journal != nil {
		if err := r.journal.Record(t); err != nil {
			log.Error("journal write failed", "command", cmd, "jobID", next.ID, "error", err)
			return err
		}
	}
	e.job = next
	e.publish()
	if r.observer != nil {
		r.observer(t)
	}
	return nil
}

// mutate runs the guard-and-apply function fn on a working copy of the job.
func (r *Registry) mutate(id types.JobID, cmd Command, fn func(j *types.ScheduledJob) error) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.job.Deleted {
		return notFound(id)
	}
	next := *cloneJob(e.job)
	if err := fn(&next); err != nil {
		return err
	}
	return r.commit(e, cmd, next)
}

func (r *Registry) nextRun(j types.ScheduledJob, from time.Time) *time.Time {
	if !j.Enabled {
		return nil
	}
	next, err := NextRun(j.Trigger, from)
	if err != nil {
		log.Warn("job has unschedulable trigger", "jobID", j.ID, "trigger", j.Trigger.String(), "error", err)
		return nil
	}
	return &next
}

// ============================================================================
// Registration
// ============================================================================

// Register creates a job from its definition. Re-registering a deleted id
// revives it with the new definition.
//
// Errors:
//   - ErrDuplicateJob: an active job already uses the id
//   - ErrInvalidTrigger: the trigger cannot be scheduled
func (r *Registry) Register(def types.JobDefinition) error {
	if _, err := ParseTrigger(def.Trigger); err != nil {
		return err
	}

	r.mu.Lock()
	e, exists := r.entries[def.ID]
	if !exists {
		e = &entry{}
		r.entries[def.ID] = e
	}
	e.mu.Lock()
	r.mu.Unlock()

	if exists && !e.job.Deleted {
		e.mu.Unlock()
		return ErrDuplicateJob
	}

	next := types.ScheduledJob{
		ID:         def.ID,
		Name:       def.Name,
		Trigger:    def.Trigger,
		Enabled:    def.Enabled,
		LastResult: types.ResultNone,
	}
	if exists {
		next.LastResult = e.job.LastResult
		next.LastErrorMessage = e.job.LastErrorMessage
		next.LastRunAt = e.job.LastRunAt
	}
	next.NextRunAt = r.nextRun(next, r.now())

	err := r.commit(e, CmdCreate, next)
	e.mu.Unlock()
	if err != nil && !exists {
		r.mu.Lock()
		if r.entries[def.ID] == e && e.published.Load() == nil {
			delete(r.entries, def.ID)
		}
		r.mu.Unlock()
	}
	if err == nil {
		log.Info("job registered", "jobID", def.ID, "trigger", def.Trigger.String(), "enabled", def.Enabled)
	}
	return err
}

// ============================================================================
// Lifecycle commands
// ============================================================================

// Enable turns a job on and schedules its next run.
//
// Errors:
//   - ErrJobNotFound: unknown or deleted id
//   - GuardError(ErrAlreadyEnabled): the job is already enabled
func (r *Registry) Enable(id types.JobID) error {
	return r.mutate(id, CmdEnable, func(j *types.ScheduledJob) error {
		if j.Enabled {
			return guard(CmdEnable, id, ErrAlreadyEnabled)
		}
		j.Enabled = true
		j.NextRunAt = r.nextRun(*j, r.now())
		return nil
	})
}

// Disable turns a job off. Disabling an already disabled job is a no-op.
//
// Errors:
//   - ErrJobNotFound: unknown or deleted id
//   - GuardError(ErrJobRunning): the job has a run in flight
func (r *Registry) Disable(id types.JobID) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.job.Deleted {
		return notFound(id)
	}
	if e.job.Running {
		return guard(CmdDisable, id, ErrJobRunning)
	}
	if !e.job.Enabled {
		return nil
	}
	next := *cloneJob(e.job)
	next.Enabled = false
	next.NextRunAt = nil
	return r.commit(e, CmdDisable, next)
}

// ExecuteNow starts an out-of-schedule run. The run is handed to the
// Launcher with a context that Interrupt cancels; the call returns as soon
// as the handoff is accepted.
//
// Errors:
//   - ErrJobNotFound: unknown or deleted id
//   - GuardError(ErrJobDisabled): the job is disabled
//   - GuardError(ErrJobRunning): a run is already in flight
//   - launcher error: the pipeline refused the run, nothing changed
func (r *Registry) ExecuteNow(id types.JobID) error {
	return r.execute(id, CmdExecute)
}

func (r *Registry) execute(id types.JobID, cmd Command) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.job.Deleted {
		return notFound(id)
	}
	if !e.job.Enabled {
		return guard(cmd, id, ErrJobDisabled)
	}
	if e.job.Running {
		return guard(cmd, id, ErrJobRunning)
	}

	now := r.now()
	next := *cloneJob(e.job)
	next.Running = true
	next.InterruptRequested = false
	next.LastRunAt = &now
	next.NextRunAt = r.nextRun(next, now)

	ctx, cancel := context.WithCancel(context.Background())
	if err := r.launcher.Launch(ctx, *cloneJob(next)); err != nil {
		cancel()
		return err
	}
	if err := r.commit(e, cmd, next); err != nil {
		cancel()
		return err
	}
	e.cancel = cancel
	log.Info("job run started", "jobID", id, "command", cmd)
	return nil
}

// Interrupt requests cooperative cancellation of the running job. The job
// stays running until the execution pipeline acknowledges through Finish.
//
// Errors:
//   - ErrJobNotFound: unknown or deleted id
//   - GuardError(ErrNotRunning): nothing to interrupt
func (r *Registry) Interrupt(id types.JobID) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.job.Deleted {
		return notFound(id)
	}
	if !e.job.Running {
		return guard(CmdInterrupt, id, ErrNotRunning)
	}
	next := *cloneJob(e.job)
	next.InterruptRequested = true
	if err := r.commit(e, CmdInterrupt, next); err != nil {
		return err
	}
	if e.cancel != nil {
		e.cancel()
	}
	log.Info("job interrupt requested", "jobID", id)
	return nil
}

// ClearError acknowledges a failed run and returns the job to idle.
func (r *Registry) ClearError(id types.JobID) error {
	return r.mutate(id, CmdClearError, func(j *types.ScheduledJob) error {
		if j.LastResult != types.ResultError {
			return guard(CmdClearError, id, ErrNoError)
		}
		j.LastResult = types.ResultNone
		j.LastErrorMessage = ""
		return nil
	})
}

// Delete marks a job deleted. The record is kept for history but is no
// longer addressable by commands.
func (r *Registry) Delete(id types.JobID) error {
	return r.mutate(id, CmdDelete, func(j *types.ScheduledJob) error {
		if j.Running {
			return guard(CmdDelete, id, ErrJobRunning)
		}
		j.Deleted = true
		j.Enabled = false
		j.NextRunAt = nil
		return nil
	})
}

// Finish acknowledges the end of a run. runErr is the body's result; it is
// ignored when an interrupt was requested, in which case the job is left
// INTERRUPTED with its previous result.
func (r *Registry) Finish(id types.JobID, runErr error) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.job.Running {
		return guard(CmdFinish, id, ErrNotRunning)
	}

	next := *cloneJob(e.job)
	next.Running = false
	switch {
	case next.InterruptRequested:
	case runErr != nil:
		next.LastResult = types.ResultError
		next.LastErrorMessage = runErr.Error()
	default:
		next.LastResult = types.ResultOK
		next.LastErrorMessage = ""
	}
	if !next.Deleted {
		next.NextRunAt = r.nextRun(next, r.now())
	}

	if err := r.commit(e, CmdFinish, next); err != nil {
		return err
	}
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	log.Info("job run finished", "jobID", id, "state", VisualStateOf(next), "error", runErr)
	return nil
}

// ============================================================================
// Scheduling
// ============================================================================

// Due lists enabled idle jobs whose next run is at or before now.
func (r *Registry) Due(now time.Time) []types.JobID {
	var due []types.JobID
	for _, j := range r.List() {
		if j.Enabled && !j.Running && j.NextRunAt != nil && !j.NextRunAt.After(now) {
			due = append(due, j.ID)
		}
	}
	return due
}

// TriggerScheduled starts every due job through the guarded execute path and
// returns the ids that were started. Guard failures are logged and skipped.
func (r *Registry) TriggerScheduled(now time.Time) []types.JobID {
	var started []types.JobID
	for _, id := range r.Due(now) {
		if err := r.execute(id, CmdExecute); err != nil {
			log.Warn("scheduled start rejected", "jobID", id, "error", err)
			continue
		}
		started = append(started, id)
	}
	return started
}

// ============================================================================
// Queries
// ============================================================================

// Get returns the last published state of a job.
func (r *Registry) Get(id types.JobID) (types.ScheduledJob, error) {
	e, err := r.lookup(id)
	if err != nil {
		return types.ScheduledJob{}, err
	}
	j := e.load()
	if j.Deleted {
		return types.ScheduledJob{}, notFound(id)
	}
	return j, nil
}

// List returns every active job sorted by id. It reads published copies and
// never takes a job lock.
func (r *Registry) List() []types.ScheduledJob {
	all := r.all()
	out := all[:0]
	for _, j := range all {
		if !j.Deleted {
			out = append(out, j)
		}
	}
	return out
}

func (r *Registry) all() []types.ScheduledJob {
	r.mu.RLock()
	jobs := make([]types.ScheduledJob, 0, len(r.entries))
	for _, e := range r.entries {
		if e.published.Load() == nil {
			continue
		}
		jobs = append(jobs, e.load())
	}
	r.mu.RUnlock()

	sort.Slice(jobs, func(i, k int) bool { return jobs[i].ID < jobs[k].ID })
	return jobs
}

// Defaults returns the built-in job set.
func (r *Registry) Defaults() []types.JobDefinition {
	return append([]types.JobDefinition(nil), r.defaults...)
}

// ============================================================================
// Snapshot and recovery
// ============================================================================

// SnapshotSchemaVersion is written into every snapshot.
const SnapshotSchemaVersion = 1

// Snapshot returns a deep copy of every job, deleted ones included.
func (r *Registry) Snapshot() types.SnapshotData {
	jobs := r.all()
	data := types.SnapshotData{
		Jobs:      make(map[types.JobID]*types.ScheduledJob, len(jobs)),
		SchemaVer: SnapshotSchemaVersion,
	}
	for i := range jobs {
		data.Jobs[jobs[i].ID] = cloneJob(jobs[i])
	}
	return data
}

// Restore replaces the registry content with a snapshot. It is meant for
// startup, before any run is launched.
func (r *Registry) Restore(data types.SnapshotData) {
	entries := make(map[types.JobID]*entry, len(data.Jobs))
	for id, j := range data.Jobs {
		if j == nil {
			continue
		}
		e := &entry{job: *cloneJob(*j)}
		e.job.ID = id
		e.publish()
		entries[id] = e
	}

	r.mu.Lock()
	r.entries = entries
	r.mu.Unlock()
}

// Apply replays a journaled transition without journaling it again.
func (r *Registry) Apply(t Transition) {
	r.mu.Lock()
	e, ok := r.entries[t.JobID]
	if !ok {
		e = &entry{}
		r.entries[t.JobID] = e
	}
	r.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.job = *cloneJob(t.Job)
	e.job.ID = t.JobID
	e.publish()
}

// AbandonRuns cancels every in-flight run context without recording a
// transition. Used when this process no longer owns the registry; the next
// owner marks those runs through RecoverLostRuns.
func (r *Registry) AbandonRuns() int {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	n := 0
	for _, e := range entries {
		e.mu.Lock()
		if e.cancel != nil {
			e.cancel()
			e.cancel = nil
			n++
		}
		e.mu.Unlock()
	}
	return n
}

// RecoverLostRuns marks every job that was running when the state was
// persisted as failed. No process holds those runs any more.
func (r *Registry) RecoverLostRuns() []types.JobID {
	var recovered []types.JobID
	for _, j := range r.all() {
		if !j.Running {
			continue
		}
		e, err := r.lookup(j.ID)
		if err != nil {
			continue
		}

		e.mu.Lock()
		if e.job.Running {
			next := *cloneJob(e.job)
			next.Running = false
			next.InterruptRequested = false
			next.LastResult = types.ResultError
			next.LastErrorMessage = MessageLostOnRestart
			if !next.Deleted {
				next.NextRunAt = r.nextRun(next, r.now())
			}
			if err := r.commit(e, CmdRecover, next); err == nil {
				recovered = append(recovered, j.ID)
			}
		}
		e.mu.Unlock()
	}
	if len(recovered) > 0 {
		log.Warn("runs lost on restart marked failed", "count", len(recovered))
	}
	return recovered
}

func cloneJob(j types.ScheduledJob) *types.ScheduledJob {
	c := j
	if j.LastRunAt != nil {
		t := *j.LastRunAt
		c.LastRunAt = &t
	}
	if j.NextRunAt != nil {
		t := *j.NextRunAt
		c.NextRunAt = &t
	}
	return &c
}
