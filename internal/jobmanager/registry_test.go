package jobmanager

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

// ============================================================================
// Test Helper Functions
// ============================================================================

var t0 = time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recordingLauncher keeps the context of every launched run.
type recordingLauncher struct {
	mu   sync.Mutex
	runs map[types.JobID]context.Context
	err  error
}

func newRecordingLauncher() *recordingLauncher {
	return &recordingLauncher{runs: make(map[types.JobID]context.Context)}
}

func (l *recordingLauncher) Launch(ctx context.Context, job types.ScheduledJob) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.runs[job.ID] = ctx
	return nil
}

func (l *recordingLauncher) ctx(id types.JobID) context.Context {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.runs[id]
}

// memJournal records transitions and can be told to fail.
type memJournal struct {
	mu          sync.Mutex
	transitions []Transition
	fail        error
}

func (j *memJournal) Record(t Transition) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail != nil {
		return j.fail
	}
	j.transitions = append(j.transitions, t)
	return nil
}

func newTestJob(id string, enabled bool) types.JobDefinition {
	return types.JobDefinition{
		ID:      types.JobID(id),
		Name:    "job " + id,
		Trigger: types.Trigger{Every: 5 * time.Minute},
		Enabled: enabled,
	}
}

func newTestRegistry(t *testing.T, opts ...Option) (*Registry, *fakeClock, *recordingLauncher) {
	t.Helper()
	clock := &fakeClock{now: t0}
	launcher := newRecordingLauncher()
	opts = append([]Option{WithClock(clock.Now), WithLauncher(launcher)}, opts...)
	return NewRegistry(opts...), clock, launcher
}

func mustGet(t *testing.T, r *Registry, id types.JobID) types.ScheduledJob {
	t.Helper()
	j, err := r.Get(id)
	require.NoError(t, err)
	return j
}

func startRunning(t *testing.T, r *Registry, id string) {
	t.Helper()
	require.NoError(t, r.Register(newTestJob(id, true)))
	require.NoError(t, r.ExecuteNow(types.JobID(id)))
}

// ============================================================================
// Unit Tests
// ============================================================================

func TestRegister(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	require.NoError(t, r.Register(newTestJob("a", true)))
	j := mustGet(t, r, "a")
	assert.Equal(t, types.ResultNone, j.LastResult)
	require.NotNil(t, j.NextRunAt)
	assert.Equal(t, t0.Add(5*time.Minute), *j.NextRunAt)

	assert.ErrorIs(t, r.Register(newTestJob("a", true)), ErrDuplicateJob)

	bad := newTestJob("b", true)
	bad.Trigger = types.Trigger{Cron: "not a cron"}
	assert.ErrorIs(t, r.Register(bad), ErrInvalidTrigger)
	_, err := r.Get("b")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRegister_RevivesDeletedJob(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	require.NoError(t, r.Register(newTestJob("a", false)))
	require.NoError(t, r.Delete("a"))

	require.NoError(t, r.Register(newTestJob("a", true)))
	j := mustGet(t, r, "a")
	assert.False(t, j.Deleted)
	assert.True(t, j.Enabled)
}

func TestEnable(t *testing.T) {
	tests := []struct {
		name    string
		enabled bool
		wantErr error
	}{
		{"disabled job", false, nil},
		{"already enabled", true, ErrAlreadyEnabled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _, _ := newTestRegistry(t)
			require.NoError(t, r.Register(newTestJob("a", tt.enabled)))

			err := r.Enable("a")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.ErrorIs(t, err, ErrGuardViolation)
				return
			}
			require.NoError(t, err)
			j := mustGet(t, r, "a")
			assert.True(t, j.Enabled)
			assert.NotNil(t, j.NextRunAt)
		})
	}
}

func TestUnknownJob(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	for name, cmd := range map[string]func(types.JobID) error{
		"enable":     r.Enable,
		"disable":    r.Disable,
		"executeNow": r.ExecuteNow,
		"interrupt":  r.Interrupt,
		"clearError": r.ClearError,
		"delete":     r.Delete,
	} {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, cmd("missing"), ErrJobNotFound)
		})
	}
}

func TestDisable_RunningJobRejected(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	startRunning(t, r, "a")

	err := r.Disable("a")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrJobRunning)

	var ge *GuardError
	require.True(t, errors.As(err, &ge))
	assert.Equal(t, CmdDisable, ge.Command)
	assert.Equal(t, types.JobID("a"), ge.JobID)

	j := mustGet(t, r, "a")
	assert.True(t, j.Running)
	assert.True(t, j.Enabled)
	assert.Equal(t, types.StateRunning, VisualStateOf(j))
}

func TestDisable_AlreadyDisabledIsNoop(t *testing.T) {
	journal := &memJournal{}
	r, _, _ := newTestRegistry(t, WithJournal(journal))
	require.NoError(t, r.Register(newTestJob("a", false)))

	require.NoError(t, r.Disable("a"))
	assert.Len(t, journal.transitions, 1, "only the create is journaled")
}

func TestExecuteNow_DisabledThenEnabled(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	require.NoError(t, r.Register(newTestJob("j", false)))
	assert.Equal(t, types.StateDisabled, VisualStateOf(mustGet(t, r, "j")))

	err := r.ExecuteNow("j")
	assert.ErrorIs(t, err, ErrJobDisabled)
	assert.False(t, mustGet(t, r, "j").Running)

	require.NoError(t, r.Enable("j"))
	require.NoError(t, r.ExecuteNow("j"))

	j := mustGet(t, r, "j")
	assert.True(t, j.Running)
	require.NotNil(t, j.LastRunAt)
	assert.Equal(t, t0, *j.LastRunAt)
}

func TestExecuteNow_AlreadyRunningRejected(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	startRunning(t, r, "a")
	assert.ErrorIs(t, r.ExecuteNow("a"), ErrJobRunning)
}

func TestExecuteNow_LauncherRefusalChangesNothing(t *testing.T) {
	r, _, launcher := newTestRegistry(t)
	require.NoError(t, r.Register(newTestJob("a", true)))
	before := mustGet(t, r, "a")

	launcher.err = errors.New("pool full")
	assert.EqualError(t, r.ExecuteNow("a"), "pool full")
	assert.Equal(t, before, mustGet(t, r, "a"))
}

func TestInterrupt_WaitsForAcknowledgement(t *testing.T) {
	r, _, launcher := newTestRegistry(t)
	startRunning(t, r, "a")
	runCtx := launcher.ctx("a")
	require.NotNil(t, runCtx)
	require.NoError(t, runCtx.Err())

	require.NoError(t, r.Interrupt("a"))

	j := mustGet(t, r, "a")
	assert.True(t, j.InterruptRequested)
	assert.True(t, j.Running, "running stays set until the run acknowledges")
	assert.Equal(t, types.StateInterrupting, VisualStateOf(j))
	assert.ErrorIs(t, runCtx.Err(), context.Canceled)

	require.NoError(t, r.Finish("a", context.Canceled))
	j = mustGet(t, r, "a")
	assert.False(t, j.Running)
	assert.Equal(t, types.ResultNone, j.LastResult)
	assert.Equal(t, types.StateInterrupted, VisualStateOf(j))
}

func TestInterrupt_DisabledAfterwardShowsDisabled(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	startRunning(t, r, "a")
	require.NoError(t, r.Interrupt("a"))
	require.NoError(t, r.Finish("a", errors.New("export aborted")))
	assert.Equal(t, types.StateInterrupted, VisualStateOf(mustGet(t, r, "a")))

	require.NoError(t, r.Disable("a"))
	j := mustGet(t, r, "a")
	assert.Equal(t, types.StateDisabled, VisualStateOf(j))

	require.NoError(t, r.Enable("a"))
	assert.NotEqual(t, types.StateDisabled, VisualStateOf(mustGet(t, r, "a")))
}

func TestInterrupt_NotRunningRejected(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	require.NoError(t, r.Register(newTestJob("a", true)))
	assert.ErrorIs(t, r.Interrupt("a"), ErrNotRunning)
	assert.False(t, mustGet(t, r, "a").InterruptRequested)
}

func TestFinish(t *testing.T) {
	tests := []struct {
		name       string
		runErr     error
		wantResult types.LastResult
		wantMsg    string
		wantState  types.VisualState
	}{
		{"success", nil, types.ResultOK, "", types.StateSucceeded},
		{"failure", errors.New("host system timeout"), types.ResultError, "host system timeout", types.StateFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, clock, _ := newTestRegistry(t)
			startRunning(t, r, "a")
			clock.Advance(time.Minute)

			require.NoError(t, r.Finish("a", tt.runErr))
			j := mustGet(t, r, "a")
			assert.False(t, j.Running)
			assert.Equal(t, tt.wantResult, j.LastResult)
			assert.Equal(t, tt.wantMsg, j.LastErrorMessage)
			assert.Equal(t, tt.wantState, VisualStateOf(j))
			require.NotNil(t, j.NextRunAt)
			assert.Equal(t, t0.Add(6*time.Minute), *j.NextRunAt)
		})
	}
}

func TestFinish_NotRunning(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	require.NoError(t, r.Register(newTestJob("a", true)))
	assert.ErrorIs(t, r.Finish("a", nil), ErrNotRunning)
}

func TestClearError(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	startRunning(t, r, "a")

	assert.ErrorIs(t, r.ClearError("a"), ErrNoError)

	require.NoError(t, r.Finish("a", errors.New("boom")))
	require.NoError(t, r.ClearError("a"))

	j := mustGet(t, r, "a")
	assert.Equal(t, types.ResultNone, j.LastResult)
	assert.Empty(t, j.LastErrorMessage)
	assert.Equal(t, types.StateWaiting, VisualStateOf(j))
}

func TestDelete(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	startRunning(t, r, "a")
	assert.ErrorIs(t, r.Delete("a"), ErrJobRunning)

	require.NoError(t, r.Finish("a", nil))
	require.NoError(t, r.Delete("a"))

	_, err := r.Get("a")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, r.Enable("a"), ErrJobNotFound)
	assert.Empty(t, r.List())

	snap := r.Snapshot()
	require.Contains(t, snap.Jobs, types.JobID("a"), "deleted record is kept")
	assert.True(t, snap.Jobs["a"].Deleted)
}

func TestGuardRejectionHasNoSideEffects(t *testing.T) {
	journal := &memJournal{}
	r, _, _ := newTestRegistry(t, WithJournal(journal))
	startRunning(t, r, "a")
	before := mustGet(t, r, "a")
	recorded := len(journal.transitions)

	assert.Error(t, r.Disable("a"))
	assert.Error(t, r.ExecuteNow("a"))
	assert.Error(t, r.Delete("a"))
	assert.Error(t, r.ClearError("a"))
	assert.Error(t, r.Enable("a"))

	assert.Equal(t, before, mustGet(t, r, "a"))
	assert.Len(t, journal.transitions, recorded)
}

func TestJournalFailureLeavesJobUntouched(t *testing.T) {
	journal := &memJournal{}
	r, _, _ := newTestRegistry(t, WithJournal(journal))
	require.NoError(t, r.Register(newTestJob("a", false)))

	journal.fail = errors.New("disk full")
	assert.Error(t, r.Enable("a"))
	assert.False(t, mustGet(t, r, "a").Enabled)

	journal.fail = nil
	require.NoError(t, r.Enable("a"))
	last := journal.transitions[len(journal.transitions)-1]
	assert.Equal(t, CmdEnable, last.Command)
	assert.True(t, last.Job.Enabled)
	assert.Equal(t, t0, last.At)
}

func TestObserverSeesCommittedTransitions(t *testing.T) {
	var seen []Command
	r, _, _ := newTestRegistry(t, WithObserver(func(tr Transition) { seen = append(seen, tr.Command) }))
	startRunning(t, r, "a")
	require.NoError(t, r.Interrupt("a"))
	require.NoError(t, r.Finish("a", nil))
	assert.Error(t, r.Interrupt("a"))

	assert.Equal(t, []Command{CmdCreate, CmdExecute, CmdInterrupt, CmdFinish}, seen)
}

// ============================================================================
// Batch commands
// ============================================================================

func TestDisableMultiple_PartialSuccess(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	require.NoError(t, r.Register(newTestJob("X", true)))
	startRunning(t, r, "Y")
	require.NoError(t, r.Register(newTestJob("Z", true)))

	report := r.DisableMultiple([]types.JobID{"X", "Y", "Z"})

	assert.Equal(t, []types.JobID{"X", "Z"}, report.Succeeded)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, types.JobID("Y"), report.Failed[0].JobID)
	assert.ErrorIs(t, report.Failed[0].Err, ErrJobRunning)
	assert.False(t, report.OK())
	assert.ErrorIs(t, report.Err(), ErrGuardViolation)

	assert.False(t, mustGet(t, r, "X").Enabled)
	assert.False(t, mustGet(t, r, "Z").Enabled)
	y := mustGet(t, r, "Y")
	assert.True(t, y.Enabled)
	assert.True(t, y.Running)
}

func TestEnableMultiple(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	require.NoError(t, r.Register(newTestJob("a", false)))
	require.NoError(t, r.Register(newTestJob("b", true)))

	report := r.EnableMultiple([]types.JobID{"a", "b", "missing"})
	assert.Equal(t, []types.JobID{"a"}, report.Succeeded)
	require.Len(t, report.Failed, 2)
	assert.ErrorIs(t, report.Failed[0].Err, ErrAlreadyEnabled)
	assert.ErrorIs(t, report.Failed[1].Err, ErrJobNotFound)
}

func TestClearMultipleErrors(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	startRunning(t, r, "a")
	startRunning(t, r, "b")
	require.NoError(t, r.Finish("a", errors.New("boom")))
	require.NoError(t, r.Finish("b", nil))

	report := r.ClearMultipleErrors([]types.JobID{"a", "b"})
	assert.Equal(t, []types.JobID{"a"}, report.Succeeded)
	require.Len(t, report.Failed, 1)
	assert.ErrorIs(t, report.Failed[0].Err, ErrNoError)
	assert.Nil(t, BatchReport{}.Err())
}

func TestRestoreDefaults(t *testing.T) {
	defaults := []types.JobDefinition{newTestJob("d1", true), newTestJob("d2", false)}
	journal := &memJournal{}
	r, _, _ := newTestRegistry(t, WithDefaults(defaults), WithJournal(journal))

	report := r.RestoreDefaults()
	assert.True(t, report.OK())
	assert.Len(t, r.List(), 2)

	// drift away from the defaults
	require.NoError(t, r.Disable("d1"))
	require.NoError(t, r.Delete("d2"))
	require.NoError(t, r.Register(newTestJob("custom", true)))
	startRunning(t, r, "busy")

	report = r.RestoreDefaults()
	require.Len(t, report.Failed, 1)
	assert.Equal(t, types.JobID("busy"), report.Failed[0].JobID)

	d1 := mustGet(t, r, "d1")
	assert.True(t, d1.Enabled)
	d2 := mustGet(t, r, "d2")
	assert.False(t, d2.Deleted)
	assert.False(t, d2.Enabled)
	_, err := r.Get("custom")
	assert.ErrorIs(t, err, ErrJobNotFound)

	// second call is a no-op
	before := r.Snapshot()
	recorded := len(journal.transitions)
	r.RestoreDefaults()
	assert.Equal(t, before, r.Snapshot())
	assert.Len(t, journal.transitions, recorded)
}

// ============================================================================
// Scheduling
// ============================================================================

func TestDueAndTriggerScheduled(t *testing.T) {
	r, clock, launcher := newTestRegistry(t)
	require.NoError(t, r.Register(newTestJob("every5", true)))
	require.NoError(t, r.Register(newTestJob("off", false)))

	assert.Empty(t, r.Due(clock.Now()))

	clock.Advance(5 * time.Minute)
	assert.Equal(t, []types.JobID{"every5"}, r.Due(clock.Now()))

	started := r.TriggerScheduled(clock.Now())
	assert.Equal(t, []types.JobID{"every5"}, started)
	assert.NotNil(t, launcher.ctx("every5"))

	j := mustGet(t, r, "every5")
	assert.True(t, j.Running)
	assert.Equal(t, t0.Add(10*time.Minute), *j.NextRunAt)
	assert.Empty(t, r.Due(clock.Now().Add(time.Hour)), "running jobs are never due")
}

func TestParseTrigger(t *testing.T) {
	tests := []struct {
		name    string
		trigger types.Trigger
		wantErr bool
		next    time.Time
	}{
		{"every five minutes", types.Trigger{Cron: "*/5 * * * *"}, false, t0.Add(5 * time.Minute)},
		{"descriptor", types.Trigger{Cron: "@hourly"}, false, t0.Add(time.Hour)},
		{"interval", types.Trigger{Every: 90 * time.Second}, false, t0.Add(90 * time.Second)},
		{"both set", types.Trigger{Cron: "* * * * *", Every: time.Minute}, true, time.Time{}},
		{"empty", types.Trigger{}, true, time.Time{}},
		{"sub-second", types.Trigger{Every: time.Millisecond}, true, time.Time{}},
		{"six fields", types.Trigger{Cron: "0 * * * * *"}, true, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, err := NextRun(tt.trigger, t0)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTrigger)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.next, next)
		})
	}
}

func TestVisualStateOf(t *testing.T) {
	tests := []struct {
		name string
		job  types.ScheduledJob
		want types.VisualState
	}{
		{"disabled", types.ScheduledJob{}, types.StateDisabled},
		{"disabled with error", types.ScheduledJob{LastResult: types.ResultError}, types.StateDisabled},
		{"waiting", types.ScheduledJob{Enabled: true, LastResult: types.ResultNone}, types.StateWaiting},
		{"running", types.ScheduledJob{Enabled: true, Running: true}, types.StateRunning},
		{"succeeded", types.ScheduledJob{Enabled: true, LastResult: types.ResultOK}, types.StateSucceeded},
		{"failed", types.ScheduledJob{Enabled: true, LastResult: types.ResultError}, types.StateFailed},
		{"interrupting", types.ScheduledJob{Enabled: true, Running: true, InterruptRequested: true}, types.StateInterrupting},
		{"interrupted", types.ScheduledJob{Enabled: true, InterruptRequested: true}, types.StateInterrupted},
		{"disabled after interrupt", types.ScheduledJob{InterruptRequested: true}, types.StateDisabled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VisualStateOf(tt.job))
		})
	}

	colors := map[string]bool{}
	for _, s := range types.AllVisualStates {
		colors[s.Color()] = true
	}
	assert.Len(t, colors, len(types.AllVisualStates), "every state has its own color")
}

// ============================================================================
// Snapshot and recovery
// ============================================================================

func TestSnapshotRestore(t *testing.T) {
	r, _, _ := newTestRegistry(t)
	startRunning(t, r, "a")
	require.NoError(t, r.Register(newTestJob("b", false)))

	snap := r.Snapshot()
	assert.Equal(t, SnapshotSchemaVersion, snap.SchemaVer)

	// mutating the snapshot must not leak into the registry
	snap.Jobs["a"].Name = "changed"
	assert.Equal(t, "job a", mustGet(t, r, "a").Name)

	restored, _, _ := newTestRegistry(t)
	restored.Restore(r.Snapshot())
	assert.Equal(t, r.List(), restored.List())

	recovered := restored.RecoverLostRuns()
	assert.Equal(t, []types.JobID{"a"}, recovered)
	a := mustGet(t, restored, "a")
	assert.False(t, a.Running)
	assert.Equal(t, types.ResultError, a.LastResult)
	assert.Equal(t, MessageLostOnRestart, a.LastErrorMessage)
	assert.Equal(t, types.StateFailed, VisualStateOf(a))
}

func TestApplyReplaysJournal(t *testing.T) {
	journal := &memJournal{}
	r, _, _ := newTestRegistry(t, WithJournal(journal))
	startRunning(t, r, "a")
	require.NoError(t, r.Finish("a", errors.New("boom")))
	require.NoError(t, r.Register(newTestJob("b", true)))
	require.NoError(t, r.Delete("b"))

	replayed, _, _ := newTestRegistry(t)
	for _, tr := range journal.transitions {
		replayed.Apply(tr)
	}
	assert.Equal(t, r.Snapshot(), replayed.Snapshot())
}

// ============================================================================
// Concurrent tests
// ============================================================================

func TestConcurrentCommands(t *testing.T) {
	r, _, _ := newTestRegistry(t)

	const numJobs = 20
	for i := 0; i < numJobs; i++ {
		require.NoError(t, r.Register(newTestJob(fmt.Sprintf("job-%d", i), true)))
	}

	var wg sync.WaitGroup
	for i := 0; i < numJobs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := types.JobID(fmt.Sprintf("job-%d", i))
			for k := 0; k < 10; k++ {
				if err := r.ExecuteNow(id); err != nil {
					continue
				}
				_ = r.Interrupt(id)
				_ = r.Finish(id, nil)
			}
		}(i)
	}

	// readers never block on job locks
	done := make(chan struct{})
	go func() {
		defer close(done)
		for k := 0; k < 100; k++ {
			_ = r.List()
			_ = r.Due(t0)
		}
	}()

	wg.Wait()
	<-done

	for _, j := range r.List() {
		assert.False(t, j.Running, "job %s", j.ID)
		assert.Equal(t, types.StateInterrupted, VisualStateOf(j))
	}
}

// ============================================================================
// Benchmarks
// ============================================================================

func BenchmarkExecuteFinish(b *testing.B) {
	r := NewRegistry()
	_ = r.Register(types.JobDefinition{ID: "bench", Trigger: types.Trigger{Every: time.Minute}, Enabled: true})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = r.ExecuteNow("bench")
		_ = r.Finish("bench", nil)
	}
}

func BenchmarkList(b *testing.B) {
	r := NewRegistry()
	for i := 0; i < 100; i++ {
		_ = r.Register(types.JobDefinition{ID: types.JobID(fmt.Sprintf("job-%d", i)), Trigger: types.Trigger{Every: time.Minute}})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = r.List()
	}
}

func TestAbandonRuns(t *testing.T) {
	started := make(chan context.Context, 1)
	r := NewRegistry(WithLauncher(LauncherFunc(func(ctx context.Context, job types.ScheduledJob) error {
		started <- ctx
		return nil
	})))
	require.NoError(t, r.Register(types.JobDefinition{ID: "a", Trigger: types.Trigger{Cron: "@daily"}, Enabled: true}))
	require.NoError(t, r.Register(types.JobDefinition{ID: "b", Trigger: types.Trigger{Cron: "@daily"}, Enabled: true}))
	require.NoError(t, r.ExecuteNow("a"))
	runCtx := <-started

	assert.Equal(t, 1, r.AbandonRuns())
	assert.ErrorIs(t, runCtx.Err(), context.Canceled)

	j, err := r.Get("a")
	require.NoError(t, err)
	assert.True(t, j.Running, "no transition is recorded")
	assert.Equal(t, 0, r.AbandonRuns())
}
