package jobmanager

import (
	"errors"
	"fmt"
	"time"

	"github.com/ChuLiYu/depot-reserve/pkg/types"
)

// BatchFailure is one id a batch command could not apply.
type BatchFailure struct {
	JobID types.JobID
	Err   error
}

// BatchReport lists per-id outcomes of a batch command.
type BatchReport struct {
	Command   Command
	Succeeded []types.JobID
	Failed    []BatchFailure
}

// OK reports whether every id succeeded.
func (r BatchReport) OK() bool { return len(r.Failed) == 0 }

// Err joins the per-id failures, or returns nil.
func (r BatchReport) Err() error {
	if r.OK() {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, f := range r.Failed {
		errs = append(errs, fmt.Errorf("%s: %w", f.JobID, f.Err))
	}
	return errors.Join(errs...)
}

// batch applies fn to each id in order. Each call takes only that job's
// lock, and a failure never stops the remaining ids.
func (r *Registry) batch(cmd Command, ids []types.JobID, fn func(types.JobID) error) BatchReport {
	report := BatchReport{Command: cmd}
	for _, id := range ids {
		if err := fn(id); err != nil {
			report.Failed = append(report.Failed, BatchFailure{JobID: id, Err: err})
			continue
		}
		report.Succeeded = append(report.Succeeded, id)
	}
	if !report.OK() {
		log.Info("batch command partially applied", "command", cmd,
			"succeeded", len(report.Succeeded), "failed", len(report.Failed))
	}
	return report
}

// EnableMultiple enables each id independently.
func (r *Registry) EnableMultiple(ids []types.JobID) BatchReport {
	return r.batch(CmdEnable, ids, r.Enable)
}

// DisableMultiple disables each id independently. A running job is reported
// as a guard failure and the remaining ids are still processed.
func (r *Registry) DisableMultiple(ids []types.JobID) BatchReport {
	return r.batch(CmdDisable, ids, r.Disable)
}

// ClearMultipleErrors clears the error of each id independently.
func (r *Registry) ClearMultipleErrors(ids []types.JobID) BatchReport {
	return r.batch(CmdClearError, ids, r.ClearError)
}

// RestoreDefaults resets the registry to the built-in job set:
//   - default jobs get their configured name, trigger and enabled flag back
//     and are revived if deleted; their run history is kept
//   - missing default jobs are created
//   - other jobs are marked deleted
//
// A running job keeps its run. A running default job is restored in place;
// a running non-default job cannot be deleted and is reported as failed.
// Calling it twice in a row changes nothing the second time.
func (r *Registry) RestoreDefaults() BatchReport {
	report := BatchReport{Command: CmdRestoreDefaults}
	wanted := make(map[types.JobID]types.JobDefinition, len(r.defaults))
	for _, def := range r.defaults {
		wanted[def.ID] = def
	}

	for _, j := range r.all() {
		def, isDefault := wanted[j.ID]
		var err error
		if isDefault {
			err = r.restoreOne(def)
			delete(wanted, j.ID)
		} else if !j.Deleted {
			err = r.Delete(j.ID)
		} else {
			continue
		}
		if err != nil {
			report.Failed = append(report.Failed, BatchFailure{JobID: j.ID, Err: err})
			continue
		}
		report.Succeeded = append(report.Succeeded, j.ID)
	}

	for _, def := range r.defaults {
		if _, missing := wanted[def.ID]; !missing {
			continue
		}
		if err := r.Register(def); err != nil && !errors.Is(err, ErrDuplicateJob) {
			report.Failed = append(report.Failed, BatchFailure{JobID: def.ID, Err: err})
			continue
		}
		report.Succeeded = append(report.Succeeded, def.ID)
	}

	log.Info("defaults restored", "jobs", len(r.defaults), "failed", len(report.Failed))
	return report
}

func (r *Registry) restoreOne(def types.JobDefinition) error {
	e, err := r.lookup(def.ID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := *cloneJob(e.job)
	next.Name = def.Name
	next.Trigger = def.Trigger
	next.Enabled = def.Enabled
	next.Deleted = false
	if !next.Running {
		next.NextRunAt = r.nextRun(next, r.now())
		if e.job.Enabled == next.Enabled && e.job.NextRunAt != nil && next.NextRunAt != nil &&
			sameTrigger(e.job.Trigger, next.Trigger) {
			next.NextRunAt = e.job.NextRunAt
		}
	}

	if sameJob(e.job, next) {
		return nil
	}
	return r.commit(e, CmdRestoreDefaults, next)
}

func sameTrigger(a, b types.Trigger) bool {
	return a.Cron == b.Cron && a.Every == b.Every
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func sameJob(a, b types.ScheduledJob) bool {
	return a.ID == b.ID &&
		a.Name == b.Name &&
		sameTrigger(a.Trigger, b.Trigger) &&
		a.Enabled == b.Enabled &&
		a.Running == b.Running &&
		a.LastResult == b.LastResult &&
		a.LastErrorMessage == b.LastErrorMessage &&
		sameTime(a.LastRunAt, b.LastRunAt) &&
		sameTime(a.NextRunAt, b.NextRunAt) &&
		a.InterruptRequested == b.InterruptRequested &&
		a.Deleted == b.Deleted
}

// DefaultJobs is the built-in job set of a depot.
func DefaultJobs() []types.JobDefinition {
	return []types.JobDefinition{
		{ID: "release-expired-reservations", Name: "Release expired reservations", Trigger: types.Trigger{Every: 5 * time.Minute}, Enabled: true},
		{ID: "refill-pick-locations", Name: "Generate refill orders for pick locations", Trigger: types.Trigger{Cron: "*/15 * * * *"}, Enabled: true},
		{ID: "sync-stock-levels", Name: "Sync stock levels from the host system", Trigger: types.Trigger{Cron: "0 * * * *"}, Enabled: true},
		{ID: "nightly-inventory", Name: "Create nightly inventory count orders", Trigger: types.Trigger{Cron: "30 2 * * *"}, Enabled: false},
		{ID: "purge-order-history", Name: "Purge finished order history", Trigger: types.Trigger{Cron: "@daily"}, Enabled: false},
	}
}
