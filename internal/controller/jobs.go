package controller

import (
	"context"
	"time"

	"github.com/ChuLiYu/depot-reserve/internal/jobmanager"
	"github.com/ChuLiYu/depot-reserve/internal/status"
	"github.com/ChuLiYu/depot-reserve/pkg/types"
)

// ============================================================================
// Job lifecycle commands
// ============================================================================
//
// Every command goes through the registry guards. A rejected command changes
// nothing and is counted as "rejected".

// fenced reports why commands cannot run right now.
func (c *Controller) fenced() error {
	if c.isLost() {
		return ErrNotOwner
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.stopped:
		return ErrStopped
	case !c.started:
		return ErrNotStarted
	}
	return nil
}

// command runs fn under the registry read lock unless fenced.
func (c *Controller) command(cmd jobmanager.Command, fn func() error) error {
	if err := c.fenced(); err != nil {
		c.metrics.RecordCommand(string(cmd), "rejected")
		return err
	}
	c.stateMu.RLock()
	err := fn()
	c.stateMu.RUnlock()

	if err != nil {
		c.metrics.RecordCommand(string(cmd), "rejected")
		log.Info("Job command rejected", "command", cmd, "error", err)
	}
	return err
}

// batchCommand runs fn under the state lock. A fenced controller fails every
// id in ids.
func (c *Controller) batchCommand(cmd jobmanager.Command, ids []types.JobID, fn func() jobmanager.BatchReport) jobmanager.BatchReport {
	if err := c.fenced(); err != nil {
		report := jobmanager.BatchReport{Command: cmd, Failed: make([]jobmanager.BatchFailure, 0, len(ids))}
		for _, id := range ids {
			c.metrics.RecordCommand(string(cmd), "rejected")
			report.Failed = append(report.Failed, jobmanager.BatchFailure{JobID: id, Err: err})
		}
		return report
	}
	c.stateMu.RLock()
	report := fn()
	c.stateMu.RUnlock()

	for range report.Failed {
		c.metrics.RecordCommand(string(cmd), "rejected")
	}
	return report
}

// EnableJobs enables each id independently.
func (c *Controller) EnableJobs(ids []types.JobID) jobmanager.BatchReport {
	return c.batchCommand(jobmanager.CmdEnable, ids, func() jobmanager.BatchReport {
		return c.registry.EnableMultiple(ids)
	})
}

// DisableJobs disables each id independently. Running jobs are refused.
func (c *Controller) DisableJobs(ids []types.JobID) jobmanager.BatchReport {
	return c.batchCommand(jobmanager.CmdDisable, ids, func() jobmanager.BatchReport {
		return c.registry.DisableMultiple(ids)
	})
}

// ClearJobErrors clears the last error of each id independently.
func (c *Controller) ClearJobErrors(ids []types.JobID) jobmanager.BatchReport {
	return c.batchCommand(jobmanager.CmdClearError, ids, func() jobmanager.BatchReport {
		return c.registry.ClearMultipleErrors(ids)
	})
}

// RestoreDefaults resets the registry to the default job set.
func (c *Controller) RestoreDefaults() jobmanager.BatchReport {
	ids := make([]types.JobID, 0, len(c.defaults))
	for _, def := range c.defaults {
		ids = append(ids, def.ID)
	}
	return c.batchCommand(jobmanager.CmdRestoreDefaults, ids, c.registry.RestoreDefaults)
}

// ExecuteJob starts a run now. It returns once the run is handed off.
func (c *Controller) ExecuteJob(id types.JobID) error {
	return c.command(jobmanager.CmdExecute, func() error { return c.registry.ExecuteNow(id) })
}

// InterruptJob asks a running job to stop.
func (c *Controller) InterruptJob(id types.JobID) error {
	return c.command(jobmanager.CmdInterrupt, func() error { return c.registry.Interrupt(id) })
}

// DeleteJob removes a job that is not running.
func (c *Controller) DeleteJob(id types.JobID) error {
	return c.command(jobmanager.CmdDelete, func() error { return c.registry.Delete(id) })
}

// RegisterJob adds a job definition.
func (c *Controller) RegisterJob(def types.JobDefinition) error {
	return c.command(jobmanager.CmdCreate, func() error { return c.registry.Register(def) })
}

// Job returns one job.
func (c *Controller) Job(id types.JobID) (types.ScheduledJob, error) {
	return c.registry.Get(id)
}

// Jobs returns every active job ordered by id.
func (c *Controller) Jobs() []types.ScheduledJob {
	return c.registry.List()
}

// ============================================================================
// Status
// ============================================================================

// Status returns the current console report.
func (c *Controller) Status() status.Report {
	return c.reporter.Snapshot()
}

// Watch streams reports every interval until ctx is done.
func (c *Controller) Watch(ctx context.Context, interval time.Duration) <-chan status.Report {
	return c.reporter.Watch(ctx, interval)
}

// Feed returns the status feed shared with the worker pool.
func (c *Controller) Feed() *status.Feed {
	return c.feed
}

// GetStatus returns a flat summary for logs and the demo.
func (c *Controller) GetStatus() map[string]interface{} {
	c.mu.Lock()
	pending := c.queue.Len()
	outcomes := len(c.outcomes)
	started, stopped := c.started, c.stopped
	var walSeq uint64
	if c.wal != nil {
		walSeq = c.wal.GetLastSeq()
	}
	c.mu.Unlock()

	report := c.reporter.Snapshot()
	counts := make(map[string]int, len(report.Counts))
	for state, n := range report.Counts {
		counts[string(state)] = n
	}

	return map[string]interface{}{
		"started":        started,
		"stopped":        stopped,
		"owner":          !c.isLost(),
		"pending_orders": pending,
		"outcomes":       outcomes,
		"jobs":           len(report.Jobs),
		"job_states":     counts,
		"workers":        c.pool.GetWorkerCount(),
		"wal_seq":        walSeq,
	}
}
