// ============================================================================
// depot-reserve controller - process coordinator
// ============================================================================
//
// Package: internal/controller
// File: controller.go
//
// Components:
//   - dispatch queue + reservation dispatcher   work orders
//   - job registry + worker pool                scheduled jobs
//   - WAL + snapshot                            registry durability
//   - lock.Locker                               single registry owner
//   - status reporter + feed                    console projection
//
// Loops (one goroutine each):
//   1. dispatch loop  - dequeue orders, reserve up to N in parallel
//   2. result loop    - acknowledge finished runs through Registry.Finish
//   3. schedule loop  - start due jobs
//   4. snapshot loop  - snapshot the registry, rotate the WAL
//   5. lock loop      - renew registry ownership (only with a lock driver)
//
// Recovery on Start:
//   acquire lock -> load snapshot -> replay WAL after snapshot.LastSeq ->
//   register missing default jobs -> mark runs lost in the crash as failed
//
// Snapshot consistency:
//   Every registry mutation made through the controller holds stateMu for
//   reading; takeSnapshot holds it for writing, so the snapshot, its LastSeq
//   and the WAL rotation always agree.
//
// ============================================================================

package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ChuLiYu/depot-reserve/internal/dispatchqueue"
	"github.com/ChuLiYu/depot-reserve/internal/jobmanager"
	"github.com/ChuLiYu/depot-reserve/internal/lock"
	"github.com/ChuLiYu/depot-reserve/internal/metrics"
	"github.com/ChuLiYu/depot-reserve/internal/reservation"
	"github.com/ChuLiYu/depot-reserve/internal/snapshot"
	"github.com/ChuLiYu/depot-reserve/internal/status"
	"github.com/ChuLiYu/depot-reserve/internal/stock"
	"github.com/ChuLiYu/depot-reserve/internal/storage/wal"
	"github.com/ChuLiYu/depot-reserve/internal/worker"
	"github.com/ChuLiYu/depot-reserve/pkg/types"
)

var log = slog.Default()

var (
	ErrNotStarted     = errors.New("controller not started")
	ErrStopped        = errors.New("controller stopped")
	ErrNotOwner       = errors.New("registry ownership lost")
	ErrInvalidOrder   = errors.New("invalid order")
	ErrDuplicateOrder = errors.New("order already queued")
	ErrOrderNotFound  = errors.New("order not found")
	ErrOrderPending   = errors.New("order still queued")
)

// ============================================================================
// Configuration
// ============================================================================

// Config holds the controller settings.
type Config struct {
	Workers      int                     // worker pool size
	QueueSize    int                     // pool task buffer
	RunTimeout   time.Duration           // per-run limit, 0 = none
	Simulation   worker.SimulationConfig // fallback body for jobs without one
	ScheduleTick time.Duration           // due-job check interval

	ReservationConcurrency int           // orders reserved in parallel
	DispatchPollInterval   time.Duration // idle queue poll
	MaxOutcomes            int           // stored order outcomes, oldest evicted

	WALPath          string
	SnapshotPath     string
	SnapshotInterval time.Duration
	SyncOnAppend     bool
	KeepBackups      int
	RecoverRuns      bool // mark runs lost in a crash as failed

	LockRenewInterval time.Duration
	LockRetryInterval time.Duration
	LockTTL           time.Duration // ownership is given up once renewals fail this long

	FeedLines   int
	ReportLines int
}

func (c *Config) applyDefaults() {
	if c.Workers < 1 {
		c.Workers = 1
	}
	if c.QueueSize < 1 {
		c.QueueSize = 16
	}
	if c.ScheduleTick <= 0 {
		c.ScheduleTick = time.Second
	}
	if c.ReservationConcurrency < 1 {
		c.ReservationConcurrency = 1
	}
	if c.DispatchPollInterval <= 0 {
		c.DispatchPollInterval = 100 * time.Millisecond
	}
	if c.MaxOutcomes < 1 {
		c.MaxOutcomes = 10000
	}
	if c.SnapshotInterval <= 0 {
		c.SnapshotInterval = 5 * time.Minute
	}
	if c.LockRenewInterval <= 0 {
		c.LockRenewInterval = 5 * time.Second
	}
	if c.LockRetryInterval <= 0 {
		c.LockRetryInterval = 2 * time.Second
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 3 * c.LockRenewInterval
	}
	if c.ReportLines <= 0 {
		c.ReportLines = 50
	}
}

// Option configures optional collaborators.
type Option func(*Controller)

// WithDispatcher replaces the built-in picking/refilling/inventory dispatcher.
func WithDispatcher(d *reservation.Dispatcher) Option {
	return func(c *Controller) { c.dispatcher = d }
}

// WithBodies sets the job bodies. Jobs without a body run the simulated one.
func WithBodies(b *worker.Bodies) Option {
	return func(c *Controller) { c.bodies = b }
}

// WithLocker makes the controller win the lock before touching the registry.
func WithLocker(l lock.Locker) Option {
	return func(c *Controller) { c.locker = l }
}

// WithMetrics records metrics into m.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithDefaults sets the default job set used on first boot and by
// RestoreDefaults.
func WithDefaults(defs []types.JobDefinition) Option {
	return func(c *Controller) { c.defaults = defs }
}

// WithClock overrides time.Now for the scheduler and order stamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// ============================================================================
// Controller
// ============================================================================

// Controller owns the dispatch queue and the job registry of one process.
type Controller struct {
	mu       sync.Mutex // queue, outcomes, lifecycle flags
	queue    *dispatchqueue.Queue[types.Order]
	outcomes map[types.OrderID]types.OrderOutcome
	evict    []types.OrderID
	wake     chan struct{}

	stateMu sync.RWMutex // registry mutations (R) vs snapshot (W)

	dispatcher *reservation.Dispatcher
	registry   *jobmanager.Registry
	bodies     *worker.Bodies
	pool       *worker.Pool
	wal        *wal.WAL
	snapshot   *snapshot.Manager
	locker     lock.Locker
	metrics    *metrics.Collector
	feed       *status.Feed
	reporter   *status.Reporter
	sem        *semaphore.Weighted
	gate       *stockGate
	defaults   []types.JobDefinition
	now        func() time.Time

	config    Config
	cancel    context.CancelFunc
	lost      chan struct{}
	lostOnce  sync.Once
	loopWg    sync.WaitGroup
	resultWg  sync.WaitGroup
	reserveWg sync.WaitGroup
	startTime time.Time
	started   bool
	stopped   bool
}

// NewController wires a controller over store. Nothing runs until Start.
func NewController(config Config, store stock.Store, opts ...Option) (*Controller, error) {
	config.applyDefaults()

	c := &Controller{
		outcomes: make(map[types.OrderID]types.OrderOutcome),
		wake:     make(chan struct{}, 1),
		lost:     make(chan struct{}),
		sem:      semaphore.NewWeighted(int64(config.ReservationConcurrency)),
		gate:     newStockGate(),
		feed:     status.NewFeed(config.FeedLines),
		now:      time.Now,
		config:   config,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.queue = dispatchqueue.New[types.Order](dispatchqueue.WithClock[types.Order](c.now))

	if c.dispatcher == nil {
		if store == nil {
			return nil, errors.New("controller: a stock store or a dispatcher is required")
		}
		d, err := reservation.NewDispatcher(
			reservation.NewPickingStrategy(store),
			reservation.NewRefillingStrategy(store),
			reservation.NewInventoryStrategy(store),
		)
		if err != nil {
			return nil, err
		}
		c.dispatcher = d
	}
	if c.bodies == nil {
		c.bodies = worker.NewBodies()
	}
	c.bodies.SetFallback(worker.SimulatedBody(config.Simulation))
	if c.defaults == nil {
		c.defaults = jobmanager.DefaultJobs()
	}

	for _, p := range []string{config.WALPath, config.SnapshotPath} {
		if p == "" {
			return nil, errors.New("controller: WAL and snapshot paths are required")
		}
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
	}

	c.snapshot = snapshot.NewManager(config.SnapshotPath)

	c.pool = worker.NewPool(config.QueueSize, c.bodies,
		worker.WithFeed(c.feed),
		worker.WithRunTimeout(config.RunTimeout),
	)
	c.registry = jobmanager.NewRegistry(
		jobmanager.WithLauncher(c.pool),
		jobmanager.WithJournal(walJournal{c}),
		jobmanager.WithObserver(c.observe),
		jobmanager.WithClock(c.now),
		jobmanager.WithDefaults(c.defaults),
	)
	c.reporter = status.NewReporter(c.registry,
		status.WithFeed(c.feed),
		status.WithMaxLines(config.ReportLines),
		status.WithClock(c.now),
	)
	return c, nil
}

// walJournal records registry transitions in the WAL opened by Start.
type walJournal struct{ c *Controller }

func (j walJournal) Record(t jobmanager.Transition) error {
	if j.c.isLost() {
		return ErrNotOwner
	}
	job := t.Job
	_, err := j.c.wal.Append(wal.EventType(t.Command), t.JobID, &job)
	return err
}

func (c *Controller) observe(t jobmanager.Transition) {
	c.metrics.RecordCommand(string(t.Command), "ok")
	log.Debug("job transition", "command", t.Command, "jobID", t.JobID, "state", jobmanager.VisualStateOf(t.Job))
}

// Start recovers the registry and starts every loop.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return errors.New("controller already started")
	}
	if c.stopped {
		c.mu.Unlock()
		return ErrStopped
	}
	c.mu.Unlock()

	c.startTime = time.Now()

	if c.locker != nil {
		log.Info("Acquiring registry lock...")
		if err := lock.Acquire(ctx, c.locker, c.config.LockRetryInterval); err != nil {
			return fmt.Errorf("failed to acquire registry lock: %w", err)
		}
	}

	// only the lock owner opens the WAL
	walInstance, err := wal.NewWAL(c.config.WALPath, c.config.SyncOnAppend)
	if err != nil {
		c.releaseLock()
		return fmt.Errorf("failed to open WAL: %w", err)
	}
	c.mu.Lock()
	c.wal = walInstance
	c.mu.Unlock()

	log.Info("Starting recovery...")
	if err := c.recover(); err != nil {
		c.abortStart()
		return err
	}
	recoveryTime := time.Since(c.startTime)
	c.metrics.SetRecoveryTime(recoveryTime.Seconds())
	log.Info("Recovery completed", "duration", recoveryTime, "jobs", len(c.registry.List()))

	if err := c.pool.Start(c.config.Workers); err != nil {
		c.abortStart()
		return fmt.Errorf("failed to start worker pool: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.cancel = cancel
	c.started = true
	c.mu.Unlock()

	c.resultWg.Add(1)
	go c.resultLoop()

	c.loopWg.Add(3)
	go c.dispatchLoop(loopCtx)
	go c.scheduleLoop(loopCtx)
	go c.snapshotLoop(loopCtx)
	if c.locker != nil {
		c.loopWg.Add(1)
		go c.lockLoop(loopCtx)
	}

	log.Info("Controller started",
		"workers", c.config.Workers,
		"reservation_concurrency", c.config.ReservationConcurrency)
	return nil
}

// abortStart undoes a Start that failed after the WAL was opened.
func (c *Controller) abortStart() {
	c.mu.Lock()
	w := c.wal
	c.wal = nil
	c.mu.Unlock()
	if err := w.Close(); err != nil {
		log.Warn("Failed to close WAL", "error", err)
	}
	c.releaseLock()
}

// recover rebuilds the registry: snapshot, then the WAL records after it.
func (c *Controller) recover() error {
	data, err := c.snapshot.Load()
	if err != nil {
		return fmt.Errorf("loadSnapshot failed: %w", err)
	}
	c.registry.Restore(data)
	c.wal.AdvanceTo(data.LastSeq)

	replayed := 0
	err = c.wal.ReplayFrom(data.LastSeq, func(event wal.Event) error {
		if event.Job == nil {
			return nil
		}
		c.registry.Apply(jobmanager.Transition{
			Command: jobmanager.Command(event.Type),
			JobID:   event.JobID,
			Job:     *event.Job,
			At:      time.UnixMilli(event.Timestamp),
		})
		replayed++
		return nil
	})
	if err != nil {
		return fmt.Errorf("replayWAL failed: %w", err)
	}
	log.Info("Registry restored", "snapshot_jobs", len(data.Jobs), "snapshot_seq", data.LastSeq, "replayed", replayed)

	// first boot, or defaults added since the last run
	known := c.registry.Snapshot().Jobs
	for _, def := range c.defaults {
		if _, ok := known[def.ID]; ok {
			continue
		}
		if err := c.registry.Register(def); err != nil {
			return fmt.Errorf("failed to register default job %s: %w", def.ID, err)
		}
	}

	if c.config.RecoverRuns {
		if lost := c.registry.RecoverLostRuns(); len(lost) > 0 {
			log.Warn("Runs lost on restart", "jobs", lost)
		}
	}
	return nil
}

// ============================================================================
// Loops
// ============================================================================

// dispatchLoop reserves queued orders, at most ReservationConcurrency at a
// time, in queue order.
func (c *Controller) dispatchLoop(ctx context.Context) {
	defer c.loopWg.Done()
	ticker := time.NewTicker(c.config.DispatchPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Dispatch loop stopped")
			return
		case <-c.wake:
		case <-ticker.C:
		}
		c.drainQueue(ctx)
	}
}

func (c *Controller) drainQueue(ctx context.Context) {
	for {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return
		}

		c.mu.Lock()
		entry, ok := c.queue.Dequeue()
		depth := c.queue.Len()
		var ticket gateTicket
		if ok {
			ticket = c.gate.enter(entry.Payload)
		}
		c.mu.Unlock()

		if !ok {
			c.sem.Release(1)
			return
		}
		c.metrics.SetQueueDepth(depth)

		c.reserveWg.Add(1)
		go func(order types.Order) {
			defer c.reserveWg.Done()
			defer c.sem.Release(1)

			// earlier orders on the same stock reserve first
			c.gate.wait(ticket)
			defer c.gate.leave(ticket)

			// an order that has left the queue is always finished
			c.reserve(context.WithoutCancel(ctx), order)
		}(entry.Payload)
	}
}

// resultLoop acknowledges finished runs. It runs until the pool closes its
// result channel.
func (c *Controller) resultLoop() {
	defer c.resultWg.Done()
	for result := range c.pool.Results() {
		c.handleResult(result)
	}
	log.Info("Result loop stopped")
}

func (c *Controller) handleResult(result worker.Result) {
	c.stateMu.RLock()
	err := c.registry.Finish(result.JobID, result.Error)
	c.stateMu.RUnlock()

	if err != nil {
		log.Warn("Failed to acknowledge run", "jobID", result.JobID, "error", err)
		return
	}

	outcome := "ok"
	switch {
	case result.Interrupted:
		outcome = "interrupted"
	case !result.Success:
		outcome = "error"
	}
	c.metrics.RecordJobRun(outcome, result.Duration.Seconds())
	log.Debug("Job run acknowledged", "jobID", result.JobID, "result", outcome, "duration", result.Duration)
}

// scheduleLoop starts due jobs through the guarded execute path.
func (c *Controller) scheduleLoop(ctx context.Context) {
	defer c.loopWg.Done()
	ticker := time.NewTicker(c.config.ScheduleTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Schedule loop stopped")
			return
		case <-ticker.C:
			c.runDue()
		}
	}
}

func (c *Controller) runDue() []types.JobID {
	if c.isLost() {
		return nil
	}
	c.stateMu.RLock()
	started := c.registry.TriggerScheduled(c.now())
	c.stateMu.RUnlock()

	if len(started) > 0 {
		log.Debug("Scheduled runs started", "jobs", started)
	}
	c.metrics.SetJobsRunning(c.runningCount())
	return started
}

func (c *Controller) runningCount() int {
	n := 0
	for _, j := range c.registry.List() {
		if j.Running {
			n++
		}
	}
	return n
}

// snapshotLoop snapshots the registry periodically.
func (c *Controller) snapshotLoop(ctx context.Context) {
	defer c.loopWg.Done()
	ticker := time.NewTicker(c.config.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Snapshot loop stopped")
			return
		case <-ticker.C:
			if err := c.takeSnapshot(); err != nil {
				log.Error("Failed to take snapshot", "error", err)
			}
		}
	}
}

// takeSnapshot writes the registry with the WAL sequence it covers, then
// archives the WAL.
func (c *Controller) takeSnapshot() error {
	if c.isLost() {
		return ErrNotOwner
	}
	start := time.Now()

	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	data := c.registry.Snapshot()
	data.LastSeq = c.wal.GetLastSeq()

	if err := c.snapshot.WriteWithBackup(data, c.config.KeepBackups); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	archive, err := c.wal.Rotate()
	if err != nil {
		return fmt.Errorf("failed to rotate WAL: %w", err)
	}

	log.Info("Snapshot taken",
		"duration", time.Since(start),
		"jobs", len(data.Jobs),
		"seq", data.LastSeq,
		"wal_archive", archive)
	return nil
}

// lockLoop keeps the registry lock. Losing it, or failing to renew it for a
// whole TTL, fences every mutation.
func (c *Controller) lockLoop(ctx context.Context) {
	defer c.loopWg.Done()
	ticker := time.NewTicker(c.config.LockRenewInterval)
	defer ticker.Stop()
	lastRenew := time.Now()

	for {
		select {
		case <-ctx.Done():
			log.Info("Lock loop stopped")
			return
		case <-ticker.C:
			err := c.locker.Renew(ctx)
			if err == nil {
				lastRenew = time.Now()
				continue
			}
			if errors.Is(err, lock.ErrLockLost) || errors.Is(err, lock.ErrNotHeld) {
				log.Error("Registry lock lost, refusing further changes", "error", err)
				c.lostOnce.Do(func() { close(c.lost) })
				return
			}
			if stale := time.Since(lastRenew); stale >= c.config.LockTTL {
				log.Error("Registry lock not renewed within TTL, refusing further changes",
					"error", err, "since_renew", stale, "ttl", c.config.LockTTL)
				c.lostOnce.Do(func() { close(c.lost) })
				return
			}
			log.Warn("Failed to renew registry lock", "error", err)
		}
	}
}

// Lost is closed when registry ownership is lost. The process should stop.
func (c *Controller) Lost() <-chan struct{} {
	return c.lost
}

func (c *Controller) isLost() bool {
	select {
	case <-c.lost:
		return true
	default:
		return false
	}
}

func (c *Controller) releaseLock() {
	if c.locker == nil || c.isLost() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.locker.Release(ctx); err != nil {
		log.Error("Failed to release registry lock", "error", err)
	}
}

// ============================================================================
// Shutdown
// ============================================================================

// Stop shuts the controller down.
//
// Order:
//  1. cancel the loops, wait for in-flight reservations
//  2. interrupt running jobs, stop the pool (result loop drains it)
//  3. final snapshot, close the WAL, release the lock
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		log.Info("Controller already stopped")
		return
	}
	c.stopped = true
	started := c.started
	cancel := c.cancel
	c.mu.Unlock()

	log.Info("Stopping controller...")

	if started {
		cancel()
		c.loopWg.Wait()
		c.reserveWg.Wait()

		if !c.isLost() {
			c.stateMu.RLock()
			for _, j := range c.registry.List() {
				if j.Running && !j.InterruptRequested {
					if err := c.registry.Interrupt(j.ID); err != nil {
						log.Warn("Failed to interrupt job on shutdown", "jobID", j.ID, "error", err)
					}
				}
			}
			c.stateMu.RUnlock()
		} else if n := c.registry.AbandonRuns(); n > 0 {
			log.Warn("Abandoned runs after losing ownership", "count", n)
		}

		c.pool.Stop()
		c.resultWg.Wait()

		if !c.isLost() {
			if err := c.takeSnapshot(); err != nil {
				log.Error("Failed to take final snapshot", "error", err)
			}
		}
	}

	if c.wal != nil {
		if err := c.wal.Close(); err != nil {
			log.Error("Failed to close WAL", "error", err)
		}
	}
	if started {
		c.releaseLock()
	}
	log.Info("Controller stopped")
}
