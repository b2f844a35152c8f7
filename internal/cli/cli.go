// ============================================================================
// depot CLI
// ============================================================================
//
// Package: internal/cli
// File: cli.go
//
// Command Structure:
//   depot                          # root
//   ├── run                        # start the depot process
//   ├── submit -f orders.json      # queue work orders
//   ├── result <order-id>          # reservation outcome of an order
//   ├── jobs                       # scheduled job console
//   │   ├── list
//   │   ├── enable  <id>...
//   │   ├── disable <id>...
//   │   ├── clear   <id>...
//   │   ├── execute <id>
//   │   ├── interrupt <id>
//   │   ├── delete  <id>
//   │   └── restore
//   └── status [--watch]           # console report
//
//   --config, -c   config file (default configs/default.yaml)
//   --addr         admin service address used by the client commands
//   --log-level    debug | info | warn | error
//
// run Command:
//   1. load and validate the config
//   2. open the stock store and the registry lock
//   3. create and start the Controller (recovery happens here)
//   4. start the metrics HTTP server and the admin gRPC service
//   5. wait for SIGINT/SIGTERM or loss of registry ownership
//   6. stop the gRPC service, then the Controller (final snapshot)
//
// Every other command is a client of the admin service of a running
// process.
//
// ============================================================================

package cli

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/ChuLiYu/depot-reserve/internal/config"
	"github.com/ChuLiYu/depot-reserve/internal/controller"
	"github.com/ChuLiYu/depot-reserve/internal/lock"
	"github.com/ChuLiYu/depot-reserve/internal/metrics"
	"github.com/ChuLiYu/depot-reserve/internal/server"
	"github.com/ChuLiYu/depot-reserve/internal/stock"
	"github.com/ChuLiYu/depot-reserve/internal/worker"
)

var (
	configFile string
	adminAddr  string
	logLevel   string
)

// BuildCLI returns the root command.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "depot",
		Short: "depot: warehouse order reservation and scheduled job console",
		Long: `depot reserves stock for warehouse work orders and runs the depot's
recurring background jobs:
- priority dispatch queue with per-row reservation results
- guarded job lifecycle (enable, disable, execute, interrupt, delete)
- WAL + snapshot recovery of the job registry
- Prometheus metrics and a gRPC admin console`,
		Version:       "1.0.0",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(logLevel)
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", config.DefaultPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&adminAddr, "addr", "localhost:50051", "admin service address")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildSubmitCommand())
	rootCmd.AddCommand(buildResultCommand())
	rootCmd.AddCommand(buildJobsCommand())
	rootCmd.AddCommand(buildStatusCommand())

	return rootCmd
}

func setupLogging(level string) error {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return fmt.Errorf("invalid --log-level %q", level)
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	slog.SetDefault(slog.New(handler))
	return nil
}

// ============================================================================
// run
// ============================================================================

func buildRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Start the depot process",
		Long:  "Recover the job registry and start order dispatch, scheduling, metrics and the admin service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configFile)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return runSystem(cfg)
		},
	}
}

func runSystem(cfg *config.Config) error {
	log.Printf("Starting depot with config: %s\n", configFile)
	log.Printf("Workers: %d, Reservation concurrency: %d, Stock: %s, Lock: %s\n",
		cfg.Scheduler.Workers, cfg.Reservation.Concurrency, cfg.Stock.Driver, cfg.Lock.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	node, err := newNode(ctx, cfg)
	if err != nil {
		return err
	}
	defer node.close()

	defer node.ctrl.Stop()
	if err := node.ctrl.Start(ctx); err != nil {
		return fmt.Errorf("failed to start controller: %w", err)
	}

	if cfg.Metrics.Enabled {
		go func() {
			log.Printf("Starting metrics server on :%d\n", cfg.Metrics.Port)
			if err := metrics.StartServer(cfg.Metrics.Port, node.registry); err != nil {
				log.Printf("Metrics server error: %v\n", err)
			}
		}()
	}

	if cfg.Server.Enabled {
		srv := server.NewServer(node.ctrl)
		go func() {
			if err := srv.ListenAndServe(cfg.Server.Addr); err != nil {
				log.Printf("Admin service error: %v\n", err)
				stop()
			}
		}()
		defer srv.Stop()
	}

	log.Println("System started successfully")

	select {
	case <-ctx.Done():
		log.Println("Received shutdown signal, stopping gracefully...")
	case <-node.ctrl.Lost():
		log.Println("Registry ownership lost, stopping")
		return errors.New("registry lock lost")
	}
	return nil
}

// node is one wired depot process.
type node struct {
	ctrl     *controller.Controller
	registry *prometheus.Registry
	closers  []func() error
}

func (n *node) close() {
	for i := len(n.closers) - 1; i >= 0; i-- {
		if err := n.closers[i](); err != nil {
			log.Printf("Close error: %v\n", err)
		}
	}
}

// newNode opens the configured drivers and builds the controller.
func newNode(ctx context.Context, cfg *config.Config) (*node, error) {
	n := &node{registry: prometheus.NewRegistry()}
	n.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	store, closeStore, err := openStore(ctx, cfg.Stock)
	if err != nil {
		return nil, err
	}
	if closeStore != nil {
		n.closers = append(n.closers, closeStore)
	}

	opts := []controller.Option{
		controller.WithDefaults(cfg.JobDefinitions()),
		controller.WithBodies(worker.NewBodies()),
		controller.WithMetrics(metrics.NewCollector(n.registry)),
	}

	locker, closeLock, err := openLocker(ctx, cfg.Lock)
	if err != nil {
		n.close()
		return nil, err
	}
	if closeLock != nil {
		n.closers = append(n.closers, closeLock)
	}
	if locker != nil {
		opts = append(opts, controller.WithLocker(locker))
	}

	ctrl, err := controller.NewController(controllerConfig(cfg), store, opts...)
	if err != nil {
		n.close()
		return nil, fmt.Errorf("failed to create controller: %w", err)
	}
	n.ctrl = ctrl
	return n, nil
}

func controllerConfig(cfg *config.Config) controller.Config {
	return controller.Config{
		Workers:    cfg.Scheduler.Workers,
		QueueSize:  cfg.Scheduler.QueueSize,
		RunTimeout: cfg.Scheduler.RunTimeout,
		Simulation: worker.SimulationConfig{
			Batches:   cfg.Scheduler.Simulation.Batches,
			BatchTime: cfg.Scheduler.Simulation.BatchTime,
			FailRate:  cfg.Scheduler.Simulation.FailRate,
		},
		ScheduleTick:           cfg.Scheduler.Tick,
		ReservationConcurrency: cfg.Reservation.Concurrency,
		DispatchPollInterval:   cfg.Reservation.PollInterval,
		MaxOutcomes:            cfg.Reservation.MaxOutcomes,
		WALPath:                cfg.Storage.WALPath(),
		SnapshotPath:           cfg.Storage.SnapshotPath(),
		SnapshotInterval:       cfg.Storage.SnapshotInterval,
		SyncOnAppend:           cfg.Storage.SyncOnAppend,
		KeepBackups:            cfg.Storage.KeepBackups,
		RecoverRuns:            cfg.Scheduler.RecoverRuns,
		LockRenewInterval:      cfg.Lock.RenewInterval,
		LockRetryInterval:      cfg.Lock.RetryInterval,
		LockTTL:                cfg.Lock.TTL,
		FeedLines:              cfg.Status.FeedLines,
		ReportLines:            cfg.Status.ReportLines,
	}
}

// openStore builds the stock store. Seed levels only apply to the memory
// driver; a Redis stock view is owned by whoever feeds it.
func openStore(ctx context.Context, cfg config.StockConfig) (stock.Store, func() error, error) {
	switch cfg.Driver {
	case config.DriverRedis:
		rs, err := stock.NewRedisStoreFromURL(ctx, cfg.RedisURL, cfg.Prefix)
		if err != nil {
			return nil, nil, err
		}
		for _, loc := range cfg.Locations {
			if err := rs.AddLocation(ctx, loc); err != nil {
				rs.Close()
				return nil, nil, fmt.Errorf("failed to register location %s: %w", loc, err)
			}
		}
		return rs, rs.Close, nil

	default:
		ms := stock.NewMemoryStore()
		for _, loc := range cfg.Locations {
			ms.AddLocation(loc)
		}
		for _, s := range cfg.Seed {
			if s.Location != stock.PoolLocation {
				ms.AddLocation(s.Location)
			}
			if s.Qty == 0 {
				continue
			}
			if err := ms.Put(ctx, s.Product, s.Location, s.Qty); err != nil {
				return nil, nil, fmt.Errorf("failed to seed %s: %w", s.Product, err)
			}
		}
		return ms, nil, nil
	}
}

// openLocker builds the registry lock, or nil for the none driver.
func openLocker(ctx context.Context, cfg config.LockConfig) (lock.Locker, func() error, error) {
	switch cfg.Driver {
	case config.DriverRedis:
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse lock Redis URL: %w", err)
		}
		client := redis.NewClient(opts)
		return lock.NewRedisLocker(client, "depot:lock:"+cfg.Name, cfg.TTL), client.Close, nil

	case config.DriverPostgres:
		db, err := lock.OpenPostgres(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return lock.NewPostgresLocker(db, cfg.Name), db.Close, nil

	default:
		return nil, nil, nil
	}
}

// ============================================================================
// Client helpers
// ============================================================================

func withClient(fn func(ctx context.Context, c *server.Client) error) error {
	client, err := server.Dial(adminAddr)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return fn(ctx, client)
}
