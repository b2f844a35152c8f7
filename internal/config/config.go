// Package config loads the depot YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/depot-reserve/internal/jobmanager"
	"github.com/ChuLiYu/depot-reserve/pkg/types"
)

// DefaultPath is where the CLI looks for the config file.
const DefaultPath = "configs/default.yaml"

// Driver names.
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
	DriverNone     = "none"
)

// Config is the complete process configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Scheduler   SchedulerConfig   `yaml:"scheduler"`
	Reservation ReservationConfig `yaml:"reservation"`
	Storage     StorageConfig     `yaml:"storage"`
	Stock       StockConfig       `yaml:"stock"`
	Lock        LockConfig        `yaml:"lock"`
	Status      StatusConfig      `yaml:"status"`

	// Jobs replaces the built-in default job set when non-empty.
	Jobs []types.JobDefinition `yaml:"jobs"`
}

type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type SchedulerConfig struct {
	Tick        time.Duration    `yaml:"tick"`         // how often due jobs are checked
	Workers     int              `yaml:"workers"`      // worker pool size
	QueueSize   int              `yaml:"queue_size"`   // pool task buffer
	RunTimeout  time.Duration    `yaml:"run_timeout"`  // 0 = unlimited
	Simulation  SimulationConfig `yaml:"simulation"`   // body used for jobs without a registered one
	RecoverRuns bool             `yaml:"recover_runs"` // mark runs lost in a crash as failed
}

type SimulationConfig struct {
	Batches   int           `yaml:"batches"`
	BatchTime time.Duration `yaml:"batch_time"`
	FailRate  float64       `yaml:"fail_rate"`
}

type ReservationConfig struct {
	Concurrency  int           `yaml:"concurrency"`   // orders reserved in parallel
	PollInterval time.Duration `yaml:"poll_interval"` // idle queue poll
	MaxOutcomes  int           `yaml:"max_outcomes"`  // stored order outcomes
}

type StorageConfig struct {
	DataDir          string        `yaml:"data_dir"`
	WALFile          string        `yaml:"wal_file"`
	SnapshotFile     string        `yaml:"snapshot_file"`
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	SyncOnAppend     bool          `yaml:"sync_on_append"`
	KeepBackups      int           `yaml:"keep_backups"`
}

// WALPath returns the journal path inside DataDir.
func (s StorageConfig) WALPath() string { return filepath.Join(s.DataDir, s.WALFile) }

// SnapshotPath returns the snapshot path inside DataDir.
func (s StorageConfig) SnapshotPath() string { return filepath.Join(s.DataDir, s.SnapshotFile) }

type StockConfig struct {
	Driver    string      `yaml:"driver"` // memory | redis
	RedisURL  string      `yaml:"redis_url"`
	Prefix    string      `yaml:"prefix"`
	Locations []string    `yaml:"locations"`
	Seed      []StockSeed `yaml:"seed"`
}

// StockSeed is an initial stock level loaded at start-up.
type StockSeed struct {
	Product  string `yaml:"product"`
	Location string `yaml:"location"` // empty: product pool
	Qty      int    `yaml:"qty"`
}

type LockConfig struct {
	Driver        string        `yaml:"driver"` // none | redis | postgres
	Name          string        `yaml:"name"`
	RedisURL      string        `yaml:"redis_url"`
	PostgresDSN   string        `yaml:"postgres_dsn"`
	TTL           time.Duration `yaml:"ttl"`
	RenewInterval time.Duration `yaml:"renew_interval"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

type StatusConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	FeedLines    int           `yaml:"feed_lines"`
	ReportLines  int           `yaml:"report_lines"`
}

// Default returns a configuration usable without a file: in-memory stock,
// no lock, local data directory.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Enabled: true, Addr: ":50051"},
		Metrics: MetricsConfig{Enabled: false, Port: 9090},
		Scheduler: SchedulerConfig{
			Tick:        time.Second,
			Workers:     4,
			QueueSize:   64,
			Simulation:  SimulationConfig{Batches: 3, BatchTime: 500 * time.Millisecond},
			RecoverRuns: true,
		},
		Reservation: ReservationConfig{
			Concurrency:  4,
			PollInterval: 50 * time.Millisecond,
			MaxOutcomes:  10000,
		},
		Storage: StorageConfig{
			DataDir:          "data",
			WALFile:          "registry.wal",
			SnapshotFile:     "registry.json",
			SnapshotInterval: 5 * time.Minute,
			SyncOnAppend:     true,
			KeepBackups:      3,
		},
		Stock: StockConfig{Driver: DriverMemory, Prefix: "depot:stock:"},
		Lock: LockConfig{
			Driver:        DriverNone,
			Name:          "depot-registry",
			TTL:           15 * time.Second,
			RenewInterval: 5 * time.Second,
			RetryInterval: 2 * time.Second,
		},
		Status: StatusConfig{PollInterval: 2 * time.Second, FeedLines: 200, ReportLines: 50},
	}
}

// Load reads path over the defaults. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// JobDefinitions returns the configured jobs, or the built-in set.
func (c *Config) JobDefinitions() []types.JobDefinition {
	if len(c.Jobs) > 0 {
		return c.Jobs
	}
	return jobmanager.DefaultJobs()
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Server.Enabled && c.Server.Addr == "" {
		add("server.addr is required when the server is enabled")
	}
	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		add("metrics.port %d is out of range", c.Metrics.Port)
	}

	if c.Scheduler.Tick <= 0 {
		add("scheduler.tick must be positive")
	}
	if c.Scheduler.Workers < 1 {
		add("scheduler.workers must be at least 1")
	}
	if c.Scheduler.QueueSize < 1 {
		add("scheduler.queue_size must be at least 1")
	}
	if c.Scheduler.RunTimeout < 0 {
		add("scheduler.run_timeout must not be negative")
	}
	if r := c.Scheduler.Simulation.FailRate; r < 0 || r > 1 {
		add("scheduler.simulation.fail_rate %v is not in [0,1]", r)
	}

	if c.Reservation.Concurrency < 1 {
		add("reservation.concurrency must be at least 1")
	}
	if c.Reservation.PollInterval <= 0 {
		add("reservation.poll_interval must be positive")
	}

	if c.Storage.DataDir == "" || c.Storage.WALFile == "" || c.Storage.SnapshotFile == "" {
		add("storage.data_dir, storage.wal_file and storage.snapshot_file are required")
	}
	if c.Storage.SnapshotInterval <= 0 {
		add("storage.snapshot_interval must be positive")
	}

	switch c.Stock.Driver {
	case DriverMemory:
	case DriverRedis:
		if c.Stock.RedisURL == "" {
			add("stock.redis_url is required for the redis driver")
		}
	default:
		add("stock.driver %q is not one of memory, redis", c.Stock.Driver)
	}
	for i, s := range c.Stock.Seed {
		if s.Product == "" || s.Qty < 0 {
			add("stock.seed[%d] needs a product and a non-negative qty", i)
		}
	}

	switch c.Lock.Driver {
	case DriverNone:
	case DriverRedis:
		if c.Lock.RedisURL == "" {
			add("lock.redis_url is required for the redis driver")
		}
		if c.Lock.TTL <= c.Lock.RenewInterval {
			add("lock.ttl must be longer than lock.renew_interval")
		}
	case DriverPostgres:
		if c.Lock.PostgresDSN == "" {
			add("lock.postgres_dsn is required for the postgres driver")
		}
	default:
		add("lock.driver %q is not one of none, redis, postgres", c.Lock.Driver)
	}
	if c.Lock.Driver != DriverNone && (c.Lock.RenewInterval <= 0 || c.Lock.RetryInterval <= 0) {
		add("lock.renew_interval and lock.retry_interval must be positive")
	}

	if c.Status.PollInterval <= 0 {
		add("status.poll_interval must be positive")
	}

	seen := make(map[types.JobID]bool)
	for i, def := range c.Jobs {
		if def.ID == "" {
			add("jobs[%d].id is required", i)
			continue
		}
		if seen[def.ID] {
			add("jobs[%d]: duplicate id %q", i, def.ID)
		}
		seen[def.ID] = true
		if _, err := jobmanager.ParseTrigger(def.Trigger); err != nil {
			add("jobs[%d] %s: %w", i, def.ID, err)
		}
	}

	return errors.Join(errs...)
}
