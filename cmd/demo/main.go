package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ChuLiYu/depot-reserve/internal/config"
	"github.com/ChuLiYu/depot-reserve/internal/controller"
	"github.com/ChuLiYu/depot-reserve/internal/stock"
	"github.com/ChuLiYu/depot-reserve/internal/worker"
	"github.com/ChuLiYu/depot-reserve/pkg/types"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run cmd/demo/main.go <start|recover>")
		os.Exit(1)
	}

	mode := os.Args[1]
	cfg, err := config.Load(config.DefaultPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := seedStore(cfg.Stock)
	if err != nil {
		log.Fatalf("Failed to seed stock: %v", err)
	}

	ctrl, err := controller.NewController(controller.Config{
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
		WALPath:                cfg.Storage.WALPath(),
		SnapshotPath:           cfg.Storage.SnapshotPath(),
		SnapshotInterval:       cfg.Storage.SnapshotInterval,
		SyncOnAppend:           cfg.Storage.SyncOnAppend,
		KeepBackups:            cfg.Storage.KeepBackups,
		RecoverRuns:            true,
	}, store, controller.WithDefaults(cfg.JobDefinitions()))
	if err != nil {
		log.Fatalf("Failed to create controller: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ctrl.Start(ctx); err != nil {
		log.Fatalf("Failed to start controller: %v", err)
	}
	fmt.Printf("✓ Controller started (mode: %s)\n", mode)

	switch mode {
	case "start":
		runStart(ctrl)
	case "recover":
		fmt.Printf("\n📊 Registry after recovery:\n")
		printJobs(ctrl)
		fmt.Printf("\n💡 Jobs running when the last process died are now FAILED with a recovery error\n")
	default:
		log.Printf("unknown mode %q", mode)
	}

	<-ctx.Done()
	fmt.Println("\n\nReceived shutdown signal, stopping gracefully...")
	ctrl.Stop()
	fmt.Println("✓ Controller stopped")
}

func runStart(ctrl *controller.Controller) {
	stamp := time.Now().Unix()
	orders := []struct {
		order    types.Order
		priority int
	}{
		{types.Order{ID: types.OrderID(fmt.Sprintf("pick-%d", stamp)), TypeID: types.OrderTypePicking, Rows: []types.OrderRow{
			{RowNumber: 1, ProductRef: "SKU-1001", LocationRef: "A-01-01", RequestedQty: 30},
			{RowNumber: 2, ProductRef: "SKU-2001", LocationRef: "B-02-01", RequestedQty: 15},
		}}, 1},
		{types.Order{ID: types.OrderID(fmt.Sprintf("refill-%d", stamp)), TypeID: types.OrderTypeRefilling, Rows: []types.OrderRow{
			{RowNumber: 1, ProductRef: "SKU-1002", RequestedQty: 60},
		}}, 5},
		{types.Order{ID: types.OrderID(fmt.Sprintf("bogus-%d", stamp)), TypeID: 99, Rows: []types.OrderRow{
			{RowNumber: 1, ProductRef: "SKU-1001", RequestedQty: 1},
		}}, 0},
	}
	for _, o := range orders {
		if err := ctrl.EnqueueOrder(o.order, o.priority); err != nil {
			log.Printf("enqueue %s: %v", o.order.ID, err)
		}
	}
	fmt.Printf("✓ Enqueued %d orders\n", len(orders))

	time.Sleep(500 * time.Millisecond)
	for _, o := range orders {
		out, err := ctrl.OrderResult(o.order.ID)
		if err != nil {
			fmt.Printf("  %s: %v\n", o.order.ID, err)
			continue
		}
		fmt.Printf("  %s: %s %s\n", out.OrderID, out.Outcome, out.Error)
		for _, r := range out.Results {
			fmt.Printf("    row %d: %s reserved=%d %s\n", r.RowNumber, r.Outcome, r.ReservedQty, r.Reason)
		}
	}

	if err := ctrl.ExecuteJob("sync-stock-levels"); err != nil {
		log.Printf("execute: %v", err)
	}
	if err := ctrl.ExecuteJob("nightly-inventory"); err != nil {
		fmt.Printf("\n⚠️  %v\n", err)
	}

	fmt.Printf("\n⚡ sync-stock-levels is running...\n")
	fmt.Printf("💡 Press Ctrl+C now, or kill -9 and run 'recover' to see lost runs marked failed\n\n")
	time.Sleep(200 * time.Millisecond)
	printJobs(ctrl)
}

func printJobs(ctrl *controller.Controller) {
	report := ctrl.Status()
	for _, j := range report.Jobs {
		fmt.Printf("  %-30s %-12s %s\n", j.ID, j.State, j.LastErrorMessage)
	}
	st := ctrl.GetStatus()
	fmt.Printf("  ─────────────────\n")
	fmt.Printf("  Jobs: %v  WAL seq: %v  Outcomes: %v\n", st["jobs"], st["wal_seq"], st["outcomes"])
}

func seedStore(cfg config.StockConfig) (*stock.MemoryStore, error) {
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
		if err := ms.Put(context.Background(), s.Product, s.Location, s.Qty); err != nil {
			return nil, err
		}
	}
	return ms, nil
}
