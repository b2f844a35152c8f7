// ============================================================================
// depot-reserve metrics
// ============================================================================
//
// Package: internal/metrics
//
// Metric families:
//
//  1. Dispatch queue (Gauge / Counter):
//     - depot_orders_enqueued_total
//     - depot_queue_depth
//
//  2. Reservation (Counter / Histogram):
//     - depot_reservations_total{outcome}: one per dispatched order
//     - depot_reservation_rows_total{outcome}: one per row
//     - depot_routing_errors_total{kind}: unroutable / ambiguous
//     - depot_reservation_latency_seconds
//
//  3. Scheduled jobs:
//     - depot_job_commands_total{command,result}: lifecycle commands, guard
//       rejections included
//     - depot_job_runs_total{result}: ok / error / interrupted
//     - depot_job_run_seconds
//     - depot_jobs_running
//     - depot_recovery_time_seconds
//
// Example queries:
//
//	# fully reserved share over 5m
//	rate(depot_reservations_total{outcome="RESERVED"}[5m]) / rate(depot_reservations_total[5m])
//
//	# rejected lifecycle commands
//	sum by (command) (rate(depot_job_commands_total{result="rejected"}[5m]))
//
// Exposed on /metrics by StartServer.
//
// ============================================================================

package metrics

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "depot"

// Collector holds the Prometheus metrics of one depot process. A nil
// *Collector is valid and records nothing.
type Collector struct {
	ordersEnqueued prometheus.Counter
	queueDepth     prometheus.Gauge

	reservations       *prometheus.CounterVec
	reservationRows    *prometheus.CounterVec
	routingErrors      *prometheus.CounterVec
	reservationLatency prometheus.Histogram

	jobCommands  *prometheus.CounterVec
	jobRuns      *prometheus.CounterVec
	jobRunTime   prometheus.Histogram
	jobsRunning  prometheus.Gauge
	recoveryTime prometheus.Gauge
}

// NewCollector creates the metrics and registers them with reg. A nil reg
// means prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		ordersEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_enqueued_total",
			Help:      "Total number of orders added to the dispatch queue",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Current number of orders waiting in the dispatch queue",
		}),
		reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_total",
			Help:      "Dispatched orders by overall reservation outcome",
		}, []string{"outcome"}),
		reservationRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservation_rows_total",
			Help:      "Reserved order rows by outcome",
		}, []string{"outcome"}),
		routingErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_errors_total",
			Help:      "Orders that could not be routed to a strategy",
		}, []string{"kind"}),
		reservationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reservation_latency_seconds",
			Help:      "Time spent reserving one order",
			Buckets:   prometheus.DefBuckets,
		}),
		jobCommands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_commands_total",
			Help:      "Lifecycle commands issued against scheduled jobs",
		}, []string{"command", "result"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Finished scheduled job executions by result",
		}, []string{"result"}),
		jobRunTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_run_seconds",
			Help:      "Scheduled job execution time",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "jobs_running",
			Help:      "Scheduled jobs currently running",
		}),
		recoveryTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "recovery_time_seconds",
			Help:      "Time taken to restore the job registry at start-up",
		}),
	}

	reg.MustRegister(
		c.ordersEnqueued,
		c.queueDepth,
		c.reservations,
		c.reservationRows,
		c.routingErrors,
		c.reservationLatency,
		c.jobCommands,
		c.jobRuns,
		c.jobRunTime,
		c.jobsRunning,
		c.recoveryTime,
	)
	return c
}

// RecordEnqueue counts an enqueued order and sets the new queue depth.
func (c *Collector) RecordEnqueue(depth int) {
	if c == nil {
		return
	}
	c.ordersEnqueued.Inc()
	c.queueDepth.Set(float64(depth))
}

// SetQueueDepth sets the dispatch queue depth.
func (c *Collector) SetQueueDepth(depth int) {
	if c == nil {
		return
	}
	c.queueDepth.Set(float64(depth))
}

// RecordReservation records one dispatched order: its overall outcome, the
// outcome of each row and the time it took.
func (c *Collector) RecordReservation(outcome string, rowOutcomes []string, seconds float64) {
	if c == nil {
		return
	}
	c.reservations.WithLabelValues(outcome).Inc()
	for _, o := range rowOutcomes {
		c.reservationRows.WithLabelValues(o).Inc()
	}
	c.reservationLatency.Observe(seconds)
}

// RecordRoutingError counts an order no strategy could take. kind is
// "unroutable" or "ambiguous".
func (c *Collector) RecordRoutingError(kind string) {
	if c == nil {
		return
	}
	c.routingErrors.WithLabelValues(kind).Inc()
}

// RecordCommand counts a lifecycle command. result is "ok" or "rejected".
func (c *Collector) RecordCommand(command, result string) {
	if c == nil {
		return
	}
	c.jobCommands.WithLabelValues(command, result).Inc()
}

// RecordJobRun records a finished execution.
func (c *Collector) RecordJobRun(result string, seconds float64) {
	if c == nil {
		return
	}
	c.jobRuns.WithLabelValues(result).Inc()
	c.jobRunTime.Observe(seconds)
}

// SetJobsRunning sets the number of running jobs.
func (c *Collector) SetJobsRunning(n int) {
	if c == nil {
		return
	}
	c.jobsRunning.Set(float64(n))
}

// SetRecoveryTime sets the last start-up recovery time.
func (c *Collector) SetRecoveryTime(seconds float64) {
	if c == nil {
		return
	}
	c.recoveryTime.Set(seconds)
}

// Handler serves the metrics gathered by g (prometheus.DefaultGatherer when
// nil).
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// StartServer serves /metrics on port. It blocks like http.ListenAndServe.
func StartServer(port int, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))
	addr := fmt.Sprintf(":%d", port)
	return http.ListenAndServe(addr, mux)
}
