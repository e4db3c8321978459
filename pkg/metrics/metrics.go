// Package metrics provides Prometheus instrumentation for Relay.
//
// # Overview
//
// The package provides:
//   - Pre-defined vectors for runs, transforms, scheduler dispatches and tenant pools
//   - RollingWindow, a fixed-capacity ring buffer with percentile queries
//   - Timer for measuring operation durations
//   - Handler for exposing /metrics
//
// # Basic Usage
//
//	timer := metrics.NewTimer("run")
//	result := runner.Run(ctx, id)
//	metrics.RunDuration.WithLabelValues("api").Observe(timer.Stop().Seconds())
//	metrics.RunsTotal.WithLabelValues("api", string(result.Status)).Inc()
//
// All vectors are registered on Registry, which also carries the Go and
// process collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds every Relay metric
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

var (
	// RunsTotal counts finished runs.
	// Labels: integration_type, status (success/error)
	RunsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_integration_runs_total",
			Help: "Total number of integration runs by outcome",
		},
		[]string{"integration_type", "status"},
	)

	// RunDuration tracks wall-clock run duration in seconds
	RunDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_integration_run_duration_seconds",
			Help:    "Integration run duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"integration_type"},
	)

	// RecordsProcessed counts rows moving through each phase.
	// Labels: source, destination, phase (extracted/loaded/load_failed)
	RecordsProcessed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_records_processed_total",
			Help: "Total number of records processed",
		},
		[]string{"source", "destination", "phase"},
	)

	// TransformFallbacks counts fields that fell back to a direct copy
	TransformFallbacks = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_transform_fallbacks_total",
			Help: "Field transforms that failed and fell back to a direct copy",
		},
		[]string{"transform"},
	)

	// ScheduledTasks is the number of tasks in the schedule table
	ScheduledTasks = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_scheduler_tasks",
			Help: "Number of scheduled integration tasks",
		},
	)

	// SchedulerDispatches counts scheduler decisions.
	// Labels: result (dispatched/skipped/failed)
	SchedulerDispatches = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_scheduler_dispatches_total",
			Help: "Scheduler dispatch outcomes",
		},
		[]string{"result"},
	)

	// PoolConnectionsInUse is the live number of checked-out connections per tenant
	PoolConnectionsInUse = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_pool_connections_in_use",
			Help: "Connections currently checked out",
		},
		[]string{"tenant"},
	)

	// PoolPeakConnections is the highest observed concurrency per tenant
	PoolPeakConnections = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_pool_peak_connections",
			Help: "Peak concurrent checked-out connections",
		},
		[]string{"tenant"},
	)

	// PoolEvents counts pool events.
	// Labels: tenant, event (checkout/checkin/error/timeout/query)
	PoolEvents = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_pool_events_total",
			Help: "Connection pool events",
		},
		[]string{"tenant", "event"},
	)

	// PoolWait tracks how long checkouts waited for a connection
	PoolWait = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_pool_checkout_wait_seconds",
			Help:    "Time spent waiting for a pooled connection",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		},
		[]string{"tenant"},
	)
)

// Handler serves the Relay registry in the Prometheus exposition format
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// Timer provides a simple timing mechanism for measuring operation durations.
type Timer struct {
	start time.Time
	name  string
}

// NewTimer creates a new timer and starts timing immediately.
func NewTimer(name string) *Timer {
	return &Timer{
		start: time.Now(),
		name:  name,
	}
}

// Name returns the timer name
func (t *Timer) Name() string {
	return t.name
}

// Stop returns the elapsed duration since creation. It can be called
// repeatedly.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
