package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/BenjaminRose805/dev-workflow-sub005/internal/errors"
)

// Metrics holds all Prometheus metrics for devflow.
// Every helper method is safe to call on a nil *Metrics.
type Metrics struct {
	// Task pool metrics
	PoolSubmitted    *prometheus.CounterVec
	PoolOutcomes     *prometheus.CounterVec
	PoolRetries      prometheus.Counter
	PoolCacheHits    prometheus.Counter
	PoolCacheMisses  prometheus.Counter
	PoolRunning      prometheus.Gauge
	PoolQueued       prometheus.Gauge
	PoolTaskDuration *prometheus.HistogramVec

	// Scheduler metrics
	SchedulerBatches   *prometheus.CounterVec
	SchedulerBatchSize prometheus.Histogram
	SchedulerSkipped   *prometheus.CounterVec
	SchedulerConflicts prometheus.Counter

	// Status store metrics
	StoreWrites        *prometheus.CounterVec
	StoreWriteDuration *prometheus.HistogramVec
	StoreConflicts     prometheus.Counter
	TaskTransitions    *prometheus.CounterVec
	SummaryRepairs     prometheus.Counter

	// Stuck-task metrics
	StuckDetected prometheus.Counter
	Requeues      prometheus.Counter

	// Error metrics (by error code from structured errors)
	Errors *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics registered
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		PoolSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devflow_pool_submitted_total",
				Help: "Total number of tasks submitted to the pool",
			},
			[]string{"priority"},
		),
		PoolOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devflow_pool_outcomes_total",
				Help: "Terminal pool task outcomes",
			},
			[]string{"outcome"},
		),
		PoolRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "devflow_pool_retries_total",
				Help: "Total number of task retries scheduled by the pool",
			},
		),
		PoolCacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "devflow_pool_cache_hits_total",
				Help: "Pool result cache hits",
			},
		),
		PoolCacheMisses: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "devflow_pool_cache_misses_total",
				Help: "Pool result cache misses",
			},
		),
		PoolRunning: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "devflow_pool_running",
				Help: "Tasks currently running in the pool",
			},
		),
		PoolQueued: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "devflow_pool_queued",
				Help: "Tasks waiting for a pool slot",
			},
		),
		PoolTaskDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "devflow_pool_task_duration_seconds",
				Help:    "Duration of a single task attempt in seconds",
				Buckets: []float64{0.1, 1.0, 10.0, 30.0, 60.0, 300.0, 900.0, 1800.0, 3600.0},
			},
			[]string{"outcome"},
		),

		SchedulerBatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devflow_scheduler_batches_total",
				Help: "Ready-task batches computed, by the tier that produced them",
			},
			[]string{"tier"},
		),
		SchedulerBatchSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "devflow_scheduler_batch_size",
				Help:    "Number of tasks in each ready batch",
				Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
			},
		),
		SchedulerSkipped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devflow_scheduler_skipped_total",
				Help: "Pending tasks held back, by reason",
			},
			[]string{"reason"},
		),
		SchedulerConflicts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "devflow_scheduler_file_conflicts_total",
				Help: "Task pairs in a ready batch that reference the same file",
			},
		),

		StoreWrites: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devflow_store_writes_total",
				Help: "Status aggregate writes",
			},
			[]string{"operation", "success"},
		),
		StoreWriteDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "devflow_store_write_duration_seconds",
				Help:    "Status aggregate write duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation"},
		),
		StoreConflicts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "devflow_store_version_conflicts_total",
				Help: "Writes rejected because the stored version moved",
			},
		),
		TaskTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devflow_task_transitions_total",
				Help: "Task status transitions, by target status",
			},
			[]string{"status"},
		),
		SummaryRepairs: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "devflow_summary_repairs_total",
				Help: "Summary counters corrected by validation",
			},
		),

		StuckDetected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "devflow_stuck_tasks_total",
				Help: "In-progress tasks failed for exceeding the stuck threshold",
			},
		),
		Requeues: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "devflow_requeues_total",
				Help: "Failed tasks moved back to pending for another attempt",
			},
		),

		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devflow_errors_total",
				Help: "Total number of errors by error code",
			},
			[]string{"error_code", "component"},
		),
	}
}

// PoolSubmit records a task submission.
func (m *Metrics) PoolSubmit(priority string) {
	if m == nil {
		return
	}
	m.PoolSubmitted.WithLabelValues(priority).Inc()
	m.PoolQueued.Inc()
}

// PoolAdmit records a queued task moving to a running slot.
func (m *Metrics) PoolAdmit() {
	if m == nil {
		return
	}
	m.PoolQueued.Dec()
	m.PoolRunning.Inc()
}

// PoolAttemptDone records the end of one attempt.
func (m *Metrics) PoolAttemptDone(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.PoolRunning.Dec()
	m.PoolTaskDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

// PoolRequeue records a retry re-entering the queue.
func (m *Metrics) PoolRequeue() {
	if m == nil {
		return
	}
	m.PoolRetries.Inc()
	m.PoolQueued.Inc()
}

// PoolDrop records a queued task leaving the queue without running.
func (m *Metrics) PoolDrop() {
	if m == nil {
		return
	}
	m.PoolQueued.Dec()
}

// PoolOutcome records a terminal task state.
func (m *Metrics) PoolOutcome(outcome string) {
	if m == nil {
		return
	}
	m.PoolOutcomes.WithLabelValues(outcome).Inc()
}

// PoolCache records a cache lookup.
func (m *Metrics) PoolCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.PoolCacheHits.Inc()
	} else {
		m.PoolCacheMisses.Inc()
	}
}

// SchedulerBatch records one scheduling decision.
func (m *Metrics) SchedulerBatch(tier string, size int, skipped map[string]int, conflicts int) {
	if m == nil {
		return
	}
	m.SchedulerBatches.WithLabelValues(tier).Inc()
	m.SchedulerBatchSize.Observe(float64(size))
	for reason, n := range skipped {
		m.SchedulerSkipped.WithLabelValues(reason).Add(float64(n))
	}
	m.SchedulerConflicts.Add(float64(conflicts))
}

// StoreWrite records one aggregate write.
func (m *Metrics) StoreWrite(operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	success := "true"
	if err != nil {
		success = "false"
	}
	m.StoreWrites.WithLabelValues(operation, success).Inc()
	m.StoreWriteDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// StoreConflict records an optimistic concurrency rejection.
func (m *Metrics) StoreConflict() {
	if m == nil {
		return
	}
	m.StoreConflicts.Inc()
}

// Transition records a task moving to status.
func (m *Metrics) Transition(status string) {
	if m == nil {
		return
	}
	m.TaskTransitions.WithLabelValues(status).Inc()
}

// SummaryRepair records corrected summary counters.
func (m *Metrics) SummaryRepair(n int) {
	if m == nil {
		return
	}
	m.SummaryRepairs.Add(float64(n))
}

// Stuck records tasks failed by stuck detection.
func (m *Metrics) Stuck(n int) {
	if m == nil {
		return
	}
	m.StuckDetected.Add(float64(n))
}

// Requeue records a failed task moved back to pending.
func (m *Metrics) Requeue() {
	if m == nil {
		return
	}
	m.Requeues.Inc()
}

// RecordError counts err under its error code, or "unknown".
func (m *Metrics) RecordError(component string, err error) {
	if m == nil || err == nil {
		return
	}
	code := string(errors.CodeOf(err))
	if code == "" {
		code = "unknown"
	}
	m.Errors.WithLabelValues(code, component).Inc()
}
