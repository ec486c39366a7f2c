package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SchedulingCycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "warmup_scheduling_cycle_duration_seconds",
			Help:    "Duration of a scheduling cycle in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"kind"}, // kind: incremental, global, recovery
	)

	AccountsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warmup_accounts_skipped_total",
			Help: "Accounts skipped during a scheduling cycle",
		},
		[]string{"reason"}, // reason: recent, sufficient_backlog, no_capacity, generator_error
	)

	JobsArmed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warmup_jobs_armed_total",
			Help: "Jobs persisted and armed with a timer",
		},
	)

	JobsFired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warmup_jobs_fired_total",
			Help: "Timer firings by outcome",
		},
		[]string{"outcome"}, // outcome: published, dropped_no_capacity, publish_failed
	)

	JobsCancelled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warmup_jobs_cancelled_total",
			Help: "Armed jobs cancelled by account deactivation",
		},
	)

	LedgerCapViolations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warmup_ledger_cap_violations_total",
			Help: "Increments that pushed a daily counter past its cap (caller bug)",
		},
	)

	RecoveredJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warmup_recovered_jobs_total",
			Help: "Persisted jobs handled during startup recovery",
		},
		[]string{"outcome"}, // outcome: rearmed, stale, no_capacity
	)

	DispatchPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "warmup_dispatch_publish_failures_total",
			Help: "Failed publishes to the dispatch queue",
		},
	)
)

// RecordCycleDuration records a scheduling cycle's wall time.
func RecordCycleDuration(kind string, duration time.Duration) {
	SchedulingCycleDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// IncrementAccountSkipped counts a skipped account by reason.
func IncrementAccountSkipped(reason string) {
	AccountsSkipped.WithLabelValues(reason).Inc()
}

// IncrementJobFired counts a timer firing by outcome.
func IncrementJobFired(outcome string) {
	JobsFired.WithLabelValues(outcome).Inc()
}

// IncrementRecoveredJob counts a recovery decision by outcome.
func IncrementRecoveredJob(outcome string) {
	RecoveredJobs.WithLabelValues(outcome).Inc()
}
