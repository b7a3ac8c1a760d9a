package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Message Bus metrics.
	BusMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warren_bus_messages_total",
			Help: "Total messages published on the message bus",
		},
	)

	BusActiveTopics = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warren_bus_active_topics",
			Help: "Number of distinct topics observed since the bus started",
		},
	)

	BusDropsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warren_bus_drops_total",
			Help: "Total messages dropped because a subscriber's queue was full",
		},
		[]string{"subscriber"},
	)

	// Immutable Log metrics.
	LedgerEntriesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warren_ledger_entries_total",
			Help: "Total entries committed to the immutable log",
		},
	)

	LedgerAppendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warren_ledger_append_duration_seconds",
			Help:    "Time to append and durably persist one ledger entry",
			Buckets: prometheus.DefBuckets,
		},
	)

	LedgerIntegrityValid = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warren_ledger_integrity_valid",
			Help: "Whether the last verify_integrity run found the chain valid (1) or broken (0)",
		},
	)

	// Clarity Kernel metrics.
	TrustScore = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "warren_trust_score",
			Help: "Current trust score per registered component",
		},
		[]string{"component_id"},
	)

	QuarantineEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warren_quarantine_events_total",
			Help: "Total quarantine events emitted, by reason",
		},
		[]string{"reason"},
	)

	// Verification Framework metrics.
	VerificationViolationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warren_verification_violations_total",
			Help: "Total rule violations observed, by rule and severity",
		},
		[]string{"rule_id", "severity"},
	)

	// Unified Logic (Governance) metrics.
	GovernanceDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warren_governance_decisions_total",
			Help: "Total governance decisions, by outcome",
		},
		[]string{"outcome"},
	)

	GovernanceDecisionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warren_governance_decision_duration_seconds",
			Help:    "Time to evaluate and record one proposal",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Intent Governance Router metrics.
	IntentRoutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warren_intent_routed_total",
			Help: "Total intents routed, by autonomy tier",
		},
		[]string{"tier"},
	)

	// Control Plane metrics.
	KernelsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warren_kernels_running",
			Help: "Number of kernels currently in state running",
		},
	)

	KernelRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warren_kernel_restarts_total",
			Help: "Total restart attempts performed by the control plane, by kernel",
		},
		[]string{"kernel"},
	)

	SystemDegradedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warren_system_degraded_total",
			Help: "Total transitions of the control plane into system_state=degraded",
		},
	)

	// Watchdog metrics.
	IncidentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warren_incidents_total",
			Help: "Total incidents raised, by playbook",
		},
		[]string{"playbook"},
	)

	CircuitBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warren_circuit_breaker_state",
			Help: "Trigger storm safeguard circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
	)

	// Boot Pipeline metrics.
	BootDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warren_boot_duration_seconds",
			Help:    "Total duration of a boot pipeline run",
			Buckets: prometheus.DefBuckets,
		},
	)

	BootStepsFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warren_boot_steps_failed_total",
			Help: "Total boot steps that reported failed across all boots",
		},
	)
)

func init() {
	prometheus.MustRegister(
		BusMessagesTotal,
		BusActiveTopics,
		BusDropsTotal,
		LedgerEntriesTotal,
		LedgerAppendDuration,
		LedgerIntegrityValid,
		TrustScore,
		QuarantineEventsTotal,
		VerificationViolationsTotal,
		GovernanceDecisionsTotal,
		GovernanceDecisionDuration,
		IntentRoutedTotal,
		KernelsRunning,
		KernelRestartsTotal,
		SystemDegradedTotal,
		IncidentsTotal,
		CircuitBreakerState,
		BootDuration,
		BootStepsFailedTotal,
	)
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations and recording their duration to
// a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed time to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
