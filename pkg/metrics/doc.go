/*
Package metrics provides Prometheus metrics collection and exposition for
the orchestration core.

Counters are incremented inline by the component that owns the event
(a bus publish, a governance decision, an incident); gauges are sampled
periodically by a Collector polling a metrics.Sampler (Runtime
implements one). Metrics are exposed via an HTTP handler for scraping.

# Metrics Catalog

Message Bus:

warren_bus_messages_total (Counter): total messages published.
warren_bus_active_topics (Gauge): distinct topics observed since start.
warren_bus_drops_total{subscriber} (Counter): messages dropped because a
subscriber's queue was full.

Immutable Log:

warren_ledger_entries_total (Gauge): entries committed.
warren_ledger_append_duration_seconds (Histogram): append+flush latency.
warren_ledger_integrity_valid (Gauge): 1 if the last verify_integrity
run found the chain intact, 0 otherwise.

Clarity Kernel:

warren_trust_score{component_id} (Gauge): current trust score.
warren_quarantine_events_total{reason} (Counter): quarantine events.

Verification Framework:

warren_verification_violations_total{rule_id,severity} (Counter).

Unified Logic (Governance):

warren_governance_decisions_total{outcome} (Counter).
warren_governance_decision_duration_seconds (Histogram).

Intent Governance Router:

warren_intent_routed_total{tier} (Counter): routed intents by autonomy
tier (0-4).

Control Plane:

warren_kernels_running (Gauge).
warren_kernel_restarts_total{kernel} (Counter).
warren_system_degraded_total (Counter): transitions into system_state
= degraded.

Watchdogs:

warren_incidents_total{playbook} (Counter).
warren_circuit_breaker_state (Gauge): 0=closed, 1=half-open, 2=open.

Boot Pipeline:

warren_boot_duration_seconds (Histogram).
warren_boot_steps_failed_total (Counter).

# Usage

	import "github.com/cuemby/warren-core/pkg/metrics"

	metrics.BusMessagesTotal.Inc()
	metrics.TrustScore.WithLabelValues("scheduler").Set(72)

	timer := metrics.NewTimer()
	// ... perform operation ...
	timer.ObserveDuration(metrics.GovernanceDecisionDuration)

	http.Handle("/metrics", metrics.Handler())
*/
package metrics
