/*
Package watchdog holds the four cooperating safeguards that sample bus and
component state every 10-15s and raise incidents:

  - TriggerStormSafeguard watches every publish via a wildcard
    subscription, keeping a 5-minute ring buffer per event type. It
    detects a single-type storm, a low-diversity cascade across the last
    N events, and — via a github.com/sony/gobreaker circuit breaker keyed
    on the 10s request count — a global overload that opens the circuit
    and refuses to forward further events until the cooldown elapses.
  - SchedulerGuards tracks self-reported scheduler health and raises
    load-shedding or recovery incidents on queue depth or heartbeat
    breaches.
  - HTMReadiness verifies a minimum live worker pool and an initialized
    intent queue, raising per-worker recovery incidents on heartbeat
    timeout.
  - Layer2Watchdog polls a set of named orchestration components for
    readiness and health, publishing aggregated telemetry and alerting on
    unhealthy components.

None of these watchdogs own the state they observe; components report
into them (ReportHealth, ReportWorkerHeartbeat, RegisterComponent) or the
bus delivers it (TriggerStormSafeguard's wildcard subscription).
*/
package watchdog
