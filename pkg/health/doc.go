// Package health provides the debounced liveness-tracking primitives the
// Layer-2 Watchdog uses to decide when a named orchestration component
// (the HTM orchestrator, trigger mesh, event policy engine, scheduler)
// has gone from a single bad poll to genuinely unhealthy. A Checker
// reports one Result per poll; Status folds a stream of Results into a
// debounced Healthy bool using a consecutive-failure/success threshold,
// so a single dropped HTTP probe does not itself raise an incident.
package health
