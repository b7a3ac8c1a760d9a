/*
Package control is the Control Plane: dependency-ordered lifecycle
management for every kernel in the orchestration core.

Start computes a topological order over registered kernels (Kahn's
algorithm; a dependency cycle is a startup error, not a runtime panic) and
brings each one up in that order. A critical kernel that fails to start
aborts Start entirely; a non-critical one is logged and skipped. Stop runs
the reverse order with a bounded per-kernel timeout.

ReportFailure is how a kernel tells the plane it died. A critical kernel
gets restarted with exponential back-off (1s initial, 30s cap, 5 attempts,
via github.com/cenkalti/backoff/v5); exhausting the attempts marks the
whole system degraded and publishes system.control rather than retrying
forever.
*/
package control
