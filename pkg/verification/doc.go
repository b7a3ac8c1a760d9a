/*
Package verification is the Verification Framework: a registry of named
invariants, each a parameterless boolean predicate, re-checked on a fixed
interval (default 60s) and on demand via VerifyAll.

A rule that fails is logged to the Immutable Log and published on
system.health; if the rule opted into auto-remediation and supplied a
RemediationFn, that runs once per cycle regardless of outcome — a failed
remediation is itself logged, never retried within the same cycle. Any
critical-severity violation escalates the cycle's aggregate Status to
critical_violations and publishes system.control at critical priority.
*/
package verification
