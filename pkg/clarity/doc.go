/*
Package clarity is the Clarity Kernel: the registry of every running
component, the guardian of their contracts, and the source of truth for
trust.

It owns the manifest table exclusively — no other package mutates a
Manifest — and mutates it only in reaction to its own bus subscriptions
(kernel.register, kernel.status, kernel.heartbeat), matching the
single-writer-by-construction rule the rest of the substrate follows for
shared state.

Trust moves in small, bounded steps: +5 on a satisfied contract report, -10
on a violation or a missed heartbeat, clamped to [0, 100]. Crossing the
quarantine threshold (strictly below 30) emits event.quarantine and an
Immutable Log entry; every trust change emits trust.score.updated.
*/
package clarity
