/*
Package boot is the Boot Pipeline: structured, dependency-ordered startup
with per-step verification.

Stages run in a fixed sequence (pre_init, core_init, kernel_init,
service_init, api_init, post_init, verification, ready); within a stage,
steps run in an order consistent with their declared dependencies. A step
is only a success if its ExecuteFn returns nil AND its optional VerifyFn
(when present) returns true. A failed critical step aborts the whole
pipeline immediately; a failed non-critical step is logged and the
pipeline continues into the next step. Both boot_start and boot_complete
are recorded to the Immutable Log, win or lose.
*/
package boot
