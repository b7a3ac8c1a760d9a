// Package substrate is the composition root. Per the design notes, the
// orchestration core has no global singletons: a single Runtime struct
// owns the Bus, the Ledger, and every kernel, each constructed with
// explicit handles to the dependencies it needs. Tests and the boot
// pipeline both construct their own Runtime rather than reaching for
// package-level state.
package substrate
