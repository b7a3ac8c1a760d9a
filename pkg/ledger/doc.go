/*
Package ledger is the orchestration core's audit trail: an append-only,
hash-chained log of every consequential action any kernel takes.

Each Entry carries the SHA-256 hash of its predecessor plus its own
canonically-serialized fields, so the chain can be verified forward from a
fixed genesis hash without a separate signing step. There is exactly one
writer; Append serializes under a mutex and never reorders or mutates a
committed entry. A failed persist leaves the chain exactly where it was.

The on-disk format is newline-delimited JSON, one Entry per line, replayed
in full on Open to rebuild the in-memory mirror Search and VerifyIntegrity
read from.
*/
package ledger
