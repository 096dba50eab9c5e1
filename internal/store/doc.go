// Package store keeps a SQLite ledger of finished experiments.
//
// The ledger is append-only:
//   - experiments: one row per experiment, with its input fingerprint,
//     verdict and report digest
//   - runs: the status and artifact hashes of every run
//   - artifact_groups: the binary and map hash groups, in report order
//
// Fingerprints make the ledger useful across experiments: two experiments
// with the same fingerprint linked identical inputs, so differing report
// digests between them are divergence that a single experiment may not
// have caught.
//
// # Ordering
//
// All listings are ordered by seq, the insertion order, with id as a
// tie-breaker, so output is reproducible.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
