// Package store provides SQLite-backed durable storage for run traces.
//
// The store is an append-only log with:
//   - Runs: one row per execution, keyed by its UUIDv7 run id
//   - Trace records: the timestamped events of a run, keyed by (run, seq)
//
// # Ordering
//
// Records are numbered in the order the runtime emitted them and every
// query orders by seq ASC. Tags are stored relative to the run's start
// time, so two runs of a deterministic program produce comparable logs.
//
// # Writes
//
// Sink implements trace.Tracer and batches records into transactions on a
// background goroutine. Every write retries transient SQLite errors
// (SQLITE_BUSY, SQLITE_LOCKED, SQLITE_IOERR_SHORT_READ) with exponential
// backoff and jitter.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
