// Package store provides SQLite-backed storage for assembled IR and the
// history of runs that produced or checked it.
//
// The store holds:
//   - Artifacts: assembled ProtocolIR documents, content-addressed by their
//     IR hash, payload compressed with zstd
//   - Runs: one record per assemble/converge invocation (UUIDv7 ids)
//   - Divergences: convergence findings attached to a run
//
// # Ordering
//
// Every table carries a seq column assigned inside the inserting
// transaction. Listings order by seq, never by wall-clock timestamps, so
// results are identical across replays with an injected clock.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON
//   - one open connection: the store is the single writer
package store
