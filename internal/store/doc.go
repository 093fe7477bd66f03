// Package store provides the SQLite delivery journal.
//
// The journal is append-only:
//   - processes: one row per bridge process (name and both payload kinds)
//   - events: one row per send, deliver or close, stamped with the host clock
//
// Writes are idempotent (ON CONFLICT DO NOTHING), so replaying the same
// deterministic run into an existing journal changes nothing. Reads order by
// seq ASC, process_id ASC COLLATE BINARY.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
