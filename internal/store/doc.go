// Package store provides SQLite-backed storage for served sessions.
//
// Two tables are kept:
//   - sessions: one row per served timeline, keyed by its session token
//   - session_events: an append-only log of lifecycle events per session
//
// # Ordering
//
// Rows are stamped with seq, a logical clock, never wall time. Every list
// query orders by seq ASC then id COLLATE BINARY ASC so results are stable
// across runs.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
//   - one open connection: SQLite has a single writer
package store
